package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// VectorIndex wraps the vec0 virtual table. Rows are keyed by dense id
// (the sqlite rowid); string-id translation happens one layer up in
// LongTermMemory. Deletes are true deletes: a removed vector can never
// surface from a later search.
type VectorIndex struct {
	db        *sql.DB
	dimension int
}

// SearchHit is one nearest-neighbor result.
type SearchHit struct {
	DenseID  int64
	Distance float32
}

// NewVectorIndex ensures the vec0 table exists for the configured
// dimensionality and verifies it against any previously persisted
// dimensionality. A mismatch is a startup error, never a migration.
func NewVectorIndex(db *sql.DB, dimension int) (*VectorIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector index dimensionality must be positive, got %d", dimension)
	}

	var persisted sql.NullInt64
	err := db.QueryRow("SELECT value FROM engine_meta WHERE key = 'dimension'").Scan(&persisted)
	switch {
	case err == nil && persisted.Valid:
		if int(persisted.Int64) != dimension {
			return nil, fmt.Errorf("configured dimensionality %d does not match persisted store (%d)",
				dimension, persisted.Int64)
		}
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec("INSERT INTO engine_meta (key, value) VALUES ('dimension', ?)", dimension); err != nil {
			return nil, fmt.Errorf("persist dimensionality: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read persisted dimensionality: %w", err)
	}

	schema := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vectors USING vec0(embedding float[%d] distance_metric=cosine)",
		dimension,
	)
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create vector table: %w", err)
	}

	return &VectorIndex{db: db, dimension: dimension}, nil
}

// Dimension returns the configured vector length.
func (v *VectorIndex) Dimension() int {
	return v.dimension
}

// Add inserts or replaces the vector for a dense id.
func (v *VectorIndex) Add(tx execer, denseID int64, vector []float32) error {
	if len(vector) != v.dimension {
		return &DimensionError{Want: v.dimension, Got: len(vector)}
	}

	payload, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal vector: %w", err)
	}

	// vec0 has no upsert; replace is delete + insert.
	if _, err := tx.Exec("DELETE FROM vectors WHERE rowid = ?", denseID); err != nil {
		return fmt.Errorf("replace vector: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO vectors (rowid, embedding) VALUES (?, ?)", denseID, string(payload)); err != nil {
		return fmt.Errorf("insert vector: %w", err)
	}
	return nil
}

// Get returns the stored vector for a dense id, or nil when absent.
// This is a direct rowid lookup, not a search.
func (v *VectorIndex) Get(denseID int64) ([]float32, error) {
	var payload string
	err := v.db.QueryRow("SELECT vec_to_json(embedding) FROM vectors WHERE rowid = ?", denseID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector: %w", err)
	}

	var vector []float32
	if err := json.Unmarshal([]byte(payload), &vector); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return vector, nil
}

// Delete removes the vector and reports whether it existed.
func (v *VectorIndex) Delete(tx execer, denseID int64) (bool, error) {
	res, err := tx.Exec("DELETE FROM vectors WHERE rowid = ?", denseID)
	if err != nil {
		return false, fmt.Errorf("delete vector: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete vector: %w", err)
	}
	return affected > 0, nil
}

// Search returns up to k nearest neighbors by cosine distance. A
// non-empty allowed set restricts the scan to those dense ids before the
// nearest neighbors are chosen, so a heavily filtered query still
// returns up to k matching rows rather than the survivors of a post hoc
// filter.
func (v *VectorIndex) Search(query []float32, k int, allowed []int64) ([]SearchHit, error) {
	if len(query) != v.dimension {
		return nil, &DimensionError{Want: v.dimension, Got: len(query)}
	}
	if k <= 0 {
		return nil, nil
	}

	payload, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal query vector: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("SELECT rowid, distance FROM vectors WHERE embedding MATCH ? AND k = ?")
	args := []interface{}{string(payload), k}

	if len(allowed) > 0 {
		sb.WriteString(" AND rowid IN (")
		for i, denseID := range allowed {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("?")
			args = append(args, denseID)
		}
		sb.WriteString(")")
	}
	sb.WriteString(" ORDER BY distance")

	rows, err := v.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.DenseID, &hit.Distance); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}
	return hits, nil
}
