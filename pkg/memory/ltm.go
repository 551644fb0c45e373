package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// SearchResult is one search hit from either tier.
type SearchResult struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	Score     float32                `json:"score"`
	Distance  float32                `json:"distance"`
	CreatedAt time.Time              `json:"created_at"`
}

// LongTermMemory is the durable tier: a sqlite document store plus the
// vector index and id mapper, all in one database file. It survives
// restarts; the vector index is reconciled against the documents table
// on startup.
//
// The handle is not safe for concurrent mutation from multiple
// goroutines; confine it to one goroutine or wrap the owning Manager in
// a mutex.
type LongTermMemory struct {
	db        *sql.DB
	idmap     *IdMapper
	index     *VectorIndex
	dimension int
	fts       bool
	logger    zerolog.Logger
}

// NewLongTermMemory opens (or creates) the database at dbPath and
// prepares the schema. A dimensionality mismatch against previously
// persisted vectors is a construction error.
func NewLongTermMemory(dbPath string, dimension int, logger zerolog.Logger) (*LongTermMemory, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency with readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	ltm := &LongTermMemory{db: db, dimension: dimension, logger: logger}
	if err := ltm.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	index, err := NewVectorIndex(db, dimension)
	if err != nil {
		db.Close()
		return nil, err
	}
	ltm.index = index

	idmap, err := LoadIdMapper(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	ltm.idmap = idmap

	if err := ltm.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}

	ltm.logger.Info().
		Str("db", dbPath).
		Int("dimension", dimension).
		Int("documents", ltm.idmap.Len()).
		Msg("Long-term memory opened")

	return ltm, nil
}

func (l *LongTermMemory) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS engine_meta (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_accessed INTEGER NOT NULL,
			retrieval_count INTEGER NOT NULL DEFAULT 0,
			size_bytes INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);

		CREATE TABLE IF NOT EXISTS id_map (
			string_id TEXT PRIMARY KEY,
			dense_id INTEGER NOT NULL UNIQUE
		);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 is a compile-time sqlite option (the sqlite_fts5 build tag).
	// Keyword search is a degraded fallback, not a core path, so a build
	// without it loses keyword recall rather than the whole engine.
	ftsSchema := `
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			note_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`
	if _, err := l.db.Exec(ftsSchema); err != nil {
		if !strings.Contains(err.Error(), "fts5") {
			return err
		}
		l.logger.Warn().Err(err).Msg("FTS5 unavailable in this build, keyword search disabled")
		return nil
	}
	l.fts = true
	return nil
}

// rebuildIndex re-adds any document embedding missing from the vector
// table. The documents table is authoritative; this makes startup safe
// even if the vector table was dropped or the file was copied without
// its WAL.
func (l *LongTermMemory) rebuildIndex() error {
	rows, err := l.db.Query(`
		SELECT d.id, d.embedding FROM documents d
		JOIN id_map m ON m.string_id = d.id
		LEFT JOIN vectors v ON v.rowid = m.dense_id
		WHERE v.rowid IS NULL
	`)
	if err != nil {
		return fmt.Errorf("scan for missing vectors: %w", err)
	}
	defer rows.Close()

	type pending struct {
		id  string
		raw string
	}
	var missing []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.raw); err != nil {
			return fmt.Errorf("scan missing vector row: %w", err)
		}
		missing = append(missing, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range missing {
		var embedding []float32
		if err := json.Unmarshal([]byte(p.raw), &embedding); err != nil {
			return fmt.Errorf("decode stored embedding for %s: %w", p.id, err)
		}
		denseID, ok := l.idmap.DenseID(p.id)
		if !ok {
			continue
		}
		if err := l.index.Add(tx, denseID, embedding); err != nil {
			return fmt.Errorf("rebuild vector for %s: %w", p.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	l.logger.Info().Int("rebuilt", len(missing)).Msg("Rebuilt missing index entries")
	return nil
}

// Add persists the note and its embedding. The documents row, FTS row,
// id mapping, and vector all commit in one transaction so a failure
// leaves no orphans.
func (l *LongTermMemory) Add(note *Note) error {
	if len(note.Embedding) != l.dimension {
		return &DimensionError{Want: l.dimension, Got: len(note.Embedding)}
	}

	metadataJSON, err := json.Marshal(note.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	embeddingJSON, err := json.Marshal(note.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin add: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO documents
			(id, content, metadata, embedding, created_at, last_accessed, retrieval_count, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		note.ID, note.Content, string(metadataJSON), string(embeddingJSON),
		note.CreatedAt.Unix(), note.LastAccessed.Unix(), note.RetrievalCount, note.Size(),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if l.fts {
		if _, err := tx.Exec("DELETE FROM notes_fts WHERE note_id = ?", note.ID); err != nil {
			return fmt.Errorf("replace fts row: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO notes_fts (note_id, content) VALUES (?, ?)", note.ID, note.Content); err != nil {
			return fmt.Errorf("insert fts row: %w", err)
		}
	}

	denseID, err := l.idmap.GetOrCreate(tx, note.ID)
	if err != nil {
		return err
	}
	if err := l.index.Add(tx, denseID, note.Embedding); err != nil {
		return err
	}

	return tx.Commit()
}

// Get returns the stored note, or nil when the id is unknown. Missing is
// not an error.
func (l *LongTermMemory) Get(id string) (*Note, error) {
	row := l.db.QueryRow(`
		SELECT id, content, metadata, embedding, created_at, last_accessed, retrieval_count
		FROM documents WHERE id = ?`, id)

	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return note, nil
}

// Touch records a successful retrieval: bumps last_accessed and the
// retrieval count.
func (l *LongTermMemory) Touch(id string) error {
	_, err := l.db.Exec(
		"UPDATE documents SET last_accessed = ?, retrieval_count = retrieval_count + 1 WHERE id = ?",
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("touch document: %w", err)
	}
	return nil
}

// Delete removes the note from the document store, the FTS table, the
// id map, and the vector index in one transaction. Unknown ids report
// false, not an error.
func (l *LongTermMemory) Delete(id string) (bool, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if l.fts {
		if _, err := tx.Exec("DELETE FROM notes_fts WHERE note_id = ?", id); err != nil {
			return false, fmt.Errorf("delete fts row: %w", err)
		}
	}

	denseID, existed, err := l.idmap.Forget(tx, id)
	if err != nil {
		return false, err
	}
	if existed {
		if _, err := l.index.Delete(tx, denseID); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Search runs a filtered nearest-neighbor query. A non-empty filter is
// evaluated against the metadata of all live documents first; the
// resulting allowed set pre-filters the index scan so filtered queries
// still return up to k rows.
func (l *LongTermMemory) Search(query []float32, k int, filter Filter) ([]SearchResult, error) {
	var allowed []int64
	if len(filter) > 0 {
		ids, err := l.filterIDs(filter)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		allowed = ids
	}

	hits, err := l.index.Search(query, k, allowed)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		id, ok := l.idmap.Resolve(hit.DenseID)
		if !ok {
			// Ghost entry: vector outlived its mapping. Skip it.
			continue
		}
		note, err := l.Get(id)
		if err != nil {
			return nil, err
		}
		if note == nil {
			continue
		}
		results = append(results, SearchResult{
			ID:        note.ID,
			Content:   note.Content,
			Metadata:  note.Metadata,
			Score:     1 - hit.Distance,
			Distance:  hit.Distance,
			CreatedAt: note.CreatedAt,
		})
	}
	return results, nil
}

// KeywordSearch is the degraded recall path used when embeddings are
// unavailable: FTS5 match ranked by bm25. Builds without FTS5 get empty
// results here, never an error.
func (l *LongTermMemory) KeywordSearch(query string, k int) ([]SearchResult, error) {
	if !l.fts {
		l.logger.Debug().Msg("Keyword search skipped, FTS5 unavailable")
		return nil, nil
	}

	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}
	// Quote terms so user input cannot break FTS5 query syntax.
	for i, term := range terms {
		terms[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	}
	match := strings.Join(terms, " OR ")

	rows, err := l.db.Query(`
		SELECT note_id, bm25(notes_fts) AS score
		FROM notes_fts
		WHERE notes_fts MATCH ?
		ORDER BY score
		LIMIT ?`, match, k)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	type scored struct {
		id   string
		bm25 float64
	}
	var hits []scored
	for rows.Next() {
		var h scored
		if err := rows.Scan(&h.id, &h.bm25); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		note, err := l.Get(h.id)
		if err != nil {
			return nil, err
		}
		if note == nil {
			continue
		}
		results = append(results, SearchResult{
			ID:       note.ID,
			Content:  note.Content,
			Metadata: note.Metadata,
			// BM25 scores are negative; flip so higher is better.
			Score:     float32(-h.bm25),
			CreatedAt: note.CreatedAt,
		})
	}
	return results, nil
}

// filterIDs scans live document metadata and returns the dense ids of
// every document matching the filter. Linear over the store, which is
// fine at the target scale of hundreds to low thousands of documents.
func (l *LongTermMemory) filterIDs(filter Filter) ([]int64, error) {
	rows, err := l.db.Query("SELECT id, metadata FROM documents")
	if err != nil {
		return nil, fmt.Errorf("scan metadata: %w", err)
	}
	defer rows.Close()

	var allowed []int64
	for rows.Next() {
		var id, metadataJSON string
		if err := rows.Scan(&id, &metadataJSON); err != nil {
			return nil, err
		}
		var metadata map[string]interface{}
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			l.logger.Warn().Str("id", id).Err(err).Msg("Skipping document with unreadable metadata")
			continue
		}
		if filter.Matches(metadata) {
			if denseID, ok := l.idmap.DenseID(id); ok {
				allowed = append(allowed, denseID)
			}
		}
	}
	return allowed, rows.Err()
}

// Recent returns the newest notes first.
func (l *LongTermMemory) Recent(limit int) ([]*Note, error) {
	rows, err := l.db.Query(`
		SELECT id, content, metadata, embedding, created_at, last_accessed, retrieval_count
		FROM documents ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// Count returns the number of live documents.
func (l *LongTermMemory) Count() (int, error) {
	var count int
	if err := l.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// SizeBytes returns the cumulative approximate size of all documents.
func (l *LongTermMemory) SizeBytes() (int64, error) {
	var size sql.NullInt64
	if err := l.db.QueryRow("SELECT SUM(size_bytes) FROM documents").Scan(&size); err != nil {
		return 0, fmt.Errorf("sum document sizes: %w", err)
	}
	return size.Int64, nil
}

// SessionBreakdown returns document counts grouped by session id.
func (l *LongTermMemory) SessionBreakdown() (map[string]int, error) {
	rows, err := l.db.Query(`
		SELECT COALESCE(json_extract(metadata, '$.session_id'), ''), COUNT(*)
		FROM documents GROUP BY 1`)
	if err != nil {
		return nil, fmt.Errorf("session breakdown: %w", err)
	}
	defer rows.Close()

	breakdown := make(map[string]int)
	for rows.Next() {
		var session string
		var count int
		if err := rows.Scan(&session, &count); err != nil {
			return nil, err
		}
		breakdown[session] = count
	}
	return breakdown, rows.Err()
}

// SweepResult reports what a retention sweep removed.
type SweepResult struct {
	Deleted    int   `json:"deleted"`
	BytesFreed int64 `json:"bytes_freed"`
}

// Sweep enforces retention: documents older than retentionDays are
// removed, then the oldest documents are removed until the store fits
// under maxBytes. Zero values disable the respective constraint.
func (l *LongTermMemory) Sweep(retentionDays int, maxBytes int64) (SweepResult, error) {
	var result SweepResult

	if retentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
		expired, err := l.idsOlderThan(cutoff)
		if err != nil {
			return result, err
		}
		for _, id := range expired {
			freed, err := l.deleteCounting(id)
			if err != nil {
				return result, err
			}
			result.Deleted++
			result.BytesFreed += freed
		}
	}

	if maxBytes > 0 {
		for {
			size, err := l.SizeBytes()
			if err != nil {
				return result, err
			}
			if size <= maxBytes {
				break
			}

			var oldest string
			err = l.db.QueryRow("SELECT id FROM documents ORDER BY created_at ASC LIMIT 1").Scan(&oldest)
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			if err != nil {
				return result, fmt.Errorf("find oldest document: %w", err)
			}

			freed, err := l.deleteCounting(oldest)
			if err != nil {
				return result, err
			}
			result.Deleted++
			result.BytesFreed += freed
		}
	}

	return result, nil
}

func (l *LongTermMemory) idsOlderThan(cutoff int64) ([]string, error) {
	rows, err := l.db.Query("SELECT id FROM documents WHERE created_at < ? ORDER BY created_at ASC", cutoff)
	if err != nil {
		return nil, fmt.Errorf("scan expired documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (l *LongTermMemory) deleteCounting(id string) (int64, error) {
	var size int64
	if err := l.db.QueryRow("SELECT size_bytes FROM documents WHERE id = ?", id).Scan(&size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	if _, err := l.Delete(id); err != nil {
		return 0, err
	}
	return size, nil
}

// Clear removes every document, mapping, and vector. The dense id
// counter is preserved so recycled ids cannot alias old index entries.
func (l *LongTermMemory) Clear() (int, error) {
	count, err := l.Count()
	if err != nil {
		return 0, err
	}

	tx, err := l.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		"DELETE FROM documents",
		"DELETE FROM id_map",
		"DELETE FROM vectors",
	}
	if l.fts {
		stmts = append(stmts, "DELETE FROM notes_fts")
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return 0, fmt.Errorf("clear storage: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	next := l.idmap.next
	l.idmap = NewIdMapper()
	l.idmap.next = next

	return count, nil
}

// DB exposes the underlying handle so sibling stores (feedback) can
// share the database file.
func (l *LongTermMemory) DB() *sql.DB {
	return l.db
}

// Close releases the database handle.
func (l *LongTermMemory) Close() error {
	return l.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNote(row rowScanner) (*Note, error) {
	var note Note
	var metadataJSON, embeddingJSON string
	var createdAt, lastAccessed int64

	if err := row.Scan(&note.ID, &note.Content, &metadataJSON, &embeddingJSON,
		&createdAt, &lastAccessed, &note.RetrievalCount); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(metadataJSON), &note.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(embeddingJSON), &note.Embedding); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	note.CreatedAt = time.Unix(createdAt, 0).UTC()
	note.LastAccessed = time.Unix(lastAccessed, 0).UTC()
	return &note, nil
}
