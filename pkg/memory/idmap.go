package memory

import (
	"database/sql"
	"fmt"
)

// execer is satisfied by both *sql.DB and *sql.Tx so mapper writes can
// join the surrounding transaction.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// IdMapper maintains the bidirectional mapping between caller-facing
// string ids and the dense integer ids the vector index requires. Dense
// ids are assigned monotonically on first sight and are never reused
// after Forget; stale dense ids therefore can never alias a different
// note. The mapping is persisted in the id_map table so a restart cannot
// corrupt it.
type IdMapper struct {
	stringToDense map[string]int64
	denseToString map[int64]string
	next          int64
}

// NewIdMapper creates an empty mapper. Dense ids start at 1 because the
// vector table keys rows by sqlite rowid.
func NewIdMapper() *IdMapper {
	return &IdMapper{
		stringToDense: make(map[string]int64),
		denseToString: make(map[int64]string),
		next:          1,
	}
}

// LoadIdMapper restores the mapping from the id_map table. The next
// dense id resumes past the highest ever assigned, including ids whose
// rows were since forgotten.
func LoadIdMapper(db *sql.DB) (*IdMapper, error) {
	m := NewIdMapper()

	rows, err := db.Query("SELECT string_id, dense_id FROM id_map")
	if err != nil {
		return nil, fmt.Errorf("load id map: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stringID string
		var denseID int64
		if err := rows.Scan(&stringID, &denseID); err != nil {
			return nil, fmt.Errorf("scan id map row: %w", err)
		}
		m.stringToDense[stringID] = denseID
		m.denseToString[denseID] = stringID
		if denseID >= m.next {
			m.next = denseID + 1
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate id map: %w", err)
	}

	// The counter floor survives deletions so dense ids stay unique for
	// the lifetime of the index.
	var maxSeen sql.NullInt64
	if err := db.QueryRow("SELECT value FROM engine_meta WHERE key = 'next_dense_id'").Scan(&maxSeen); err == nil {
		if maxSeen.Valid && maxSeen.Int64 > m.next {
			m.next = maxSeen.Int64
		}
	}

	return m, nil
}

// GetOrCreate returns the dense id for a string id, assigning and
// persisting a fresh one on first sight. Repeated calls with the same
// string always return the same dense id.
func (m *IdMapper) GetOrCreate(tx execer, stringID string) (int64, error) {
	if denseID, ok := m.stringToDense[stringID]; ok {
		return denseID, nil
	}

	denseID := m.next
	if _, err := tx.Exec("INSERT INTO id_map (string_id, dense_id) VALUES (?, ?)", stringID, denseID); err != nil {
		return 0, fmt.Errorf("persist id mapping: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO engine_meta (key, value) VALUES ('next_dense_id', ?)", denseID+1,
	); err != nil {
		return 0, fmt.Errorf("persist id counter: %w", err)
	}

	m.next = denseID + 1
	m.stringToDense[stringID] = denseID
	m.denseToString[denseID] = stringID
	return denseID, nil
}

// DenseID returns the dense id for a string id, if one was assigned.
func (m *IdMapper) DenseID(stringID string) (int64, bool) {
	denseID, ok := m.stringToDense[stringID]
	return denseID, ok
}

// Resolve returns the string id for a dense id, if the mapping is live.
func (m *IdMapper) Resolve(denseID int64) (string, bool) {
	stringID, ok := m.denseToString[denseID]
	return stringID, ok
}

// Forget drops the mapping on hard delete and returns the freed dense
// id. The dense id itself is retired, not recycled.
func (m *IdMapper) Forget(tx execer, stringID string) (int64, bool, error) {
	denseID, ok := m.stringToDense[stringID]
	if !ok {
		return 0, false, nil
	}

	if _, err := tx.Exec("DELETE FROM id_map WHERE string_id = ?", stringID); err != nil {
		return 0, false, fmt.Errorf("delete id mapping: %w", err)
	}

	delete(m.stringToDense, stringID)
	delete(m.denseToString, denseID)
	return denseID, true, nil
}

// Len returns the number of live mappings.
func (m *IdMapper) Len() int {
	return len(m.stringToDense)
}
