package memory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// FeedbackEntry is one recorded judgement about a recalled note.
type FeedbackEntry struct {
	MemoryID  string    `json:"memory_id"`
	Helpful   bool      `json:"helpful"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackStats aggregates recorded feedback.
type FeedbackStats struct {
	Total       int     `json:"total"`
	Helpful     int     `json:"helpful"`
	HelpfulRate float64 `json:"helpful_rate"`
}

// FeedbackStore records whether recalled notes were actually useful.
// It shares the long-term database so feedback survives restarts, but
// keeps its own table: feedback about a note outlives the note itself.
type FeedbackStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewFeedbackStore prepares the feedback table on the shared database.
func NewFeedbackStore(db *sql.DB, logger zerolog.Logger) (*FeedbackStore, error) {
	schema := `
		CREATE TABLE IF NOT EXISTS memory_feedback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id TEXT NOT NULL,
			helpful INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_feedback_memory ON memory_feedback(memory_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialize feedback table: %w", err)
	}
	return &FeedbackStore{db: db, logger: logger}, nil
}

// Record stores one feedback signal for a note.
func (f *FeedbackStore) Record(memoryID string, helpful bool) error {
	_, err := f.db.Exec(
		"INSERT INTO memory_feedback (memory_id, helpful, created_at) VALUES (?, ?, ?)",
		memoryID, helpful, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	f.logger.Debug().Str("memory_id", memoryID).Bool("helpful", helpful).Msg("Feedback recorded")
	return nil
}

// ForMemory returns all feedback recorded for a note, newest first.
func (f *FeedbackStore) ForMemory(memoryID string) ([]FeedbackEntry, error) {
	rows, err := f.db.Query(
		"SELECT memory_id, helpful, created_at FROM memory_feedback WHERE memory_id = ? ORDER BY created_at DESC",
		memoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}
	defer rows.Close()

	var entries []FeedbackEntry
	for rows.Next() {
		var entry FeedbackEntry
		var createdAt int64
		if err := rows.Scan(&entry.MemoryID, &entry.Helpful, &createdAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Stats aggregates all recorded feedback.
func (f *FeedbackStore) Stats() (FeedbackStats, error) {
	var stats FeedbackStats
	err := f.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(helpful), 0) FROM memory_feedback",
	).Scan(&stats.Total, &stats.Helpful)
	if err != nil {
		return stats, fmt.Errorf("feedback stats: %w", err)
	}
	if stats.Total > 0 {
		stats.HelpfulRate = float64(stats.Helpful) / float64(stats.Total)
	}
	return stats, nil
}
