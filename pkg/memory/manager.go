package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/cortex/internal/observability"
	"github.com/harun/cortex/internal/tracing"
)

const tracerName = "cortex.memory"

// Quality gates for StoreInteraction.
const (
	minInteractionLen = 10
	maxInteractionLen = 10000
	duplicateCutoff   = 0.95
)

// Config holds the tunables for a Manager.
type Config struct {
	Enabled          bool          `json:"enabled"`
	DBPath           string        `json:"db_path"`
	Dimension        int           `json:"dimension"`
	STMCapacity      int           `json:"stm_capacity"`
	MaxStorageBytes  int64         `json:"max_storage_bytes"`
	RetentionDays    int           `json:"retention_days"`
	WarnThreshold    float64       `json:"warn_threshold"`
	CrossSession     bool          `json:"cross_session"`
	BreakerThreshold uint32        `json:"breaker_threshold"`
	BreakerCooldown  time.Duration `json:"breaker_cooldown"`
}

// DefaultConfig returns the stock tunables. DBPath must still be set by
// the caller.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Dimension:        1536,
		STMCapacity:      20,
		MaxStorageBytes:  256 << 20,
		RetentionDays:    90,
		WarnThreshold:    0.8,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Stats is a point-in-time snapshot of the engine.
type Stats struct {
	Enabled        bool           `json:"enabled"`
	STMCount       int            `json:"stm_count"`
	STMCapacity    int            `json:"stm_capacity"`
	LTMCount       int            `json:"ltm_count"`
	LTMBytes       int64          `json:"ltm_bytes"`
	MaxBytes       int64          `json:"max_bytes"`
	Sessions       map[string]int `json:"sessions"`
	EmbedBreaker   string         `json:"embed_breaker"`
	StorageBreaker string         `json:"storage_breaker"`
	Feedback       FeedbackStats  `json:"feedback"`
}

// Manager orchestrates the memory tiers: short-term working set,
// durable long-term store, embedding provider, and the circuit breakers
// guarding the two external dependencies. All public methods are safe
// for concurrent use.
type Manager struct {
	mu sync.Mutex

	cfg      Config
	stm      *ShortTermMemory
	ltm      *LongTermMemory
	feedback *FeedbackStore
	embedder EmbeddingProvider

	embedBreaker   *CircuitBreaker
	storageBreaker *CircuitBreaker

	logger zerolog.Logger
}

// NewManager wires up the engine. When cfg.Enabled is false the manager
// is constructed without opening storage; writes then fail fast with
// ErrDisabled and reads return empty results.
func NewManager(cfg Config, embedder EmbeddingProvider, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		cfg:            cfg,
		embedder:       embedder,
		embedBreaker:   NewCircuitBreaker("embedder", cfg.BreakerThreshold, cfg.BreakerCooldown, logger),
		storageBreaker: NewCircuitBreaker("storage", cfg.BreakerThreshold, cfg.BreakerCooldown, logger),
		logger:         logger.With().Str("component", "memory").Logger(),
	}

	if !cfg.Enabled {
		m.logger.Info().Msg("Memory system disabled by configuration")
		return m, nil
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	if cfg.Dimension != embedder.Dimension() {
		return nil, &DimensionError{Want: cfg.Dimension, Got: embedder.Dimension()}
	}

	m.stm = NewShortTermMemory(cfg.STMCapacity)

	ltm, err := NewLongTermMemory(cfg.DBPath, cfg.Dimension, m.logger)
	if err != nil {
		return nil, err
	}
	m.ltm = ltm

	fb, err := NewFeedbackStore(ltm.DB(), m.logger)
	if err != nil {
		ltm.Close()
		return nil, err
	}
	m.feedback = fb

	// Retention is enforced at startup so a long-stopped engine does not
	// serve expired notes before the first scheduled sweep.
	if result, err := ltm.Sweep(cfg.RetentionDays, cfg.MaxStorageBytes); err != nil {
		m.logger.Warn().Err(err).Msg("Startup retention sweep failed")
	} else if result.Deleted > 0 {
		m.logger.Info().
			Int("deleted", result.Deleted).
			Int64("bytes_freed", result.BytesFreed).
			Msg("Startup retention sweep completed")
	}

	m.publishGauges()
	return m, nil
}

// Store embeds the content and inserts it as a new note into short-term
// memory, promoting whatever the insert evicts into long-term storage.
// The new note's id is returned. When embedding fails the note is not
// persisted anywhere; callers may retry once the embedder recovers.
func (m *Manager) Store(ctx context.Context, content string, metadata map[string]interface{}) (string, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.store",
		attribute.Int("content_length", len(content)))
	defer span.End()

	start := time.Now()
	id, err := m.store(ctx, content, metadata)
	observability.RecordStore(time.Since(start), err == nil)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Memory store failed")
		return "", err
	}

	observability.RecordMemoryAudit(ctx, "memory_stored", sessionFrom(metadata), "success",
		map[string]interface{}{"id": id})
	return id, nil
}

func (m *Manager) store(ctx context.Context, content string, metadata map[string]interface{}) (string, error) {
	if !m.cfg.Enabled {
		return "", ErrDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCapacity(); err != nil {
		return "", err
	}

	embedding, err := m.embed(ctx, content)
	if err != nil {
		return "", err
	}

	note := NewNote(uuid.NewString(), content, metadata)
	note.Embedding = embedding

	evicted := m.stm.Insert(note)
	if evicted != nil {
		if err := m.promote(evicted); err != nil {
			// The new note is safe in the working set; only the
			// promotion of the evicted one failed.
			m.logger.Error().Err(err).Str("id", evicted.ID).Msg("Failed to promote evicted note")
			return note.ID, err
		}
	}

	m.publishGauges()
	return note.ID, nil
}

// StoreInteraction stores a query/response exchange, applying the
// quality gate and near-duplicate suppression. It reports whether the
// interaction was actually stored; low-quality and duplicate inputs are
// skipped silently.
func (m *Manager) StoreInteraction(ctx context.Context, query, response, sessionID string) (string, bool, error) {
	if !m.cfg.Enabled {
		return "", false, nil
	}

	if !worthStoring(query, response) {
		m.logger.Debug().Str("session", sessionID).Msg("Interaction below quality gate, skipped")
		return "", false, nil
	}

	content := fmt.Sprintf("Q: %s\nA: %s", query, response)

	embedding, err := m.embed(ctx, content)
	if err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Near-duplicates of something still in the working set add noise,
	// not knowledge.
	for _, hit := range m.stm.Search(embedding, 1, nil) {
		if hit.Score > duplicateCutoff && hit.Note.SessionID() == sessionID {
			m.logger.Debug().
				Str("session", sessionID).
				Float32("similarity", hit.Score).
				Msg("Near-duplicate interaction, skipped")
			return "", false, nil
		}
	}

	if err := m.checkCapacity(); err != nil {
		return "", false, err
	}

	note := NewNote(uuid.NewString(), content, map[string]interface{}{
		"session_id": sessionID,
		"type":       "interaction",
	})
	note.Embedding = embedding

	if evicted := m.stm.Insert(note); evicted != nil {
		if err := m.promote(evicted); err != nil {
			return note.ID, true, err
		}
	}
	m.publishGauges()
	return note.ID, true, nil
}

// Recall searches both tiers for the k notes most similar to the query,
// optionally restricted by a metadata filter. When the embedder is
// unavailable it degrades to keyword search over long-term storage
// rather than failing.
func (m *Manager) Recall(ctx context.Context, query string, k int, filter Filter) ([]SearchResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.recall",
		attribute.Int("k", k))
	defer span.End()

	start := time.Now()
	results, err := m.recall(ctx, query, k, filter)
	observability.RecordRecall(time.Since(start), err == nil)
	return results, err
}

func (m *Manager) recall(ctx context.Context, query string, k int, filter Filter) ([]SearchResult, error) {
	if !m.cfg.Enabled || k <= 0 {
		return nil, nil
	}

	embedding, err := m.embed(ctx, query)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Embedding unavailable, degrading to keyword recall")
		observability.RecordDegradedRecall()
		return m.keywordRecall(query, k, filter)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	merged := make(map[string]SearchResult)

	for _, hit := range m.stm.Search(embedding, k, filter) {
		merged[hit.Note.ID] = SearchResult{
			ID:        hit.Note.ID,
			Content:   hit.Note.Content,
			Metadata:  hit.Note.Metadata,
			Score:     hit.Score,
			Distance:  1 - hit.Score,
			CreatedAt: hit.Note.CreatedAt,
		}
	}

	ltmResults, err := m.searchLTM(embedding, k, filter)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Long-term search failed, serving working set only")
	}
	for _, r := range ltmResults {
		// The working-set copy is at least as fresh.
		if _, ok := merged[r.ID]; !ok {
			merged[r.ID] = r
		}
	}

	results := make([]SearchResult, 0, len(merged))
	for _, r := range merged {
		results = append(results, r)
	}
	sortByScore(results)
	if len(results) > k {
		results = results[:k]
	}

	m.touchHits(results)
	return results, nil
}

// RecallFromSession restricts recall to a single session's notes,
// unless cross-session recall is enabled in the configuration.
func (m *Manager) RecallFromSession(ctx context.Context, query string, k int, sessionID string) ([]SearchResult, error) {
	if m.cfg.CrossSession {
		return m.Recall(ctx, query, k, nil)
	}
	return m.Recall(ctx, query, k, Eq("session_id", sessionID))
}

func (m *Manager) keywordRecall(query string, k int, filter Filter) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.storageBreaker.Allow() {
		return nil, ErrBreakerOpen
	}
	results, err := m.ltm.KeywordSearch(query, k)
	if err != nil {
		m.storageBreaker.RecordFailure()
		m.publishGauges()
		return nil, err
	}
	m.storageBreaker.RecordSuccess()

	if len(filter) > 0 {
		filtered := results[:0]
		for _, r := range results {
			if filter.Matches(r.Metadata) {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}
	m.touchHits(results)
	return results, nil
}

// Get returns a note by id from either tier. A miss is (nil, false, nil),
// not an error. Hits count as retrievals.
func (m *Manager) Get(ctx context.Context, id string) (*Note, bool, error) {
	if !m.cfg.Enabled {
		return nil, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if note := m.stm.Get(id); note != nil {
		m.stm.Touch(id)
		note.LastAccessed = time.Now().UTC()
		note.RetrievalCount++
		return note, true, nil
	}

	var note *Note
	err := m.withStorage(func() error {
		var err error
		note, err = m.ltm.Get(id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if note == nil {
		return nil, false, nil
	}
	if err := m.ltm.Touch(id); err != nil {
		m.logger.Warn().Err(err).Str("id", id).Msg("Failed to record retrieval")
	}
	return note, true, nil
}

// Delete removes a note from both tiers. It reports whether anything
// was deleted; unknown ids are not an error.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.delete")
	defer span.End()

	if !m.cfg.Enabled {
		return false, ErrDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := m.stm.Delete(id)

	var ltmDeleted bool
	err := m.withStorage(func() error {
		var err error
		ltmDeleted, err = m.ltm.Delete(id)
		return err
	})
	if err != nil {
		return deleted, err
	}

	if deleted || ltmDeleted {
		observability.RecordMemoryAudit(ctx, "memory_deleted", "", "success",
			map[string]interface{}{"id": id})
	}
	m.publishGauges()
	return deleted || ltmDeleted, nil
}

// Clear wipes both tiers and returns the number of notes removed.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.clear")
	defer span.End()

	if !m.cfg.Enabled {
		return 0, ErrDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.stm.Clear()

	var ltmRemoved int
	err := m.withStorage(func() error {
		var err error
		ltmRemoved, err = m.ltm.Clear()
		return err
	})
	if err != nil {
		return removed, err
	}

	observability.RecordMemoryAudit(ctx, "memory_cleared", "", "success",
		map[string]interface{}{"removed": removed + ltmRemoved})
	m.publishGauges()
	return removed + ltmRemoved, nil
}

// Sweep enforces retention on long-term storage.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.sweep")
	defer span.End()

	if !m.cfg.Enabled {
		return SweepResult{}, ErrDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var result SweepResult
	err := m.withStorage(func() error {
		var err error
		result, err = m.ltm.Sweep(m.cfg.RetentionDays, m.cfg.MaxStorageBytes)
		return err
	})
	if err != nil {
		return result, err
	}

	if result.Deleted > 0 {
		m.logger.Info().
			Int("deleted", result.Deleted).
			Int64("bytes_freed", result.BytesFreed).
			Msg("Retention sweep completed")
		observability.RecordSweep(result.Deleted)
		observability.RecordSweepAudit(ctx, result.Deleted, result.BytesFreed)
	}
	m.publishGauges()
	return result, nil
}

// RecordFeedback stores a usefulness signal for a previously recalled
// note.
func (m *Manager) RecordFeedback(memoryID string, helpful bool) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}
	return m.feedback.Record(memoryID, helpful)
}

// Recent returns the newest notes across both tiers, newest first.
func (m *Manager) Recent(limit int) ([]*Note, error) {
	if !m.cfg.Enabled || limit <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var notes []*Note
	for _, note := range m.stm.Notes() {
		seen[note.ID] = true
		notes = append(notes, note)
	}

	ltmNotes, err := m.ltm.Recent(limit)
	if err != nil {
		return nil, err
	}
	for _, note := range ltmNotes {
		if !seen[note.ID] {
			notes = append(notes, note)
		}
	}

	sortNotesByCreated(notes)
	if len(notes) > limit {
		notes = notes[:limit]
	}
	return notes, nil
}

// Stats returns a snapshot of both tiers and the breakers.
func (m *Manager) Stats() (Stats, error) {
	stats := Stats{
		Enabled:        m.cfg.Enabled,
		EmbedBreaker:   m.embedBreaker.State().String(),
		StorageBreaker: m.storageBreaker.State().String(),
	}
	if !m.cfg.Enabled {
		return stats, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stats.STMCount = m.stm.Len()
	stats.STMCapacity = m.stm.Capacity()
	stats.MaxBytes = m.cfg.MaxStorageBytes

	count, err := m.ltm.Count()
	if err != nil {
		return stats, err
	}
	stats.LTMCount = count

	size, err := m.ltm.SizeBytes()
	if err != nil {
		return stats, err
	}
	stats.LTMBytes = size

	sessions, err := m.ltm.SessionBreakdown()
	if err != nil {
		return stats, err
	}
	stats.Sessions = sessions

	fb, err := m.feedback.Stats()
	if err != nil {
		return stats, err
	}
	stats.Feedback = fb

	return stats, nil
}

// BreakerStates reports the embedder and storage breaker states.
func (m *Manager) BreakerStates() (embed, storage BreakerState) {
	return m.embedBreaker.State(), m.storageBreaker.State()
}

// Close flushes the working set to long-term storage and releases the
// database. Notes that cannot be flushed are lost with a warning; the
// working set is volatile by contract.
func (m *Manager) Close() error {
	if !m.cfg.Enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, note := range m.stm.Notes() {
		if err := m.ltm.Add(note); err != nil {
			m.logger.Warn().Err(err).Str("id", note.ID).Msg("Failed to flush note on close")
		}
	}
	m.stm.Clear()

	return m.ltm.Close()
}

// embed runs the provider behind the embedding breaker.
func (m *Manager) embed(ctx context.Context, text string) ([]float32, error) {
	if !m.embedBreaker.Allow() {
		return nil, fmt.Errorf("embedding unavailable: %w", ErrBreakerOpen)
	}

	start := time.Now()
	embedding, err := m.embedder.GenerateEmbedding(ctx, text)
	observability.RecordEmbedding(time.Since(start))
	if err != nil {
		m.embedBreaker.RecordFailure()
		m.publishBreakers()
		return nil, fmt.Errorf("generate embedding: %w", err)
	}
	m.embedBreaker.RecordSuccess()
	m.publishBreakers()

	if len(embedding) != m.cfg.Dimension {
		return nil, &DimensionError{Want: m.cfg.Dimension, Got: len(embedding)}
	}
	return embedding, nil
}

// promote writes an evicted working-set note into long-term storage,
// guarded by the storage breaker. Caller holds the mutex.
func (m *Manager) promote(note *Note) error {
	err := m.withStorage(func() error {
		return m.ltm.Add(note)
	})
	observability.RecordEviction(err == nil)
	if err != nil {
		return err
	}
	m.logger.Debug().Str("id", note.ID).Msg("Promoted evicted note to long-term storage")
	return nil
}

// searchLTM runs a vector search guarded by the storage breaker. Caller
// holds the mutex.
func (m *Manager) searchLTM(embedding []float32, k int, filter Filter) ([]SearchResult, error) {
	var results []SearchResult
	err := m.withStorage(func() error {
		var err error
		results, err = m.ltm.Search(embedding, k, filter)
		return err
	})
	return results, err
}

// withStorage wraps a storage call with the breaker and one bounded
// retry when the database file is locked by another process.
func (m *Manager) withStorage(fn func() error) error {
	if !m.storageBreaker.Allow() {
		return fmt.Errorf("storage unavailable: %w", ErrBreakerOpen)
	}

	err := fn()
	if IsLocked(err) {
		time.Sleep(100 * time.Millisecond)
		err = fn()
		if IsLocked(err) {
			err = fmt.Errorf("%w: %v", ErrStorageLocked, err)
		}
	}

	if err != nil {
		m.storageBreaker.RecordFailure()
	} else {
		m.storageBreaker.RecordSuccess()
	}
	m.publishBreakers()
	return err
}

// checkCapacity refuses writes at the storage ceiling and warns as it
// approaches. Caller holds the mutex.
func (m *Manager) checkCapacity() error {
	if m.cfg.MaxStorageBytes <= 0 {
		return nil
	}
	size, err := m.ltm.SizeBytes()
	if err != nil {
		return err
	}
	if size >= m.cfg.MaxStorageBytes {
		return fmt.Errorf("%w: %d bytes used of %d", ErrStorageFull, size, m.cfg.MaxStorageBytes)
	}
	if m.cfg.WarnThreshold > 0 && float64(size) >= float64(m.cfg.MaxStorageBytes)*m.cfg.WarnThreshold {
		m.logger.Warn().
			Int64("used_bytes", size).
			Int64("max_bytes", m.cfg.MaxStorageBytes).
			Msg("Memory storage approaching capacity")
	}
	return nil
}

// touchHits records retrievals for recall results. Caller holds the
// mutex.
func (m *Manager) touchHits(results []SearchResult) {
	for _, r := range results {
		if m.stm.Touch(r.ID) {
			if note := m.stm.Get(r.ID); note != nil {
				note.LastAccessed = time.Now().UTC()
				note.RetrievalCount++
			}
			continue
		}
		if err := m.ltm.Touch(r.ID); err != nil {
			m.logger.Warn().Err(err).Str("id", r.ID).Msg("Failed to record retrieval")
		}
	}
}

func (m *Manager) publishGauges() {
	if m.ltm == nil {
		return
	}
	count, err := m.ltm.Count()
	if err != nil {
		return
	}
	size, err := m.ltm.SizeBytes()
	if err != nil {
		return
	}
	observability.SetTierSizes(m.stm.Len(), count, size)
	m.publishBreakers()
}

func (m *Manager) publishBreakers() {
	observability.SetBreakerState("embedder", int(m.embedBreaker.State()))
	observability.SetBreakerState("storage", int(m.storageBreaker.State()))
}

// worthStoring is the interaction quality gate: very short exchanges,
// oversized payloads, and error responses carry no recall value.
func worthStoring(query, response string) bool {
	if len(query) < minInteractionLen && len(response) < minInteractionLen {
		return false
	}
	if len(query)+len(response) > maxInteractionLen {
		return false
	}
	trimmed := strings.TrimSpace(response)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "error") || strings.HasPrefix(lower, "i encountered an error") {
		return false
	}
	return true
}

func sessionFrom(metadata map[string]interface{}) string {
	if metadata == nil {
		return ""
	}
	s, _ := metadata["session_id"].(string)
	return s
}

func sortByScore(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

func sortNotesByCreated(notes []*Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].CreatedAt.After(notes[j].CreatedAt)
	})
}
