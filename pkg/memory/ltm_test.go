package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLTM(t *testing.T, dimension int) (*LongTermMemory, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "ltm.db")
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	ltm, err := NewLongTermMemory(dbPath, dimension, logger)
	require.NoError(t, err)
	t.Cleanup(func() { ltm.Close() })
	return ltm, dbPath
}

func ltmNote(id, content string, metadata map[string]interface{}, embedding []float32) *Note {
	note := NewNote(id, content, metadata)
	note.Embedding = embedding
	return note
}

// requireFTS skips tests that exercise keyword search when sqlite was
// built without the fts5 module.
func requireFTS(t *testing.T, ltm *LongTermMemory) {
	t.Helper()
	if !ltm.fts {
		t.Skip("sqlite built without fts5")
	}
}

func TestLTM_RequiresPath(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	_, err := NewLongTermMemory("", 3, logger)
	assert.Error(t, err)
}

func TestLTM_AddGetRoundTrip(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)

	metadata := map[string]interface{}{
		"session_id": "s1",
		"priority":   float64(7),
	}
	require.NoError(t, ltm.Add(ltmNote("n1", "remember this", metadata, []float32{1, 0, 0})))

	note, err := ltm.Get("n1")
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "remember this", note.Content)
	assert.Equal(t, metadata, note.Metadata)
	assert.Equal(t, []float32{1, 0, 0}, note.Embedding)
}

func TestLTM_GetMissingIsNotAnError(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)

	note, err := ltm.Get("ghost")
	require.NoError(t, err)
	assert.Nil(t, note)
}

func TestLTM_AddRejectsWrongDimension(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)

	err := ltm.Add(ltmNote("n1", "short vector", nil, []float32{1, 0}))
	var dimErr *DimensionError
	assert.ErrorAs(t, err, &dimErr)
}

func TestLTM_AddReplacesExisting(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)

	require.NoError(t, ltm.Add(ltmNote("n1", "first", nil, []float32{1, 0, 0})))
	require.NoError(t, ltm.Add(ltmNote("n1", "second", nil, []float32{0, 1, 0})))

	note, err := ltm.Get("n1")
	require.NoError(t, err)
	assert.Equal(t, "second", note.Content)

	count, err := ltm.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLTM_Search(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)

	require.NoError(t, ltm.Add(ltmNote("x", "x axis", nil, []float32{1, 0, 0})))
	require.NoError(t, ltm.Add(ltmNote("y", "y axis", nil, []float32{0, 1, 0})))
	require.NoError(t, ltm.Add(ltmNote("near-x", "near x", nil, []float32{0.9, 0.1, 0})))

	results, err := ltm.Search([]float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].ID)
	assert.Equal(t, "near-x", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestLTM_SearchWithFilterReturnsFullK(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)

	// Session s2 notes are closer to the query than every s1 note.
	require.NoError(t, ltm.Add(ltmNote("close-1", "a", map[string]interface{}{"session_id": "s2"}, []float32{1, 0, 0})))
	require.NoError(t, ltm.Add(ltmNote("close-2", "b", map[string]interface{}{"session_id": "s2"}, []float32{0.99, 0.01, 0})))
	require.NoError(t, ltm.Add(ltmNote("far-1", "c", map[string]interface{}{"session_id": "s1"}, []float32{0.5, 0.5, 0})))
	require.NoError(t, ltm.Add(ltmNote("far-2", "d", map[string]interface{}{"session_id": "s1"}, []float32{0.4, 0.6, 0})))
	require.NoError(t, ltm.Add(ltmNote("far-3", "e", map[string]interface{}{"session_id": "s1"}, []float32{0, 1, 0})))

	results, err := ltm.Search([]float32{1, 0, 0}, 2, Eq("session_id", "s1"))
	require.NoError(t, err)
	require.Len(t, results, 2, "filter applies before the k cut, not after")
	assert.Equal(t, "far-1", results[0].ID)
	assert.Equal(t, "far-2", results[1].ID)
}

func TestLTM_SearchFilterWithNoMatches(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)
	require.NoError(t, ltm.Add(ltmNote("n1", "a", map[string]interface{}{"session_id": "s1"}, []float32{1, 0, 0})))

	results, err := ltm.Search([]float32{1, 0, 0}, 5, Eq("session_id", "nope"))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLTM_KeywordSearch(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)
	requireFTS(t, ltm)

	require.NoError(t, ltm.Add(ltmNote("n1", "the quarterly revenue report", nil, []float32{1, 0, 0})))
	require.NoError(t, ltm.Add(ltmNote("n2", "vacation photos from the beach", nil, []float32{0, 1, 0})))

	results, err := ltm.KeywordSearch("revenue report", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].ID)

	// Porter stemming matches inflected forms.
	results, err = ltm.KeywordSearch("reporting revenues", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].ID)
}

func TestLTM_KeywordSearchHostileInput(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)
	requireFTS(t, ltm)
	require.NoError(t, ltm.Add(ltmNote("n1", "plain content", nil, []float32{1, 0, 0})))

	// Quotes and operators must not break the query.
	_, err := ltm.KeywordSearch(`"unbalanced AND (NOT`, 5)
	assert.NoError(t, err)

	results, err := ltm.KeywordSearch("   ", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLTM_DeleteIsTotal(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)

	require.NoError(t, ltm.Add(ltmNote("n1", "delete me", nil, []float32{1, 0, 0})))

	deleted, err := ltm.Delete("n1")
	require.NoError(t, err)
	assert.True(t, deleted)

	note, err := ltm.Get("n1")
	require.NoError(t, err)
	assert.Nil(t, note)

	results, err := ltm.Search([]float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	if ltm.fts {
		results, err = ltm.KeywordSearch("delete", 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	}

	deleted, err = ltm.Delete("n1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestLTM_OperatesWithoutFTS(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)
	ltm.fts = false

	require.NoError(t, ltm.Add(ltmNote("n1", "searchable content", nil, []float32{1, 0, 0})))

	// Keyword search degrades to empty instead of erroring.
	results, err := ltm.KeywordSearch("searchable", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Vector search, delete, and clear are unaffected.
	hits, err := ltm.Search([]float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	deleted, err := ltm.Delete("n1")
	require.NoError(t, err)
	assert.True(t, deleted)

	require.NoError(t, ltm.Add(ltmNote("n2", "more content", nil, []float32{0, 1, 0})))
	removed, err := ltm.Clear()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestLTM_Touch(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)
	require.NoError(t, ltm.Add(ltmNote("n1", "touch me", nil, []float32{1, 0, 0})))

	require.NoError(t, ltm.Touch("n1"))
	require.NoError(t, ltm.Touch("n1"))

	note, err := ltm.Get("n1")
	require.NoError(t, err)
	assert.Equal(t, 2, note.RetrievalCount)
}

func TestLTM_SessionBreakdown(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)

	require.NoError(t, ltm.Add(ltmNote("a", "1", map[string]interface{}{"session_id": "s1"}, []float32{1, 0, 0})))
	require.NoError(t, ltm.Add(ltmNote("b", "2", map[string]interface{}{"session_id": "s1"}, []float32{0, 1, 0})))
	require.NoError(t, ltm.Add(ltmNote("c", "3", map[string]interface{}{"session_id": "s2"}, []float32{0, 0, 1})))

	breakdown, err := ltm.SessionBreakdown()
	require.NoError(t, err)
	assert.Equal(t, 2, breakdown["s1"])
	assert.Equal(t, 1, breakdown["s2"])
}

func TestLTM_SweepByAge(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)

	old := ltmNote("old", "ancient history", nil, []float32{1, 0, 0})
	old.CreatedAt = time.Now().AddDate(0, 0, -120)
	require.NoError(t, ltm.Add(old))
	require.NoError(t, ltm.Add(ltmNote("fresh", "yesterday", nil, []float32{0, 1, 0})))

	result, err := ltm.Sweep(90, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Greater(t, result.BytesFreed, int64(0))

	note, err := ltm.Get("old")
	require.NoError(t, err)
	assert.Nil(t, note)
	note, err = ltm.Get("fresh")
	require.NoError(t, err)
	assert.NotNil(t, note)
}

func TestLTM_SweepBySize(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)

	oldest := ltmNote("oldest", "first in", nil, []float32{1, 0, 0})
	oldest.CreatedAt = time.Now().Add(-2 * time.Hour)
	middle := ltmNote("middle", "second in", nil, []float32{0, 1, 0})
	middle.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, ltm.Add(oldest))
	require.NoError(t, ltm.Add(middle))
	require.NoError(t, ltm.Add(ltmNote("newest", "third in", nil, []float32{0, 0, 1})))

	size, err := ltm.SizeBytes()
	require.NoError(t, err)

	// Leave room for roughly two notes; the oldest goes.
	result, err := ltm.Sweep(0, size-1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Deleted, 1)

	note, err := ltm.Get("oldest")
	require.NoError(t, err)
	assert.Nil(t, note)
	note, err = ltm.Get("newest")
	require.NoError(t, err)
	assert.NotNil(t, note)
}

func TestLTM_Clear(t *testing.T) {
	ltm, _ := newTestLTM(t, 3)

	require.NoError(t, ltm.Add(ltmNote("a", "1", nil, []float32{1, 0, 0})))
	require.NoError(t, ltm.Add(ltmNote("b", "2", nil, []float32{0, 1, 0})))

	removed, err := ltm.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := ltm.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	results, err := ltm.Search([]float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLTM_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ltm.db")
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	ltm, err := NewLongTermMemory(dbPath, 3, logger)
	require.NoError(t, err)
	require.NoError(t, ltm.Add(ltmNote("n1", "survives restarts", map[string]interface{}{"session_id": "s1"}, []float32{1, 0, 0})))
	require.NoError(t, ltm.Close())

	reopened, err := NewLongTermMemory(dbPath, 3, logger)
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search([]float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].ID)
}

func TestLTM_ReopenWithDifferentDimensionFails(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ltm.db")
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	ltm, err := NewLongTermMemory(dbPath, 3, logger)
	require.NoError(t, err)
	require.NoError(t, ltm.Close())

	_, err = NewLongTermMemory(dbPath, 4, logger)
	assert.Error(t, err)
}
