package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stmNote(id string, embedding ...float32) *Note {
	note := NewNote(id, "content for "+id, nil)
	note.Embedding = embedding
	return note
}

func TestSTM_InsertWithinCapacity(t *testing.T) {
	stm := NewShortTermMemory(3)

	assert.Nil(t, stm.Insert(stmNote("a")))
	assert.Nil(t, stm.Insert(stmNote("b")))
	assert.Nil(t, stm.Insert(stmNote("c")))
	assert.Equal(t, 3, stm.Len())
}

func TestSTM_EvictsLeastRecentlyUsed(t *testing.T) {
	stm := NewShortTermMemory(3)
	stm.Insert(stmNote("a"))
	stm.Insert(stmNote("b"))
	stm.Insert(stmNote("c"))

	evicted := stm.Insert(stmNote("d"))
	require.NotNil(t, evicted)
	assert.Equal(t, "a", evicted.ID)
	assert.Equal(t, 3, stm.Len())
	assert.Nil(t, stm.Get("a"))
}

func TestSTM_TouchChangesEvictionOrder(t *testing.T) {
	stm := NewShortTermMemory(3)
	stm.Insert(stmNote("a"))
	stm.Insert(stmNote("b"))
	stm.Insert(stmNote("c"))

	assert.True(t, stm.Touch("a"))

	evicted := stm.Insert(stmNote("d"))
	require.NotNil(t, evicted)
	assert.Equal(t, "b", evicted.ID, "touched note survives, next-oldest goes")
	assert.NotNil(t, stm.Get("a"))
}

func TestSTM_ReplaceExistingDoesNotEvict(t *testing.T) {
	stm := NewShortTermMemory(2)
	stm.Insert(stmNote("a"))
	stm.Insert(stmNote("b"))

	replacement := stmNote("a")
	replacement.Content = "updated"
	assert.Nil(t, stm.Insert(replacement))
	assert.Equal(t, 2, stm.Len())
	assert.Equal(t, "updated", stm.Get("a").Content)

	// The replacement counts as a fresh use.
	evicted := stm.Insert(stmNote("c"))
	require.NotNil(t, evicted)
	assert.Equal(t, "b", evicted.ID)
}

func TestSTM_GetDoesNotChangeRecency(t *testing.T) {
	stm := NewShortTermMemory(2)
	stm.Insert(stmNote("a"))
	stm.Insert(stmNote("b"))

	stm.Get("a")

	evicted := stm.Insert(stmNote("c"))
	require.NotNil(t, evicted)
	assert.Equal(t, "a", evicted.ID)
}

func TestSTM_Delete(t *testing.T) {
	stm := NewShortTermMemory(3)
	stm.Insert(stmNote("a"))

	assert.True(t, stm.Delete("a"))
	assert.False(t, stm.Delete("a"))
	assert.Zero(t, stm.Len())
}

func TestSTM_Search(t *testing.T) {
	stm := NewShortTermMemory(10)
	stm.Insert(stmNote("x", 1, 0, 0))
	stm.Insert(stmNote("y", 0, 1, 0))
	stm.Insert(stmNote("xy", 0.7, 0.7, 0))

	results := stm.Search([]float32{1, 0, 0}, 2, nil)
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].Note.ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-6)
	assert.Equal(t, "xy", results[1].Note.ID)
}

func TestSTM_SearchFiltersBeforeTopK(t *testing.T) {
	stm := NewShortTermMemory(10)

	best := stmNote("best", 1, 0, 0)
	best.Metadata = map[string]interface{}{"session_id": "b"}
	stm.Insert(best)

	runner := stmNote("runner", 0.97, 0.03, 0)
	runner.Metadata = map[string]interface{}{"session_id": "a"}
	stm.Insert(runner)

	// The closest note is in another session. With k=1 it must not
	// crowd out the matching note.
	results := stm.Search([]float32{1, 0, 0}, 1, Eq("session_id", "a"))
	require.Len(t, results, 1)
	assert.Equal(t, "runner", results[0].Note.ID)
}

func TestSTM_SearchSkipsNotesWithoutEmbeddings(t *testing.T) {
	stm := NewShortTermMemory(10)
	stm.Insert(stmNote("bare"))
	stm.Insert(stmNote("vec", 1, 0))

	results := stm.Search([]float32{1, 0}, 10, nil)
	require.Len(t, results, 1)
	assert.Equal(t, "vec", results[0].Note.ID)
}

func TestSTM_Clear(t *testing.T) {
	stm := NewShortTermMemory(5)
	for i := 0; i < 5; i++ {
		stm.Insert(stmNote(fmt.Sprintf("n%d", i)))
	}

	assert.Equal(t, 5, stm.Clear())
	assert.Zero(t, stm.Len())
	assert.Equal(t, 5, stm.Capacity())
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, float64(CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})), 1e-6)
	assert.InDelta(t, 0.0, float64(CosineSimilarity([]float32{1, 0}, []float32{0, 1})), 1e-6)
	assert.InDelta(t, -1.0, float64(CosineSimilarity([]float32{1, 0}, []float32{-1, 0})), 1e-6)

	// Degenerate inputs
	assert.Zero(t, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Zero(t, CosineSimilarity(nil, nil))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
