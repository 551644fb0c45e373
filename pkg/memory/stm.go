package memory

import (
	"container/list"
	"math"
	"sort"
)

// ShortTermMemory is the bounded working set of the most recent notes,
// ordered by recency of insertion and access. It is never persisted;
// a restart begins with an empty working set.
//
// ShortTermMemory never talks to long-term storage: Insert returns the
// evicted note and the caller decides what to do with it.
type ShortTermMemory struct {
	capacity int
	notes    map[string]*list.Element
	order    *list.List // front = least recently used
}

// ScoredNote pairs a note with its similarity to a query.
type ScoredNote struct {
	Note  *Note
	Score float32
}

// NewShortTermMemory creates an empty working set with the given capacity.
func NewShortTermMemory(capacity int) *ShortTermMemory {
	if capacity < 1 {
		capacity = 1
	}
	return &ShortTermMemory{
		capacity: capacity,
		notes:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Insert adds the note, replacing any existing note with the same id.
// When the insert pushes the set over capacity, the least recently used
// note is evicted and returned.
func (s *ShortTermMemory) Insert(note *Note) *Note {
	if elem, ok := s.notes[note.ID]; ok {
		elem.Value = note
		s.order.MoveToBack(elem)
		return nil
	}

	s.notes[note.ID] = s.order.PushBack(note)

	if s.order.Len() <= s.capacity {
		return nil
	}

	oldest := s.order.Front()
	evicted := oldest.Value.(*Note)
	s.order.Remove(oldest)
	delete(s.notes, evicted.ID)
	return evicted
}

// Get returns the note without changing its recency.
func (s *ShortTermMemory) Get(id string) *Note {
	elem, ok := s.notes[id]
	if !ok {
		return nil
	}
	return elem.Value.(*Note)
}

// Touch marks a note as recently accessed, moving it to the most-recent
// position. Called on every successful recall hit.
func (s *ShortTermMemory) Touch(id string) bool {
	elem, ok := s.notes[id]
	if !ok {
		return false
	}
	s.order.MoveToBack(elem)
	return true
}

// Delete removes the note and reports whether it was present.
func (s *ShortTermMemory) Delete(id string) bool {
	elem, ok := s.notes[id]
	if !ok {
		return false
	}
	s.order.Remove(elem)
	delete(s.notes, id)
	return true
}

// Search scores every note in the working set against the query by
// cosine similarity and returns the top k. The set is small and bounded,
// so a linear scan is all that is needed. The filter is applied before
// the k cut so filtered searches still return up to k matching notes.
func (s *ShortTermMemory) Search(query []float32, k int, filter Filter) []ScoredNote {
	results := make([]ScoredNote, 0, len(s.notes))
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		note := elem.Value.(*Note)
		if len(note.Embedding) == 0 {
			continue
		}
		if len(filter) > 0 && !filter.Matches(note.Metadata) {
			continue
		}
		results = append(results, ScoredNote{
			Note:  note,
			Score: CosineSimilarity(query, note.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Notes returns all notes ordered from least to most recently used.
func (s *ShortTermMemory) Notes() []*Note {
	out := make([]*Note, 0, s.order.Len())
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*Note))
	}
	return out
}

// Len returns the number of notes currently held.
func (s *ShortTermMemory) Len() int {
	return s.order.Len()
}

// Capacity returns the configured bound.
func (s *ShortTermMemory) Capacity() int {
	return s.capacity
}

// Clear drops everything and returns the number of notes removed.
func (s *ShortTermMemory) Clear() int {
	n := s.order.Len()
	s.notes = make(map[string]*list.Element)
	s.order.Init()
	return n
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either has zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
