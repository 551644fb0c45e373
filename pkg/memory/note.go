package memory

import (
	"encoding/json"
	"time"
)

// Note is the atomic unit of memory: one stored interaction with its
// metadata and embedding. The embedding is generated once at insertion
// and never mutated in place; updating content requires re-embedding.
type Note struct {
	ID             string                 `json:"id"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata"`
	Embedding      []float32              `json:"embedding,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	LastAccessed   time.Time              `json:"last_accessed"`
	RetrievalCount int                    `json:"retrieval_count"`
}

// NewNote creates a note with both timestamps set to now.
func NewNote(id, content string, metadata map[string]interface{}) *Note {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	now := time.Now().UTC()
	return &Note{
		ID:           id,
		Content:      content,
		Metadata:     metadata,
		CreatedAt:    now,
		LastAccessed: now,
	}
}

// SessionID returns the session_id metadata field, if present.
func (n *Note) SessionID() string {
	s, _ := n.Metadata["session_id"].(string)
	return s
}

// Tags returns the tags metadata field as strings.
func (n *Note) Tags() []string {
	return metadataStrings(n.Metadata, "tags")
}

// Links returns ids of related notes stored in metadata. Links are plain
// id references resolved lazily via Get; the document store remains the
// single owner of all notes.
func (n *Note) Links() []string {
	return metadataStrings(n.Metadata, "links")
}

// Size approximates the storage cost of the note in bytes: content plus
// serialized metadata plus four bytes per embedding dimension.
func (n *Note) Size() int64 {
	size := int64(len(n.ID) + len(n.Content))
	if raw, err := json.Marshal(n.Metadata); err == nil {
		size += int64(len(raw))
	}
	size += int64(4 * len(n.Embedding))
	return size
}

func metadataStrings(metadata map[string]interface{}, key string) []string {
	raw, ok := metadata[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		// Already a string slice when set programmatically.
		if ss, ok := raw.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
