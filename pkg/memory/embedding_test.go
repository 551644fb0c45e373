package memory

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEmbeddingProvider generates deterministic embeddings for tests.
// Specific texts can be pinned to explicit vectors; everything else gets
// a hash-derived embedding. It can also be switched into a failing mode
// to exercise the degraded paths.
type MockEmbeddingProvider struct {
	dimension int
	overrides map[string][]float32
	failing   bool
	calls     int
}

func NewMockEmbeddingProvider(dimension int) *MockEmbeddingProvider {
	return &MockEmbeddingProvider{
		dimension: dimension,
		overrides: make(map[string][]float32),
	}
}

func (p *MockEmbeddingProvider) Dimension() int {
	return p.dimension
}

// Pin returns a fixed vector for an exact text.
func (p *MockEmbeddingProvider) Pin(text string, embedding []float32) {
	p.overrides[text] = embedding
}

// SetFailing toggles the failure mode.
func (p *MockEmbeddingProvider) SetFailing(failing bool) {
	p.failing = failing
}

// Calls returns how many embeddings were requested.
func (p *MockEmbeddingProvider) Calls() int {
	return p.calls
}

func (p *MockEmbeddingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	p.calls++
	if p.failing {
		return nil, errors.New("mock embedding failure")
	}

	if pinned, ok := p.overrides[text]; ok {
		out := make([]float32, len(pinned))
		copy(out, pinned)
		return out, nil
	}

	// Deterministic embedding based on text hash
	embedding := make([]float32, p.dimension)
	hash := 0
	for _, c := range text {
		hash = hash*31 + int(c)
	}
	for i := 0; i < p.dimension; i++ {
		embedding[i] = float32((hash+i)%100) / 100.0
	}
	return embedding, nil
}

func (p *MockEmbeddingProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := p.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

func TestLocalProvider_Deterministic(t *testing.T) {
	p := NewLocalProvider(64)

	a, err := p.GenerateEmbedding(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	b, err := p.GenerateEmbedding(context.Background(), "the quick brown fox")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestLocalProvider_Normalized(t *testing.T) {
	p := NewLocalProvider(32)

	emb, err := p.GenerateEmbedding(context.Background(), "normalize me please")
	require.NoError(t, err)

	var norm float64
	for _, v := range emb {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestLocalProvider_EmptyText(t *testing.T) {
	p := NewLocalProvider(16)

	emb, err := p.GenerateEmbedding(context.Background(), "")
	require.NoError(t, err)
	for _, v := range emb {
		assert.Zero(t, v)
	}
}

func TestLocalProvider_Batch(t *testing.T) {
	p := NewLocalProvider(16)

	embs, err := p.GenerateEmbeddings(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, embs, 2)
	assert.NotEqual(t, embs[0], embs[1])
}
