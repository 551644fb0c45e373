package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// EmbeddingProvider generates vector embeddings from text. Embeddings
// must be deterministic for identical input within a single model
// version. Batch generation is an optimization: callers fall back to
// per-item calls when it is unavailable.
type EmbeddingProvider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ErrBatchUnsupported signals that a provider cannot batch; callers
// degrade to per-item GenerateEmbedding calls.
var ErrBatchUnsupported = errors.New("batch embedding not supported")

// OpenAIProvider implements EmbeddingProvider against the OpenAI
// embeddings endpoint.
type OpenAIProvider struct {
	client    openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// NewOpenAIProvider creates an OpenAI embedding provider. Dimension is
// derived from the model name.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	dimension := 1536
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if model == string(openai.EmbeddingModelTextEmbedding3Large) {
		dimension = 3072
	}

	return &OpenAIProvider{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     openai.EmbeddingModel(model),
		dimension: dimension,
	}
}

func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// LocalProvider generates embeddings without any network dependency by
// hashing token n-grams into a fixed-size vector. Quality is far below
// a real model; it exists for development and air-gapped deployments
// where degraded recall beats no recall.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates a local hashing provider.
func NewLocalProvider(dimension int) *LocalProvider {
	return &LocalProvider{dimension: dimension}
}

func (p *LocalProvider) Dimension() int {
	return p.dimension
}

func (p *LocalProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, p.dimension)

	words := strings.Fields(strings.ToLower(text))
	for _, word := range words {
		h := fnv.New64a()
		h.Write([]byte(word))
		sum := h.Sum64()
		// Two buckets per token spread collisions a little.
		embedding[sum%uint64(p.dimension)] += 1
		embedding[(sum>>32)%uint64(p.dimension)] += 0.5
	}

	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range embedding {
			embedding[i] *= scale
		}
	}
	return embedding, nil
}

func (p *LocalProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
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

func (p *OpenAIProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}
