package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/port"
)

var _ port.Embedder = (*MockEmbedder)(nil)

// MockEmbedder hashes tokens into a fixed number of buckets. Texts that
// share terms get similar vectors, which is enough for offline runs and
// retrieval tests.
type MockEmbedder struct {
	dimension int
	tokenizer *analyzer.Tokenizer
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 64
	}
	return &MockEmbedder{dimension: dimension, tokenizer: analyzer.NewTokenizer()}
}

func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vector(text)
	}
	return vectors, nil
}

func (e *MockEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimension)
	tokens := e.tokenizer.Tokenize(text)
	if len(tokens) == 0 {
		v[0] = 1
		return v
	}

	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[h.Sum32()%uint32(e.dimension)] += 1
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func (e *MockEmbedder) Dimension() int { return e.dimension }

func (e *MockEmbedder) ModelName() string { return "mock" }
