package embedding

import (
	"context"
	"fmt"
	"strings"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

var _ port.Embedder = (*OllamaEmbedder)(nil)

const (
	OllamaBaseURL = "http://localhost:11434"
	OllamaModel   = "nomic-embed-text"
)

// OllamaEmbedder calls a local single-text embedding service; it has no
// batch endpoint, so each text is one request.
type OllamaEmbedder struct {
	model   string
	baseURL string
	dims    dimensionGuard
	http    *transport
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaEmbedder(provider string, cfg Config) (*OllamaEmbedder, error) {
	if cfg.BaseURL == "" && provider != "ollama" {
		return nil, &domain.ConfigError{Key: "embedding.base_url", Reason: fmt.Sprintf("required for provider %s", provider)}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = OllamaBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = OllamaModel
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = knownDimension(model)
	}

	return &OllamaEmbedder{
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		dims:    dimensionGuard{expected: dimension},
		http:    newTransport(provider, cfg),
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		var resp ollamaResponse
		if err := e.http.postJSON(ctx, e.baseURL+"/api/embeddings", nil, ollamaRequest{Model: e.model, Prompt: text}, &resp); err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		if len(resp.Embedding) == 0 {
			return nil, &domain.EmbeddingError{Provider: e.http.provider, Err: fmt.Errorf("empty embedding for text %d", i)}
		}

		v := make([]float32, len(resp.Embedding))
		for j, x := range resp.Embedding {
			v[j] = float32(x)
		}
		vectors[i] = v
	}

	if err := e.dims.check(vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *OllamaEmbedder) Dimension() int { return e.dims.get() }

func (e *OllamaEmbedder) ModelName() string { return e.model }
