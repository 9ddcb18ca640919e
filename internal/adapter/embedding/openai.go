package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

var _ port.Embedder = (*OpenAIEmbedder)(nil)

// Base URLs of the OpenAI-compatible providers.
const (
	OpenAIBaseURL   = "https://api.openai.com/v1"
	JinaBaseURL     = "https://api.jina.ai/v1"
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
)

// OpenAIEmbedder talks to any /embeddings endpoint that speaks the OpenAI
// request format.
type OpenAIEmbedder struct {
	apiKey    string
	model     string
	baseURL   string
	batchSize int
	dims      dimensionGuard
	http      *transport
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAICompatibleEmbedder reads the API key from cfg.APIKeyEnv and fails
// fast when it is unset.
func NewOpenAICompatibleEmbedder(provider, defaultBaseURL string, cfg Config) (*OpenAIEmbedder, error) {
	if cfg.APIKeyEnv == "" {
		return nil, &domain.ConfigError{Key: "embedding.api_key_env", Reason: fmt.Sprintf("required for provider %s", provider)}
	}
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, &domain.ConfigError{Key: "embedding.api_key_env", Reason: fmt.Sprintf("environment variable %s is not set", cfg.APIKeyEnv)}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if baseURL == "" {
		return nil, &domain.ConfigError{Key: "embedding.base_url", Reason: fmt.Sprintf("required for provider %s", provider)}
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = knownDimension(cfg.Model)
	}

	return &OpenAIEmbedder{
		apiKey:    apiKey,
		model:     cfg.Model,
		baseURL:   strings.TrimRight(baseURL, "/"),
		batchSize: batch,
		dims:      dimensionGuard{expected: dimension},
		http:      newTransport(provider, cfg),
	}, nil
}

func knownDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "jina-embeddings-v3":
		return 1024
	case "jina-embeddings-v4":
		return 2048
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large", "bge-m3", "bge-large-zh-v1.5":
		return 1024
	case "all-minilm":
		return 384
	}
	return 0
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		all = append(all, vectors...)
	}
	return all, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp embeddingResponse
	err := e.http.postJSON(ctx, e.baseURL+"/embeddings",
		map[string]string{"Authorization": "Bearer " + e.apiKey},
		embeddingRequest{Input: texts, Model: e.model}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &domain.EmbeddingError{Provider: e.http.provider, Err: fmt.Errorf("api error: %s", resp.Error.Message)}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, &domain.EmbeddingError{Provider: e.http.provider, Err: fmt.Errorf("response is missing embedding %d of %d", i, len(texts))}
		}
	}

	if err := e.dims.check(vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dims.get() }

func (e *OpenAIEmbedder) ModelName() string { return e.model }
