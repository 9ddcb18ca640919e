package embedding

import (
	"fmt"
	"strings"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

// New builds the embedder selected by cfg.Provider.
func New(cfg Config) (port.Embedder, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		return checked(NewOpenAICompatibleEmbedder(provider, OpenAIBaseURL, withModel(cfg, "text-embedding-3-small")))
	case "jina":
		return checked(NewOpenAICompatibleEmbedder(provider, JinaBaseURL, withModel(cfg, "jina-embeddings-v3")))
	case "deepseek":
		return checked(NewOpenAICompatibleEmbedder(provider, DeepSeekBaseURL, cfg))
	case "ollama", "local":
		return checked(NewOllamaEmbedder(provider, cfg))
	case "mock":
		return NewMockEmbedder(cfg.Dimension), nil
	case "":
		return nil, &domain.ConfigError{Key: "embedding.provider", Reason: "not set"}
	}
	return nil, &domain.ConfigError{
		Key:    "embedding.provider",
		Reason: fmt.Sprintf("unknown provider %q (want openai, jina, deepseek, ollama, local or mock)", cfg.Provider),
	}
}

func withModel(cfg Config, model string) Config {
	if cfg.Model == "" {
		cfg.Model = model
	}
	return cfg
}

// checked keeps a failed constructor from returning a typed nil embedder.
func checked[E port.Embedder](e E, err error) (port.Embedder, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}
