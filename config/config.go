package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"coursekb/internal/domain"
)

// Config holds all configuration for coursekb.
type Config struct {
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reranker  RerankerConfig  `yaml:"reranker"`
	Store     StoreConfig     `yaml:"store"`
	Lock      LockConfig      `yaml:"lock"`
	Index     IndexConfig     `yaml:"index"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ChunkingConfig holds chunking configuration.
type ChunkingConfig struct {
	Strategy             string `yaml:"chunking_strategy"` // "semantic", "fixed", "heading"
	ChunkSize            int    `yaml:"chunk_size"`
	ChunkOverlap         int    `yaml:"chunk_overlap"`
	MinChunkSize         int    `yaml:"min_chunk_size"`
	CodeBlockStrategy    string `yaml:"code_block_strategy"` // "preserve", "summarize", "hybrid"
	CodeSummaryThreshold int    `yaml:"code_summary_threshold"`
	StrategyVersion      string `yaml:"strategy_version"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	Mode           string        `yaml:"retrieval_mode"` // "vector", "hybrid", "vector_rerank"
	TopK           int           `yaml:"default_top_k"`
	ScoreThreshold float64       `yaml:"score_threshold"`
	VectorWeight   float64       `yaml:"vector_weight"`
	KeywordWeight  float64       `yaml:"keyword_weight"`
	RerankFactor   int           `yaml:"rerank_factor"`
	QueryExpansion bool          `yaml:"query_expansion"`
	CacheSize      int           `yaml:"cache_size"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`    // "openai", "jina", "deepseek", "ollama", "local", "mock"
	Model             string        `yaml:"model"`       // e.g., "text-embedding-3-small"
	APIKeyEnv         string        `yaml:"api_key_env"` // Environment variable for API key
	BaseURL           string        `yaml:"base_url"`
	Dimension         int           `yaml:"dimension"`
	BatchSize         int           `yaml:"batch_size"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// RerankerConfig holds reranker configuration. An empty provider disables
// reranking.
type RerankerConfig struct {
	Provider  string `yaml:"provider"` // "", "none", "cohere", "term_overlap"
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

// LockConfig selects the per-course indexing lock.
type LockConfig struct {
	Backend       string        `yaml:"backend"` // "memory", "redis"
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// IndexConfig holds indexing configuration.
type IndexConfig struct {
	Includes      []string `yaml:"includes"`
	Excludes      []string `yaml:"excludes"`
	Concurrency   int      `yaml:"concurrency"`
	CleanupLegacy bool     `yaml:"cleanup_legacy"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text", "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			Strategy:             "semantic",
			ChunkSize:            1000,
			ChunkOverlap:         100,
			MinChunkSize:         100,
			CodeBlockStrategy:    string(domain.CodePreserve),
			CodeSummaryThreshold: 800,
		},
		Retrieve: RetrieveConfig{
			Mode:          string(domain.ModeVector),
			TopK:          5,
			VectorWeight:  0.7,
			KeywordWeight: 0.3,
			RerankFactor:  3,
			CacheSize:     256,
			CacheTTL:      5 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			APIKeyEnv:  "OPENAI_API_KEY",
			Dimension:  1536,
			BatchSize:  64,
			Timeout:    60 * time.Second,
			MaxRetries: 1,
		},
		Store: StoreConfig{
			Path: filepath.Join(".coursekb", "index.db"),
		},
		Lock: LockConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
			TTL:       time.Hour,
		},
		Index: IndexConfig{
			Includes:      []string{"**/*.md", "**/*.markdown"},
			Excludes:      []string{"**/.git/**", "**/node_modules/**", "**/_build/**"},
			Concurrency:   4,
			CleanupLegacy: true,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for coursekb.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "coursekb.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".coursekb", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports the first invalid option as a *domain.ConfigError.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return &domain.ConfigError{Key: key, Reason: fmt.Sprintf(format, args...)}
	}

	switch c.Chunking.Strategy {
	case "", "semantic", "fixed", "heading":
	default:
		return invalid("chunking.chunking_strategy", "unknown strategy %q", c.Chunking.Strategy)
	}
	switch domain.CodeBlockStrategy(c.Chunking.CodeBlockStrategy) {
	case "", domain.CodePreserve, domain.CodeSummarize, domain.CodeHybrid:
	default:
		return invalid("chunking.code_block_strategy", "unknown strategy %q", c.Chunking.CodeBlockStrategy)
	}
	if c.Chunking.ChunkSize <= 0 {
		return invalid("chunking.chunk_size", "must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return invalid("chunking.chunk_overlap", "must be in [0, chunk_size), got %d", c.Chunking.ChunkOverlap)
	}
	if c.Chunking.MinChunkSize < 0 || c.Chunking.MinChunkSize > c.Chunking.ChunkSize {
		return invalid("chunking.min_chunk_size", "must be in [0, chunk_size], got %d", c.Chunking.MinChunkSize)
	}

	if _, err := ParseMode(c.Retrieve.Mode); err != nil {
		return err
	}
	if c.Retrieve.TopK <= 0 {
		return invalid("retrieve.default_top_k", "must be positive, got %d", c.Retrieve.TopK)
	}
	if c.Retrieve.VectorWeight < 0 || c.Retrieve.KeywordWeight < 0 || c.Retrieve.VectorWeight+c.Retrieve.KeywordWeight == 0 {
		return invalid("retrieve.vector_weight", "fusion weights must be non-negative and not both zero")
	}
	if c.Retrieve.RerankFactor < 1 {
		return invalid("retrieve.rerank_factor", "must be at least 1, got %d", c.Retrieve.RerankFactor)
	}

	if c.Embedding.MaxRetries < 0 {
		return invalid("embedding.max_retries", "must not be negative, got %d", c.Embedding.MaxRetries)
	}

	switch c.Lock.Backend {
	case "", "memory":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return invalid("lock.redis_addr", "required for the redis backend")
		}
	default:
		return invalid("lock.backend", "unknown backend %q", c.Lock.Backend)
	}
	if c.Index.Concurrency < 1 {
		return invalid("index.concurrency", "must be at least 1, got %d", c.Index.Concurrency)
	}
	if c.Store.Path == "" {
		return invalid("store.path", "required")
	}
	return nil
}

// ParseMode maps a retrieval_mode value to a domain.RetrievalMode. Empty
// means vector.
func ParseMode(mode string) (domain.RetrievalMode, error) {
	switch domain.RetrievalMode(mode) {
	case "":
		return domain.ModeVector, nil
	case domain.ModeVector, domain.ModeHybrid, domain.ModeVectorRerank:
		return domain.RetrievalMode(mode), nil
	}
	return "", &domain.ConfigError{Key: "retrieve.retrieval_mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
}

// ChunkOptions converts the chunking section for the chunkers.
func (c *Config) ChunkOptions() domain.ChunkOptions {
	return domain.ChunkOptions{
		MaxChunkSize:         c.Chunking.ChunkSize,
		MinChunkSize:         c.Chunking.MinChunkSize,
		OverlapSize:          c.Chunking.ChunkOverlap,
		Overlap:              c.Chunking.ChunkOverlap > 0,
		CodeBlockStrategy:    domain.CodeBlockStrategy(c.Chunking.CodeBlockStrategy),
		CodeSummaryThreshold: c.Chunking.CodeSummaryThreshold,
		StrategyVersion:      c.Chunking.StrategyVersion,
	}
}

// StorePath resolves the store path against dir unless it is absolute.
func (c *Config) StorePath(dir string) string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(dir, c.Store.Path)
}

// EnsureDataDir creates the directory holding the store file.
func (c *Config) EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Dir(c.StorePath(dir)), 0755)
}
