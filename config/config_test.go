package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"coursekb/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Chunking.ChunkSize != 1000 {
		t.Errorf("expected ChunkSize=1000, got %d", cfg.Chunking.ChunkSize)
	}
	if cfg.Retrieve.VectorWeight != 0.7 || cfg.Retrieve.KeywordWeight != 0.3 {
		t.Errorf("expected fusion weights 0.7/0.3, got %v/%v", cfg.Retrieve.VectorWeight, cfg.Retrieve.KeywordWeight)
	}
	if cfg.Retrieve.RerankFactor != 3 {
		t.Errorf("expected RerankFactor=3, got %d", cfg.Retrieve.RerankFactor)
	}
	if cfg.Lock.TTL != time.Hour {
		t.Errorf("expected lock TTL 1h, got %v", cfg.Lock.TTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "coursekb.yaml")

	content := `
chunking:
  chunking_strategy: heading
  chunk_size: 500
  code_block_strategy: hybrid
retrieve:
  retrieval_mode: hybrid
  default_top_k: 10
  cache_ttl: 30s
embedding:
  provider: ollama
  timeout: 2m
lock:
  backend: redis
  redis_addr: redis:6379
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Chunking.Strategy != "heading" || cfg.Chunking.ChunkSize != 500 {
		t.Errorf("unexpected chunking config: %+v", cfg.Chunking)
	}
	if cfg.Chunking.ChunkOverlap != 100 {
		t.Errorf("unset keys should keep defaults, got overlap %d", cfg.Chunking.ChunkOverlap)
	}
	if cfg.Retrieve.TopK != 10 || cfg.Retrieve.CacheTTL != 30*time.Second {
		t.Errorf("unexpected retrieve config: %+v", cfg.Retrieve)
	}
	if cfg.Embedding.Timeout != 2*time.Minute {
		t.Errorf("expected timeout 2m, got %v", cfg.Embedding.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}

	opts := cfg.ChunkOptions()
	if opts.CodeBlockStrategy != domain.CodeHybrid || !opts.Overlap || opts.MaxChunkSize != 500 {
		t.Errorf("unexpected chunk options: %+v", opts)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "coursekb.yaml")
	if err := os.WriteFile(configPath, []byte("chunking: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".coursekb"), 0755); err != nil {
		t.Fatal(err)
	}
	content := `
retrieve:
  default_top_k: 8
`
	if err := os.WriteFile(filepath.Join(tmpDir, ".coursekb", "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieve.TopK != 8 {
		t.Errorf("expected TopK=8, got %d", cfg.Retrieve.TopK)
	}

	cfg, err = LoadFromDir(t.TempDir())
	if err != nil || cfg.Retrieve.TopK != 5 {
		t.Errorf("expected defaults for empty dir, got %+v, %v", cfg, err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursekb.yaml")
	cfg := DefaultConfig()
	cfg.Retrieve.Mode = "vector_rerank"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Retrieve.Mode != "vector_rerank" || loaded.Lock.TTL != time.Hour {
		t.Errorf("unexpected loaded config: %+v", loaded)
	}
}

func TestLoad_ZeroMaxRetries(t *testing.T) {
	if got := DefaultConfig().Embedding.MaxRetries; got != 1 {
		t.Errorf("default max_retries = %d, want 1", got)
	}

	configPath := filepath.Join(t.TempDir(), "coursekb.yaml")
	content := "embedding:\n  provider: openai\n  max_retries: 0\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Embedding.MaxRetries != 0 {
		t.Errorf("max_retries = %d, want 0", cfg.Embedding.MaxRetries)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"strategy", func(c *Config) { c.Chunking.Strategy = "sentence" }, "chunking.chunking_strategy"},
		{"code strategy", func(c *Config) { c.Chunking.CodeBlockStrategy = "drop" }, "chunking.code_block_strategy"},
		{"chunk size", func(c *Config) { c.Chunking.ChunkSize = 0 }, "chunking.chunk_size"},
		{"overlap", func(c *Config) { c.Chunking.ChunkOverlap = 1000 }, "chunking.chunk_overlap"},
		{"mode", func(c *Config) { c.Retrieve.Mode = "bm25" }, "retrieve.retrieval_mode"},
		{"top k", func(c *Config) { c.Retrieve.TopK = 0 }, "retrieve.default_top_k"},
		{"weights", func(c *Config) { c.Retrieve.VectorWeight, c.Retrieve.KeywordWeight = 0, 0 }, "retrieve.vector_weight"},
		{"rerank factor", func(c *Config) { c.Retrieve.RerankFactor = 0 }, "retrieve.rerank_factor"},
		{"max retries", func(c *Config) { c.Embedding.MaxRetries = -1 }, "embedding.max_retries"},
		{"lock backend", func(c *Config) { c.Lock.Backend = "etcd" }, "lock.backend"},
		{"redis addr", func(c *Config) { c.Lock.Backend, c.Lock.RedisAddr = "redis", "" }, "lock.redis_addr"},
		{"concurrency", func(c *Config) { c.Index.Concurrency = 0 }, "index.concurrency"},
		{"store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Key != tt.key {
				t.Errorf("key = %s, want %s", cfgErr.Key, tt.key)
			}
		})
	}
}

func TestStorePath(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.StorePath("/srv/course"); got != filepath.Join("/srv/course", ".coursekb", "index.db") {
		t.Errorf("unexpected store path %s", got)
	}
	cfg.Store.Path = "/var/lib/coursekb.db"
	if got := cfg.StorePath("/srv/course"); got != "/var/lib/coursekb.db" {
		t.Errorf("absolute path should be kept, got %s", got)
	}
}
