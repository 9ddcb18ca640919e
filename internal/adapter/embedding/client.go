// Package embedding implements port.Embedder for hosted and local backends.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"coursekb/internal/domain"
	"coursekb/pkg/logger"
	"coursekb/pkg/metrics"
)

const (
	DefaultTimeout   = 60 * time.Second
	DefaultBatchSize = 64
	retryBackoff     = 500 * time.Millisecond
)

// Config selects and tunes an embedding backend.
type Config struct {
	Provider          string
	Model             string
	APIKeyEnv         string
	BaseURL           string
	Dimension         int
	BatchSize         int
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
}

// transport is the HTTP plumbing shared by all remote embedders: timeout,
// token-bucket throttling, batch-level retry and error classification.
type transport struct {
	provider   string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

func newTransport(provider string, cfg Config) *transport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &transport{
		provider:   provider,
		client:     &http.Client{Timeout: timeout},
		limiter:    limiter,
		maxRetries: retries,
	}
}

// postJSON sends one request, retrying retryable failures up to maxRetries
// times.
func (t *transport) postJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr *domain.EmbeddingError
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn(ctx, "retrying embedding request",
				"provider", t.provider, "attempt", attempt, "error", lastErr.Error())
			select {
			case <-ctx.Done():
				return &domain.EmbeddingError{Provider: t.provider, Err: ctx.Err()}
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}

		lastErr = t.do(ctx, url, headers, body, out)
		if lastErr == nil {
			metrics.EmbeddingBatches.WithLabelValues(t.provider, "ok").Inc()
			return nil
		}
		metrics.EmbeddingBatches.WithLabelValues(t.provider, "error").Inc()
		if !lastErr.Retryable() || ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

func (t *transport) do(ctx context.Context, url string, headers map[string]string, body []byte, out any) *domain.EmbeddingError {
	if err := t.limiter.Wait(ctx); err != nil {
		return &domain.EmbeddingError{Provider: t.provider, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &domain.EmbeddingError{Provider: t.provider, Fatal: true, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	metrics.EmbeddingDuration.WithLabelValues(t.provider).Observe(time.Since(start).Seconds())
	if err != nil {
		return &domain.EmbeddingError{Provider: t.provider, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.EmbeddingError{Provider: t.provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return &domain.EmbeddingError{
			Provider:   t.provider,
			StatusCode: resp.StatusCode,
			Fatal:      resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden,
			Err:        errors.New(preview(data)),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &domain.EmbeddingError{Provider: t.provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("parse response (body: %s): %w", preview(data), err)}
	}
	return nil
}

func preview(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// dimensionGuard checks every returned vector against the expected size.
// A zero expectation is fixed by the first vector seen.
type dimensionGuard struct {
	mu       sync.Mutex
	expected int
}

func (g *dimensionGuard) get() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expected
}

func (g *dimensionGuard) check(vectors [][]float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range vectors {
		if g.expected == 0 {
			g.expected = len(v)
		}
		if len(v) != g.expected {
			return &domain.DimensionMismatchError{Expected: g.expected, Got: len(v)}
		}
	}
	return nil
}
