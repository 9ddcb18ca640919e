package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

const (
	DefaultCohereBaseURL = "https://api.cohere.ai/v1"
	defaultCohereModel   = "rerank-multilingual-v3.0"
	// Cohere has a limit of 1000 documents per request.
	cohereMaxDocs = 1000
)

// RerankerConfig selects and configures a reranker.
type RerankerConfig struct {
	Provider          string
	Model             string
	APIKeyEnv         string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// NewReranker returns nil for an empty or "none" provider.
func NewReranker(cfg RerankerConfig) (port.Reranker, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "cohere":
		r, err := NewCohereReranker(cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "term_overlap", "local":
		return NewTermOverlapReranker(nil), nil
	}
	return nil, &domain.ConfigError{Key: "reranker.provider", Reason: fmt.Sprintf("unknown reranker %q", cfg.Provider)}
}

// CohereReranker implements cross-encoder reranking using Cohere's API.
type CohereReranker struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

var _ port.Reranker = (*CohereReranker)(nil)

// Cohere API types
type cohereRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	Results []cohereRerankResult `json:"results"`
}

type cohereRerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

func NewCohereReranker(cfg RerankerConfig) (*CohereReranker, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "COHERE_API_KEY"
	}
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, &domain.ConfigError{Key: "reranker.api_key_env", Reason: "environment variable " + cfg.APIKeyEnv + " is not set"}
	}
	if cfg.Model == "" {
		cfg.Model = defaultCohereModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCohereBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &CohereReranker{
		apiKey:  apiKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Rerank scores and reorders documents based on query relevance.
func (r *CohereReranker) Rerank(ctx context.Context, query string, documents []string) ([]port.RerankedResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if len(documents) > cohereMaxDocs {
		documents = documents[:cohereMaxDocs]
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(cohereRerankRequest{
		Query:     query,
		Documents: documents,
		Model:     r.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank API returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var rerankResp cohereRerankResponse
	if err := json.Unmarshal(body, &rerankResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]port.RerankedResult, 0, len(rerankResp.Results))
	for _, res := range rerankResp.Results {
		if res.Index < 0 || res.Index >= len(documents) {
			return nil, fmt.Errorf("rerank API returned index %d for %d documents", res.Index, len(documents))
		}
		results = append(results, port.RerankedResult{Index: res.Index, Score: res.RelevanceScore})
	}
	sortReranked(results)
	return results, nil
}

func (r *CohereReranker) ModelName() string {
	return r.model
}

// TermOverlapReranker scores documents by the share of query terms they
// contain. It needs no network and serves as the local reranker.
type TermOverlapReranker struct {
	tokenizer port.Tokenizer
}

var _ port.Reranker = (*TermOverlapReranker)(nil)

// NewTermOverlapReranker uses whitespace tokenization when tokenizer is nil.
func NewTermOverlapReranker(tokenizer port.Tokenizer) *TermOverlapReranker {
	return &TermOverlapReranker{tokenizer: tokenizer}
}

func (r *TermOverlapReranker) Rerank(ctx context.Context, query string, documents []string) ([]port.RerankedResult, error) {
	queryTerms := termSet(r.tokenize(query))

	results := make([]port.RerankedResult, len(documents))
	for i, doc := range documents {
		results[i] = port.RerankedResult{Index: i}
		if len(queryTerms) == 0 {
			continue
		}
		docTerms := termSet(r.tokenize(doc))
		matches := 0
		for term := range queryTerms {
			if docTerms[term] {
				matches++
			}
		}
		results[i].Score = float64(matches) / float64(len(queryTerms))
	}
	sortReranked(results)
	return results, nil
}

func (r *TermOverlapReranker) ModelName() string {
	return "term-overlap"
}

func (r *TermOverlapReranker) tokenize(text string) []string {
	if r.tokenizer != nil {
		return r.tokenizer.Tokenize(text)
	}
	return strings.Fields(strings.ToLower(text))
}

func termSet(terms []string) map[string]bool {
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[t] = true
	}
	return set
}

// sortReranked orders by score, keeping the input order for equal scores.
func sortReranked(results []port.RerankedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Index < results[j].Index
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
