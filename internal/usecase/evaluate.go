package usecase

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"coursekb/internal/domain"
	"coursekb/internal/port"
	"coursekb/pkg/logger"
)

// Evaluator measures retrieval quality over labeled queries.
type Evaluator struct {
	retriever port.Retriever
	now       func() time.Time
}

func NewEvaluator(retriever port.Retriever) *Evaluator {
	return &Evaluator{retriever: retriever, now: time.Now}
}

// RunTest retrieves topK chunks for every case and reports recall@k and
// precision@k for k in 1..topK plus MRR, averaged over the cases.
func (e *Evaluator) RunTest(ctx context.Context, cases []domain.TestCase, courseID, collection string, topK int, scoreThreshold float64, mode domain.RetrievalMode) (*domain.TestReport, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	report := &domain.TestReport{
		Collection:      collection,
		Mode:            mode,
		TopK:            topK,
		Cases:           len(cases),
		AvgRecallAtK:    make(map[int]float64, topK),
		AvgPrecisionAtK: make(map[int]float64, topK),
		CreatedAt:       e.now().UTC(),
	}

	for _, tc := range cases {
		found, err := e.retriever.Retrieve(ctx, port.RetrieveRequest{
			Query:          tc.Query,
			CourseID:       courseID,
			Collection:     collection,
			TopK:           topK,
			ScoreThreshold: scoreThreshold,
			Mode:           mode,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve for %q: %w", tc.Query, err)
		}

		retrieved := make([]string, len(found))
		for i, r := range found {
			retrieved[i] = r.Chunk.ID
		}
		res := domain.TestResult{
			Query:        tc.Query,
			RetrievedIDs: retrieved,
			RecallAtK:    make(map[int]float64, topK),
			PrecisionAtK: make(map[int]float64, topK),
			MRR:          ReciprocalRank(retrieved, tc.RelevantIDs),
		}
		for k := 1; k <= topK; k++ {
			res.RecallAtK[k] = RecallAtK(retrieved, tc.RelevantIDs, k)
			res.PrecisionAtK[k] = PrecisionAtK(retrieved, tc.RelevantIDs, k)
			report.AvgRecallAtK[k] += res.RecallAtK[k]
			report.AvgPrecisionAtK[k] += res.PrecisionAtK[k]
		}
		report.MRR += res.MRR
		report.Results = append(report.Results, res)
	}

	if n := float64(len(cases)); n > 0 {
		for k := 1; k <= topK; k++ {
			report.AvgRecallAtK[k] /= n
			report.AvgPrecisionAtK[k] /= n
		}
		report.MRR /= n
	}
	logger.Info(ctx, "evaluation finished",
		"collection", collection,
		"mode", string(mode),
		"cases", len(cases),
		"recall", report.AvgRecallAtK[topK],
		"mrr", report.MRR,
	)
	return report, nil
}

// CompareModes runs the same cases once per retrieval mode.
func (e *Evaluator) CompareModes(ctx context.Context, cases []domain.TestCase, courseID, collection string, topK int, scoreThreshold float64, modes []domain.RetrievalMode) ([]*domain.TestReport, error) {
	reports := make([]*domain.TestReport, 0, len(modes))
	for _, mode := range modes {
		report, err := e.RunTest(ctx, cases, courseID, collection, topK, scoreThreshold, mode)
		if err != nil {
			return reports, fmt.Errorf("mode %s: %w", mode, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// RecallAtK is the share of relevant IDs found in the first k retrieved.
// With nothing relevant every retrieval is a perfect recall.
func RecallAtK(retrieved, relevant []string, k int) float64 {
	if len(relevant) == 0 {
		return 1
	}
	return float64(hits(retrieved, relevant, k)) / float64(len(relevant))
}

// PrecisionAtK is the share of the first k positions holding a relevant ID.
// Missing positions count as misses.
func PrecisionAtK(retrieved, relevant []string, k int) float64 {
	if k <= 0 {
		return 0
	}
	return float64(hits(retrieved, relevant, k)) / float64(k)
}

// ReciprocalRank is 1/rank of the first relevant ID, or 0.
func ReciprocalRank(retrieved, relevant []string) float64 {
	set := toSet(relevant)
	for i, id := range retrieved {
		if set[id] {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

func hits(retrieved, relevant []string, k int) int {
	if k > len(retrieved) {
		k = len(retrieved)
	}
	set := toSet(relevant)
	n := 0
	for _, id := range retrieved[:k] {
		if set[id] {
			n++
			delete(set, id)
		}
	}
	return n
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// LoadTestCases reads labeled queries from a YAML or JSON file holding
// either a list of cases or an object with a "cases" list.
func LoadTestCases(path string) ([]domain.TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test cases: %w", err)
	}

	var cases []domain.TestCase
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) || bytes.HasPrefix(trimmed, []byte("-")) {
		if err := yaml.Unmarshal(data, &cases); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		var file struct {
			Cases []domain.TestCase `yaml:"cases"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cases = file.Cases
	}

	for i, tc := range cases {
		if tc.Query == "" {
			return nil, fmt.Errorf("parse %s: case %d has no query", path, i)
		}
	}
	return cases, nil
}
