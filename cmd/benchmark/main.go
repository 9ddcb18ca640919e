package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"coursekb/config"
	"coursekb/internal/adapter/store"
	"coursekb/internal/domain"
	"coursekb/internal/usecase"
	"coursekb/pkg/logger"
)

func main() {
	dir := flag.String("dir", ".", "Workspace directory holding the index")
	course := flag.String("course", "", "Course ID")
	casesPath := flag.String("cases", "", "Test case file (YAML or JSON)")
	topK := flag.Int("k", 5, "Largest k to report")
	online := flag.Bool("online", false, "Benchmark the online collection")
	flag.Parse()

	if *course == "" || *casesPath == "" {
		fmt.Println("Usage: go run cmd/benchmark/main.go -dir . -course python -cases cases.yaml")
		fmt.Println("\nCompares retrieval modes on the same labeled queries:")
		fmt.Println("  1. vector         (embedding similarity)")
		fmt.Println("  2. hybrid         (vector + keyword fusion)")
		fmt.Println("  3. vector_rerank  (vector candidates reordered by the reranker)")
		os.Exit(1)
	}
	_ = godotenv.Load()

	cfg, err := config.LoadFromDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger.Init("warn", cfg.Logging.Format)

	cases, err := usecase.LoadTestCases(*casesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading test cases: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	svc, err := usecase.NewService(ctx, cfg, *dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	collection := store.DraftCollection(*course)
	if *online {
		collection = store.OnlineCollection(*course)
	}
	size, _ := svc.Collection(*course, *online).Size(ctx)
	if size == 0 {
		fmt.Fprintf(os.Stderr, "Collection %s is empty - run 'coursekb index' first\n", collection)
		os.Exit(1)
	}

	fmt.Println("RETRIEVAL MODE BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Collection: %s (%d chunks)\n", collection, size)
	fmt.Printf("Model: %s (%s)\n", svc.Embedder().ModelName(), cfg.Embedding.Provider)
	if r := svc.Reranker(); r != nil {
		fmt.Printf("Reranker: %s\n", r.ModelName())
	} else {
		fmt.Println("Reranker: none (vector_rerank falls back to vector)")
	}
	fmt.Printf("Queries: %d\n\n", len(cases))

	modes := []domain.RetrievalMode{domain.ModeVector, domain.ModeHybrid, domain.ModeVectorRerank}
	reports, err := svc.Eval.CompareModes(ctx, cases, *course, collection, *topK, 0, modes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Benchmark error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%-15s %8s %8s %8s %8s\n", "MODE", "R@1", fmt.Sprintf("R@%d", *topK), fmt.Sprintf("P@%d", *topK), "MRR")
	fmt.Println(strings.Repeat("-", 70))
	best := reports[0]
	for _, r := range reports {
		fmt.Printf("%-15s %8.3f %8.3f %8.3f %8.3f\n", r.Mode, r.AvgRecallAtK[1], r.AvgRecallAtK[*topK], r.AvgPrecisionAtK[*topK], r.MRR)
		if r.MRR > best.MRR {
			best = r
		}
	}

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Best mode:      %s\n", best.Mode)
	fmt.Printf("  Best MRR:       %.3f\n", best.MRR)
	fmt.Printf("  Recall@%d:      %.3f\n", *topK, best.AvgRecallAtK[*topK])

	recall := best.AvgRecallAtK[*topK]
	if recall > 0.8 {
		fmt.Println("  Status: GOOD - ready to promote")
	} else if recall > 0.5 {
		fmt.Println("  Status: OK - relevant chunks are mostly found")
	} else {
		fmt.Println("  Status: POOR - check chunking settings or re-index")
	}
}
