package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"coursekb/config"
	"coursekb/internal/domain"
	"coursekb/internal/port"
)

var (
	queryText      string
	queryTopK      int
	queryJSON      bool
	queryOnline    bool
	queryMode      string
	queryExpand    bool
	queryThreshold float64
	queryFilters   map[string]string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search a course's draft or online collection",
	Long: `Search for relevant chunks of a course. The draft collection is searched
unless --online is given.

Examples:
  coursekb query -q "list comprehension" --course python
  coursekb query -q "装饰器" --course python --online --mode hybrid --expand
  coursekb query -q "loops" --course python --filter chapter_ref=ch03.md --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryOnline, "online", false, "search the online collection")
	queryCmd.Flags().StringVar(&queryMode, "mode", "", "retrieval mode: vector, hybrid, vector_rerank (default from config)")
	queryCmd.Flags().BoolVar(&queryExpand, "expand", false, "expand the query with synonyms")
	queryCmd.Flags().Float64Var(&queryThreshold, "threshold", -1, "minimum score (default from config)")
	queryCmd.Flags().StringToStringVar(&queryFilters, "filter", nil, "metadata filter key=value, repeatable")
	queryCmd.MarkFlagRequired("query")
}

type queryResult struct {
	ID          string  `json:"id"`
	ChapterRef  string  `json:"chapter_ref"`
	Position    int     `json:"position"`
	ContentType string  `json:"content_type"`
	Score       float64 `json:"score"`
	Text        string  `json:"text"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	cfg := GetConfig()

	mode, err := parseModeFlag(queryMode)
	if err != nil {
		return err
	}
	threshold := cfg.Retrieve.ScoreThreshold
	if queryThreshold >= 0 {
		threshold = queryThreshold
	}

	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	col := svc.Collection(courseID, queryOnline)
	chunks, err := svc.Retrieve.Retrieve(ctx, port.RetrieveRequest{
		Query:          queryText,
		CourseID:       courseID,
		Collection:     col.Name(),
		TopK:           queryTopK,
		Filters:        domain.Filters(queryFilters),
		ScoreThreshold: threshold,
		Mode:           mode,
		ExpandQuery:    queryExpand || cfg.Retrieve.QueryExpansion,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	results := make([]queryResult, len(chunks))
	for i, c := range chunks {
		results[i] = queryResult{
			ID:          c.Chunk.ID,
			ChapterRef:  c.Chunk.Metadata.ChapterRef,
			Position:    c.Chunk.Metadata.Position,
			ContentType: string(c.Chunk.Metadata.ContentType),
			Score:       c.Score,
			Text:        c.Chunk.Text,
		}
	}

	if queryJSON {
		output, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results in %s for: %s\n\n", len(results), col.Name(), queryText)
	for i, r := range results {
		fmt.Printf("--- [%d] %s #%d %s (score: %.3f) ---\n", i+1, r.ChapterRef, r.Position, r.ContentType, r.Score)
		// Truncate long text for display
		text := r.Text
		if len([]rune(text)) > 500 {
			text = string([]rune(text)[:500]) + "..."
		}
		fmt.Println(strings.TrimSpace(text))
		fmt.Println()
	}
	return nil
}

// parseModeFlag leaves the mode empty when the flag was not set so the
// configured default applies.
func parseModeFlag(flag string) (domain.RetrievalMode, error) {
	if flag == "" {
		return "", nil
	}
	return config.ParseMode(flag)
}
