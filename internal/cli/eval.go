package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"coursekb/internal/domain"
	"coursekb/internal/usecase"
)

var (
	evalCases     string
	evalOnline    bool
	evalMode      string
	evalTopK      int
	evalThreshold float64
	evalCompare   bool
	evalJSON      bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Measure recall, precision and MRR over labeled queries",
	Long: `Run every labeled query of a test case file against a course collection
and report recall@k, precision@k and MRR. Test case files are YAML or JSON
lists of {query, relevant_ids}.

Examples:
  coursekb eval --course python --cases cases.yaml
  coursekb eval --course python --cases cases.yaml --compare --top-k 10`,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVar(&evalCases, "cases", "", "test case file (required)")
	evalCmd.Flags().BoolVar(&evalOnline, "online", false, "evaluate the online collection")
	evalCmd.Flags().StringVar(&evalMode, "mode", "", "retrieval mode (default from config)")
	evalCmd.Flags().IntVarP(&evalTopK, "top-k", "k", 0, "largest k to report (default from config)")
	evalCmd.Flags().Float64Var(&evalThreshold, "threshold", 0, "minimum score")
	evalCmd.Flags().BoolVar(&evalCompare, "compare", false, "evaluate every retrieval mode")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output as JSON")
	evalCmd.MarkFlagRequired("cases")
}

func runEval(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	cfg := GetConfig()

	cases, err := usecase.LoadTestCases(evalCases)
	if err != nil {
		return err
	}

	modes := []domain.RetrievalMode{domain.ModeVector, domain.ModeHybrid, domain.ModeVectorRerank}
	if !evalCompare {
		mode, err := parseModeFlag(evalMode)
		if err != nil {
			return err
		}
		if mode == "" {
			mode = domain.RetrievalMode(cfg.Retrieve.Mode)
		}
		modes = []domain.RetrievalMode{mode}
	}
	topK := cfg.Retrieve.TopK
	if evalTopK > 0 {
		topK = evalTopK
	}

	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	collection := svc.Collection(courseID, evalOnline).Name()
	reports, err := svc.Eval.CompareModes(ctx, cases, courseID, collection, topK, evalThreshold, modes)
	if err != nil {
		return err
	}

	if evalJSON {
		output, _ := json.MarshalIndent(reports, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	fmt.Printf("Evaluated %d queries against %s\n\n", len(cases), collection)
	return printReports(reports, topK)
}

func printReports(reports []*domain.TestReport, topK int) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "MODE")
	for k := 1; k <= topK; k++ {
		fmt.Fprintf(w, "\tR@%d", k)
	}
	fmt.Fprintf(w, "\tP@%d\tMRR\n", topK)

	for _, r := range reports {
		fmt.Fprint(w, r.Mode)
		for k := 1; k <= topK; k++ {
			fmt.Fprintf(w, "\t%.3f", r.AvgRecallAtK[k])
		}
		fmt.Fprintf(w, "\t%.3f\t%.3f\n", r.AvgPrecisionAtK[topK], r.MRR)
	}
	return w.Flush()
}
