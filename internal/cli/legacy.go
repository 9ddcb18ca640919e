package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var (
	legacyOnline bool
	legacyDelete bool
)

var legacyCmd = &cobra.Command{
	Use:   "legacy",
	Short: "Report or delete chunks of older chunking strategies",
	Long: `List chunks whose strategy_version differs from the configured one, per
chapter. With --delete they are removed.

Examples:
  coursekb legacy --course python
  coursekb legacy --course python --online --delete`,
	RunE: runLegacy,
}

func init() {
	rootCmd.AddCommand(legacyCmd)
	legacyCmd.Flags().BoolVar(&legacyOnline, "online", false, "inspect the online collection")
	legacyCmd.Flags().BoolVar(&legacyDelete, "delete", false, "delete the legacy chunks")
}

func runLegacy(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	report, err := svc.LegacyReport(ctx, courseID, legacyOnline)
	if err != nil {
		return fmt.Errorf("failed to find legacy chunks: %w", err)
	}
	if len(report) == 0 {
		fmt.Println("No legacy chunks.")
		return nil
	}

	refs := make([]string, 0, len(report))
	for ref := range report {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	total := 0
	for _, ref := range refs {
		fmt.Printf("  %s: %d chunks\n", ref, len(report[ref]))
		total += len(report[ref])
	}
	fmt.Printf("\n%d legacy chunks in %s\n", total, svc.Collection(courseID, legacyOnline).Name())

	if !legacyDelete {
		return nil
	}
	n, err := svc.DeleteLegacy(ctx, courseID, legacyOnline)
	if err != nil {
		return fmt.Errorf("failed to delete legacy chunks: %w", err)
	}
	fmt.Printf("Deleted %d chunks.\n", n)
	return nil
}
