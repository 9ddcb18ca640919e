package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	syncMap map[string]string
	syncAll bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Promote draft chapters into the online collection",
	Long: `Copy the embedded chunks of draft chapters into the course's online
collection. Each mapping pairs a draft chapter ref with the stable chapter ID
it is published under. Promotion is idempotent and safe to re-run after a
failure.

Examples:
  coursekb sync --course python --map ch01.md=variables --map ch02.md=lists
  coursekb sync --course python --all`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringToStringVar(&syncMap, "map", nil, "chapterRef=targetID, repeatable")
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "promote every indexed chapter under its own ref")
}

func runSync(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	if syncAll == (len(syncMap) > 0) {
		return fmt.Errorf("exactly one of --map or --all is required")
	}

	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	mapping := syncMap
	if syncAll {
		mapping, err = svc.Sync.IdentityMapping(ctx, courseID)
		if err != nil {
			return fmt.Errorf("failed to list indexed chapters: %w", err)
		}
		if len(mapping) == 0 {
			fmt.Println("No indexed chapters to promote.")
			return nil
		}
	}

	result, err := svc.Sync.SyncAll(ctx, courseID, mapping)
	for _, r := range result.Results {
		fmt.Printf("  %s -> %s: %d chunks", r.ChapterRef, r.TargetID, r.ChunkCount)
		if r.RemovedLegacyCount > 0 {
			fmt.Printf(", %d removed", r.RemovedLegacyCount)
		}
		if r.Skipped > 0 {
			fmt.Printf(", %d without embedding", r.Skipped)
		}
		if r.SkippedLegacy > 0 {
			fmt.Printf(", %d of an older strategy", r.SkippedLegacy)
		}
		fmt.Println()
	}

	fmt.Printf("\nSync complete:\n")
	fmt.Printf("  Chapters promoted: %d/%d\n", result.Synced, result.Chapters)
	fmt.Printf("  Chapters failed:   %d\n", result.Failed)
	fmt.Printf("  Chunks written:    %d\n", result.ChunkCount)
	fmt.Printf("  Chunks removed:    %d\n", result.RemovedLegacyCount)
	return err
}
