package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"coursekb/internal/usecase"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index <course-dir>",
	Short: "Index the chapters of a course into its draft collection",
	Long: `Chunk, filter and embed every chapter under the course directory and
write the chunks to the course's draft collection. Unchanged chapters are
skipped unless --force is given. Only one index run per course may be active.

Examples:
  coursekb index ./python --course python
  coursekb index ./python --course python --force`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "re-index chapters even when unchanged")
}

func runIndex(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Printf("Scanning %s...\n", path)

	bar := newProgressBar(-1, "[cyan]Indexing[reset]")
	startTime := time.Now()
	var failures []string

	result, err := svc.Index.IndexCourse(ctx, courseID, path, indexForce, func(res usecase.ChapterResult, err error) {
		bar.Add(1)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", res.ChapterRef, err))
		}
		elapsed := time.Since(startTime)
		bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] %s (%s)", res.ChapterRef, formatDuration(elapsed)))
	})
	bar.Finish()
	if err != nil && result.Chapters == 0 {
		return err
	}

	fmt.Printf("\nIndexing complete:\n")
	fmt.Printf("  Chapters found:    %d\n", result.Chapters)
	fmt.Printf("  Chapters indexed:  %d\n", result.Indexed)
	fmt.Printf("  Chapters skipped:  %d (unchanged)\n", result.Skipped)
	fmt.Printf("  Chapters failed:   %d\n", result.Failed)
	fmt.Printf("  Chapters removed:  %d\n", len(result.RemovedChapters))
	fmt.Printf("  Chunks written:    %d\n", result.Chunks)
	fmt.Printf("  Chunks filtered:   %d\n", result.Filtered)
	if result.LegacyRemoved > 0 {
		fmt.Printf("  Legacy removed:    %d\n", result.LegacyRemoved)
	}

	if len(failures) > 0 {
		fmt.Printf("\nFailures:\n")
		for _, f := range failures {
			fmt.Printf("  - %s\n", f)
		}
	}

	fmt.Printf("\nCollection: %s (job %s)\n", result.Collection, result.JobID)
	return err
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
