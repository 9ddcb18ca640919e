package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the index status of every chapter of a course",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	statuses, err := svc.ChapterStatus(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}

	if statusJSON {
		output, _ := json.MarshalIndent(statuses, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	if len(statuses) == 0 {
		fmt.Printf("Course %s has no indexed chapters.\n", courseID)
		return nil
	}

	draft, _ := svc.Collection(courseID, false).Size(ctx)
	online, _ := svc.Collection(courseID, true).Size(ctx)
	fmt.Printf("Course %s: %d draft chunks, %d online chunks\n\n", courseID, draft, online)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAPTER\tSTATUS\tCHUNKS\tINDEXED\tERROR")
	for _, st := range statuses {
		indexed := "-"
		if st.IndexedAt != nil {
			indexed = st.IndexedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", st.ChapterRef, st.Status, st.ChunkCount, indexed, st.Error)
	}
	return w.Flush()
}
