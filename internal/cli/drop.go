package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dropYes bool

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete the draft and online collections of a course",
	RunE:  runDrop,
}

func init() {
	rootCmd.AddCommand(dropCmd)
	dropCmd.Flags().BoolVar(&dropYes, "yes", false, "confirm the deletion")
}

func runDrop(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	if !dropYes {
		return fmt.Errorf("refusing to drop course %s without --yes", courseID)
	}

	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.DeleteIndex(ctx, courseID); err != nil {
		return err
	}
	fmt.Printf("Dropped course %s.\n", courseID)
	return nil
}
