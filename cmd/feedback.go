package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	feedbackVerdict  string
	feedbackComments string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <finding-id>",
	Short: "Record a human review verdict on a finding",
	Long: `Stores a reviewer's verdict against a finding, used to audit and
tune the AI triage over time.

Example:
  secpipe feedback 42 --verdict FP --comments "test fixture, not reachable"`,
	Args: cobra.ExactArgs(1),
	RunE: runFeedback,
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackVerdict, "verdict", "", "TP or FP (required)")
	feedbackCmd.Flags().StringVar(&feedbackComments, "comments", "", "Free-form review notes")
	_ = feedbackCmd.MarkFlagRequired("verdict")
}

func runFeedback(cmd *cobra.Command, args []string) error {
	findingID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid finding id %q", args[0])
	}
	verdict := strings.ToUpper(feedbackVerdict)
	if verdict != "TP" && verdict != "FP" {
		return fmt.Errorf("verdict must be TP or FP, got %q", feedbackVerdict)
	}

	store, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	fb, err := store.AddFeedback(context.Background(), findingID, verdict, feedbackComments)
	if err != nil {
		return err
	}
	fmt.Printf("Feedback #%d recorded on finding %d (%s)\n", fb.ID, findingID, verdict)
	return nil
}
