package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/database"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/progress"
	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

var statusCmd = &cobra.Command{
	Use:   "status <reference>",
	Short: "Check scan progress and results",
	Long: `Shows the live progress of a scan by its reference id, and the
triage results once the scan has reached a terminal state.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	reference := args[0]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tracker := progress.New(cfg.Redis)
	defer tracker.Close()

	state, err := tracker.Read(ctx, reference)
	if err == nil && len(state) > 0 {
		fmt.Printf("Status: %s", state["status"])
		if state["stage"] != "" {
			fmt.Printf(" (%s)", state["stage"])
		}
		fmt.Println()
		if state["message"] != "" {
			fmt.Printf("Step:   %s [%s/%s]\n", state["message"], state["step_number"], state["total_steps"])
		}
		if state["error"] != "" {
			fmt.Printf("Error:  %s\n", state["error"])
		}
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	store := database.NewStore(db)

	scan, err := store.GetScanByReference(ctx, reference)
	if err != nil {
		return err
	}
	fmt.Printf("Scan:   #%d %s @ %s [%s]\n", scan.ID, scan.ProjectName, scan.CommitSHA, scan.Status)

	if !models.TerminalStatus(scan.Status) {
		return nil
	}

	findings, err := store.ListFindings(ctx, scan.ID)
	if err != nil {
		return err
	}
	printFindingSummary(findings)
	return nil
}
