package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/queue"
	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

var (
	scanProject   string
	scanRepo      string
	scanCommit    string
	scanBranch    string
	scanPath      string
	scanTargetURL string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a scan in-process, without the broker",
	Long: `Runs the full scan pipeline immediately in this process: clone,
analyze, triage, remediate, publish. Useful for local runs and CI jobs
that do not share a worker fleet.

Examples:
  secpipe scan --project acme/shop --repo https://github.com/acme/shop.git
  secpipe scan --project acme/shop --path ./checkout --branch develop`,
	RunE: runLocalScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanProject, "project", "", "Project name, owner/repo (required)")
	scanCmd.Flags().StringVar(&scanRepo, "repo", "", "Repository URL to clone")
	scanCmd.Flags().StringVar(&scanCommit, "commit", "", "Commit SHA to scan (default: latest)")
	scanCmd.Flags().StringVar(&scanBranch, "branch", "", "Branch being scanned")
	scanCmd.Flags().StringVar(&scanPath, "path", "", "Pre-staged local source path, skips cloning")
	scanCmd.Flags().StringVar(&scanTargetURL, "target-url", "", "Running instance URL for DAST")
	_ = scanCmd.MarkFlagRequired("project")
}

func runLocalScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if scanRepo == "" && scanPath == "" {
		return fmt.Errorf("either --repo or --path is required")
	}

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	reference := uuid.NewString()
	fmt.Printf("Scanning %s (reference %s)\n", scanProject, reference)

	err = rt.coord.HandleScanJob(ctx, queue.ScanJob{
		Project: scanProject,
		Path:    scanPath,
		Metadata: models.ScanMetadata{
			CommitSHA:   scanCommit,
			Branch:      scanBranch,
			RepoURL:     scanRepo,
			TargetURL:   scanTargetURL,
			ReferenceID: reference,
		},
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	scan, err := rt.store.GetScanByReference(ctx, reference)
	if err != nil {
		return err
	}
	findings, err := rt.store.ListFindings(ctx, scan.ID)
	if err != nil {
		return err
	}

	printFindingSummary(findings)
	return nil
}

func printFindingSummary(findings []models.Finding) {
	fmt.Printf("\n=== Scan Results ===\n")
	fmt.Printf("Findings: %d\n\n", len(findings))

	for _, f := range findings {
		status := f.TriageDecision
		if status == "" {
			status = "untriaged"
		}
		fmt.Printf("[%s] %s %s:%d — %s\n", status, f.Tool, f.File, f.Line, f.RuleID)
		if f.PRURL != "" {
			fmt.Printf("        fix: %s\n", f.PRURL)
		}
	}
}
