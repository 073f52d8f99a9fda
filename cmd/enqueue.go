package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/queue"
	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

var (
	enqueueProject   string
	enqueueRepo      string
	enqueueCommit    string
	enqueueBranch    string
	enqueuePath      string
	enqueueTargetURL string
	enqueueChanged   []string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a scan job for a repository",
	Long: `Publishes a scan job to the broker and prints its reference id.
Track progress with 'secpipe status <reference>'.

Examples:
  secpipe enqueue --project acme/shop --repo https://github.com/acme/shop.git
  secpipe enqueue --project acme/shop --path /srv/checkouts/shop --changed app.py,models/user.py`,
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueProject, "project", "", "Project name, owner/repo (required)")
	enqueueCmd.Flags().StringVar(&enqueueRepo, "repo", "", "Repository URL to clone")
	enqueueCmd.Flags().StringVar(&enqueueCommit, "commit", "", "Commit SHA to scan (default: latest)")
	enqueueCmd.Flags().StringVar(&enqueueBranch, "branch", "", "Branch being scanned")
	enqueueCmd.Flags().StringVar(&enqueuePath, "path", "", "Pre-staged local source path, skips cloning")
	enqueueCmd.Flags().StringVar(&enqueueTargetURL, "target-url", "", "Running instance URL for DAST")
	enqueueCmd.Flags().StringSliceVar(&enqueueChanged, "changed", nil, "Changed files for a delta scan")
	_ = enqueueCmd.MarkFlagRequired("project")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if enqueueRepo == "" && enqueuePath == "" {
		return fmt.Errorf("either --repo or --path is required")
	}

	broker, err := queue.Connect(cfg.Queue)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer broker.Close()

	reference := uuid.NewString()
	env, err := queue.NewEnvelope(queue.TaskScan, queue.ScanJob{
		Project: enqueueProject,
		Path:    enqueuePath,
		Metadata: models.ScanMetadata{
			CommitSHA:    enqueueCommit,
			Branch:       enqueueBranch,
			RepoURL:      enqueueRepo,
			TargetURL:    enqueueTargetURL,
			ChangedFiles: enqueueChanged,
			ReferenceID:  reference,
		},
	})
	if err != nil {
		return err
	}

	if err := broker.Publish(ctx, env); err != nil {
		return err
	}

	fmt.Printf("Scan queued for %s\n", enqueueProject)
	fmt.Printf("Reference: %s\n", reference)
	fmt.Printf("Track it:  secpipe status %s\n", reference)
	return nil
}
