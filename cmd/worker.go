package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queue worker daemon",
	Long: `Consumes scan and triage jobs from the broker and runs them to
completion. One job is processed at a time; failed jobs are dropped
rather than retried, so a crashed scan never opens duplicate pull
requests.

A background schedule refreshes cached exploit-prediction scores daily.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	broker, err := queue.Connect(rt.cfg.Queue)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer broker.Close()

	// Exploit-prediction scores go stale; refresh the cached set nightly.
	schedule := cron.New()
	if _, err := schedule.AddFunc("0 3 * * *", func() { refreshEPSS(ctx, rt) }); err != nil {
		return fmt.Errorf("scheduling EPSS refresh: %w", err)
	}
	schedule.Start()
	defer schedule.Stop()

	handlers := map[string]queue.Handler{
		queue.TaskScan: func(ctx context.Context, env *queue.Envelope) error {
			var job queue.ScanJob
			if err := env.Decode(&job); err != nil {
				return err
			}
			return rt.coord.HandleScanJob(ctx, job)
		},
		queue.TaskTriage: func(ctx context.Context, env *queue.Envelope) error {
			var job queue.TriageJob
			if err := env.Decode(&job); err != nil {
				return err
			}
			return rt.coord.HandleTriageJob(ctx, job)
		},
	}

	slog.Info("Worker starting", "queue", queue.JobQueue)
	err = broker.Consume(ctx, handlers)
	if errors.Is(err, context.Canceled) {
		slog.Info("Worker shutting down")
		return nil
	}
	return err
}

func refreshEPSS(ctx context.Context, rt *runtime) {
	cves, err := rt.store.ListTrackedCVEs(ctx)
	if err != nil {
		slog.Warn("EPSS refresh skipped", "error", err)
		return
	}
	if len(cves) == 0 {
		return
	}
	synced := rt.epss.Sync(ctx, cves)
	slog.Info("Scheduled EPSS refresh done", "tracked", len(cves), "synced", synced)
}
