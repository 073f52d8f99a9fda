package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/analyzer"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/database"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/detect"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/epss"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/progress"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/queue"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/report"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/sandbox"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/workflow"
	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

// Coordinator is the end-to-end scan job handler: it owns the scan row
// lifecycle, the working copy, analyzer execution, normalization, and
// handing findings to the workflow engine.
type Coordinator struct {
	cfg     *config.Config
	store   *database.Store
	tracker *progress.Tracker
	driver  *analyzer.Driver
	engine  *workflow.Engine
	sandbox *sandbox.Client
	epss    *epss.Client
}

// NewCoordinator wires the scan pipeline.
func NewCoordinator(cfg *config.Config, store *database.Store, tracker *progress.Tracker,
	driver *analyzer.Driver, engine *workflow.Engine, sb *sandbox.Client, epssClient *epss.Client) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		store:   store,
		tracker: tracker,
		driver:  driver,
		engine:  engine,
		sandbox: sb,
		epss:    epssClient,
	}
}

// HandleScanJob runs one scan end to end. Only a failure to create the
// scan row is returned as fatal; later failures mark the scan failed
// and are reported through the scan record and progress channel.
func (c *Coordinator) HandleScanJob(ctx context.Context, job queue.ScanJob) error {
	meta := job.Metadata
	scan, err := c.store.CreateScan(ctx, job.Project, meta)
	if err != nil {
		return fmt.Errorf("creating scan row: %w", err)
	}
	ref := scan.ReferenceID
	log := slog.With("scan", scan.ID, "project", job.Project)
	log.Info("Scan started", "commit", meta.CommitSHA, "branch", meta.Branch)
	c.tracker.Stage(ctx, ref, "starting")

	if meta.ChangedFiles != nil {
		c.recordMetrics(ctx, scan.ID, len(meta.ChangedFiles))
	}

	// Working copy: reuse the pre-staged path when usable, else clone.
	sourcePath := job.Path
	var cloneDir string
	if meta.RepoURL != "" && !usableDir(sourcePath) {
		cloneDir = filepath.Join(c.cfg.Scan.WorkDir, ref+"_clone")
		c.tracker.Stage(ctx, ref, "cloning")
		if err := cloneRepo(ctx, c.cfg.Git, meta.RepoURL, meta.CommitSHA, cloneDir); err != nil {
			return c.fail(ctx, scan, cloneDir, nil, err)
		}
		sourcePath = cloneDir
	}

	defer c.cleanup(cloneDir, nil)

	// Delta detection from the last commit when the caller gave us
	// nothing to go on.
	changed := meta.ChangedFiles
	if len(changed) == 0 {
		if files := changedFiles(sourcePath); len(files) > 0 {
			log.Info("Delta detected from last commit", "files", len(files))
			changed = files
		}
	}

	// Stack detection decides whether a DAST target is worth deploying.
	c.tracker.Stage(ctx, ref, "detecting_stack")
	stack := detect.Stack(sourcePath)
	targetURL := meta.TargetURL
	if targetURL == "" && stack.Type == "web" {
		if deployed, err := c.sandbox.Deploy(ctx, sourcePath, stack); err != nil {
			log.Warn("Target deploy failed, skipping DAST", "error", err)
		} else if deployed.Success {
			targetURL = deployed.URL
			log.Info("Ephemeral target deployed", "url", targetURL)
		}
	}

	// The AI services load models lazily; nothing downstream works
	// until they are up.
	c.tracker.Stage(ctx, ref, "waiting_services")
	services := sandbox.ServicesFromConfig(c.cfg.Services)
	timeout := time.Duration(c.cfg.Services.ReadinessTimeoutSec) * time.Second
	if !sandbox.WaitReady(ctx, services, timeout) {
		return c.fail(ctx, scan, cloneDir, nil, fmt.Errorf("AI services not ready within %s", timeout))
	}

	c.tracker.Stage(ctx, ref, "scanning")
	ws, err := analyzer.PrepareWorkspace(c.cfg.Scan.WorkDir, sourcePath, changed)
	if err != nil {
		return c.fail(ctx, scan, cloneDir, nil, err)
	}
	defer ws.Remove()

	reports := c.driver.Run(ctx, analyzer.Request{
		Workspace:    ws,
		Project:      job.Project,
		TargetURL:    targetURL,
		ChangedFiles: changed,
	})

	c.tracker.Stage(ctx, ref, "parsing_reports")
	var normalized []models.NormalizedFinding
	for _, path := range reports {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("Unreadable report", "path", path, "error", err)
			continue
		}
		normalized = append(normalized, report.Extract(data, filepath.Base(path))...)
	}
	report.PopulateSnippets(normalized, sourcePath)
	log.Info("Reports normalized", "reports", len(reports), "findings", len(normalized))

	if err := c.store.UpdateScanStatus(ctx, scan.ID, models.ScanStatusAnalyzing); err != nil {
		log.Warn("Status update failed", "error", err)
	}
	c.tracker.Stage(ctx, ref, "analyzing")

	findings, err := c.store.InsertFindings(ctx, scan.ID, normalized)
	if err != nil {
		return c.fail(ctx, scan, cloneDir, ws, err)
	}

	c.scoreFindings(ctx, findings)
	c.engine.Run(ctx, scan, findings, sourcePath)

	if ctx.Err() != nil {
		return c.fail(ctx, scan, cloneDir, ws, ctx.Err())
	}

	if err := c.store.UpdateScanStatus(ctx, scan.ID, models.ScanStatusCompleted); err != nil {
		log.Warn("Status update failed", "error", err)
	}
	c.tracker.Complete(ctx, ref)
	log.Info("Scan completed", "findings", len(findings))
	return nil
}

// HandleTriageJob reruns the workflow over already-persisted findings.
func (c *Coordinator) HandleTriageJob(ctx context.Context, job queue.TriageJob) error {
	scan, err := c.store.GetScan(ctx, job.ScanID)
	if err != nil {
		return fmt.Errorf("loading scan %d: %w", job.ScanID, err)
	}

	slog.Info("Triage job started", "scan", scan.ID, "findings", len(job.Findings))
	if err := c.store.UpdateScanStatus(ctx, scan.ID, models.ScanStatusAnalyzing); err != nil {
		slog.Warn("Status update failed", "scan", scan.ID, "error", err)
	}
	c.tracker.Stage(ctx, scan.ReferenceID, "analyzing")

	c.scoreFindings(ctx, job.Findings)
	c.engine.Run(ctx, scan, job.Findings, job.LocalSourcePath)

	if ctx.Err() != nil {
		return c.fail(ctx, scan, "", nil, ctx.Err())
	}
	if err := c.store.UpdateScanStatus(ctx, scan.ID, models.ScanStatusCompleted); err != nil {
		slog.Warn("Status update failed", "scan", scan.ID, "error", err)
	}
	c.tracker.Complete(ctx, scan.ReferenceID)
	return nil
}

// scoreFindings syncs exploit-prediction scores for CVE findings and
// stamps risk and severity from them.
func (c *Coordinator) scoreFindings(ctx context.Context, findings []models.Finding) {
	cveIDs := epss.CVEIDs(findings)
	if len(cveIDs) == 0 {
		return
	}
	slog.Info("Syncing exploitability scores", "cves", len(cveIDs))
	c.epss.Sync(ctx, cveIDs)

	for i := range findings {
		f := &findings[i]
		score, err := c.store.GetEPSS(ctx, f.RuleID)
		if err != nil {
			continue
		}
		f.RiskScore = score.Probability * 10
		f.Severity = string(models.SeverityFromRisk(f.RiskScore))
		if err := c.store.UpdateFinding(ctx, f.ID, map[string]interface{}{
			"risk_score": f.RiskScore,
			"severity":   f.Severity,
		}); err != nil {
			slog.Warn("Risk stamp failed", "finding", f.ID, "error", err)
		}
	}
}

func (c *Coordinator) recordMetrics(ctx context.Context, scanID int64, numChanged int) {
	err := c.store.RecordPipelineMetric(ctx, models.PipelineMetric{
		ScanID:          scanID,
		NumChangedFiles: numChanged,
	})
	if err != nil {
		slog.Warn("Metric record failed", "scan", scanID, "error", err)
	}
}

// fail marks the scan failed, publishes the reason and cleans up.
func (c *Coordinator) fail(ctx context.Context, scan *models.Scan, cloneDir string, ws *analyzer.Workspace, cause error) error {
	slog.Error("Scan failed", "scan", scan.ID, "error", cause)
	// Status writes race the cancellation that caused the failure;
	// detach so the terminal state still lands.
	writeCtx := context.WithoutCancel(ctx)
	if err := c.store.UpdateScanStatus(writeCtx, scan.ID, models.ScanStatusFailed); err != nil {
		slog.Warn("Failed-status update failed", "scan", scan.ID, "error", err)
	}
	c.tracker.Fail(writeCtx, scan.ReferenceID, cause.Error())
	c.cleanup(cloneDir, ws)
	return cause
}

func (c *Coordinator) cleanup(cloneDir string, ws *analyzer.Workspace) {
	if ws != nil {
		ws.Remove()
	}
	if cloneDir != "" {
		if err := os.RemoveAll(cloneDir); err != nil {
			slog.Warn("Clone cleanup failed", "path", cloneDir, "error", err)
		}
	}
}

// usableDir reports whether path exists and has any content.
func usableDir(path string) bool {
	if path == "" {
		return false
	}
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}
