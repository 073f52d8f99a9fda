package cmd

import (
	"context"
	"fmt"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/analyzer"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/database"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/epss"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/llm"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/pipeline"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/progress"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/publisher"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/sandbox"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/workflow"
)

// runtime bundles the wired pipeline components a command needs.
type runtime struct {
	cfg     *config.Config
	store   *database.Store
	tracker *progress.Tracker
	coord   *pipeline.Coordinator
	epss    *epss.Client
}

func (r *runtime) Close() {
	r.tracker.Close()
	r.store.DB().Close()
}

// buildRuntime loads config, opens and migrates the database, and wires
// the full scan pipeline.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	store := database.NewStore(db)
	tracker := progress.New(cfg.Redis)

	model, err := llm.New(cfg.LLM)
	if err != nil {
		tracker.Close()
		db.Close()
		return nil, fmt.Errorf("configuring model client: %w", err)
	}

	overrides, err := analyzer.LoadToolOverrides(cfg.Scan.ToolConfig)
	if err != nil {
		tracker.Close()
		db.Close()
		return nil, fmt.Errorf("loading tool overrides: %w", err)
	}

	sb := sandbox.New(cfg.Sandbox)
	driver := analyzer.NewDriver(analyzer.DockerExecutor{}, overrides)
	engine := workflow.NewEngine(store, model, sb, publisher.New(cfg.Git), tracker, cfg.Scan)
	epssClient := epss.New(store, "")

	return &runtime{
		cfg:     cfg,
		store:   store,
		tracker: tracker,
		coord:   pipeline.NewCoordinator(cfg, store, tracker, driver, engine, sb, epssClient),
		epss:    epssClient,
	}, nil
}
