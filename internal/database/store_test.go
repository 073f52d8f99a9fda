package database

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := NewSQLite(config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return NewStore(db)
}

func seedScan(t *testing.T, store *Store) *models.Scan {
	t.Helper()
	scan, err := store.CreateScan(context.Background(), "acme/shop", models.ScanMetadata{
		CommitSHA:   "abc123",
		Branch:      "main",
		RepoURL:     "https://github.com/acme/shop.git",
		ReferenceID: "ref-001",
	})
	if err != nil {
		t.Fatalf("creating scan: %v", err)
	}
	return scan
}

func TestCreateScanStartsInScanningState(t *testing.T) {
	store := newTestStore(t)
	scan := seedScan(t, store)

	if scan.ID == 0 {
		t.Fatal("expected scan id to be stamped")
	}
	if scan.Status != models.ScanStatusScanning {
		t.Errorf("status = %q, want %q", scan.Status, models.ScanStatusScanning)
	}
	if scan.SourcePlatform != "github" {
		t.Errorf("source_platform = %q, want github", scan.SourcePlatform)
	}

	got, err := store.GetScan(context.Background(), scan.ID)
	if err != nil {
		t.Fatalf("fetching scan: %v", err)
	}
	if got.ReferenceID != "ref-001" {
		t.Errorf("reference_id = %q, want ref-001", got.ReferenceID)
	}
}

func TestGetScanByReference(t *testing.T) {
	store := newTestStore(t)
	scan := seedScan(t, store)

	got, err := store.GetScanByReference(context.Background(), "ref-001")
	if err != nil {
		t.Fatalf("fetching scan by reference: %v", err)
	}
	if got.ID != scan.ID {
		t.Errorf("id = %d, want %d", got.ID, scan.ID)
	}

	_, err = store.GetScanByReference(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateScanStatusIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	scan := seedScan(t, store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := store.UpdateScanStatus(ctx, scan.ID, models.ScanStatusCompleted); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	got, err := store.GetScan(ctx, scan.ID)
	if err != nil {
		t.Fatalf("fetching scan: %v", err)
	}
	if got.Status != models.ScanStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

func TestInsertFindingsStampsIDsInOrder(t *testing.T) {
	store := newTestStore(t)
	scan := seedScan(t, store)

	normalized := []models.NormalizedFinding{
		{Tool: "semgrep", RuleID: "go.sqli", File: "app/db.go", Line: 42, Message: "possible sql injection"},
		{Tool: "gitleaks", RuleID: "aws-access-key", File: ".env", Line: 3, Message: "AWS key committed"},
	}

	findings, err := store.InsertFindings(context.Background(), scan.ID, normalized)
	if err != nil {
		t.Fatalf("inserting findings: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("len = %d, want 2", len(findings))
	}
	if findings[0].ID == 0 || findings[1].ID <= findings[0].ID {
		t.Errorf("ids not stamped in order: %d, %d", findings[0].ID, findings[1].ID)
	}
	if findings[0].ScanID != scan.ID {
		t.Errorf("scan_id = %d, want %d", findings[0].ScanID, scan.ID)
	}

	listed, err := store.ListFindings(context.Background(), scan.ID)
	if err != nil {
		t.Fatalf("listing findings: %v", err)
	}
	if len(listed) != 2 || listed[0].RuleID != "go.sqli" {
		t.Errorf("unexpected listing: %+v", listed)
	}
}

func TestUpdateFindingDropsUnknownColumns(t *testing.T) {
	store := newTestStore(t)
	scan := seedScan(t, store)
	ctx := context.Background()

	findings, err := store.InsertFindings(ctx, scan.ID, []models.NormalizedFinding{
		{Tool: "semgrep", RuleID: "go.sqli", File: "app/db.go", Line: 42},
	})
	if err != nil {
		t.Fatalf("inserting finding: %v", err)
	}
	id := findings[0].ID

	err = store.UpdateFinding(ctx, id, map[string]interface{}{
		"ai_verdict":      models.VerdictTP,
		"ai_confidence":   0.92,
		"drop_me":         "ignored",
		"another_unknown": 7,
	})
	if err != nil {
		t.Fatalf("updating finding: %v", err)
	}

	got, err := store.GetFinding(ctx, id)
	if err != nil {
		t.Fatalf("fetching finding: %v", err)
	}
	if got.AIVerdict != models.VerdictTP {
		t.Errorf("ai_verdict = %q, want TP", got.AIVerdict)
	}
	if got.AIConfidence != 0.92 {
		t.Errorf("ai_confidence = %v, want 0.92", got.AIConfidence)
	}

	// All-unknown update is a no-op, not an error.
	if err := store.UpdateFinding(ctx, id, map[string]interface{}{"nope": 1}); err != nil {
		t.Errorf("all-unknown update returned error: %v", err)
	}
}

func TestAppendSandboxLogPreservesEarlierEntries(t *testing.T) {
	store := newTestStore(t)
	scan := seedScan(t, store)
	ctx := context.Background()

	findings, err := store.InsertFindings(ctx, scan.ID, []models.NormalizedFinding{
		{Tool: "semgrep", RuleID: "go.sqli"},
	})
	if err != nil {
		t.Fatalf("inserting finding: %v", err)
	}
	id := findings[0].ID

	if err := store.AppendSandboxLog(ctx, id, "verify_patch", true, "patch applied cleanly"); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := store.AppendSandboxLog(ctx, id, "red_team", false, "exploit blocked"); err != nil {
		t.Fatalf("second append: %v", err)
	}

	got, err := store.GetFinding(ctx, id)
	if err != nil {
		t.Fatalf("fetching finding: %v", err)
	}
	if !strings.Contains(got.SandboxLogs, "--- VERIFY_PATCH (SUCCESS: true) ---") {
		t.Errorf("missing first stage header: %q", got.SandboxLogs)
	}
	if !strings.Contains(got.SandboxLogs, "--- RED_TEAM (SUCCESS: false) ---") {
		t.Errorf("missing second stage header: %q", got.SandboxLogs)
	}
	if !strings.Contains(got.SandboxLogs, "patch applied cleanly") {
		t.Errorf("first entry clobbered: %q", got.SandboxLogs)
	}
}

func TestAddFeedback(t *testing.T) {
	store := newTestStore(t)
	scan := seedScan(t, store)
	ctx := context.Background()

	findings, err := store.InsertFindings(ctx, scan.ID, []models.NormalizedFinding{
		{Tool: "trivy", RuleID: "CVE-2021-44228"},
	})
	if err != nil {
		t.Fatalf("inserting finding: %v", err)
	}

	fb, err := store.AddFeedback(ctx, findings[0].ID, "FP", "dev dependency only")
	if err != nil {
		t.Fatalf("adding feedback: %v", err)
	}
	if fb.ID == 0 {
		t.Error("expected feedback id to be stamped")
	}
}

func TestUpsertEPSSRefreshesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := models.EPSSScore{
		CVEID:       "CVE-2021-44228",
		Probability: 0.5,
		Percentile:  0.90,
		LastUpdated: time.Now().UTC(),
	}
	if err := store.UpsertEPSS(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	first.Probability = 0.97
	if err := store.UpsertEPSS(ctx, first); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.GetEPSS(ctx, "CVE-2021-44228")
	if err != nil {
		t.Fatalf("fetching epss: %v", err)
	}
	if got.Probability != 0.97 {
		t.Errorf("probability = %v, want 0.97", got.Probability)
	}

	cves, err := store.ListTrackedCVEs(ctx)
	if err != nil {
		t.Fatalf("listing tracked CVEs: %v", err)
	}
	if len(cves) != 1 || cves[0] != "CVE-2021-44228" {
		t.Errorf("tracked CVEs = %v", cves)
	}
}

func TestRecordPipelineMetricKeepsSingleRecord(t *testing.T) {
	store := newTestStore(t)
	scan := seedScan(t, store)
	ctx := context.Background()

	for _, dur := range []float64{10, 25} {
		err := store.RecordPipelineMetric(ctx, models.PipelineMetric{
			ScanID:           scan.ID,
			BuildDurationSec: dur,
			NumChangedFiles:  3,
		})
		if err != nil {
			t.Fatalf("recording metric: %v", err)
		}
	}

	var count int
	err := store.DB().Get(ctx, &count, `SELECT COUNT(*) FROM pipeline_metrics WHERE scan_id = ?`, scan.ID)
	if err != nil {
		t.Fatalf("counting metrics: %v", err)
	}
	if count != 1 {
		t.Errorf("metric rows = %d, want 1", count)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	store := newTestStore(t)
	scan := seedScan(t, store)
	ctx := context.Background()

	findings, err := store.InsertFindings(ctx, scan.ID, []models.NormalizedFinding{
		{Tool: "semgrep", RuleID: "go.sqli"},
	})
	if err != nil {
		t.Fatalf("inserting finding: %v", err)
	}
	if _, err := store.AddFeedback(ctx, findings[0].ID, "TP", ""); err != nil {
		t.Fatalf("adding feedback: %v", err)
	}

	if err := store.DeleteProject(ctx, "acme/shop"); err != nil {
		t.Fatalf("deleting project: %v", err)
	}

	if _, err := store.GetScan(ctx, scan.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("scan survived delete: %v", err)
	}
	var count int
	if err := store.DB().Get(ctx, &count, `SELECT COUNT(*) FROM findings`); err != nil {
		t.Fatalf("counting findings: %v", err)
	}
	if count != 0 {
		t.Errorf("findings survived delete: %d", count)
	}
}
