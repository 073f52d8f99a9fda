package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("record not found")

// Store exposes the domain operations on top of a DB backend.
type Store struct {
	db DB
}

// NewStore wraps db with the domain-level API.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying backend for migrations and health checks.
func (s *Store) DB() DB { return s.db }

// CreateScan inserts a scan row in the scanning state and returns it
// with its id stamped.
func (s *Store) CreateScan(ctx context.Context, projectName string, meta models.ScanMetadata) (*models.Scan, error) {
	scan := &models.Scan{
		ReferenceID:    meta.ReferenceID,
		ProjectName:    projectName,
		CommitSHA:      meta.CommitSHA,
		SourcePlatform: platformFromURL(meta.RepoURL),
		CIProvider:     meta.CIProvider,
		Branch:         meta.Branch,
		RepoURL:        meta.RepoURL,
		SourceURL:      meta.RepoURL,
		CIJobURL:       meta.RunURL,
		TargetURL:      meta.TargetURL,
		Status:         models.ScanStatusScanning,
		CreatedAt:      time.Now().UTC(),
	}

	id, err := s.db.Insert(ctx, "scans", scan)
	if err != nil {
		return nil, fmt.Errorf("creating scan for %s: %w", projectName, err)
	}
	scan.ID = id
	return scan, nil
}

// platformFromURL classifies the hosting platform of a repository URL.
func platformFromURL(repoURL string) string {
	switch {
	case strings.Contains(repoURL, "github"):
		return "github"
	case strings.Contains(repoURL, "gitlab"):
		return "gitlab"
	default:
		return "unknown"
	}
}

// GetScan fetches a scan by id.
func (s *Store) GetScan(ctx context.Context, id int64) (*models.Scan, error) {
	var scan models.Scan
	err := s.db.Get(ctx, &scan, `SELECT * FROM scans WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching scan %d: %w", id, err)
	}
	return &scan, nil
}

// GetScanByReference fetches a scan by its caller-visible reference id.
func (s *Store) GetScanByReference(ctx context.Context, referenceID string) (*models.Scan, error) {
	var scan models.Scan
	err := s.db.Get(ctx, &scan, `SELECT * FROM scans WHERE reference_id = ? ORDER BY id DESC LIMIT 1`, referenceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan reference %s: %w", referenceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching scan by reference %s: %w", referenceID, err)
	}
	return &scan, nil
}

// ListScans returns scans for a project, newest first.
func (s *Store) ListScans(ctx context.Context, projectName string) ([]models.Scan, error) {
	var scans []models.Scan
	err := s.db.Select(ctx, &scans,
		`SELECT * FROM scans WHERE project_name = ? ORDER BY id DESC`, projectName)
	if err != nil {
		return nil, fmt.Errorf("listing scans for %s: %w", projectName, err)
	}
	return scans, nil
}

// UpdateScanStatus moves a scan to status. Setting the same status twice
// is a no-op, so callers may retry freely.
func (s *Store) UpdateScanStatus(ctx context.Context, scanID int64, status string) error {
	if err := s.db.Exec(ctx, `UPDATE scans SET status = ? WHERE id = ?`, status, scanID); err != nil {
		return fmt.Errorf("updating scan %d status to %s: %w", scanID, status, err)
	}
	return nil
}

// InsertFindings persists the normalized findings for a scan and returns
// them as Finding rows with ids stamped in input order.
func (s *Store) InsertFindings(ctx context.Context, scanID int64, normalized []models.NormalizedFinding) ([]models.Finding, error) {
	findings := make([]models.Finding, 0, len(normalized))
	now := time.Now().UTC()
	for _, n := range normalized {
		f := models.Finding{
			ScanID:       scanID,
			Tool:         n.Tool,
			RuleID:       n.RuleID,
			File:         n.File,
			Line:         n.Line,
			DASTEndpoint: n.DASTEndpoint,
			Message:      n.Message,
			Snippet:      n.Snippet,
			CreatedAt:    now,
		}
		id, err := s.db.Insert(ctx, "findings", &f)
		if err != nil {
			return findings, fmt.Errorf("inserting finding for scan %d: %w", scanID, err)
		}
		f.ID = id
		findings = append(findings, f)
	}
	return findings, nil
}

// findingColumns is the set of columns UpdateFinding may touch. Keys
// outside this set are dropped silently, so workflow stages can pass
// sparse updates without coordinating a schema.
var findingColumns = map[string]bool{
	"ai_verdict":             true,
	"ai_confidence":          true,
	"ai_reasoning":           true,
	"risk_score":             true,
	"severity":               true,
	"triage_decision":        true,
	"remediation_patch":      true,
	"red_team_success":       true,
	"red_team_output":        true,
	"sandbox_logs":           true,
	"pr_url":                 true,
	"pr_error":               true,
	"regression_test_passed": true,
	"compliance_control":     true,
	"resolved_at":            true,
}

// UpdateFinding applies a sparse column update to a finding. Unknown
// keys are ignored; an update with no known keys is a no-op.
func (s *Store) UpdateFinding(ctx context.Context, findingID int64, fields map[string]interface{}) error {
	sets := make([]string, 0, len(fields))
	vals := make([]interface{}, 0, len(fields)+1)
	for col, val := range fields {
		if !findingColumns[col] {
			slog.Debug("Dropping unknown finding column", "column", col, "finding_id", findingID)
			continue
		}
		sets = append(sets, col+" = ?")
		vals = append(vals, val)
	}
	if len(sets) == 0 {
		return nil
	}
	vals = append(vals, findingID)

	query := fmt.Sprintf("UPDATE findings SET %s WHERE id = ?", strings.Join(sets, ", "))
	if err := s.db.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("updating finding %d: %w", findingID, err)
	}
	return nil
}

// GetFinding fetches a finding by id.
func (s *Store) GetFinding(ctx context.Context, id int64) (*models.Finding, error) {
	var f models.Finding
	err := s.db.Get(ctx, &f, `SELECT * FROM findings WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("finding %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching finding %d: %w", id, err)
	}
	return &f, nil
}

// ListFindings returns all findings for a scan in insertion order.
func (s *Store) ListFindings(ctx context.Context, scanID int64) ([]models.Finding, error) {
	var findings []models.Finding
	err := s.db.Select(ctx, &findings,
		`SELECT * FROM findings WHERE scan_id = ? ORDER BY id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("listing findings for scan %d: %w", scanID, err)
	}
	return findings, nil
}

// AppendSandboxLog appends a delimited stage entry to a finding's
// sandbox log without clobbering earlier entries.
func (s *Store) AppendSandboxLog(ctx context.Context, findingID int64, stage string, success bool, logs string) error {
	f, err := s.GetFinding(ctx, findingID)
	if err != nil {
		return err
	}

	entry := fmt.Sprintf("--- %s (SUCCESS: %v) ---\n%s", strings.ToUpper(stage), success, logs)
	combined := entry
	if f.SandboxLogs != "" {
		combined = f.SandboxLogs + "\n" + entry
	}
	return s.UpdateFinding(ctx, findingID, map[string]interface{}{"sandbox_logs": combined})
}

// AddFeedback records a human review verdict against a finding.
func (s *Store) AddFeedback(ctx context.Context, findingID int64, verdict, comments string) (*models.Feedback, error) {
	fb := &models.Feedback{
		FindingID:   findingID,
		UserVerdict: verdict,
		Comments:    comments,
		CreatedAt:   time.Now().UTC(),
	}
	id, err := s.db.Insert(ctx, "feedbacks", fb)
	if err != nil {
		return nil, fmt.Errorf("adding feedback for finding %d: %w", findingID, err)
	}
	fb.ID = id
	return fb, nil
}

// UpsertEPSS stores or refreshes an exploit-prediction score.
func (s *Store) UpsertEPSS(ctx context.Context, score models.EPSSScore) error {
	if err := s.db.Upsert(ctx, "epss_data", &score, []string{"cve_id"}); err != nil {
		return fmt.Errorf("upserting epss score for %s: %w", score.CVEID, err)
	}
	return nil
}

// GetEPSS looks up the exploit-prediction score for a CVE id.
func (s *Store) GetEPSS(ctx context.Context, cveID string) (*models.EPSSScore, error) {
	var score models.EPSSScore
	err := s.db.Get(ctx, &score, `SELECT * FROM epss_data WHERE cve_id = ?`, cveID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("epss score %s: %w", cveID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching epss score %s: %w", cveID, err)
	}
	return &score, nil
}

// ListTrackedCVEs returns every CVE id with a cached exploit-prediction
// score, for periodic refresh.
func (s *Store) ListTrackedCVEs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.Select(ctx, &ids, `SELECT cve_id FROM epss_data ORDER BY cve_id`)
	if err != nil {
		return nil, fmt.Errorf("listing tracked CVEs: %w", err)
	}
	return ids, nil
}

// RecordPipelineMetric stores the CI metrics for a scan, replacing any
// previous record so a scan holds at most one.
func (s *Store) RecordPipelineMetric(ctx context.Context, metric models.PipelineMetric) error {
	metric.CreatedAt = time.Now().UTC()
	err := s.db.Tx(ctx, func(ctx context.Context, tx Execer) error {
		if err := tx.Exec(ctx, `DELETE FROM pipeline_metrics WHERE scan_id = ?`, metric.ScanID); err != nil {
			return err
		}
		cols, placeholders, vals := structToInsert(&metric)
		query := fmt.Sprintf("INSERT INTO pipeline_metrics (%s) VALUES (%s)",
			strings.Join(cols, ", "), strings.Join(placeholders, ", "))
		return tx.Exec(ctx, query, vals...)
	})
	if err != nil {
		return fmt.Errorf("recording metrics for scan %d: %w", metric.ScanID, err)
	}
	return nil
}

// DeleteProject removes every scan for a project along with its findings,
// feedback and metrics in one transaction.
func (s *Store) DeleteProject(ctx context.Context, projectName string) error {
	err := s.db.Tx(ctx, func(ctx context.Context, tx Execer) error {
		// Feedback rows cascade from findings, findings and metrics
		// cascade from scans. MySQL honours the same FK graph.
		return tx.Exec(ctx, `DELETE FROM scans WHERE project_name = ?`, projectName)
	})
	if err != nil {
		return fmt.Errorf("deleting project %s: %w", projectName, err)
	}
	return nil
}
