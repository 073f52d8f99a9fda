package models

import "time"

// Scan statuses. Transitions form a DAG: pending → scanning → analyzing →
// completed|failed, with completed and failed as absorbing states.
const (
	ScanStatusPending   = "pending"
	ScanStatusScanning  = "scanning"
	ScanStatusAnalyzing = "analyzing"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
)

// Scan tracks one end-to-end run over a repository at a given commit.
type Scan struct {
	ID             int64     `json:"id"              db:"id"`
	ReferenceID    string    `json:"reference_id"    db:"reference_id"` // opaque UUID for async callers
	ProjectName    string    `json:"project_name"    db:"project_name"` // "owner/repo"
	CommitSHA      string    `json:"commit_sha"      db:"commit_sha"`
	SourcePlatform string    `json:"source_platform" db:"source_platform"` // github|gitlab|unknown
	CIProvider     string    `json:"ci_provider"     db:"ci_provider"`
	Branch         string    `json:"branch"          db:"branch"`
	RepoURL        string    `json:"repo_url"        db:"repo_url"`
	SourceURL      string    `json:"source_url"      db:"source_url"`
	CIJobURL       string    `json:"ci_job_url"      db:"ci_job_url"`
	TargetURL      string    `json:"target_url"      db:"target_url"` // ephemeral DAST target, optional
	Status         string    `json:"status"          db:"status"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
}

// TerminalStatus reports whether a scan status is absorbing.
func TerminalStatus(status string) bool {
	return status == ScanStatusCompleted || status == ScanStatusFailed
}

// PipelineMetric stores scalar CI metrics attached to a scan.
// At most one record per scan.
type PipelineMetric struct {
	ID                  int64     `json:"id"                    db:"id"`
	ScanID              int64     `json:"scan_id"               db:"scan_id"`
	BuildDurationSec    float64   `json:"build_duration_sec"    db:"build_duration_sec"`
	ArtifactSizeBytes   int64     `json:"artifact_size_bytes"   db:"artifact_size_bytes"`
	NumChangedFiles     int       `json:"num_changed_files"     db:"num_changed_files"`
	TestCoveragePercent float64   `json:"test_coverage_percent" db:"test_coverage_percent"`
	CreatedAt           time.Time `json:"created_at"            db:"created_at"`
}

// ScanMetadata is the caller-supplied payload accompanying a scan request.
type ScanMetadata struct {
	CommitSHA    string   `json:"commit_sha,omitempty"`
	CIProvider   string   `json:"ci_provider,omitempty"`
	Branch       string   `json:"branch,omitempty"`
	RepoURL      string   `json:"repo_url,omitempty"`
	RunURL       string   `json:"run_url,omitempty"`
	TargetURL    string   `json:"target_url,omitempty"`
	ChangedFiles []string `json:"changed_files,omitempty"`
	ReferenceID  string   `json:"reference_id,omitempty"`
}

// StackInfo is the stack detector's verdict on a source tree.
type StackInfo struct {
	Type         string `json:"type"` // "web" or "unknown"
	Framework    string `json:"framework,omitempty"`
	Language     string `json:"language,omitempty"`
	Port         int    `json:"port,omitempty"`
	StartCommand string `json:"start_command,omitempty"`
	Detected     bool   `json:"detected"`
}
