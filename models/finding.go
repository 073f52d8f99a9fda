package models

import "time"

// AI triage verdicts.
const (
	VerdictTP = "TP"
	VerdictFP = "FP"
)

// NormalizedFinding is the unified shape emitted by the report normalizer,
// before persistence stamps a database id.
type NormalizedFinding struct {
	Tool         string `json:"tool"`
	RuleID       string `json:"rule_id"`
	Message      string `json:"message"`
	File         string `json:"file"` // relative to repo root
	Line         int    `json:"line"`
	DASTEndpoint string `json:"dast_endpoint,omitempty"`
	Snippet      string `json:"snippet,omitempty"`
}

// Finding is one analyzer-reported issue scoped to a scan. It carries the
// scanner facts, the AI verdict, and the workflow outcomes.
type Finding struct {
	ID     int64 `json:"id"      db:"id"`
	ScanID int64 `json:"scan_id" db:"scan_id"`

	// Analyzer facts.
	Tool         string `json:"tool"          db:"tool"`
	RuleID       string `json:"rule_id"       db:"rule_id"`
	File         string `json:"file"          db:"file"`
	Line         int    `json:"line"          db:"line"`
	DASTEndpoint string `json:"dast_endpoint" db:"dast_endpoint"`
	Message      string `json:"message"       db:"message"`
	Snippet      string `json:"snippet"       db:"snippet"`

	// AI verdict.
	AIVerdict      string  `json:"ai_verdict"      db:"ai_verdict"` // TP|FP
	AIConfidence   float64 `json:"ai_confidence"   db:"ai_confidence"`
	AIReasoning    string  `json:"ai_reasoning"    db:"ai_reasoning"`
	RiskScore      float64 `json:"risk_score"      db:"risk_score"`
	Severity       string  `json:"severity"        db:"severity"`
	TriageDecision string  `json:"triage_decision" db:"triage_decision"`

	// Workflow outcomes. A finding with no remediation patch must never
	// carry a PR URL.
	RemediationPatch     string     `json:"remediation_patch"      db:"remediation_patch"`
	RedTeamSuccess       bool       `json:"red_team_success"       db:"red_team_success"`
	RedTeamOutput        string     `json:"red_team_output"        db:"red_team_output"`
	SandboxLogs          string     `json:"sandbox_logs"           db:"sandbox_logs"`
	PRURL                string     `json:"pr_url"                 db:"pr_url"`
	PRError              string     `json:"pr_error"               db:"pr_error"`
	RegressionTestPassed *bool      `json:"regression_test_passed" db:"regression_test_passed"`
	ComplianceControl    string     `json:"compliance_control"     db:"compliance_control"`
	CreatedAt            time.Time  `json:"created_at"             db:"created_at"`
	ResolvedAt           *time.Time `json:"resolved_at"            db:"resolved_at"`
}

// Feedback is an append-only human review record attached to a finding.
type Feedback struct {
	ID          int64     `json:"id"           db:"id"`
	FindingID   int64     `json:"finding_id"   db:"finding_id"`
	UserVerdict string    `json:"user_verdict" db:"user_verdict"`
	Comments    string    `json:"comments"     db:"comments"`
	CreatedAt   time.Time `json:"created_at"   db:"created_at"`
}

// EPSSScore holds an exploit-prediction record for one CVE id.
type EPSSScore struct {
	CVEID       string    `json:"cve_id"       db:"cve_id"`
	Probability float64   `json:"probability"  db:"probability"`
	Percentile  float64   `json:"percentile"   db:"percentile"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}

// PullRequest describes a pull request opened on a hosting platform.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	State  string `json:"state"`
}
