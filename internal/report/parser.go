package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

// DASTPlaceholderFile stands in for the file path on DAST findings,
// which have an endpoint URL instead of a source location.
const DASTPlaceholderFile = "dast-report"

// forbiddenPaths filters noise findings: CI plumbing, dependency trees,
// infra manifests and our own report files.
var forbiddenPaths = []string{
	".github",
	"venv",
	"node_modules",
	"k8s-specifications",
	"docker-compose",
	"Dockerfile",
	".yml",
	".yaml",
	"semgrep.sarif",
	"gitleaks.json",
	"trivy.sarif",
}

// workspacePrefix matches the per-scan workspace prefix analyzers embed
// in absolute report paths.
var workspacePrefix = regexp.MustCompile(`^/tmp/(scans|uploads)/[^/]+/`)

// sarifReport is the subset of the SARIF v2 schema the analyzers emit.
type sarifReport struct {
	Runs []struct {
		Tool struct {
			Driver struct {
				Name string `json:"name"`
			} `json:"driver"`
		} `json:"tool"`
		Results []struct {
			RuleID  string `json:"ruleId"`
			Message struct {
				Text string `json:"text"`
			} `json:"message"`
			Locations []struct {
				PhysicalLocation struct {
					ArtifactLocation struct {
						URI string `json:"uri"`
					} `json:"artifactLocation"`
					Region struct {
						StartLine int `json:"startLine"`
					} `json:"region"`
				} `json:"physicalLocation"`
			} `json:"locations"`
		} `json:"results"`
	} `json:"runs"`
}

type gitleaksIssue struct {
	Description string `json:"Description"`
	RuleID      string `json:"RuleID"`
	File        string `json:"File"`
	StartLine   int    `json:"StartLine"`
}

type zapReport struct {
	Site []struct {
		Alerts []struct {
			PluginID string `json:"pluginid"`
			Name     string `json:"name"`
			RiskDesc string `json:"riskdesc"`
			URL      string `json:"url"`
			Solution string `json:"solution"`
		} `json:"alerts"`
	} `json:"site"`
}

// Extract parses a raw report and returns normalized findings. The
// format is auto-detected from the JSON shape. Malformed input yields
// an empty list with a warning, never an error: one broken report must
// not sink the scan.
func Extract(content []byte, filename string) []models.NormalizedFinding {
	var probe interface{}
	if err := json.Unmarshal(content, &probe); err != nil {
		slog.Warn("Skipping malformed report", "file", filename, "error", err)
		return nil
	}

	var findings []models.NormalizedFinding
	switch v := probe.(type) {
	case map[string]interface{}:
		if _, ok := v["runs"]; ok {
			findings = extractSARIF(content)
		} else if _, ok := v["site"]; ok {
			findings = extractZAP(content)
		}
	case []interface{}:
		findings = extractGitleaks(content)
	}

	slog.Info("Report parsed", "file", filename, "findings", len(findings))
	return findings
}

func extractSARIF(content []byte) []models.NormalizedFinding {
	var report sarifReport
	if err := json.Unmarshal(content, &report); err != nil {
		slog.Warn("Skipping malformed SARIF report", "error", err)
		return nil
	}

	var findings []models.NormalizedFinding
	for _, run := range report.Runs {
		tool := run.Tool.Driver.Name
		if tool == "" {
			tool = "Unknown"
		}
		for _, res := range run.Results {
			var file string
			var line int
			if len(res.Locations) > 0 {
				loc := res.Locations[0].PhysicalLocation
				file = CleanPath(loc.ArtifactLocation.URI)
				line = loc.Region.StartLine
			}
			if isForbidden(file) {
				continue
			}
			findings = append(findings, models.NormalizedFinding{
				Tool:    tool,
				RuleID:  res.RuleID,
				Message: res.Message.Text,
				File:    file,
				Line:    line,
			})
		}
	}
	return findings
}

func extractGitleaks(content []byte) []models.NormalizedFinding {
	var issues []gitleaksIssue
	if err := json.Unmarshal(content, &issues); err != nil {
		slog.Warn("Skipping malformed secrets report", "error", err)
		return nil
	}
	if len(issues) == 0 || issues[0].Description == "" && issues[0].RuleID == "" {
		return nil
	}

	var findings []models.NormalizedFinding
	for _, issue := range issues {
		file := CleanPath(issue.File)
		if isForbidden(file) {
			continue
		}
		findings = append(findings, models.NormalizedFinding{
			Tool:    "Gitleaks",
			RuleID:  issue.RuleID,
			Message: issue.Description,
			File:    file,
			Line:    issue.StartLine,
		})
	}
	return findings
}

func extractZAP(content []byte) []models.NormalizedFinding {
	var report zapReport
	if err := json.Unmarshal(content, &report); err != nil {
		slog.Warn("Skipping malformed DAST report", "error", err)
		return nil
	}

	var findings []models.NormalizedFinding
	for _, site := range report.Site {
		for _, alert := range site.Alerts {
			url := alert.URL
			if url == "" {
				url = "N/A"
			}
			solution := alert.Solution
			if solution == "" {
				solution = "N/A"
			}
			findings = append(findings, models.NormalizedFinding{
				Tool:         "OWASP ZAP",
				RuleID:       alert.PluginID,
				Message:      fmt.Sprintf("%s (Risk: %s)\nURL: %s\nSolution: %s", alert.Name, alert.RiskDesc, url, solution),
				File:         DASTPlaceholderFile,
				Line:         0,
				DASTEndpoint: alert.URL,
			})
		}
	}
	return findings
}

// CleanPath rewrites an analyzer-reported path relative to the repo
// root: strips the file:// scheme, the per-scan workspace prefix, and
// any leading separator. Idempotent.
func CleanPath(path string) string {
	if path == "" {
		return ""
	}
	path = strings.TrimPrefix(path, "file://")
	path = workspacePrefix.ReplaceAllString(path, "")
	return strings.TrimLeft(path, "/")
}

func isForbidden(path string) bool {
	for _, forbidden := range forbiddenPaths {
		if strings.Contains(path, forbidden) {
			return true
		}
	}
	return false
}
