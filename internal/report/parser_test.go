package report

import (
	"strings"
	"testing"
)

const sarifSample = `{
	"runs": [{
		"tool": {"driver": {"name": "Semgrep"}},
		"results": [
			{
				"ruleId": "python.flask.sqli",
				"message": {"text": "user input reaches SQL query"},
				"locations": [{"physicalLocation": {
					"artifactLocation": {"uri": "file:///tmp/scans/ab12cd_src/app/db.py"},
					"region": {"startLine": 42}
				}}]
			},
			{
				"ruleId": "yaml.ci.rule",
				"message": {"text": "noise"},
				"locations": [{"physicalLocation": {
					"artifactLocation": {"uri": ".github/workflows/ci.yml"},
					"region": {"startLine": 1}
				}}]
			}
		]
	}]
}`

func TestExtractSARIF(t *testing.T) {
	findings := Extract([]byte(sarifSample), "semgrep.sarif")
	if len(findings) != 1 {
		t.Fatalf("len = %d, want 1 (forbidden path filtered)", len(findings))
	}

	f := findings[0]
	if f.Tool != "Semgrep" {
		t.Errorf("tool = %q, want Semgrep", f.Tool)
	}
	if f.RuleID != "python.flask.sqli" {
		t.Errorf("rule_id = %q", f.RuleID)
	}
	if f.File != "app/db.py" {
		t.Errorf("file = %q, want app/db.py (workspace prefix stripped)", f.File)
	}
	if f.Line != 42 {
		t.Errorf("line = %d, want 42", f.Line)
	}
}

func TestExtractGitleaksArray(t *testing.T) {
	sample := `[
		{"Description": "AWS Access Key", "RuleID": "aws-access-key", "File": "/tmp/scans/xyz/.env", "StartLine": 3},
		{"Description": "Generic secret", "RuleID": "generic", "File": "node_modules/pkg/index.js", "StartLine": 9}
	]`

	findings := Extract([]byte(sample), "gitleaks-report")
	if len(findings) != 1 {
		t.Fatalf("len = %d, want 1 (node_modules filtered)", len(findings))
	}
	f := findings[0]
	if f.Tool != "Gitleaks" || f.RuleID != "aws-access-key" {
		t.Errorf("unexpected finding: %+v", f)
	}
	if f.File != ".env" || f.Line != 3 {
		t.Errorf("file/line = %q/%d, want .env/3", f.File, f.Line)
	}
}

func TestExtractZAPSiteAlerts(t *testing.T) {
	sample := `{
		"site": [{
			"alerts": [{
				"pluginid": "10038",
				"name": "Content Security Policy Header Not Set",
				"riskdesc": "Medium (High)",
				"url": "http://localhost:5000/login",
				"solution": "Set the CSP header."
			}]
		}]
	}`

	findings := Extract([]byte(sample), "zap-report")
	if len(findings) != 1 {
		t.Fatalf("len = %d, want 1", len(findings))
	}
	f := findings[0]
	if f.Tool != "OWASP ZAP" || f.RuleID != "10038" {
		t.Errorf("unexpected finding: %+v", f)
	}
	if f.File != DASTPlaceholderFile || f.Line != 0 {
		t.Errorf("file/line = %q/%d, want placeholder/0", f.File, f.Line)
	}
	if f.DASTEndpoint != "http://localhost:5000/login" {
		t.Errorf("dast_endpoint = %q", f.DASTEndpoint)
	}
	for _, part := range []string{"Content Security Policy", "Medium (High)", "http://localhost:5000/login", "Set the CSP header."} {
		if !strings.Contains(f.Message, part) {
			t.Errorf("message missing %q: %q", part, f.Message)
		}
	}
}

func TestMalformedJSONYieldsEmptyList(t *testing.T) {
	if findings := Extract([]byte(`{"runs": [`), "broken.sarif"); len(findings) != 0 {
		t.Errorf("expected empty list for malformed JSON, got %d", len(findings))
	}
	if findings := Extract([]byte(``), "empty-report"); len(findings) != 0 {
		t.Errorf("expected empty list for empty report, got %d", len(findings))
	}
}

func TestCleanPathIsIdempotent(t *testing.T) {
	cases := map[string]string{
		"file:///tmp/scans/ab12_src/app/main.py": "app/main.py",
		"/tmp/uploads/job-9/src/util.js":         "src/util.js",
		"/etc/passwd":                            "etc/passwd",
		"app/main.py":                            "app/main.py",
		"":                                       "",
	}
	for in, want := range cases {
		got := CleanPath(in)
		if got != want {
			t.Errorf("CleanPath(%q) = %q, want %q", in, got, want)
		}
		if again := CleanPath(got); again != got {
			t.Errorf("CleanPath not idempotent: %q → %q", got, again)
		}
	}
}
