package workflow

import (
	"strings"
	"testing"

	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

func TestNextTransitions(t *testing.T) {
	tp := &models.Finding{AIVerdict: models.VerdictTP, RemediationPatch: "fixed"}
	fp := &models.Finding{AIVerdict: models.VerdictFP}
	noPatch := &models.Finding{AIVerdict: models.VerdictTP}

	cases := []struct {
		stage   Stage
		finding *models.Finding
		want    Stage
	}{
		{StageTriage, tp, StageRedTeam},
		{StageTriage, fp, StageDone},
		{StageRedTeam, tp, StageRemediate},
		{StageRemediate, tp, StageSanity},
		{StageRemediate, noPatch, StageDone},
		{StageSanity, tp, StagePublish},
		{StageSanity, noPatch, StageDone},
		{StagePublish, tp, StageDone},
	}
	for _, c := range cases {
		if got := Next(c.stage, c.finding); got != c.want {
			t.Errorf("Next(%s, verdict=%s patch=%q) = %s, want %s",
				c.stage, c.finding.AIVerdict, c.finding.RemediationPatch, got, c.want)
		}
	}
}

func TestNormalizeVerdict(t *testing.T) {
	cases := map[string]string{
		"TP":                          models.VerdictTP,
		"fp":                          models.VerdictFP,
		"  T.P. ":                     models.VerdictTP,
		"Verdict: TP, high risk":      models.VerdictTP,
		"This is a false positive":    models.VerdictFP,
		"true positive (TP) for sure": models.VerdictTP,
		"":                            models.VerdictFP,
	}
	for in, want := range cases {
		if got := NormalizeVerdict(in); got != want {
			t.Errorf("NormalizeVerdict(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestStripCodeFences(t *testing.T) {
	in := "```python\nimport sqlite3\ncur.execute(\"SELECT * FROM users WHERE u = ?\", (u,))\n```"
	out := StripCodeFences(in)
	if strings.Contains(out, "```") {
		t.Errorf("fences survived: %q", out)
	}
	if !strings.HasPrefix(out, "import sqlite3") {
		t.Errorf("unexpected content: %q", out)
	}

	if got := StripCodeFences("plain code"); got != "plain code" {
		t.Errorf("unfenced content changed: %q", got)
	}
}

func TestCheckPatchSanityEmptyPatch(t *testing.T) {
	if v := CheckPatchSanity("some snippet", "   \n\t"); v.OK {
		t.Error("whitespace-only patch should fail sanity")
	}
}

func TestCheckPatchSanityMassDeletion(t *testing.T) {
	snippet := strings.Repeat("line\n", 12)
	if v := CheckPatchSanity(snippet, "pass"); v.OK {
		t.Error("single-line patch for a >10 line snippet should fail sanity")
	}

	// Small snippet collapsing to one line is fine.
	if v := CheckPatchSanity("a\nb", "c"); !v.OK {
		t.Errorf("small snippet should pass: %s", v.Reason)
	}
}

func TestCheckPatchSanityCriticalTokens(t *testing.T) {
	snippet := "token = jwt.encode(payload)\nauth.check(user)"

	if v := CheckPatchSanity(snippet, "return None"); v.OK {
		t.Error("patch dropping all critical tokens should fail sanity")
	}

	// Keeping at least one critical token passes.
	patch := "token = jwt.encode(payload, algorithm='HS256')\ncheck(user)"
	if v := CheckPatchSanity(snippet, patch); !v.OK {
		t.Errorf("patch retaining jwt should pass: %s", v.Reason)
	}

	// No critical tokens anywhere is fine.
	if v := CheckPatchSanity("x = 1", "x = 2"); !v.OK {
		t.Errorf("token-free snippet should pass: %s", v.Reason)
	}
}
