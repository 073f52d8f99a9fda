package workflow

import (
	"regexp"
	"strings"

	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

// Stage tags the per-finding state machine. Transitions are computed by
// Next as a pure function of (stage, finding); the Engine's driver loop
// performs the side effects for each stage.
type Stage int

const (
	StageTriage Stage = iota
	StageRedTeam
	StageRemediate
	StageSanity
	StagePublish
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageTriage:
		return "TRIAGE"
	case StageRedTeam:
		return "RED_TEAM"
	case StageRemediate:
		return "REMEDIATE"
	case StageSanity:
		return "SANITY"
	case StagePublish:
		return "PUBLISH"
	default:
		return "DONE"
	}
}

// Next returns the stage that follows s given the finding's current
// annotations. False positives leave the machine at triage; a missing
// patch short-circuits the publish path.
func Next(s Stage, f *models.Finding) Stage {
	switch s {
	case StageTriage:
		if f.AIVerdict == models.VerdictTP {
			return StageRedTeam
		}
		return StageDone
	case StageRedTeam:
		return StageRemediate
	case StageRemediate, StageSanity:
		if f.RemediationPatch != "" {
			return s + 1
		}
		return StageDone
	default:
		return StageDone
	}
}

var nonLetters = regexp.MustCompile(`[^a-zA-Z]`)

// NormalizeVerdict maps a raw model response onto TP/FP: strip
// everything but letters, uppercase, and classify on containment.
// Chatty models wrap the verdict in prose; containment survives that.
func NormalizeVerdict(raw string) string {
	cleaned := strings.ToUpper(nonLetters.ReplaceAllString(raw, ""))
	if strings.Contains(cleaned, "TP") {
		return models.VerdictTP
	}
	return models.VerdictFP
}

var codeFenceOpen = regexp.MustCompile("```[a-zA-Z]*\n")

// StripCodeFences removes markdown code-fence markers from a model
// response, leaving the bare code.
func StripCodeFences(raw string) string {
	out := codeFenceOpen.ReplaceAllString(raw, "")
	out = strings.ReplaceAll(out, "```", "")
	return strings.TrimSpace(out)
}

// criticalTokens flag security-relevant logic the patch must not drop.
var criticalTokens = []string{"auth", "jwt", "session", "encrypt"}

// SanityVerdict is the outcome of the patch sanity gate.
type SanityVerdict struct {
	OK     bool
	Reason string
}

// Sanity log messages.
const (
	sanityBlockedMsg = "Blocked: Likely over-deletion."
	sanityPassedMsg  = "Patch looks valid."
)

// CheckPatchSanity rejects patches that are empty, collapse a large
// snippet into almost nothing, or silently drop critical security
// tokens present in the original snippet.
func CheckPatchSanity(snippet, patch string) SanityVerdict {
	if strings.TrimSpace(patch) == "" {
		return SanityVerdict{OK: false, Reason: "empty patch"}
	}

	snippetLines := len(strings.Split(snippet, "\n"))
	patchLines := len(strings.Split(patch, "\n"))
	if snippetLines > 10 && patchLines < 2 {
		return SanityVerdict{OK: false, Reason: "mass deletion"}
	}

	snippetHasCritical := false
	patchHasCritical := false
	for _, token := range criticalTokens {
		if strings.Contains(snippet, token) {
			snippetHasCritical = true
		}
		if strings.Contains(patch, token) {
			patchHasCritical = true
		}
	}
	if snippetHasCritical && !patchHasCritical {
		return SanityVerdict{OK: false, Reason: "critical tokens lost"}
	}
	return SanityVerdict{OK: true}
}
