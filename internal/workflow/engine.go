package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/database"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/publisher"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/sandbox"
	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

// Completer is the language-model dependency.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// SandboxRunner is the sandbox dependency for PoC and patch checks.
type SandboxRunner interface {
	VerifyPoC(ctx context.Context, sourcePath, pocCode, fileExtension string) (*sandbox.Result, error)
	VerifyPatch(ctx context.Context, sourcePath, patchCode, targetFile string) (*sandbox.Result, error)
}

// PRPublisher opens the upstream pull request for an accepted patch.
type PRPublisher interface {
	Publish(ctx context.Context, req publisher.Request) (*models.PullRequest, error)
}

// Progress receives per-finding step updates.
type Progress interface {
	Step(ctx context.Context, reference, detail string, current, total int)
}

type noopProgress struct{}

func (noopProgress) Step(context.Context, string, string, int, int) {}

// Engine runs the per-finding workflow: triage the finding, attempt an
// exploit, generate and sanity-check a patch, publish a fix PR.
// Findings are processed sequentially; the model endpoint is assumed
// single-tenant.
type Engine struct {
	store    *database.Store
	llm      Completer
	sandbox  SandboxRunner
	pub      PRPublisher
	progress Progress
	cfg      config.ScanConfig
}

// NewEngine wires the workflow dependencies. progress may be nil.
func NewEngine(store *database.Store, llm Completer, sb SandboxRunner, pub PRPublisher, progress Progress, cfg config.ScanConfig) *Engine {
	if progress == nil {
		progress = noopProgress{}
	}
	return &Engine{store: store, llm: llm, sandbox: sb, pub: pub, progress: progress, cfg: cfg}
}

// Run processes up to the configured cap of findings for scan. The
// returned slice carries the final annotations of every processed
// finding. Database write failures are logged, never fatal: the finding
// simply keeps what it had.
func (e *Engine) Run(ctx context.Context, scan *models.Scan, findings []models.Finding, sourcePath string) []models.Finding {
	limit := e.cfg.TriageLimit
	if limit <= 0 {
		limit = 20
	}
	if len(findings) > limit {
		slog.Info("Capping workflow findings", "total", len(findings), "cap", limit)
		findings = findings[:limit]
	}

	processed := make([]models.Finding, 0, len(findings))
	for i := range findings {
		if ctx.Err() != nil {
			slog.Warn("Workflow cancelled", "processed", len(processed), "remaining", len(findings)-i)
			break
		}

		f := findings[i]
		e.progress.Step(ctx, scan.ReferenceID, "analyzing "+f.File, i+1, len(findings))

		for stage := StageTriage; stage != StageDone; stage = Next(stage, &f) {
			e.execute(ctx, stage, scan, &f, sourcePath)
		}
		processed = append(processed, f)
	}
	return processed
}

// execute performs the side effects of one stage against the finding.
func (e *Engine) execute(ctx context.Context, stage Stage, scan *models.Scan, f *models.Finding, sourcePath string) {
	switch stage {
	case StageTriage:
		e.triage(ctx, f)
	case StageRedTeam:
		e.redTeam(ctx, f, sourcePath)
	case StageRemediate:
		e.remediate(ctx, f, sourcePath)
	case StageSanity:
		e.sanity(ctx, f)
	case StagePublish:
		e.publish(ctx, scan, f, sourcePath)
	}
}

func (e *Engine) triage(ctx context.Context, f *models.Finding) {
	prompt := fmt.Sprintf(
		"You are a Senior AppSec Engineer. Analyze the code for the specific issue described.\n\n"+
			"CRITERIA:\n"+
			"- If the code builds SQL via string interpolation or concatenation: ALWAYS TP.\n"+
			"- If the code invokes a shell with user-controlled variables: ALWAYS TP.\n"+
			"- If the code performs dangerous deserialization of untrusted data: ALWAYS TP.\n"+
			"- If you are unsure but it looks suspicious: respond TP.\n\n"+
			"CONTEXT:\nFile: %s\nIssue: %s\nSnippet:\n%s\n\n"+
			"Respond ONLY with 'TP' or 'FP'.",
		f.File, f.Message, f.Snippet)

	verdict := models.VerdictFP
	raw, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("Triage model call failed, defaulting to FP", "finding", f.ID, "error", err)
	} else {
		verdict = NormalizeVerdict(raw)
	}
	slog.Info("Triage verdict", "finding", f.ID, "file", f.File, "verdict", verdict)

	f.AIVerdict = verdict
	if verdict == models.VerdictTP {
		f.TriageDecision = "RV"
	} else {
		f.TriageDecision = "FP"
	}
	e.persist(ctx, f.ID, map[string]interface{}{
		"ai_verdict":      f.AIVerdict,
		"triage_decision": f.TriageDecision,
	})
}

func (e *Engine) redTeam(ctx context.Context, f *models.Finding, sourcePath string) {
	slog.Info("Red teaming", "finding", f.ID, "file", f.File)
	prompt := fmt.Sprintf(
		"As a security researcher, generate a verification script (PoC) to confirm "+
			"the following vulnerability in a controlled sandbox environment. "+
			"Respond ONLY with the code.\n\nCode to test:\n%s", f.Snippet)

	poc, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("Red team PoC generation failed", "finding", f.ID, "error", err)
		f.RedTeamSuccess = false
		return
	}

	res, err := e.sandbox.VerifyPoC(ctx, sourcePath, StripCodeFences(poc), pocExtension(f.File))
	if err != nil {
		slog.Warn("PoC sandbox execution failed", "finding", f.ID, "error", err)
		f.RedTeamSuccess = false
		return
	}

	f.RedTeamSuccess = res.Success
	f.RedTeamOutput = res.Output
	e.appendLog(ctx, f.ID, "RED_TEAM_POC", res.Success, res.Output)
	e.persist(ctx, f.ID, map[string]interface{}{
		"red_team_success": f.RedTeamSuccess,
		"red_team_output":  f.RedTeamOutput,
	})
}

func (e *Engine) remediate(ctx context.Context, f *models.Finding, sourcePath string) {
	slog.Info("Generating fix", "finding", f.ID, "file", f.File)
	prompt := fmt.Sprintf(
		"Fix the security vulnerability in this code.\nISSUE: %s\nCODE:\n%s\n\n"+
			"Respond ONLY with the full corrected code block.",
		f.Message, f.Snippet)

	raw, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("Remediation model call failed", "finding", f.ID, "error", err)
		return
	}
	patch := StripCodeFences(raw)

	if e.cfg.GatePatchOnSandbox {
		res, err := e.sandbox.VerifyPatch(ctx, sourcePath, patch, f.File)
		if err != nil {
			slog.Warn("Patch sandbox verification errored", "finding", f.ID, "error", err)
		} else {
			e.appendLog(ctx, f.ID, "PATCH_VERIFICATION", res.Success, res.Output)
			if !res.Success {
				slog.Warn("Patch rejected by sandbox", "finding", f.ID)
				return
			}
		}
	}

	f.RemediationPatch = patch
	e.persist(ctx, f.ID, map[string]interface{}{"remediation_patch": patch})
}

func (e *Engine) sanity(ctx context.Context, f *models.Finding) {
	verdict := CheckPatchSanity(f.Snippet, f.RemediationPatch)
	if verdict.OK {
		slog.Info("Sanity check passed", "finding", f.ID)
		e.appendLog(ctx, f.ID, "SANITY_CHECK", true, sanityPassedMsg)
		return
	}

	slog.Warn("Sanity check failed, dropping patch", "finding", f.ID, "reason", verdict.Reason)
	f.RemediationPatch = ""
	e.appendLog(ctx, f.ID, "SANITY_CHECK", false, sanityBlockedMsg)
	e.persist(ctx, f.ID, map[string]interface{}{"remediation_patch": ""})
}

func (e *Engine) publish(ctx context.Context, scan *models.Scan, f *models.Finding, sourcePath string) {
	// A cancelled scan must never publish upstream.
	if ctx.Err() != nil {
		slog.Warn("Skipping publish after cancellation", "finding", f.ID)
		return
	}

	slog.Info("Publishing fix", "finding", f.ID, "project", scan.ProjectName)
	branch := "ai-fix-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	pr, err := e.pub.Publish(ctx, publisher.Request{
		Project:      scan.ProjectName,
		RepoURL:      scan.RepoURL,
		SourcePath:   sourcePath,
		Branch:       branch,
		TargetFile:   f.File,
		PatchContent: f.RemediationPatch,
		IssueMessage: f.Message,
	})
	if err != nil {
		slog.Error("Publish failed", "finding", f.ID, "error", err)
		f.PRError = err.Error()
		e.persist(ctx, f.ID, map[string]interface{}{"pr_error": f.PRError})
		return
	}

	f.PRURL = pr.URL
	e.persist(ctx, f.ID, map[string]interface{}{"pr_url": f.PRURL})
	slog.Info("Fix published", "finding", f.ID, "pr", pr.URL)
}

// persist writes sparse finding updates, logging failures instead of
// propagating them: a dead database must not sink the scan.
func (e *Engine) persist(ctx context.Context, findingID int64, fields map[string]interface{}) {
	if findingID == 0 {
		return
	}
	if err := e.store.UpdateFinding(ctx, findingID, fields); err != nil {
		slog.Warn("Finding update failed", "finding", findingID, "error", err)
	}
}

func (e *Engine) appendLog(ctx context.Context, findingID int64, stage string, success bool, output string) {
	if findingID == 0 {
		return
	}
	if err := e.store.AppendSandboxLog(ctx, findingID, stage, success, output); err != nil {
		slog.Warn("Sandbox log write failed", "finding", findingID, "error", err)
	}
}

// pocExtension picks the PoC script extension from the flagged file.
func pocExtension(file string) string {
	if ext := filepath.Ext(file); ext != "" {
		return ext
	}
	return ".py"
}
