package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/hosting"
	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

// Publisher takes an accepted remediation and opens a pull request with
// it on the hosting platform.
type Publisher struct {
	git config.GitConfig
}

// New builds a Publisher with the bot identity and platform credentials.
func New(git config.GitConfig) *Publisher {
	return &Publisher{git: git}
}

// Request describes one fix to publish. PatchContent is the full
// corrected file body, not a diff.
type Request struct {
	Project      string // owner/repo
	RepoURL      string
	SourcePath   string // local checkout the fix applies to
	Branch       string
	TargetFile   string
	PatchContent string
	IssueMessage string
}

// Publish writes the fix, commits it on a new branch, pushes with an
// authenticated URL and opens a pull request against main. The token
// never appears in logs or error text.
func (p *Publisher) Publish(ctx context.Context, req Request) (*models.PullRequest, error) {
	provider, err := hosting.ForURL(p.git, req.RepoURL)
	if err != nil {
		return nil, err
	}
	owner, repo, err := hosting.SplitProject(req.Project)
	if err != nil {
		return nil, err
	}

	fullPath, err := safeRepoJoin(req.SourcePath, req.TargetFile)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating patch directory: %w", err)
	}
	if err := os.WriteFile(fullPath, []byte(req.PatchContent), 0o644); err != nil {
		return nil, fmt.Errorf("writing patch to %s: %w", req.TargetFile, err)
	}
	slog.Info("Applied patch", "file", req.TargetFile, "project", req.Project)

	steps := [][]string{
		{"config", "user.email", p.git.BotEmail},
		{"config", "user.name", p.git.BotName},
		{"checkout", "-b", req.Branch},
		{"add", req.TargetFile},
		{"commit", "-m", "AI Fix: " + req.IssueMessage},
	}
	for _, args := range steps {
		if err := runGit(ctx, req.SourcePath, args...); err != nil {
			return nil, err
		}
	}

	// Never push after cancellation: a cancelled scan must leave no
	// trace upstream.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("publish aborted: %w", err)
	}

	authURL := hosting.InjectToken(req.RepoURL, provider.AuthToken())
	slog.Info("Pushing fix branch", "branch", req.Branch, "project", req.Project)
	if err := runGit(ctx, req.SourcePath, "push", authURL, req.Branch); err != nil {
		return nil, redactToken(err, provider.AuthToken())
	}

	pr, err := provider.CreatePullRequest(ctx, owner, repo, hosting.PullRequestSpec{
		Title: "AI Security Fix: " + req.IssueMessage,
		Body: fmt.Sprintf("## AI Security Agent Report\n**Vulnerability:** %s\n\nReview fix for `%s`.",
			req.IssueMessage, req.TargetFile),
		Head: req.Branch,
		Base: "main",
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Pull request opened", "url", pr.URL, "project", req.Project)
	return pr, nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w\n%s", args[0], err, string(out))
	}
	return nil
}

// safeRepoJoin joins base and rel, rejecting results that escape base.
// rel originates from analyzer findings and model output, neither of
// which is trusted.
func safeRepoJoin(base, rel string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolving repo root: %w", err)
	}
	joined := filepath.Join(absBase, filepath.Clean(rel))
	if joined != absBase && !strings.HasPrefix(joined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes repo root", rel)
	}
	return joined, nil
}

// redactToken scrubs the credential from an error before it reaches
// logs or the durable store.
func redactToken(err error, token string) error {
	if token == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "***"))
}
