package hosting

import (
	"context"
	"fmt"
	"strings"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

// Provider abstracts the code-hosting platform used to publish fixes.
type Provider interface {
	// Name identifies the platform: "github" or "gitlab".
	Name() string

	// AuthToken returns the credential used for pushes. Never log it.
	AuthToken() string

	// CreatePullRequest opens a pull/merge request from head against
	// base and returns its HTML URL.
	CreatePullRequest(ctx context.Context, owner, repo string, pr PullRequestSpec) (*models.PullRequest, error)
}

// PullRequestSpec describes the pull request to open.
type PullRequestSpec struct {
	Title string
	Body  string
	Head  string // fix branch
	Base  string // usually "main"
}

// ForURL selects the provider matching a repository URL.
func ForURL(cfg config.GitConfig, repoURL string) (Provider, error) {
	switch {
	case strings.Contains(repoURL, "gitlab"):
		return NewGitLab(cfg.GitLab)
	case strings.Contains(repoURL, "github"):
		return NewGitHub(cfg.GitHub)
	default:
		return nil, fmt.Errorf("no hosting provider for %s", repoURL)
	}
}

// InjectToken embeds a push credential into an https remote URL.
// Returns the URL unchanged when token is empty or the URL has no scheme.
func InjectToken(repoURL, token string) string {
	if token == "" || !strings.Contains(repoURL, "://") {
		return repoURL
	}
	parts := strings.SplitN(repoURL, "://", 2)
	return parts[0] + "://oauth2:" + token + "@" + parts[1]
}

// SplitProject breaks an "owner/repo" project name into its parts.
func SplitProject(project string) (owner, repo string, err error) {
	parts := strings.SplitN(project, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("project name %q is not owner/repo", project)
	}
	return parts[0], parts[1], nil
}
