package hosting

import (
	"context"
	"fmt"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/AnaaaKareem/devsecops-pipeline/models"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// GitLabProvider implements Provider for GitLab cloud and self-hosted.
type GitLabProvider struct {
	client *gitlab.Client
	token  string
}

// NewGitLab creates a GitLabProvider from cfg.
func NewGitLab(cfg config.GitLabConfig) (*GitLabProvider, error) {
	opts := []gitlab.ClientOptionFunc{}
	if cfg.Host != "" && cfg.Host != "gitlab.com" {
		base := fmt.Sprintf("https://%s/api/v4/", cfg.Host)
		opts = append(opts, gitlab.WithBaseURL(base))
	}

	client, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GitLab client: %w", err)
	}

	return &GitLabProvider{client: client, token: cfg.Token}, nil
}

func (g *GitLabProvider) Name() string      { return "gitlab" }
func (g *GitLabProvider) AuthToken() string { return g.token }

// CreatePullRequest opens a merge request from spec.Head against spec.Base.
func (g *GitLabProvider) CreatePullRequest(ctx context.Context, owner, repo string, spec PullRequestSpec) (*models.PullRequest, error) {
	nameWithNS := owner + "/" + repo
	mr, _, err := g.client.MergeRequests.CreateMergeRequest(nameWithNS, &gitlab.CreateMergeRequestOptions{
		Title:        &spec.Title,
		Description:  &spec.Body,
		SourceBranch: &spec.Head,
		TargetBranch: &spec.Base,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("creating merge request on %s: %w", nameWithNS, err)
	}

	return &models.PullRequest{
		Number: int(mr.IID),
		Title:  mr.Title,
		URL:    mr.WebURL,
		State:  mr.State,
	}, nil
}
