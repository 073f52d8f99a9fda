package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
)

// cloneRepo clones repoURL into dest with depth 2. Depth 2 keeps HEAD^
// available so delta detection can diff the last commit. When commit is
// set and not "latest", the worktree is checked out at that hash.
func cloneRepo(ctx context.Context, git config.GitConfig, repoURL, commit, dest string) error {
	opts := &gogit.CloneOptions{
		URL:   repoURL,
		Depth: 2,
	}
	if token := tokenForURL(git, repoURL); token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "oauth2", Password: token}
	}

	slog.Info("Cloning repository", "url", repoURL, "depth", 2, "dest", dest)
	repo, err := gogit.PlainCloneContext(ctx, dest, false, opts)
	if err != nil {
		os.RemoveAll(dest)
		return fmt.Errorf("cloning %s: %w", repoURL, err)
	}

	if commit != "" && commit != "latest" {
		wt, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("opening worktree: %w", err)
		}
		err = wt.Checkout(&gogit.CheckoutOptions{Hash: plumbing.NewHash(commit)})
		if err != nil {
			return fmt.Errorf("checking out %s: %w", commit, err)
		}
	}
	return nil
}

// tokenForURL returns the platform credential for known hosting domains.
func tokenForURL(git config.GitConfig, repoURL string) string {
	switch {
	case strings.Contains(repoURL, "github"):
		return git.GitHub.Token
	case strings.Contains(repoURL, "gitlab"):
		return git.GitLab.Token
	default:
		return ""
	}
}

// changedFiles diffs HEAD^..HEAD and returns the touched paths. A repo
// with no parent commit (or no repo at all) yields nil: the caller
// falls back to a full scan.
func changedFiles(path string) []string {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil
	}
	head, err := repo.Head()
	if err != nil {
		return nil
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil
	}
	parent, err := commit.Parent(0)
	if err != nil {
		return nil
	}

	headTree, err := commit.Tree()
	if err != nil {
		return nil
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil
	}

	changes, err := object.DiffTree(parentTree, headTree)
	if err != nil {
		slog.Warn("Delta detection failed", "error", err)
		return nil
	}

	seen := map[string]bool{}
	var files []string
	for _, ch := range changes {
		name := ch.To.Name
		if name == "" {
			name = ch.From.Name
		}
		if name != "" && !seen[name] {
			seen[name] = true
			files = append(files, name)
		}
	}
	return files
}
