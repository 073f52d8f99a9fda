package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
)

// newTestRepo initializes a git repo in a temp dir and returns a commit
// helper that writes files and commits them.
func newTestRepo(t *testing.T) (string, func(files map[string]string) string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("initializing repo: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("opening worktree: %v", err)
	}

	commit := func(files map[string]string) string {
		for name, content := range files {
			path := filepath.Join(dir, name)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				t.Fatalf("creating dir for %s: %v", name, err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("writing %s: %v", name, err)
			}
			if _, err := wt.Add(name); err != nil {
				t.Fatalf("staging %s: %v", name, err)
			}
		}
		hash, err := wt.Commit("update", &gogit.CommitOptions{
			Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
		})
		if err != nil {
			t.Fatalf("committing: %v", err)
		}
		return hash.String()
	}
	return dir, commit
}

func TestChangedFilesDiffsLastCommit(t *testing.T) {
	dir, commit := newTestRepo(t)
	commit(map[string]string{"app.py": "print(1)\n", "README.md": "hi\n"})
	commit(map[string]string{"app.py": "print(2)\n", "models/user.py": "class User: pass\n"})

	files := changedFiles(dir)
	if len(files) != 2 {
		t.Fatalf("files = %v, want 2 changed paths", files)
	}
	got := map[string]bool{}
	for _, f := range files {
		got[f] = true
	}
	if !got["app.py"] || !got["models/user.py"] {
		t.Errorf("unexpected changed set: %v", files)
	}
	if got["README.md"] {
		t.Error("untouched file reported as changed")
	}
}

func TestChangedFilesRootCommitFallsBack(t *testing.T) {
	dir, commit := newTestRepo(t)
	commit(map[string]string{"app.py": "print(1)\n"})

	if files := changedFiles(dir); files != nil {
		t.Errorf("files = %v, want nil for a repo with a single commit", files)
	}
}

func TestChangedFilesNoRepo(t *testing.T) {
	if files := changedFiles(t.TempDir()); files != nil {
		t.Errorf("files = %v, want nil for a plain directory", files)
	}
}

func TestTokenForURL(t *testing.T) {
	git := config.GitConfig{
		GitHub: config.GitHubConfig{Token: "gh-token"},
		GitLab: config.GitLabConfig{Token: "gl-token"},
	}

	cases := []struct {
		url  string
		want string
	}{
		{"https://github.com/acme/shop.git", "gh-token"},
		{"https://gitlab.example.com/acme/shop.git", "gl-token"},
		{"https://bitbucket.org/acme/shop.git", ""},
	}
	for _, tc := range cases {
		if got := tokenForURL(git, tc.url); got != tc.want {
			t.Errorf("tokenForURL(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestCloneLocalRepo(t *testing.T) {
	src, commit := newTestRepo(t)
	commit(map[string]string{"app.py": "print(1)\n"})
	sha := commit(map[string]string{"app.py": "print(2)\n"})

	dest := filepath.Join(t.TempDir(), "clone")
	if err := cloneRepo(t.Context(), config.GitConfig{}, src, sha, dest); err != nil {
		t.Fatalf("cloning: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "app.py"))
	if err != nil {
		t.Fatalf("reading cloned file: %v", err)
	}
	if string(data) != "print(2)\n" {
		t.Errorf("cloned content = %q", data)
	}
}

func TestCloneFailureCleansDest(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "clone")
	err := cloneRepo(t.Context(), config.GitConfig{}, filepath.Join(t.TempDir(), "missing"), "", dest)
	if err == nil {
		t.Fatal("expected clone error")
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("failed clone left its destination behind")
	}
}

func TestUsableDir(t *testing.T) {
	empty := t.TempDir()
	if usableDir(empty) {
		t.Error("empty dir reported usable")
	}
	if usableDir("") {
		t.Error("empty path reported usable")
	}
	full := t.TempDir()
	if err := os.WriteFile(filepath.Join(full, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !usableDir(full) {
		t.Error("populated dir reported unusable")
	}
}
