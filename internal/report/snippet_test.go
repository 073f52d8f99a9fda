package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

func TestPopulateSnippetsExtractsWindow(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 1; i <= 30; i++ {
		lines = append(lines, "line")
	}
	lines[14] = "query := fmt.Sprintf(\"SELECT ... %s\", input)"
	if err := os.WriteFile(filepath.Join(dir, "db.go"), []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	findings := []models.NormalizedFinding{{File: "db.go", Line: 15}}
	PopulateSnippets(findings, dir)

	if !strings.Contains(findings[0].Snippet, "SELECT") {
		t.Errorf("snippet missing flagged line: %q", findings[0].Snippet)
	}
	if n := len(strings.Split(findings[0].Snippet, "\n")); n > 2*snippetRadius {
		t.Errorf("window too large: %d lines", n)
	}
}

func TestSnippetLineClamping(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "short.py"), []byte("a\nb\nc"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	findings := []models.NormalizedFinding{
		{File: "short.py", Line: 9000},
		{File: "short.py", Line: 0},
	}
	PopulateSnippets(findings, dir)

	for i, f := range findings {
		if f.Snippet == "" || strings.HasPrefix(f.Snippet, "Source file") {
			t.Errorf("finding %d: clamping failed, snippet = %q", i, f.Snippet)
		}
	}
}

func TestSnippetPlaceholdersAreDistinct(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0o644); err != nil {
		t.Fatalf("writing empty file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "blank.txt"), []byte("\n\n\n\n\n\n\n\n"), 0o644); err != nil {
		t.Fatalf("writing blank file: %v", err)
	}

	findings := []models.NormalizedFinding{
		{File: "missing.go", Line: 1},
		{File: "empty.txt", Line: 1},
		{File: "blank.txt", Line: 4},
	}
	PopulateSnippets(findings, dir)

	want := []string{SnippetFileMissing, SnippetFileEmpty, SnippetWindowEmpty}
	seen := map[string]bool{}
	for i, f := range findings {
		if f.Snippet != want[i] {
			t.Errorf("finding %d: snippet = %q, want %q", i, f.Snippet, want[i])
		}
		if seen[f.Snippet] {
			t.Errorf("placeholder %q reused", f.Snippet)
		}
		seen[f.Snippet] = true
	}
}
