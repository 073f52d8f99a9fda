package report

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

// Placeholder snippets. Every finding carries a snippet; when source
// context cannot be extracted the snippet says why.
const (
	SnippetFileMissing = "Source file not found in workspace."
	SnippetFileEmpty   = "File is empty."
	SnippetWindowEmpty = "Snippet window is empty."
)

const snippetRadius = 5

// PopulateSnippets attaches a source context window to each finding by
// reading sourceRoot + finding.File. The reported line is clamped to
// the file's length, so an out-of-range line still yields context.
func PopulateSnippets(findings []models.NormalizedFinding, sourceRoot string) {
	for i := range findings {
		findings[i].Snippet = extractSnippet(filepath.Join(sourceRoot, findings[i].File), findings[i].Line)
	}
}

func extractSnippet(path string, line int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return SnippetFileMissing
	}
	if len(data) == 0 {
		return SnippetFileEmpty
	}

	lines := strings.Split(string(data), "\n")

	// Clamp the 1-based line into range.
	if line < 1 {
		line = 1
	}
	if line > len(lines) {
		line = len(lines)
	}
	idx := line - 1

	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + snippetRadius
	if end > len(lines) {
		end = len(lines)
	}

	window := strings.Join(lines[start:end], "\n")
	if strings.TrimSpace(window) == "" {
		return SnippetWindowEmpty
	}
	return window
}
