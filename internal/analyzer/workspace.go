package analyzer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Workspace is a per-scan shared directory that analyzer containers
// mount. One task owns it exclusively until Remove.
type Workspace struct {
	// ID is the short unique id naming this scan session.
	ID string
	// Root is the shared directory holding source and reports.
	Root string
	// SourceDir is the copied source tree under Root.
	SourceDir string
}

// PrepareWorkspace copies the source tree into a fresh shared workspace.
// When changedFiles is non-empty only those files are copied (delta
// mode); paths are sanitized so a crafted entry cannot escape the
// source root. The workspace is made world-read/writable because the
// analyzers run as foreign users inside their own containers.
func PrepareWorkspace(workDir, sourcePath string, changedFiles []string) (*Workspace, error) {
	id := uuid.NewString()[:8]
	ws := &Workspace{
		ID:        id,
		Root:      workDir,
		SourceDir: filepath.Join(workDir, id+"_src"),
	}

	if err := os.MkdirAll(ws.SourceDir, 0o777); err != nil {
		return nil, fmt.Errorf("creating workspace %s: %w", ws.SourceDir, err)
	}

	if len(changedFiles) > 0 {
		slog.Info("Preparing delta workspace", "id", id, "files", len(changedFiles))
		for _, f := range changedFiles {
			safe := sanitizeRelPath(f)
			if safe == "" {
				continue
			}
			src := filepath.Join(sourcePath, safe)
			if _, err := os.Stat(src); err != nil {
				continue
			}
			dst := filepath.Join(ws.SourceDir, safe)
			if err := copyFile(src, dst); err != nil {
				return nil, fmt.Errorf("copying %s into workspace: %w", safe, err)
			}
		}
	} else {
		slog.Info("Preparing full workspace", "id", id)
		if err := copyTree(sourcePath, ws.SourceDir); err != nil {
			return nil, fmt.Errorf("copying source tree: %w", err)
		}
	}

	if err := worldWritable(ws.SourceDir); err != nil {
		slog.Warn("Could not open workspace permissions", "error", err)
	}
	return ws, nil
}

// ReportPath returns the workspace path for a tool's report file.
func (w *Workspace) ReportPath(tool, ext string) string {
	return filepath.Join(w.Root, fmt.Sprintf("%s_%s.%s", tool, w.ID, ext))
}

// Remove deletes the copied source and every report of this session.
func (w *Workspace) Remove() {
	if err := os.RemoveAll(w.SourceDir); err != nil {
		slog.Warn("Workspace source cleanup failed", "path", w.SourceDir, "error", err)
	}
	matches, err := filepath.Glob(filepath.Join(w.Root, "*_"+w.ID+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			slog.Warn("Report cleanup failed", "path", m, "error", err)
		}
	}
}

// sanitizeRelPath strips leading separators and rejects traversal
// segments, returning "" for paths that cannot be made safe.
func sanitizeRelPath(p string) string {
	p = strings.TrimLeft(p, "/\\")
	clean := filepath.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return ""
	}
	return clean
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o777)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func worldWritable(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.Chmod(path, 0o777)
		}
		return os.Chmod(path, 0o666)
	})
}
