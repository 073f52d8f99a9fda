package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeExecutor records invocations and returns scripted exit codes.
type fakeExecutor struct {
	mu    sync.Mutex
	codes map[string]int // tool container → exit code
	calls map[string][]string
}

func newFakeExecutor(codes map[string]int) *fakeExecutor {
	return &fakeExecutor{codes: codes, calls: map[string][]string{}}
}

func (f *fakeExecutor) Exec(ctx context.Context, container string, cmd []string) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[container] = cmd
	return f.codes[container], "", nil
}

func seedSource(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	for name, content := range map[string]string{
		"app.py":          "print('hello')\n",
		"lib/util.py":     "x = 1\n",
		"requirements.txt": "flask\n",
	} {
		path := filepath.Join(src, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return src
}

func TestRunCollectsReportsFromAllowedExits(t *testing.T) {
	src := seedSource(t)
	ws, err := PrepareWorkspace(t.TempDir(), src, nil)
	if err != nil {
		t.Fatalf("preparing workspace: %v", err)
	}

	exec := newFakeExecutor(map[string]int{"semgrep": 0, "gitleaks": 0, "trivy": 1})
	driver := NewDriver(exec, ToolOverrides{})

	reports := driver.Run(context.Background(), Request{Workspace: ws, Project: "acme/shop"})

	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2 (trivy exit 1 dropped)", len(reports))
	}
	for _, r := range reports {
		if strings.Contains(r, "trivy") {
			t.Errorf("trivy report collected despite disallowed exit: %s", r)
		}
	}
	if _, ok := exec.calls["zap"]; ok {
		t.Error("zap ran without a target URL")
	}
}

func TestDASTToleratesFindingsExitCodes(t *testing.T) {
	src := seedSource(t)
	ws, err := PrepareWorkspace(t.TempDir(), src, nil)
	if err != nil {
		t.Fatalf("preparing workspace: %v", err)
	}

	exec := newFakeExecutor(map[string]int{"zap": 2})
	driver := NewDriver(exec, ToolOverrides{})

	reports := driver.Run(context.Background(), Request{
		Workspace: ws,
		Project:   "acme/shop",
		TargetURL: "http://localhost:5000",
	})

	var sawZap bool
	for _, r := range reports {
		if strings.Contains(r, "zap") {
			sawZap = true
		}
	}
	if !sawZap {
		t.Error("zap exit 2 should be allowed (findings present)")
	}
}

func TestDeltaModePassesExistingFilesOnly(t *testing.T) {
	src := seedSource(t)
	changed := []string{"app.py", "lib/util.py", "deleted.py", "/etc/passwd"}
	ws, err := PrepareWorkspace(t.TempDir(), src, changed)
	if err != nil {
		t.Fatalf("preparing workspace: %v", err)
	}

	exec := newFakeExecutor(map[string]int{})
	driver := NewDriver(exec, ToolOverrides{})
	driver.Run(context.Background(), Request{Workspace: ws, Project: "acme/shop", ChangedFiles: changed})

	semgrep := strings.Join(exec.calls["semgrep"], " ")
	if !strings.Contains(semgrep, "app.py") || !strings.Contains(semgrep, filepath.Join("lib", "util.py")) {
		t.Errorf("semgrep missing delta targets: %s", semgrep)
	}
	if strings.Contains(semgrep, "deleted.py") {
		t.Errorf("semgrep given a nonexistent file: %s", semgrep)
	}

	gitleaks := strings.Join(exec.calls["gitleaks"], " ")
	if !strings.Contains(gitleaks, "--no-git") {
		t.Errorf("gitleaks should use --no-git in delta mode: %s", gitleaks)
	}
}

func TestDeltaModeFallsBackToFullTree(t *testing.T) {
	src := seedSource(t)
	changed := []string{"gone.py"}
	ws, err := PrepareWorkspace(t.TempDir(), src, changed)
	if err != nil {
		t.Fatalf("preparing workspace: %v", err)
	}

	exec := newFakeExecutor(map[string]int{})
	driver := NewDriver(exec, ToolOverrides{})
	driver.Run(context.Background(), Request{Workspace: ws, Project: "acme/shop", ChangedFiles: changed})

	semgrep := strings.Join(exec.calls["semgrep"], " ")
	if !strings.Contains(semgrep, ws.SourceDir) {
		t.Errorf("semgrep should fall back to the full workspace: %s", semgrep)
	}
}

func TestWorkspaceDeltaCopySanitizesPaths(t *testing.T) {
	src := seedSource(t)
	ws, err := PrepareWorkspace(t.TempDir(), src, []string{"/app.py", "../../etc/passwd"})
	if err != nil {
		t.Fatalf("preparing workspace: %v", err)
	}

	if _, err := os.Stat(filepath.Join(ws.SourceDir, "app.py")); err != nil {
		t.Errorf("sanitized leading slash should still copy app.py: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws.SourceDir, "lib", "util.py")); err == nil {
		t.Error("unchanged file copied in delta mode")
	}
}

func TestToolOverridesApply(t *testing.T) {
	src := seedSource(t)
	ws, err := PrepareWorkspace(t.TempDir(), src, nil)
	if err != nil {
		t.Fatalf("preparing workspace: %v", err)
	}

	exec := newFakeExecutor(map[string]int{"trivy": 1})
	driver := NewDriver(exec, ToolOverrides{
		"trivy": {AllowedExitCodes: []int{0, 1}, ExtraArgs: []string{"--severity", "HIGH,CRITICAL"}},
	})

	reports := driver.Run(context.Background(), Request{Workspace: ws, Project: "acme/shop"})

	var sawTrivy bool
	for _, r := range reports {
		if strings.Contains(r, "trivy") {
			sawTrivy = true
		}
	}
	if !sawTrivy {
		t.Error("override should allow trivy exit 1")
	}
	if cmd := strings.Join(exec.calls["trivy"], " "); !strings.Contains(cmd, "--severity HIGH,CRITICAL") {
		t.Errorf("extra args not applied: %s", cmd)
	}
}

func TestExtraArgsPrecedePositionalTargets(t *testing.T) {
	src := seedSource(t)
	ws, err := PrepareWorkspace(t.TempDir(), src, nil)
	if err != nil {
		t.Fatalf("preparing workspace: %v", err)
	}

	exec := newFakeExecutor(map[string]int{})
	driver := NewDriver(exec, ToolOverrides{
		"semgrep": {ExtraArgs: []string{"--config=p/django"}},
		"trivy":   {ExtraArgs: []string{"--severity", "HIGH,CRITICAL"}},
	})
	driver.Run(context.Background(), Request{Workspace: ws, Project: "acme/shop"})

	argIndex := func(cmd []string, arg string) int {
		for i, a := range cmd {
			if a == arg {
				return i
			}
		}
		return -1
	}

	semgrep := exec.calls["semgrep"]
	flag, target := argIndex(semgrep, "--config=p/django"), argIndex(semgrep, ws.SourceDir)
	if flag == -1 || target == -1 || flag > target {
		t.Errorf("semgrep flags must come before the scan target: %v", semgrep)
	}

	trivy := exec.calls["trivy"]
	flag, target = argIndex(trivy, "--severity"), argIndex(trivy, ws.SourceDir)
	if flag == -1 || target == -1 || flag > target {
		t.Errorf("trivy flags must come before the scan target: %v", trivy)
	}
}
