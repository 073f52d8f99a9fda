package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Executor runs a command inside a named analyzer container. The
// production implementation shells out to docker exec; tests substitute
// a fake.
type Executor interface {
	Exec(ctx context.Context, container string, cmd []string) (exitCode int, stderr string, err error)
}

// DockerExecutor executes commands via docker exec against long-running
// tool containers.
type DockerExecutor struct{}

func (DockerExecutor) Exec(ctx context.Context, container string, cmd []string) (int, string, error) {
	args := append([]string{"exec", container}, cmd...)
	c := exec.CommandContext(ctx, "docker", args...)
	var stderr strings.Builder
	c.Stderr = &stderr
	err := c.Run()
	if err == nil {
		return 0, stderr.String(), nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), stderr.String(), nil
	}
	return -1, stderr.String(), err
}

// tool is one analyzer invocation with its success policy. Positional
// targets are kept apart from cmd so override flags can be spliced in
// front of them.
type tool struct {
	name         string
	container    string
	cmd          []string
	targets      []string
	reportPath   string
	allowedCodes []int
}

// Driver launches the configured analyzer set against a prepared
// workspace and collects the report files of the tools that succeeded.
type Driver struct {
	exec    Executor
	overlay ToolOverrides
}

// NewDriver builds a Driver using exec. overrides may be empty.
func NewDriver(exec Executor, overrides ToolOverrides) *Driver {
	return &Driver{exec: exec, overlay: overrides}
}

// Request describes one analyzer run over a prepared workspace.
type Request struct {
	Workspace    *Workspace
	Project      string
	TargetURL    string   // non-empty enables the DAST baseline scan
	ExtraRules   []string // additional static-analyzer rule packs
	ChangedFiles []string // delta scope for the static analyzer
}

// Run executes every tool in parallel and returns the report paths of
// the tools whose exit code was allowed. A tool failing never fails the
// run; it is dropped with an error log.
func (d *Driver) Run(ctx context.Context, req Request) []string {
	tools := d.buildTools(req)

	var mu sync.Mutex
	var reports []string
	var wg sync.WaitGroup

	start := time.Now()
	for _, t := range tools {
		wg.Add(1)
		go func(t tool) {
			defer wg.Done()
			if d.runTool(ctx, t) {
				mu.Lock()
				reports = append(reports, t.reportPath)
				mu.Unlock()
			}
		}(t)
	}
	wg.Wait()

	slog.Info("Parallel scans completed",
		"project", req.Project,
		"tools", len(tools),
		"reports", len(reports),
		"duration_ms", time.Since(start).Milliseconds())
	return reports
}

func (d *Driver) runTool(ctx context.Context, t tool) bool {
	preview := strings.Join(t.cmd[:min(len(t.cmd), 5)], " ")
	slog.Info("Starting tool", "tool", t.name, "command_preview", preview)

	start := time.Now()
	code, stderr, err := d.exec.Exec(ctx, t.container, t.cmd)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		slog.Error("Tool launch failed",
			"event", "tool_exec_error", "tool", t.name, "error", err, "duration_ms", duration)
		return false
	}

	for _, allowed := range t.allowedCodes {
		if code == allowed {
			slog.Info("Tool completed",
				"event", "tool_exec_completed", "tool", t.name, "exit_code", code, "duration_ms", duration)
			return true
		}
	}

	slog.Error("Tool exited outside allow-list",
		"event", "tool_exec_failed",
		"tool", t.name,
		"exit_code", code,
		"stderr_preview", truncate(stderr, 200),
		"duration_ms", duration)
	return false
}

// buildTools assembles the fixed tool set for this request.
func (d *Driver) buildTools(req Request) []tool {
	ws := req.Workspace

	semgrepCmd := []string{
		"semgrep", "scan", "--disable-nosem",
		"--config=p/default", "--config=p/owasp-top-ten", "--config=p/secrets",
	}
	for _, rule := range req.ExtraRules {
		semgrepCmd = append(semgrepCmd, "--config="+rule)
	}
	semgrepCmd = append(semgrepCmd, "--sarif", "--quiet", "-o", ws.ReportPath("semgrep", "sarif"))

	gitleaksCmd := []string{
		"gitleaks", "detect",
		"--source=" + ws.SourceDir,
		"--report-path=" + ws.ReportPath("gitleaks", "json"),
		"--redact", "--no-banner", "--exit-code=0",
	}
	if len(req.ChangedFiles) > 0 {
		// Delta workspaces carry no .git directory.
		gitleaksCmd = append(gitleaksCmd, "--no-git")
	}

	tools := []tool{
		{
			name: "semgrep", container: "semgrep",
			cmd: semgrepCmd, targets: d.semgrepTargets(req),
			reportPath:   ws.ReportPath("semgrep", "sarif"),
			allowedCodes: []int{0},
		},
		{
			name: "gitleaks", container: "gitleaks",
			cmd: gitleaksCmd, reportPath: ws.ReportPath("gitleaks", "json"),
			allowedCodes: []int{0},
		},
		{
			name: "trivy", container: "trivy",
			cmd: []string{
				"trivy", "fs", "--format", "sarif",
				"--output", ws.ReportPath("trivy", "sarif"),
				"--scanners", "vuln,secret,config",
			},
			targets:      []string{ws.SourceDir},
			reportPath:   ws.ReportPath("trivy", "sarif"),
			allowedCodes: []int{0},
		},
	}

	if req.TargetURL != "" {
		report := ws.ReportPath("zap", "json")
		tools = append(tools, tool{
			name: "zap", container: "zap",
			cmd: []string{
				"sh", "-c",
				fmt.Sprintf("zap-baseline.py -t %s -J zap_report.json -m 5; cp /zap/wrk/zap_report.json %s", req.TargetURL, report),
			},
			reportPath: report,
			// Non-zero means findings present, not failure.
			allowedCodes: []int{0, 1, 2},
		})
	}

	for i := range tools {
		d.overlay.apply(&tools[i])
		tools[i].cmd = append(tools[i].cmd, tools[i].targets...)
	}
	return tools
}

// semgrepTargets narrows the static analyzer to the changed files that
// exist in the workspace, falling back to the full tree when none do.
func (d *Driver) semgrepTargets(req Request) []string {
	if len(req.ChangedFiles) == 0 {
		return []string{req.Workspace.SourceDir}
	}

	var targets []string
	for _, f := range req.ChangedFiles {
		safe := sanitizeRelPath(f)
		if safe == "" {
			continue
		}
		abs := filepath.Join(req.Workspace.SourceDir, safe)
		if _, err := os.Stat(abs); err == nil {
			targets = append(targets, abs)
		}
	}
	if len(targets) == 0 {
		slog.Warn("No changed files present in workspace, scanning full tree")
		return []string{req.Workspace.SourceDir}
	}
	slog.Info("Delta scan scope", "files", len(targets))
	return targets
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
