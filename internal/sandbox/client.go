package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

// Client talks to the sandbox execution service: an isolated environment
// that applies patches, runs proof-of-concept exploits and deploys scan
// targets for DAST.
type Client struct {
	baseURL string
	client  *http.Client
}

// New builds a sandbox Client from cfg.
func New(cfg config.SandboxConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		// Sandbox operations build containers; give them room.
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Result is the outcome of a sandbox operation.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// DeployResult describes a deployed scan target.
type DeployResult struct {
	Success     bool   `json:"success"`
	URL         string `json:"url"`
	ContainerID string `json:"container_id"`
	Output      string `json:"output"`
}

// VerifyPatch applies patchCode to targetFile inside a copy of the
// source tree and reports whether the project still builds and runs.
func (c *Client) VerifyPatch(ctx context.Context, sourcePath, patchCode, targetFile string) (*Result, error) {
	var res Result
	err := c.post(ctx, "/verify_patch", map[string]string{
		"source_path": sourcePath,
		"patch_code":  patchCode,
		"target_file": targetFile,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// VerifyPoC executes an exploit proof-of-concept against the unpatched
// source and reports whether it succeeded.
func (c *Client) VerifyPoC(ctx context.Context, sourcePath, pocCode, fileExtension string) (*Result, error) {
	var res Result
	err := c.post(ctx, "/verify_poc", map[string]string{
		"source_path":    sourcePath,
		"poc_code":       pocCode,
		"file_extension": fileExtension,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Deploy starts the project as a live target and returns its URL.
func (c *Client) Deploy(ctx context.Context, sourcePath string, stack models.StackInfo) (*DeployResult, error) {
	payload := map[string]interface{}{
		"source_path": sourcePath,
		"port":        stack.Port,
	}
	if stack.StartCommand != "" {
		payload["start_cmd"] = stack.StartCommand
	}

	var res DeployResult
	if err := c.post(ctx, "/deploy", payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RedTeam asks the sandbox to attempt exploitation of a finding.
func (c *Client) RedTeam(ctx context.Context, finding models.Finding, project, sourcePath string) (*Result, error) {
	var res Result
	err := c.post(ctx, "/red_team", map[string]interface{}{
		"finding":     finding,
		"project":     project,
		"source_path": sourcePath,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling sandbox %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading sandbox %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sandbox %s returned %d: %s", path, resp.StatusCode, truncate(string(respBody), 200))
	}
	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("parsing sandbox %s response: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
