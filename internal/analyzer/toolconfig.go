package analyzer

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// ToolOverride adjusts a single tool's invocation.
type ToolOverride struct {
	// ExtraArgs are added to the tool command line ahead of any
	// positional targets.
	ExtraArgs []string `yaml:"extra_args"`
	// AllowedExitCodes replaces the tool's exit-code allow-list.
	AllowedExitCodes []int `yaml:"allowed_exit_codes"`
	// Container overrides the container name the tool runs in.
	Container string `yaml:"container"`
}

// ToolOverrides maps tool name to its override block.
type ToolOverrides map[string]ToolOverride

// LoadToolOverrides reads per-tool overrides from a YAML file. An empty
// path yields an empty set.
func LoadToolOverrides(path string) (ToolOverrides, error) {
	if path == "" {
		return ToolOverrides{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tool config %s: %w", path, err)
	}
	var overrides ToolOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing tool config %s: %w", path, err)
	}
	return overrides, nil
}

func (o ToolOverrides) apply(t *tool) {
	override, ok := o[t.name]
	if !ok {
		return
	}
	t.cmd = append(t.cmd, override.ExtraArgs...)
	if len(override.AllowedExitCodes) > 0 {
		t.allowedCodes = override.AllowedExitCodes
	}
	if override.Container != "" {
		t.container = override.Container
	}
}
