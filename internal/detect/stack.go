package detect

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/AnaaaKareem/devsecops-pipeline/models"
)

var exposePattern = regexp.MustCompile(`(?i)EXPOSE\s+(\d+)`)

// skipDirs are pruned during the recursive entry-point search.
var skipDirs = map[string]bool{
	"node_modules": true,
	"venv":         true,
	".venv":        true,
	".git":         true,
	"__pycache__":  true,
	".cache":       true,
}

var entryCandidates = map[string][]string{
	"python": {"main.py", "app.py", "wsgi.py", "server.py", "manage.py", "run.py"},
	"node":   {"server.js", "app.js", "index.js", "main.js"},
}

// Stack inspects a source tree and classifies its application stack:
// language, web framework, listen port and start command. The verdict
// decides whether the coordinator deploys a DAST target for the scan.
func Stack(sourcePath string) models.StackInfo {
	info := models.StackInfo{Type: "unknown"}

	if port := dockerfilePort(filepath.Join(sourcePath, "Dockerfile")); port > 0 {
		info.Port = port
	}

	switch {
	case exists(filepath.Join(sourcePath, "requirements.txt")):
		info.Language = "python"
		analyzePython(sourcePath, &info)
	case exists(filepath.Join(sourcePath, "package.json")):
		info.Language = "node"
		analyzeNode(sourcePath, &info)
	case exists(filepath.Join(sourcePath, "main.go")) || exists(filepath.Join(sourcePath, "go.mod")):
		info.Language = "go"
	case exists(filepath.Join(sourcePath, "pom.xml")) || exists(filepath.Join(sourcePath, "build.gradle")):
		info.Language = "java"
	}

	if info.Port == 0 {
		switch {
		case info.Framework == "flask":
			info.Port = 5000
		case info.Framework == "fastapi", info.Framework == "django":
			info.Port = 8000
		case info.Framework == "express":
			info.Port = 3000
		case info.Language == "java":
			info.Port = 8080
		}
	}

	if info.Framework != "" || info.Port > 0 {
		info.Type = "web"
		info.Detected = true
	}
	return info
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// dockerfilePort returns the first EXPOSE directive's port, or 0.
func dockerfilePort(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	m := exposePattern.FindSubmatch(data)
	if m == nil {
		return 0
	}
	port, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0
	}
	return port
}

func analyzePython(sourcePath string, info *models.StackInfo) {
	data, err := os.ReadFile(filepath.Join(sourcePath, "requirements.txt"))
	if err == nil {
		reqs := strings.ToLower(string(data))
		switch {
		case strings.Contains(reqs, "flask"):
			info.Framework = "flask"
		case strings.Contains(reqs, "fastapi"):
			info.Framework = "fastapi"
		case strings.Contains(reqs, "django"):
			info.Framework = "django"
		}
	}

	if entry := findEntryPoint(sourcePath, "python"); entry != "" {
		info.StartCommand = "python3 " + entry
	}
}

func analyzeNode(sourcePath string, info *models.StackInfo) {
	data, err := os.ReadFile(filepath.Join(sourcePath, "package.json"))
	if err != nil {
		return
	}

	var pkg struct {
		Dependencies map[string]string `json:"dependencies"`
		Scripts      map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return
	}

	if _, ok := pkg.Dependencies["express"]; ok {
		info.Framework = "express"
	}
	if _, ok := pkg.Dependencies["nestjs"]; ok {
		info.Framework = "nest"
	}
	if _, ok := pkg.Scripts["start"]; ok {
		info.StartCommand = "npm start"
	}
}

// findEntryPoint looks for a well-known entry file, root first, then
// recursively with noise directories pruned. Returns a path relative to
// sourcePath, or "".
func findEntryPoint(sourcePath, language string) string {
	candidates := entryCandidates[language]
	for _, c := range candidates {
		if exists(filepath.Join(sourcePath, c)) {
			return c
		}
	}

	candidateSet := map[string]bool{}
	for _, c := range candidates {
		candidateSet[c] = true
	}

	var found string
	filepath.WalkDir(sourcePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if found == "" && candidateSet[d.Name()] {
			if rel, relErr := filepath.Rel(sourcePath, path); relErr == nil {
				found = rel
			}
			return filepath.SkipAll
		}
		return nil
	})
	return found
}
