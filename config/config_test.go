package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "factflow.yaml")
	content := `
provider:
  name: claude
  model: claude-3-5-sonnet-latest
  timeout: 45s
pipeline:
  score_scale: 100
  score_threshold: 0.9
  non_fact_checkable: [github, web]
sources:
  - name: kb
    kind: http
    endpoint: http://localhost:8081/search
    top_k: 4
  - name: github
    kind: mcp
    command: [github-mcp-server, stdio]
    tool: search_code
session:
  backend: redis
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.Name != "claude" || cfg.Provider.APIKey != "sk-ant" {
		t.Errorf("unexpected provider %+v", cfg.Provider)
	}
	if cfg.Provider.Timeout != 45*time.Second {
		t.Errorf("timeout = %s", cfg.Provider.Timeout)
	}
	if cfg.Pipeline.ScoreScale != 100 || cfg.Pipeline.ScoreThreshold != 0.9 {
		t.Errorf("unexpected pipeline %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.MaxPlanRetries != 3 {
		t.Errorf("defaults should survive partial files, got %d", cfg.Pipeline.MaxPlanRetries)
	}
	if len(cfg.Sources) != 2 || cfg.Sources[1].Tool != "search_code" {
		t.Errorf("unexpected sources %+v", cfg.Sources)
	}
	if cfg.Session.Backend != "redis" {
		t.Errorf("backend = %s", cfg.Session.Backend)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FACTFLOW_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("FACTFLOW_SESSION_BACKEND", "mongo")
	t.Setenv("FACTFLOW_SCORE_THRESHOLD", "0.75")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.Name != "gemini" || cfg.Provider.APIKey != "g-key" {
		t.Errorf("unexpected provider %+v", cfg.Provider)
	}
	if cfg.Session.Backend != "mongo" {
		t.Errorf("backend = %s", cfg.Session.Backend)
	}
	if cfg.Pipeline.ScoreThreshold != 0.75 {
		t.Errorf("threshold = %v", cfg.Pipeline.ScoreThreshold)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Provider.Name = "cohere"
	cfg.Pipeline.ScoreScale = 10
	cfg.Pipeline.NonFactCheckable = []string{"jira"}
	cfg.Sources = []SourceConfig{
		{Name: "kb", Kind: KindHTTP},
		{Name: "kb", Kind: KindMCP},
	}
	cfg.Session.Backend = "etcd"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, field := range []string{
		"provider.name",
		"pipeline.score_scale",
		"pipeline.non_fact_checkable[0]",
		"sources[0].endpoint",
		"sources[1].name",
		"sources[1].tool",
		"session.backend",
	} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("expected error to mention %s, got:\n%v", field, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
