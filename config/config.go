// Package config loads and validates factflow configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds a collaborator can be built from.
const (
	KindHTTP      = "http"
	KindMCP       = "mcp"
	KindWebSearch = "websearch"
)

var (
	knownSources   = []string{"kb", "notion", "github", "web"}
	knownProviders = []string{"openai", "groq", "claude", "anthropic", "gemini", "google"}
	knownBackends  = []string{"memory", "redis", "postgres", "mongo"}
)

// Config is the top-level configuration.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Sources   []SourceConfig  `yaml:"sources"`
	Session   SessionConfig   `yaml:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ProviderConfig selects the oracle vendor.
type ProviderConfig struct {
	Name              string        `yaml:"name"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float64       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// PipelineConfig holds the retry budgets and thresholds.
type PipelineConfig struct {
	MaxPlanRetries        int           `yaml:"max_plan_retries"`
	MaxRefineRetries      int           `yaml:"max_refine_retries"`
	MaxQualityAttempts    int           `yaml:"max_quality_attempts"`
	ScoreThreshold        float64       `yaml:"score_threshold"`
	ScoreScale            float64       `yaml:"score_scale"`
	NonFactCheckable      []string      `yaml:"non_fact_checkable"`
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
	MaxContextTokens      int           `yaml:"max_context_tokens"`
	RetrievalTimeout      time.Duration `yaml:"retrieval_timeout"`
	Encoding              string        `yaml:"encoding"`
}

// SourceConfig describes one retrieval collaborator.
type SourceConfig struct {
	Name       string            `yaml:"name"`
	Kind       string            `yaml:"kind"`
	Endpoint   string            `yaml:"endpoint"`
	APIKey     string            `yaml:"api_key"`
	TopK       int               `yaml:"top_k"`
	Command    []string          `yaml:"command"`
	Env        []string          `yaml:"env"`
	Tool       string            `yaml:"tool"`
	Args       map[string]string `yaml:"args"`
	MaxResults int               `yaml:"max_results"`
	QPS        float64           `yaml:"qps"`
}

// SessionConfig selects the history backend.
type SessionConfig struct {
	Backend    string `yaml:"backend"`
	MaxEntries int    `yaml:"max_entries"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	// Exporter is otlp, stdout or none; empty picks from Endpoint.
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:      "openai",
			MaxTokens: 2048,
			Timeout:   60 * time.Second,
		},
		Pipeline: PipelineConfig{
			MaxPlanRetries:        3,
			MaxRefineRetries:      3,
			MaxQualityAttempts:    2,
			ScoreThreshold:        1.0,
			ScoreScale:            1,
			NonFactCheckable:      []string{"github"},
			MaxConcurrentRequests: 16,
			MaxContextTokens:      6000,
			RetrievalTimeout:      30 * time.Second,
		},
		Session: SessionConfig{
			Backend:    "memory",
			MaxEntries: 5,
		},
		Telemetry: TelemetryConfig{ServiceName: "factflow"},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path on top of the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FACTFLOW_* variables and fills the provider
// API key from the vendor's conventional variable when unset.
func (c *Config) ApplyEnv() {
	setString(&c.Provider.Name, "FACTFLOW_PROVIDER")
	setString(&c.Provider.Model, "FACTFLOW_MODEL")
	setString(&c.Provider.BaseURL, "FACTFLOW_BASE_URL")
	setString(&c.Session.Backend, "FACTFLOW_SESSION_BACKEND")
	setString(&c.Log.Level, "FACTFLOW_LOG_LEVEL")
	setString(&c.Log.Format, "FACTFLOW_LOG_FORMAT")
	setString(&c.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	if v, err := strconv.ParseFloat(os.Getenv("FACTFLOW_SCORE_THRESHOLD"), 64); err == nil {
		c.Pipeline.ScoreThreshold = v
	}
	if v, err := strconv.Atoi(os.Getenv("FACTFLOW_MAX_CONCURRENT_REQUESTS")); err == nil {
		c.Pipeline.MaxConcurrentRequests = v
	}

	if c.Provider.APIKey == "" {
		switch strings.ToLower(c.Provider.Name) {
		case "openai":
			c.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			c.Provider.APIKey = os.Getenv("GROQ_API_KEY")
		case "claude", "anthropic":
			c.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini", "google":
			c.Provider.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	v := NewValidator()

	v.ValidateOneOf("provider.name", strings.ToLower(c.Provider.Name), knownProviders...)
	v.RequirePositive("provider.max_tokens", c.Provider.MaxTokens)
	v.ValidateFloatRange("provider.temperature", c.Provider.Temperature, 0.0, 2.0)
	v.ValidateDuration("provider.timeout", c.Provider.Timeout, time.Second)
	v.ValidateFloatRange("provider.requests_per_second", c.Provider.RequestsPerSecond, 0, 10000)
	if c.Provider.RequestsPerSecond > 0 {
		v.RequirePositive("provider.burst", c.Provider.Burst)
	}

	p := c.Pipeline
	v.RequirePositive("pipeline.max_plan_retries", p.MaxPlanRetries)
	v.RequirePositive("pipeline.max_refine_retries", p.MaxRefineRetries)
	v.RequirePositive("pipeline.max_quality_attempts", p.MaxQualityAttempts)
	v.ValidateFloatRange("pipeline.score_threshold", p.ScoreThreshold, 0, 1)
	if p.ScoreScale != 1 && p.ScoreScale != 100 {
		v.ValidateOneOf("pipeline.score_scale", strconv.FormatFloat(p.ScoreScale, 'f', -1, 64), "1", "100")
	}
	v.ValidateEach("pipeline.non_fact_checkable", p.NonFactCheckable, knownSources...)
	v.ValidateRange("pipeline.max_concurrent_requests", p.MaxConcurrentRequests, 1, 1024)
	v.RequirePositive("pipeline.max_context_tokens", p.MaxContextTokens)
	v.ValidateDuration("pipeline.retrieval_timeout", p.RetrievalTimeout, time.Second)

	seen := make(map[string]bool)
	for i, s := range c.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		v.ValidateOneOf(field+".name", s.Name, knownSources...)
		if seen[s.Name] {
			v.Add(field+".name", "duplicate source %q", s.Name)
		}
		seen[s.Name] = true

		v.ValidateOneOf(field+".kind", s.Kind, KindHTTP, KindMCP, KindWebSearch)
		switch s.Kind {
		case KindHTTP:
			v.RequireNonEmpty(field+".endpoint", s.Endpoint)
		case KindMCP:
			v.RequireNonEmpty(field+".tool", s.Tool)
			if s.Endpoint == "" && len(s.Command) == 0 {
				v.Add(field, "mcp source needs an endpoint or a command")
			}
		}
	}

	v.ValidateOneOf("session.backend", c.Session.Backend, knownBackends...)
	v.ValidateRange("session.max_entries", c.Session.MaxEntries, 1, 100)
	v.ValidateOneOf("log.level", strings.ToLower(c.Log.Level), "debug", "info", "warn", "error")
	if c.Telemetry.Exporter != "" {
		v.ValidateOneOf("telemetry.exporter", c.Telemetry.Exporter, "otlp", "stdout", "none")
	}
	v.ValidateOneOf("log.format", strings.ToLower(c.Log.Format), "json", "text")

	return v.Error()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
