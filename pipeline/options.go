package pipeline

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweetpotato0/factflow/config"
	"github.com/sweetpotato0/factflow/pkg/logging"
	"github.com/sweetpotato0/factflow/pkg/tokenizer"
	"github.com/sweetpotato0/factflow/retrieval"
	"github.com/sweetpotato0/factflow/session"
)

// DefaultDegradedAnswer is returned when execution yields no usable answer.
const DefaultDegradedAnswer = "No valid answer generated"

// Config controls the retry budgets, thresholds and collaborators of the
// pipeline.
type Config struct {
	Name                  string             // Logical name for tracing/logging
	MaxPlanRetries        int                // Planner calls allowed per negotiation round
	MaxRefineRetries      int                // Negotiation rounds, one refiner call each
	MaxQualityAttempts    int                // Evaluations allowed in the quality loop
	ScoreThreshold        float64            // Normalized 0-1 score that passes without edits
	ScoreScale            float64            // Scale the evaluator reports on, 1 or 100
	NonFactCheckable      []retrieval.Source // Sources whose documents bypass the quality loop
	MaxHistory            int                // Exchanges kept per session
	MaxConcurrentRequests int                // In-flight Run calls
	MaxContextTokens      int                // Token budget for documents in one prompt
	MinDocumentTokens     int                // Floor for a single document's share of the budget
	RetrievalTimeout      time.Duration      // Per collaborator call, zero disables
	GraphMaxVisits        int                // Safety guard for state machine traversal
	DegradedAnswer        string             // Final answer when execution fails

	prompts   map[string]string
	tokenizer tokenizer.Tokenizer
	sessions  *session.Manager
	logger    *slog.Logger
}

// Option customises the pipeline configuration.
type Option func(*Config)

// WithName sets the logical name used in logs and spans.
func WithName(name string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(name) != "" {
			cfg.Name = name
		}
	}
}

// WithMaxPlanRetries caps planner calls per negotiation round.
func WithMaxPlanRetries(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxPlanRetries = n
		}
	}
}

// WithMaxRefineRetries caps negotiation rounds.
func WithMaxRefineRetries(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxRefineRetries = n
		}
	}
}

// WithMaxQualityAttempts caps evaluations in the quality loop.
func WithMaxQualityAttempts(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxQualityAttempts = n
		}
	}
}

// WithScoreThreshold sets the normalized score that passes without edits.
func WithScoreThreshold(threshold float64) Option {
	return func(cfg *Config) {
		if threshold >= 0 && threshold <= 1 {
			cfg.ScoreThreshold = threshold
		}
	}
}

// WithScoreScale declares whether the evaluator scores on 0-1 or 0-100.
func WithScoreScale(scale float64) Option {
	return func(cfg *Config) {
		if scale == 1 || scale == 100 {
			cfg.ScoreScale = scale
		}
	}
}

// WithNonFactCheckable replaces the set of sources that bypass the quality loop.
func WithNonFactCheckable(sources ...retrieval.Source) Option {
	return func(cfg *Config) {
		cfg.NonFactCheckable = append([]retrieval.Source(nil), sources...)
	}
}

// WithMaxHistory sets how many exchanges each session keeps.
func WithMaxHistory(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxHistory = n
		}
	}
}

// WithMaxConcurrentRequests bounds in-flight Run calls.
func WithMaxConcurrentRequests(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxConcurrentRequests = n
		}
	}
}

// WithMaxContextTokens sets the document token budget per prompt.
func WithMaxContextTokens(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxContextTokens = n
		}
	}
}

// WithRetrievalTimeout bounds every collaborator call.
func WithRetrievalTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		if d >= 0 {
			cfg.RetrievalTimeout = d
		}
	}
}

// WithGraphMaxVisits tweaks the safety guard for graph traversal.
func WithGraphMaxVisits(max int) Option {
	return func(cfg *Config) {
		if max > 0 {
			cfg.GraphMaxVisits = max
		}
	}
}

// WithDegradedAnswer customises the answer returned when execution fails.
func WithDegradedAnswer(answer string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(answer) != "" {
			cfg.DegradedAnswer = answer
		}
	}
}

// WithPrompt overrides one named prompt template.
func WithPrompt(name, content string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(content) == "" {
			return
		}
		if cfg.prompts == nil {
			cfg.prompts = make(map[string]string)
		}
		cfg.prompts[name] = content
	}
}

// WithTokenizer plugs in the tokenizer used for context budgeting.
func WithTokenizer(tk tokenizer.Tokenizer) Option {
	return func(cfg *Config) {
		if tk != nil {
			cfg.tokenizer = tk
		}
	}
}

// WithSessions injects the session manager owning conversation history.
func WithSessions(m *session.Manager) Option {
	return func(cfg *Config) {
		if m != nil {
			cfg.sessions = m
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *Config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// FromConfig translates the file configuration into options.
func FromConfig(c config.PipelineConfig) []Option {
	opts := []Option{
		WithMaxPlanRetries(c.MaxPlanRetries),
		WithMaxRefineRetries(c.MaxRefineRetries),
		WithMaxQualityAttempts(c.MaxQualityAttempts),
		WithScoreThreshold(c.ScoreThreshold),
		WithScoreScale(c.ScoreScale),
		WithMaxConcurrentRequests(c.MaxConcurrentRequests),
		WithMaxContextTokens(c.MaxContextTokens),
		WithRetrievalTimeout(c.RetrievalTimeout),
	}
	if c.NonFactCheckable != nil {
		sources := make([]retrieval.Source, 0, len(c.NonFactCheckable))
		for _, s := range c.NonFactCheckable {
			if src, ok := retrieval.ParseSource(s); ok {
				sources = append(sources, src)
			}
		}
		opts = append(opts, WithNonFactCheckable(sources...))
	}
	return opts
}

func defaultConfig() *Config {
	return &Config{
		Name:                  "factflow",
		MaxPlanRetries:        3,
		MaxRefineRetries:      3,
		MaxQualityAttempts:    2,
		ScoreThreshold:        1.0,
		ScoreScale:            1,
		NonFactCheckable:      []retrieval.Source{retrieval.SourceGitHub},
		MaxHistory:            session.DefaultMaxEntries,
		MaxConcurrentRequests: 16,
		MaxContextTokens:      6000,
		MinDocumentTokens:     64,
		RetrievalTimeout:      30 * time.Second,
		GraphMaxVisits:        10,
		DegradedAnswer:        DefaultDegradedAnswer,
	}
}

func applyOptions(opts []Option) (*Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.tokenizer == nil {
		cfg.tokenizer = tokenizer.NewSimple()
	}
	if cfg.logger == nil {
		cfg.logger = logging.WithComponent("pipeline").With("pipeline", cfg.Name)
	}

	v := config.NewValidator()
	v.RequirePositive("max_plan_retries", cfg.MaxPlanRetries)
	v.RequirePositive("max_refine_retries", cfg.MaxRefineRetries)
	v.RequirePositive("max_quality_attempts", cfg.MaxQualityAttempts)
	v.ValidateFloatRange("score_threshold", cfg.ScoreThreshold, 0, 1)
	v.RequirePositive("max_context_tokens", cfg.MaxContextTokens)
	for _, src := range cfg.NonFactCheckable {
		if _, ok := retrieval.ParseSource(string(src)); !ok {
			v.ValidateOneOf("non_fact_checkable", string(src), "kb", "notion", "github", "web")
		}
	}
	if err := v.Error(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return cfg, nil
}

func (c *Config) nonFactCheckable(src retrieval.Source) bool {
	for _, s := range c.NonFactCheckable {
		if s == src {
			return true
		}
	}
	return false
}
