package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/extract"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/prompt"
)

var evaluatorSchema = map[string]any{
	"score":     0.0,
	"reasoning": "string",
}

// score decodes a number or a numeric string such as "0.8".
type score float64

func (s *score) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*s = score(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("score must be a number, got %s", string(data))
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(str), "%"), 64)
	if err != nil {
		return fmt.Errorf("score must be a number, got %q", str)
	}
	*s = score(f)
	return nil
}

type evaluatorReply struct {
	Score     *score `json:"score"`
	Reasoning string `json:"reasoning"`
}

type evalInput struct {
	Question string
	Answer   string
	Contexts []string
	Trace    *Trace
}

type evaluator struct {
	oracle  llm.Client
	prompts *prompt.Set
	scale   float64
	logger  *slog.Logger
}

func newEvaluator(oracle llm.Client, prompts *prompt.Set, cfg *Config) *evaluator {
	return &evaluator{oracle: oracle, prompts: prompts, scale: cfg.ScoreScale, logger: cfg.logger}
}

func (e *evaluator) Name() string { return stageEvaluator }

// Process scores an answer against its contexts. A failed call or an
// unusable reply is reported both in the result's Error field and as the
// returned error.
func (e *evaluator) Process(ctx context.Context, in evalInput) (EvaluationResult, error) {
	trace := ensureTrace(in.Trace, in.Question)
	scoreRange := "0.0 to 1.0"
	if e.scale == 100 {
		scoreRange = "0 to 100"
	}
	system, err := e.prompts.Render(PromptEvaluatorSystem, map[string]any{"Range": scoreRange})
	if err != nil {
		return EvaluationResult{Error: err.Error()}, err
	}
	user, err := e.prompts.Render(PromptEvaluatorUser, map[string]any{
		"Question": in.Question,
		"Answer":   in.Answer,
		"Contexts": in.Contexts,
	})
	if err != nil {
		return EvaluationResult{Error: err.Error()}, err
	}

	raw, err := generate(ctx, e.oracle, trace, &llm.GenerateRequest{
		Stage:      stageEvaluator,
		System:     system,
		Prompt:     user,
		SchemaHint: evaluatorSchema,
	})
	if err != nil {
		return EvaluationResult{Error: err.Error()}, err
	}

	reply, _, err := extract.Into[evaluatorReply](raw)
	if err == nil && reply.Score == nil {
		err = fmt.Errorf("evaluator reply has no score: %w", ferrors.ErrMalformedOutput)
	}
	if err != nil {
		e.logger.Warn("evaluator output rejected", "trace_id", trace.ID(), "error", err, "raw", trimForLog(raw, 160))
		return EvaluationResult{Error: err.Error()}, err
	}
	return EvaluationResult{Score: float64(*reply.Score), Reasoning: strings.TrimSpace(reply.Reasoning)}, nil
}

// normalize maps a raw score onto 0-1.
func (e *evaluator) normalize(s float64) float64 {
	n := s
	if e.scale > 0 {
		n = s / e.scale
	}
	switch {
	case n < 0:
		return 0
	case n > 1:
		return 1
	}
	return n
}
