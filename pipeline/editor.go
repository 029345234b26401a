package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/factflow/extract"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/prompt"
	"github.com/sweetpotato0/factflow/retrieval"
)

var editorSchema = map[string]any{
	"answer": "string",
}

type sourceGroup struct {
	Letter    string
	Source    retrieval.Source
	Documents []string
}

type editInput struct {
	Question  string
	Answer    string
	Score     float64
	Reasoning string
	Groups    []sourceGroup
	Trace     *Trace
}

type editor struct {
	oracle  llm.Client
	prompts *prompt.Set
	logger  *slog.Logger
}

func newEditor(oracle llm.Client, prompts *prompt.Set, cfg *Config) *editor {
	return &editor{oracle: oracle, prompts: prompts, logger: cfg.logger}
}

func (e *editor) Name() string { return stageEditor }

// Process rewrites an answer using the evaluator's reasoning. A reply without
// a JSON object carrying an answer field is taken as the answer text itself. A failed call is reported
// in the result's Error field and as the returned error.
func (e *editor) Process(ctx context.Context, in editInput) (EditResult, error) {
	trace := ensureTrace(in.Trace, in.Question)
	system, err := e.prompts.Render(PromptEditorSystem, map[string]any{})
	if err != nil {
		return EditResult{Error: err.Error()}, err
	}
	user, err := e.prompts.Render(PromptEditorUser, map[string]any{
		"Question":  in.Question,
		"Answer":    in.Answer,
		"Score":     in.Score,
		"Reasoning": in.Reasoning,
		"Groups":    in.Groups,
	})
	if err != nil {
		return EditResult{Error: err.Error()}, err
	}

	raw, err := generate(ctx, e.oracle, trace, &llm.GenerateRequest{
		Stage:      stageEditor,
		System:     system,
		Prompt:     user,
		SchemaHint: editorSchema,
	})
	if err != nil {
		return EditResult{Error: err.Error()}, err
	}

	reply, res, err := extract.Into[EditResult](raw)
	if _, ok := res.Object["answer"]; !ok {
		return EditResult{Answer: strings.TrimSpace(raw)}, nil
	}
	if err != nil {
		e.logger.Warn("editor output rejected", "trace_id", trace.ID(), "error", err)
		return EditResult{}, nil
	}
	return EditResult{Answer: strings.TrimSpace(reply.Answer)}, nil
}
