package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/factflow/extract"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/prompt"
)

var refinerSchema = map[string]any{
	"refinement_required": "yes|no",
	"feedback_summary":    "string",
	"feedback_reasoning":  []string{"string"},
}

type refineInput struct {
	Query string
	Plan  *QueryPlan
	Round int
	Trace *Trace
}

type refiner struct {
	oracle  llm.Client
	prompts *prompt.Set
	logger  *slog.Logger
}

func newRefiner(oracle llm.Client, prompts *prompt.Set, cfg *Config) *refiner {
	return &refiner{oracle: oracle, prompts: prompts, logger: cfg.logger}
}

func (r *refiner) Name() string { return stageRefiner }

// Process reviews a plan. A reply that cannot be parsed, or a failed call,
// approves the plan with the problem recorded in the feedback. Only context
// cancellation is returned as an error.
func (r *refiner) Process(ctx context.Context, in refineInput) (RefinerFeedback, error) {
	trace := ensureTrace(in.Trace, in.Query)
	start := time.Now()

	system, err := r.prompts.Render(PromptRefinerSystem, map[string]any{})
	if err != nil {
		return RefinerFeedback{}, err
	}
	user, err := r.prompts.Render(PromptRefinerUser, map[string]any{
		"Query": in.Query,
		"Plan":  encodePlan(in.Plan),
	})
	if err != nil {
		return RefinerFeedback{}, err
	}

	raw, err := generate(ctx, r.oracle, trace, &llm.GenerateRequest{
		Stage:      stageRefiner,
		System:     system,
		Prompt:     user,
		SchemaHint: refinerSchema,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return RefinerFeedback{}, ctxErr
		}
		fb := RefinerFeedback{Error: fmt.Sprintf("refiner call failed: %v", err)}
		trace.AddRefinement(RefinerAttempt{Round: in.Round, Feedback: fb, DurationMS: sinceMS(start)})
		r.logger.Warn("refiner unavailable, plan approved", "trace_id", trace.ID(), "round", in.Round, "error", err)
		return fb, nil
	}

	fb, _, err := extract.Into[RefinerFeedback](raw)
	if err != nil {
		fb = RefinerFeedback{Error: fmt.Sprintf("refiner output parse error: %v", err)}
	}
	trace.AddRefinement(RefinerAttempt{Round: in.Round, Raw: raw, Feedback: fb, DurationMS: sinceMS(start)})
	r.logger.Debug("plan reviewed",
		"trace_id", trace.ID(),
		"round", in.Round,
		"refinement_required", bool(fb.RefinementRequired),
		"summary", trimForLog(fb.FeedbackSummary, 120),
	)
	return fb, nil
}
