package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/pkg/telemetry"
	"github.com/sweetpotato0/factflow/prompt"
	"github.com/sweetpotato0/factflow/retrieval"
)

// Planning negotiates a plan between the planner and the refiner. Each round
// is one planner stage entry followed by one refiner verdict; approval ends
// the loop.
type Planning struct {
	planner   *planner
	refiner   *refiner
	maxRounds int
	logger    *slog.Logger
}

var _ Stage[PlanRequest, *QueryPlan] = (*Planning)(nil)

// NewPlanning builds the planning stage on its own.
func NewPlanning(oracle llm.Client, opts ...Option) (*Planning, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	prompts, err := newPrompts(cfg.prompts)
	if err != nil {
		return nil, err
	}
	return newPlanningStage(oracle, prompts, cfg, nil), nil
}

func newPlanningStage(oracle llm.Client, prompts *prompt.Set, cfg *Config, sources []retrieval.Source) *Planning {
	return &Planning{
		planner:   newPlanner(oracle, prompts, cfg, sources),
		refiner:   newRefiner(oracle, prompts, cfg),
		maxRounds: cfg.MaxRefineRetries,
		logger:    cfg.logger,
	}
}

// Name implements Stage.
func (p *Planning) Name() string { return stagePlanning }

// Process returns the plan handed to execution. When refinement rounds run
// out, or a later round fails to produce a valid plan, the last valid plan is
// used and the trace marks planning as exhausted. An error is returned only
// when no valid plan was ever produced.
func (p *Planning) Process(ctx context.Context, in PlanRequest) (plan *QueryPlan, err error) {
	query := in.Query
	if query == "" {
		query = in.Question
	}
	trace := ensureTrace(in.Trace, in.Question)

	ctx, span := telemetry.Start(ctx, "factflow.planning", attribute.String("trace_id", trace.ID()))
	defer func() { telemetry.End(span, err) }()

	var current *QueryPlan
	var feedback *RefinerFeedback
	for round := 1; round <= p.maxRounds; round++ {
		candidate, err := p.planner.Process(ctx, planInput{
			Query:    query,
			Question: in.Question,
			Round:    round,
			Previous: current,
			Feedback: feedback,
			Trace:    trace,
		})
		if err != nil {
			if current == nil || ctx.Err() != nil {
				return nil, planningFailure(err)
			}
			trace.AddError(planningFailure(err))
			p.logger.Warn("replanning failed, keeping previous plan", "trace_id", trace.ID(), "round", round, "error", err)
			trace.SetFinalPlan(current, true)
			return current, nil
		}
		current = candidate

		verdict, err := p.refiner.Process(ctx, refineInput{Query: query, Plan: current, Round: round, Trace: trace})
		if err != nil {
			return nil, planningFailure(err)
		}
		if !verdict.RefinementRequired {
			trace.SetFinalPlan(current, false)
			p.logger.Info("plan approved", "trace_id", trace.ID(), "round", round)
			return current, nil
		}
		feedback = &verdict
	}

	p.logger.Info("refinement rounds exhausted, using last plan", "trace_id", trace.ID(), "rounds", p.maxRounds)
	trace.SetFinalPlan(current, true)
	return current, nil
}
