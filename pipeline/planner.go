package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/extract"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/prompt"
	"github.com/sweetpotato0/factflow/retrieval"
)

var planSchema = map[string]any{
	"user_query":   "string",
	"query_intent": "string",
	"data_sources": []string{"kb"},
	"query_components": []map[string]string{
		{"id": "q1", "sub_query": "string", "source": "kb"},
	},
	"execution_order": map[string]any{
		"nodes":       []string{"q1"},
		"edges":       [][]string{},
		"aggregation": "single_source",
	},
}

// PlanGenerationError reports that no structurally valid plan was produced
// within the attempt budget.
type PlanGenerationError struct {
	Attempts   int
	LastOutput string
	Err        error
}

func (e *PlanGenerationError) Error() string {
	return fmt.Sprintf("no valid plan after %d attempts: %v", e.Attempts, e.Err)
}

func (e *PlanGenerationError) Unwrap() error {
	return e.Err
}

type planInput struct {
	Query    string
	Question string
	Round    int
	Previous *QueryPlan
	Feedback *RefinerFeedback
	Trace    *Trace
}

type planner struct {
	oracle     llm.Client
	prompts    *prompt.Set
	maxRetries int
	sources    []retrieval.Source
	logger     *slog.Logger
}

func newPlanner(oracle llm.Client, prompts *prompt.Set, cfg *Config, sources []retrieval.Source) *planner {
	if len(sources) == 0 {
		sources = retrieval.KnownSources
	}
	return &planner{
		oracle:     oracle,
		prompts:    prompts,
		maxRetries: cfg.MaxPlanRetries,
		sources:    sources,
		logger:     cfg.logger,
	}
}

func (p *planner) Name() string { return stagePlanner }

// Process asks the oracle for a plan until one extracts and validates or the
// attempt budget runs out. Transport failures are not retried.
func (p *planner) Process(ctx context.Context, in planInput) (*QueryPlan, error) {
	trace := ensureTrace(in.Trace, in.Question)
	system, err := p.prompts.Render(PromptPlannerSystem, map[string]any{
		"MaxComponents": MaxComponents,
		"Sources":       p.sources,
	})
	if err != nil {
		return nil, err
	}
	user, err := p.prompts.Render(PromptPlannerUser, map[string]any{
		"Query":        in.Query,
		"Feedback":     formatFeedback(in.Feedback),
		"PreviousPlan": encodePlan(in.Previous),
	})
	if err != nil {
		return nil, err
	}

	var lastRaw string
	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		start := time.Now()
		raw, err := generate(ctx, p.oracle, trace, &llm.GenerateRequest{
			Stage:      stagePlanner,
			System:     system,
			Prompt:     user,
			SchemaHint: planSchema,
		})
		if err != nil {
			trace.AddPlan(PlanAttempt{Round: in.Round, Attempt: attempt, Error: err.Error(), DurationMS: sinceMS(start)})
			return nil, err
		}
		lastRaw = raw

		plan, res, err := extract.Into[QueryPlan](raw)
		record := PlanAttempt{Round: in.Round, Attempt: attempt, Raw: raw, Method: string(res.Method)}
		if err == nil {
			normalizePlan(&plan, in.Question)
			err = ValidatePlan(&plan)
			record.Plan = &plan
		}
		record.DurationMS = sinceMS(start)
		if err != nil {
			record.Error = err.Error()
			trace.AddPlan(record)
			lastErr = err
			p.logger.Warn("planner output rejected",
				"trace_id", trace.ID(),
				"round", in.Round,
				"attempt", attempt,
				"error", err,
				"raw", trimForLog(raw, 160),
			)
			continue
		}
		record.Valid = true
		trace.AddPlan(record)
		p.logger.Debug("plan generated",
			"trace_id", trace.ID(),
			"round", in.Round,
			"attempt", attempt,
			"components", len(plan.QueryComponents),
			"aggregation", plan.ExecutionOrder.Aggregation,
		)
		return &plan, nil
	}

	return nil, &PlanGenerationError{Attempts: p.maxRetries, LastOutput: lastRaw, Err: lastErr}
}

func encodePlan(p *QueryPlan) string {
	if p == nil {
		return ""
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

func formatFeedback(fb *RefinerFeedback) string {
	if fb == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(fb.FeedbackSummary))
	for _, r := range fb.FeedbackReasoning {
		if r = strings.TrimSpace(r); r != "" {
			b.WriteString("\n- ")
			b.WriteString(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// planningFailure wraps a planner error into the classified error the
// Manager surfaces. Transport causes keep their own category.
func planningFailure(err error) *ferrors.PipelineError {
	var perr *ferrors.PipelineError
	if ferrors.As(err, &perr) {
		return perr
	}
	var pge *PlanGenerationError
	if ferrors.As(err, &pge) {
		return ferrors.New(ferrors.CategoryPlanning, stagePlanning, err)
	}
	return ferrors.Classify(stagePlanning, err)
}
