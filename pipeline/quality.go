package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/message"
	"github.com/sweetpotato0/factflow/pkg/telemetry"
	"github.com/sweetpotato0/factflow/pkg/tokenizer"
	"github.com/sweetpotato0/factflow/prompt"
	"github.com/sweetpotato0/factflow/retrieval"
)

// Reasons the quality loop stopped.
const (
	StopPassed            = "passed"
	StopEvaluationError   = "evaluation_error"
	StopEditError         = "edit_error"
	StopAttemptsExhausted = "attempts_exhausted"
)

// QualityOutcome is the answer the quality loop settled on.
type QualityOutcome struct {
	Answer      string  `json:"answer"`
	Passed      bool    `json:"passed"`
	Evaluations int     `json:"evaluations"`
	Edits       int     `json:"edits"`
	LastScore   float64 `json:"last_score"`
	StopReason  string  `json:"stop_reason"`
}

// QualityLoop alternates evaluation and editing until the answer scores at
// or above the threshold or the attempt budget is spent.
type QualityLoop struct {
	evaluator   *evaluator
	editor      *editor
	maxAttempts int
	threshold   float64
	cfg         *Config
	logger      *slog.Logger
}

var _ Stage[QualityRequest, *QualityOutcome] = (*QualityLoop)(nil)

// NewQualityLoop builds the quality stage on its own.
func NewQualityLoop(oracle llm.Client, opts ...Option) (*QualityLoop, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	prompts, err := newPrompts(cfg.prompts)
	if err != nil {
		return nil, err
	}
	return newQualityLoop(oracle, prompts, cfg), nil
}

func newQualityLoop(oracle llm.Client, prompts *prompt.Set, cfg *Config) *QualityLoop {
	return &QualityLoop{
		evaluator:   newEvaluator(oracle, prompts, cfg),
		editor:      newEditor(oracle, prompts, cfg),
		maxAttempts: cfg.MaxQualityAttempts,
		threshold:   cfg.ScoreThreshold,
		cfg:         cfg,
		logger:      cfg.logger,
	}
}

// Name implements Stage.
func (q *QualityLoop) Name() string { return stageEvaluating }

// Process runs the loop on the execution result carried by the envelope.
// Evaluation and edit failures stop the loop and keep the current answer;
// only an undecodable envelope or a cancelled context is returned as an
// error.
func (q *QualityLoop) Process(ctx context.Context, in QualityRequest) (out *QualityOutcome, err error) {
	exec, err := message.Decode[ExecutionResult](in.Execution)
	if err != nil {
		return nil, ferrors.New(ferrors.CategoryValidation, stageEvaluating, err)
	}
	trace := ensureTrace(in.Trace, in.Question)

	ctx, span := telemetry.Start(ctx, "factflow.quality", attribute.String("trace_id", trace.ID()))
	defer func() {
		if out != nil {
			span.SetAttributes(attribute.Float64("score", out.LastScore), attribute.Int("edits", out.Edits))
		}
		telemetry.End(span, err)
	}()

	contexts := q.contexts(&exec)
	groups := q.groups(&exec)
	out = &QualityOutcome{Answer: exec.CombinedAnswer}

	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		start := time.Now()
		eval, evalErr := q.evaluator.Process(ctx, evalInput{
			Question: in.Question,
			Answer:   out.Answer,
			Contexts: contexts,
			Trace:    trace,
		})
		out.Evaluations++
		var normalized *float64
		if evalErr == nil {
			score := q.evaluator.normalize(eval.Score)
			normalized = &score
			out.LastScore = score
		}
		trace.AddQuality(QualityAttempt{
			Kind:       "evaluation",
			Attempt:    attempt,
			Evaluation: &eval,
			Normalized: normalized,
			DurationMS: sinceMS(start),
		})

		if evalErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ferrors.Classify(stageEvaluating, ctxErr)
			}
			trace.AddError(ferrors.Classify(stageEvaluating, evalErr))
			out.StopReason = StopEvaluationError
			q.logger.Warn("evaluation failed, keeping current answer", "trace_id", trace.ID(), "attempt", attempt, "error", evalErr)
			break
		}
		q.logger.Info("answer evaluated", "trace_id", trace.ID(), "attempt", attempt, "score", normalized)
		if *normalized >= q.threshold {
			out.Passed = true
			out.StopReason = StopPassed
			break
		}
		if attempt == q.maxAttempts {
			out.StopReason = StopAttemptsExhausted
			break
		}

		start = time.Now()
		edit, editErr := q.editor.Process(ctx, editInput{
			Question:  in.Question,
			Answer:    out.Answer,
			Score:     eval.Score,
			Reasoning: eval.Reasoning,
			Groups:    groups,
			Trace:     trace,
		})
		out.Edits++
		trace.AddQuality(QualityAttempt{
			Kind:       "edit",
			Attempt:    attempt,
			Edit:       &edit,
			DurationMS: sinceMS(start),
		})
		if editErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ferrors.Classify(stageEvaluating, ctxErr)
			}
			trace.AddError(ferrors.Classify(stageEvaluating, editErr))
			out.StopReason = StopEditError
			q.logger.Warn("edit failed, keeping current answer", "trace_id", trace.ID(), "attempt", attempt, "error", editErr)
			break
		}
		if strings.TrimSpace(edit.Answer) != "" {
			out.Answer = edit.Answer
		}
	}

	if out.Answer != exec.CombinedAnswer {
		if issues := auditCitations("quality", out.Answer, exec.Citations); len(issues) > 0 {
			trace.AddCitationIssues(issues...)
		}
	}
	return out, nil
}

// contexts flattens the documents of every source, each truncated to an
// equal share of the token budget.
func (q *QualityLoop) contexts(exec *ExecutionResult) []string {
	var docs []string
	for _, src := range retrieval.KnownSources {
		docs = append(docs, exec.DocumentsBySource[src]...)
	}
	per := tokenizer.Budget(q.cfg.MaxContextTokens, len(docs), q.cfg.MinDocumentTokens)
	for i, d := range docs {
		docs[i] = q.cfg.tokenizer.Truncate(d, per)
	}
	return docs
}

// groups arranges documents by source, labelled with their citation letters.
func (q *QualityLoop) groups(exec *ExecutionResult) []sourceGroup {
	total := 0
	for _, docs := range exec.DocumentsBySource {
		total += len(docs)
	}
	per := tokenizer.Budget(q.cfg.MaxContextTokens, total, q.cfg.MinDocumentTokens)

	var out []sourceGroup
	for _, src := range retrieval.KnownSources {
		docs := exec.DocumentsBySource[src]
		if len(docs) == 0 {
			continue
		}
		var letters []string
		for _, c := range exec.Citations {
			if c.Source == src {
				letters = append(letters, c.Letter)
			}
		}
		truncated := make([]string, len(docs))
		for i, d := range docs {
			truncated[i] = q.cfg.tokenizer.Truncate(d, per)
		}
		out = append(out, sourceGroup{Letter: strings.Join(letters, "/"), Source: src, Documents: truncated})
	}
	return out
}
