package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/graph"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/message"
	"github.com/sweetpotato0/factflow/pkg/telemetry"
	"github.com/sweetpotato0/factflow/retrieval"
	"github.com/sweetpotato0/factflow/runner"
	"github.com/sweetpotato0/factflow/session"
	"github.com/sweetpotato0/factflow/session/store"
)

// Graph node names.
const (
	nodeStart      = "start"
	nodePlanning   = "planning"
	nodePlanGate   = "plan_gate"
	nodeExecuting  = "executing"
	nodeExecGate   = "exec_gate"
	nodeEvaluating = "evaluating"
	nodeDone       = "done"
	nodeError      = "error"
)

// Request is the pipeline entry point input.
type Request struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// Result is returned for every request. Error is set only when the request
// failed fatally; the trace is always present.
type Result struct {
	TraceInfo *TraceRecord `json:"trace_info"`
	Error     string       `json:"error,omitempty"`
}

// Answer returns the final answer recorded in the trace.
func (r *Result) Answer() string {
	if r == nil || r.TraceInfo == nil {
		return ""
	}
	return r.TraceInfo.FinalAnswer
}

// Manager orchestrates planning, execution and quality checking for each
// request and owns the conversation history.
type Manager struct {
	cfg      *Config
	planning *Planning
	executor *Executor
	quality  *QualityLoop
	sessions *session.Manager
	runner   *runner.Runner
	graph    *graph.Graph[*runState]
	logger   *slog.Logger
}

type runState struct {
	question  string
	query     string
	sessionID string
	trace     *Trace

	stage    string
	plan     *QueryPlan
	exec     *ExecutionResult
	answer   string
	degraded bool
	fatal    *ferrors.PipelineError
}

// New wires a Manager around the oracle and the retrieval collaborators.
func New(oracle llm.Client, sources *retrieval.Registry, opts ...Option) (*Manager, error) {
	if oracle == nil {
		return nil, fmt.Errorf("oracle client is required: %w", ferrors.ErrInvalidInput)
	}
	if sources == nil {
		return nil, fmt.Errorf("retrieval registry is required: %w", ferrors.ErrInvalidInput)
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	prompts, err := newPrompts(cfg.prompts)
	if err != nil {
		return nil, err
	}

	sessions := cfg.sessions
	if sessions == nil {
		sessions = session.NewManager(
			session.WithStore(store.NewInMemoryStore()),
			session.WithMaxEntries(cfg.MaxHistory),
			session.WithLogger(cfg.logger),
		)
	}

	m := &Manager{
		cfg:      cfg,
		planning: newPlanningStage(oracle, prompts, cfg, sources.Sources()),
		executor: newExecutor(oracle, sources, prompts, cfg),
		quality:  newQualityLoop(oracle, prompts, cfg),
		sessions: sessions,
		runner:   runner.New(cfg.MaxConcurrentRequests),
		logger:   cfg.logger,
	}

	g, err := graph.NewBuilder[*runState]().
		AddStart(nodeStart, m.startNode).
		AddNode(nodePlanning, m.planningNode).
		AddConditionNode(nodePlanGate, m.planGate, map[string]string{
			"ok":    nodeExecuting,
			"error": nodeError,
		}).
		AddNode(nodeExecuting, m.executingNode).
		AddConditionNode(nodeExecGate, m.execGate, map[string]string{
			"evaluate": nodeEvaluating,
			"degraded": nodeDone,
			"error":    nodeError,
		}).
		AddNode(nodeEvaluating, m.evaluatingNode).
		AddEnd(nodeDone, m.doneNode).
		AddEnd(nodeError, m.errorNode).
		AddEdge(nodeStart, nodePlanning).
		AddEdge(nodePlanning, nodePlanGate).
		AddEdge(nodeExecuting, nodeExecGate).
		AddEdge(nodeEvaluating, nodeDone).
		SetMaxVisits(cfg.GraphMaxVisits).
		OnTransition(func(from, to string) {
			m.logger.Debug("state transition", "from", from, "to", to)
		}).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build pipeline graph: %w", err)
	}
	m.graph = g

	m.logger.Info("pipeline initialised",
		"sources", sources.Sources(),
		"max_plan_retries", cfg.MaxPlanRetries,
		"max_refine_retries", cfg.MaxRefineRetries,
		"max_quality_attempts", cfg.MaxQualityAttempts,
		"score_threshold", cfg.ScoreThreshold,
	)
	return m, nil
}

// Sessions exposes the conversation history owned by the manager.
func (m *Manager) Sessions() *session.Manager {
	return m.sessions
}

// Run answers one request. The result is never nil and always carries the
// trace accumulated so far. The returned error is the classified
// *errors.PipelineError when the request failed fatally.
func (m *Manager) Run(ctx context.Context, req Request) (res *Result, err error) {
	question := strings.TrimSpace(req.Query)
	trace := NewTrace(req.SessionID, question)

	if question == "" {
		perr := ferrors.New(ferrors.CategoryValidation, "request", fmt.Errorf("query cannot be empty: %w", ferrors.ErrInvalidInput))
		trace.Enter(StateStart)
		trace.Enter(StateError)
		trace.AddError(perr)
		trace.Finish("", false)
		return &Result{TraceInfo: trace.Snapshot(), Error: perr.Error()}, perr
	}

	ctx, span := telemetry.Start(ctx, "factflow.run",
		attribute.String("trace_id", trace.ID()),
		attribute.String("session_id", req.SessionID),
	)
	defer func() { telemetry.End(span, err) }()

	m.logger.Info("pipeline run started",
		"trace_id", trace.ID(),
		"session_id", req.SessionID,
		"question", trimForLog(question, 120),
	)

	st := &runState{question: question, sessionID: req.SessionID, trace: trace, stage: nodeStart}
	if _, runErr := runner.RunGraph(ctx, m.runner, m.graph, st); runErr != nil && st.fatal == nil {
		m.abort(st, runErr)
	}

	res = &Result{TraceInfo: trace.Snapshot()}
	if st.fatal != nil {
		res.Error = st.fatal.Error()
		m.logger.Error("pipeline run failed",
			"trace_id", trace.ID(),
			"category", st.fatal.Category,
			"stage", st.fatal.Stage,
			"error", st.fatal.Message,
		)
		return res, st.fatal
	}
	m.logger.Info("pipeline run completed",
		"trace_id", trace.ID(),
		"degraded", st.degraded,
		"elapsed_ms", res.TraceInfo.ElapsedMS,
		"answer", trimForLog(st.answer, 120),
	)
	return res, nil
}

// abort handles a failure that escaped the state machine: a panic, a graph
// error or a cancelled admission wait.
func (m *Manager) abort(st *runState, err error) {
	st.fatal = m.classify(st, st.stage, err)
	st.trace.AddError(st.fatal)
	if st.trace.Current() != StateError {
		st.trace.Enter(StateError)
	}
	st.trace.Finish("", false)
}

// classify maps err to a pipeline error. Panics are always unknown.
func (m *Manager) classify(st *runState, stage string, err error) *ferrors.PipelineError {
	var panicErr *runner.PanicError
	if ferrors.As(err, &panicErr) {
		m.logger.Error("pipeline stage panicked", "trace_id", st.trace.ID(), "stage", stage, "panic", panicErr.Value, "stack", string(panicErr.Stack))
		return ferrors.New(ferrors.CategoryUnknown, stage, err)
	}
	return ferrors.Classify(stage, err)
}

func (m *Manager) enter(ctx context.Context, st *runState, s State) {
	st.trace.Enter(s)
	telemetry.Event(ctx, "factflow.state", attribute.String("state", string(s)))
}

func (m *Manager) startNode(ctx context.Context, st *runState) error {
	m.enter(ctx, st, StateStart)
	if st.sessionID == "" {
		return nil
	}
	last, ok, err := m.sessions.Last(ctx, st.sessionID)
	if err != nil {
		m.logger.Warn("session history unavailable", "trace_id", st.trace.ID(), "session_id", st.sessionID, "error", err)
		return nil
	}
	if ok {
		st.query = contextualQuery(last, st.question)
		st.trace.SetContextualQuery(st.query)
	}
	return nil
}

// contextualQuery prepends the previous exchange to the question.
func contextualQuery(last session.Entry, question string) string {
	return fmt.Sprintf("Previous question: %s\nPrevious answer: %s\n\nCurrent question: %s",
		strings.TrimSpace(last.Question), strings.TrimSpace(last.Answer), question)
}

func (m *Manager) planningNode(ctx context.Context, st *runState) error {
	st.stage = stagePlanning
	m.enter(ctx, st, StatePlanning)
	query := st.query
	if query == "" {
		query = st.question
	}

	plan, err := m.planning.Process(ctx, PlanRequest{Question: st.question, Query: query, Trace: st.trace})
	if err != nil {
		st.fatal = ferrors.Classify(stagePlanning, err)
		return nil
	}
	st.plan = plan
	return nil
}

func (m *Manager) planGate(_ context.Context, st *runState) (string, error) {
	if st.fatal != nil || st.plan == nil {
		return "error", nil
	}
	return "ok", nil
}

func (m *Manager) executingNode(ctx context.Context, st *runState) error {
	st.stage = stageExecuting
	m.enter(ctx, st, StateExecuting)

	env, err := message.Encode(nodePlanning, message.KindPlan, st.plan)
	if err != nil {
		st.fatal = ferrors.New(ferrors.CategoryUnknown, stageExecuting, err)
		return nil
	}
	st.trace.AddHandoff(env)

	exec, err := m.executor.Process(ctx, ExecuteRequest{Plan: env, Trace: st.trace})
	if err != nil {
		st.fatal = m.classify(st, stageExecuting, err)
		return nil
	}
	st.exec = exec
	return nil
}

func (m *Manager) execGate(_ context.Context, st *runState) (string, error) {
	switch {
	case st.fatal != nil:
		return "error", nil
	case st.exec == nil || st.exec.Error != "" || strings.TrimSpace(st.exec.CombinedAnswer) == "":
		st.degraded = true
		return "degraded", nil
	}
	return "evaluate", nil
}

func (m *Manager) evaluatingNode(ctx context.Context, st *runState) error {
	st.stage = stageEvaluating
	m.enter(ctx, st, StateEvaluating)
	st.answer = st.exec.CombinedAnswer

	var skipped []string
	for _, src := range st.exec.ContributingSources() {
		if m.cfg.nonFactCheckable(src) {
			skipped = append(skipped, string(src))
		}
	}
	if len(skipped) > 0 {
		reason := "non-fact-checkable source: " + strings.Join(skipped, ", ")
		st.trace.SkipQuality(reason)
		m.logger.Info("quality loop skipped", "trace_id", st.trace.ID(), "reason", reason)
		return nil
	}

	env, err := message.Encode(nodeExecuting, message.KindAnswer, st.exec)
	if err != nil {
		st.trace.AddError(ferrors.New(ferrors.CategoryEvaluation, stageEvaluating, err))
		return nil
	}
	st.trace.AddHandoff(env)

	outcome, err := m.quality.Process(ctx, QualityRequest{Question: st.question, Execution: env, Trace: st.trace})
	if err != nil {
		st.trace.AddError(ferrors.Classify(stageEvaluating, err))
	}
	if outcome != nil && strings.TrimSpace(outcome.Answer) != "" {
		st.answer = outcome.Answer
	}
	return nil
}

func (m *Manager) doneNode(ctx context.Context, st *runState) error {
	st.stage = nodeDone
	if st.degraded {
		st.answer = m.cfg.DegradedAnswer
	}
	if env, err := message.Encode(nodeDone, message.KindFinalAnswer, st.answer); err == nil {
		st.trace.AddHandoff(env)
	}
	m.enter(ctx, st, StateDone)
	st.trace.Finish(st.answer, st.degraded)

	if st.sessionID != "" {
		if err := m.sessions.Append(ctx, st.sessionID, st.question, st.answer); err != nil {
			m.logger.Warn("session append failed", "trace_id", st.trace.ID(), "session_id", st.sessionID, "error", err)
		}
	}
	return nil
}

func (m *Manager) errorNode(ctx context.Context, st *runState) error {
	st.trace.AddError(st.fatal)
	m.enter(ctx, st, StateError)
	st.trace.Finish("", false)
	return nil
}
