package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/message"
	"github.com/sweetpotato0/factflow/pkg/telemetry"
	"github.com/sweetpotato0/factflow/pkg/tokenizer"
	"github.com/sweetpotato0/factflow/prompt"
	"github.com/sweetpotato0/factflow/retrieval"
	"github.com/sweetpotato0/factflow/runner"
)

// Executor dispatches a plan's sub-queries to the retrieval collaborators
// and merges their results.
type Executor struct {
	oracle  llm.Client
	sources *retrieval.Registry
	prompts *prompt.Set
	cfg     *Config
	logger  *slog.Logger
}

var _ Stage[ExecuteRequest, *ExecutionResult] = (*Executor)(nil)

// NewExecutor builds the execution stage on its own.
func NewExecutor(oracle llm.Client, sources *retrieval.Registry, opts ...Option) (*Executor, error) {
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
	return newExecutor(oracle, sources, prompts, cfg), nil
}

func newExecutor(oracle llm.Client, sources *retrieval.Registry, prompts *prompt.Set, cfg *Config) *Executor {
	return &Executor{
		oracle:  oracle,
		sources: sources,
		prompts: prompts,
		cfg:     cfg,
		logger:  cfg.logger,
	}
}

// Name implements Stage.
func (e *Executor) Name() string { return stageExecuting }

// Process runs every node of the plan carried by the envelope. A failing
// node aborts the whole plan: the result then carries Error and no answer,
// and the returned error stays nil. An error is returned only for an
// undecodable plan or a cancelled context.
func (e *Executor) Process(ctx context.Context, in ExecuteRequest) (out *ExecutionResult, err error) {
	plan, err := message.Decode[QueryPlan](in.Plan)
	if err != nil {
		return nil, ferrors.New(ferrors.CategoryValidation, stageExecuting, err)
	}
	if err := ValidatePlan(&plan); err != nil {
		return nil, ferrors.New(ferrors.CategoryValidation, stageExecuting, err)
	}
	trace := ensureTrace(in.Trace, plan.UserQuery)

	ctx, span := telemetry.Start(ctx, "factflow.execute",
		attribute.String("trace_id", trace.ID()),
		attribute.String("aggregation", string(plan.ExecutionOrder.Aggregation)),
		attribute.Int("nodes", len(plan.ExecutionOrder.Nodes)),
	)
	defer func() { telemetry.End(span, err) }()

	results, err := e.runNodes(ctx, &plan, trace)
	if err != nil {
		var panicErr *runner.PanicError
		if ferrors.As(err, &panicErr) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ferrors.Classify(stageExecuting, ctxErr)
		}
		return e.fail(trace, newExecutionResult(), err), nil
	}

	result := newExecutionResult()
	nodes := plan.ExecutionOrder.Nodes
	for i, id := range nodes {
		comp, _ := plan.Component(id)
		res := results[id]
		result.DocumentsBySource[comp.Source] = append(result.DocumentsBySource[comp.Source], res.Sources...)
		result.MetadataBySource[comp.Source] = append(result.MetadataBySource[comp.Source], res.Metadata...)
		result.Citations = append(result.Citations, CitationSource{
			Letter:    citationLetter(i),
			NodeID:    id,
			Source:    comp.Source,
			Documents: len(res.Sources),
		})
	}

	if len(nodes) == 1 {
		result.CombinedAnswer = results[nodes[0]].Answer
	} else {
		answer, err := e.aggregate(ctx, &plan, results, result.Citations, trace)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ferrors.Classify(stageExecuting, ctxErr)
			}
			return e.fail(trace, result, err), nil
		}
		result.CombinedAnswer = answer
	}

	if issues := auditCitations("aggregation", result.CombinedAnswer, result.Citations); len(issues) > 0 {
		trace.AddCitationIssues(issues...)
		e.logger.Warn("unresolved citation markers", "trace_id", trace.ID(), "count", len(issues))
	}
	trace.SetExecution(result)
	e.logger.Info("plan executed",
		"trace_id", trace.ID(),
		"nodes", len(nodes),
		"sources", result.ContributingSources(),
		"answer", trimForLog(result.CombinedAnswer, 120),
	)
	return result, nil
}

func newExecutionResult() *ExecutionResult {
	return &ExecutionResult{
		DocumentsBySource: make(map[retrieval.Source][]string),
		MetadataBySource:  make(map[retrieval.Source][]map[string]any),
	}
}

func (e *Executor) fail(trace *Trace, result *ExecutionResult, err error) *ExecutionResult {
	perr := ferrors.Classify(stageExecuting, err)
	trace.AddError(perr)
	result.CombinedAnswer = ""
	result.Error = perr.Message
	trace.SetExecution(result)
	e.logger.Error("plan execution failed", "trace_id", trace.ID(), "category", perr.Category, "error", err)
	return result
}

// runNodes executes the nodes in dependency order. Sequential plans run one
// node at a time; otherwise every node starts as soon as its prerequisites
// finish.
func (e *Executor) runNodes(ctx context.Context, plan *QueryPlan, trace *Trace) (map[string]*retrieval.SourceResult, error) {
	order, err := topoOrder(plan.ExecutionOrder.Nodes, plan.ExecutionOrder.Edges)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	results := make(map[string]*retrieval.SourceResult, len(order))
	run := func(ctx context.Context, id string) error {
		comp, _ := plan.Component(id)
		mu.Lock()
		query := substituteAnswers(comp.SubQuery, results)
		mu.Unlock()

		res, err := e.retrieve(ctx, comp, query, trace)
		if err != nil {
			return err
		}
		mu.Lock()
		results[id] = res
		mu.Unlock()
		return nil
	}

	if plan.ExecutionOrder.Aggregation == AggregationSequential || len(order) == 1 {
		for _, id := range order {
			if err := run(ctx, id); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	done := make(map[string]chan struct{}, len(order))
	deps := make(map[string][]string, len(order))
	for _, id := range order {
		done[id] = make(chan struct{})
	}
	for _, edge := range plan.ExecutionOrder.Edges {
		deps[edge.To] = append(deps[edge.To], edge.From)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range order {
		g.Go(func() error {
			for _, dep := range deps[id] {
				select {
				case <-done[dep]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err := run(gctx, id); err != nil {
				return err
			}
			close(done[id])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Executor) retrieve(ctx context.Context, comp QueryComponent, query string, trace *Trace) (res *retrieval.SourceResult, err error) {
	ctx, span := telemetry.Start(ctx, "factflow.execute.node",
		attribute.String("node", comp.ID),
		attribute.String("source", string(comp.Source)),
	)
	start := time.Now()
	record := NodeRecord{ID: comp.ID, Source: comp.Source, SubQuery: query}
	defer func() {
		record.DurationMS = sinceMS(start)
		if err != nil {
			record.Error = err.Error()
		}
		trace.AddNode(record)
		telemetry.End(span, err)
	}()

	collaborator, err := e.sources.Get(comp.Source)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", comp.ID, err)
	}
	res, err = callCollaborator(ctx, retrieval.WithTimeout(collaborator, e.cfg.RetrievalTimeout), query)
	if err != nil {
		return nil, fmt.Errorf("node %s (%s): %w", comp.ID, comp.Source, err)
	}
	if res == nil {
		return nil, fmt.Errorf("node %s (%s): no result: %w", comp.ID, comp.Source, ferrors.ErrEmptyAnswer)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("node %s (%s): %s", comp.ID, comp.Source, res.Error)
	}

	record.Answer = res.Answer
	record.Documents = len(res.Sources)
	e.logger.Debug("node retrieved",
		"trace_id", trace.ID(),
		"node", comp.ID,
		"source", comp.Source,
		"documents", len(res.Sources),
	)
	return res, nil
}

// callCollaborator runs r and reports a panic as *runner.PanicError. Nodes
// may run on errgroup goroutines, which do not recover.
func callCollaborator(ctx context.Context, r retrieval.Retriever, query string) (res *retrieval.SourceResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, &runner.PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return r.Retrieve(ctx, query)
}

type aggregateEntry struct {
	Letter    string
	Source    retrieval.Source
	SubQuery  string
	Answer    string
	Documents []string
}

func (e *Executor) aggregate(ctx context.Context, plan *QueryPlan, results map[string]*retrieval.SourceResult, citations []CitationSource, trace *Trace) (string, error) {
	total := 0
	for _, res := range results {
		total += len(res.Sources)
	}
	perDoc := tokenizer.Budget(e.cfg.MaxContextTokens, total, e.cfg.MinDocumentTokens)

	entries := make([]aggregateEntry, 0, len(citations))
	for _, c := range citations {
		comp, _ := plan.Component(c.NodeID)
		res := results[c.NodeID]
		docs := make([]string, len(res.Sources))
		for i, d := range res.Sources {
			docs[i] = e.cfg.tokenizer.Truncate(d, perDoc)
		}
		entries = append(entries, aggregateEntry{
			Letter:    c.Letter,
			Source:    c.Source,
			SubQuery:  comp.SubQuery,
			Answer:    res.Answer,
			Documents: docs,
		})
	}

	system, err := e.prompts.Render(PromptAggregatorSystem, map[string]any{})
	if err != nil {
		return "", err
	}
	user, err := e.prompts.Render(PromptAggregatorUser, map[string]any{
		"Query":       plan.UserQuery,
		"Aggregation": plan.ExecutionOrder.Aggregation,
		"Results":     entries,
	})
	if err != nil {
		return "", err
	}
	raw, err := generate(ctx, e.oracle, trace, &llm.GenerateRequest{
		Stage:  stageAggregator,
		System: system,
		Prompt: user,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// substituteAnswers replaces {{id.answer}} with the answer of a finished node.
// References to nodes without a result are left as written.
func substituteAnswers(subQuery string, results map[string]*retrieval.SourceResult) string {
	return answerRef.ReplaceAllStringFunc(subQuery, func(m string) string {
		sub := answerRef.FindStringSubmatch(m)
		if res, ok := results[sub[1]]; ok && res != nil {
			return strings.TrimSpace(res.Answer)
		}
		return m
	})
}
