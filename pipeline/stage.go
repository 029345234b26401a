// Package pipeline answers a question by planning which knowledge sources to
// query, executing the plan against retrieval collaborators and checking the
// combined answer for factual accuracy.
//
// The flow is driven by a Manager running a small state machine:
//
//	START -> PLANNING -> EXECUTING -> EVALUATING -> DONE
//	              \-> ERROR      \-> DONE (degraded)
//
// Each step is a Stage composed directly by the Manager. Every oracle call,
// retrieval call and decision is appended to a Trace which is returned to the
// caller whatever the outcome.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/message"
	"github.com/sweetpotato0/factflow/pkg/preprocess"
)

// Stage is one step of the pipeline.
type Stage[I, O any] interface {
	Name() string
	Process(ctx context.Context, in I) (O, error)
}

// Stage names, used for oracle requests, error classification and usage.
const (
	stagePlanner    = "planner"
	stageRefiner    = "refiner"
	stageAggregator = "aggregator"
	stageEvaluator  = "evaluator"
	stageEditor     = "editor"

	stagePlanning   = "planning"
	stageExecuting  = "executing"
	stageEvaluating = "evaluating"
)

// PlanRequest is the input of the planning stage.
type PlanRequest struct {
	// Question is the user query as asked.
	Question string
	// Query is the text actually planned for, Question with session context.
	Query string
	Trace *Trace
}

// ExecuteRequest carries the final plan envelope to the executor.
type ExecuteRequest struct {
	Plan  *message.Envelope
	Trace *Trace
}

// QualityRequest carries the execution result envelope to the quality loop.
type QualityRequest struct {
	Question  string
	Execution *message.Envelope
	Trace     *Trace
}

// generate sends one request to the oracle and records token usage against
// the stage.
func generate(ctx context.Context, oracle llm.Client, trace *Trace, req *llm.GenerateRequest) (string, error) {
	resp, err := oracle.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s oracle call failed: %w", req.Stage, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%s returned empty response: %w", req.Stage, ferrors.ErrEmptyAnswer)
	}
	if trace != nil {
		trace.AddUsage(req.Stage, resp.Usage)
	}
	return resp.Text, nil
}

func sinceMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

func ensureTrace(t *Trace, query string) *Trace {
	if t != nil {
		return t
	}
	return NewTrace("", query)
}

func trimForLog(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 {
		return text
	}
	return preprocess.Truncate(text, limit)
}
