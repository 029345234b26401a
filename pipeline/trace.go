package pipeline

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/message"
	"github.com/sweetpotato0/factflow/retrieval"
)

// State is a node of the orchestrator state machine.
type State string

const (
	StateStart      State = "START"
	StatePlanning   State = "PLANNING"
	StateExecuting  State = "EXECUTING"
	StateEvaluating State = "EVALUATING"
	StateDone       State = "DONE"
	StateError      State = "ERROR"
)

// Transition records entry into a state.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// PlanAttempt is one planner call.
type PlanAttempt struct {
	Round      int        `json:"round"`
	Attempt    int        `json:"attempt"`
	Raw        string     `json:"raw"`
	Method     string     `json:"extraction"`
	Plan       *QueryPlan `json:"plan,omitempty"`
	Valid      bool       `json:"valid"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// RefinerAttempt is one refiner verdict.
type RefinerAttempt struct {
	Round      int             `json:"round"`
	Raw        string          `json:"raw"`
	Feedback   RefinerFeedback `json:"feedback"`
	DurationMS int64           `json:"duration_ms"`
}

// NodeRecord is the outcome of one executed query component.
type NodeRecord struct {
	ID         string           `json:"id"`
	Source     retrieval.Source `json:"source"`
	SubQuery   string           `json:"sub_query"`
	Answer     string           `json:"answer,omitempty"`
	Documents  int              `json:"documents"`
	Error      string           `json:"error,omitempty"`
	DurationMS int64            `json:"duration_ms"`
}

// CitationIssue is a citation marker that does not resolve to a document.
type CitationIssue struct {
	Stage  string `json:"stage"`
	Marker string `json:"marker"`
	Reason string `json:"reason"`
}

// QualityAttempt is one evaluation, edit or skip entry of the quality loop.
type QualityAttempt struct {
	Kind       string            `json:"kind"` // evaluation, edit or skipped
	Attempt    int               `json:"attempt"`
	Evaluation *EvaluationResult `json:"evaluation,omitempty"`
	Normalized *float64          `json:"normalized_score,omitempty"` // nil when evaluation failed
	Edit       *EditResult       `json:"edit,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	DurationMS int64             `json:"duration_ms"`
}

// TraceRecord is the complete, ordered record of one request.
type TraceRecord struct {
	TraceID           string                   `json:"trace_id"`
	SessionID         string                   `json:"session_id,omitempty"`
	UserQuery         string                   `json:"user_query"`
	ContextualQuery   string                   `json:"contextual_query,omitempty"`
	StartedAt         time.Time                `json:"started_at"`
	FinishedAt        time.Time                `json:"finished_at"`
	ElapsedMS         int64                    `json:"elapsed_ms"`
	States            []Transition             `json:"states"`
	Plans             []PlanAttempt            `json:"plans"`
	Refinements       []RefinerAttempt         `json:"refinements"`
	PlanningExhausted bool                     `json:"planning_exhausted"`
	FinalPlan         *QueryPlan               `json:"final_plan,omitempty"`
	Nodes             []NodeRecord             `json:"nodes"`
	Execution         *ExecutionResult         `json:"execution,omitempty"`
	CitationIssues    []CitationIssue          `json:"citation_issues,omitempty"`
	Quality           []QualityAttempt         `json:"quality"`
	QualitySkipped    bool                     `json:"quality_skipped"`
	QualitySkipReason string                   `json:"quality_skip_reason,omitempty"`
	FinalAnswer       string                   `json:"final_answer"`
	Degraded          bool                     `json:"degraded"`
	Errors            []*ferrors.PipelineError `json:"errors"`
	Usage             llm.Usage                `json:"usage"`
	UsageByStage      map[string]llm.Usage     `json:"usage_by_stage"`
	Handoffs          []message.Summary        `json:"handoffs"`
}

// Trace accumulates a TraceRecord. It is safe for concurrent use.
type Trace struct {
	mu  sync.Mutex
	rec TraceRecord
	now func() time.Time
}

// NewTrace starts a trace for query.
func NewTrace(sessionID, query string) *Trace {
	t := &Trace{now: time.Now}
	t.rec = TraceRecord{
		TraceID:      uuid.NewString(),
		SessionID:    sessionID,
		UserQuery:    query,
		StartedAt:    t.now(),
		Plans:        []PlanAttempt{},
		Refinements:  []RefinerAttempt{},
		Nodes:        []NodeRecord{},
		Quality:      []QualityAttempt{},
		Errors:       []*ferrors.PipelineError{},
		UsageByStage: map[string]llm.Usage{},
		Handoffs:     []message.Summary{},
	}
	return t
}

// ID returns the trace id.
func (t *Trace) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.TraceID
}

// Enter records a state transition.
func (t *Trace) Enter(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.States = append(t.rec.States, Transition{State: s, At: t.now()})
}

// Current returns the latest state entered.
func (t *Trace) Current() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.rec.States); n > 0 {
		return t.rec.States[n-1].State
	}
	return StateStart
}

// SetContextualQuery records the query text actually sent to planning.
func (t *Trace) SetContextualQuery(q string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.ContextualQuery = q
}

// AddPlan appends a planner attempt.
func (t *Trace) AddPlan(a PlanAttempt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a.Plan = a.Plan.Clone()
	t.rec.Plans = append(t.rec.Plans, a)
}

// AddRefinement appends a refiner verdict.
func (t *Trace) AddRefinement(a RefinerAttempt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.Refinements = append(t.rec.Refinements, a)
}

// SetFinalPlan records the plan handed to execution.
func (t *Trace) SetFinalPlan(p *QueryPlan, exhausted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.FinalPlan = p.Clone()
	t.rec.PlanningExhausted = exhausted
}

// AddNode appends an executed node.
func (t *Trace) AddNode(n NodeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.Nodes = append(t.rec.Nodes, n)
}

// SetExecution records the executor output.
func (t *Trace) SetExecution(r *ExecutionResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.Execution = r
}

// AddCitationIssues appends citation audit findings.
func (t *Trace) AddCitationIssues(issues ...CitationIssue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.CitationIssues = append(t.rec.CitationIssues, issues...)
}

// AddQuality appends a quality loop entry.
func (t *Trace) AddQuality(a QualityAttempt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.Quality = append(t.rec.Quality, a)
}

// SkipQuality marks the quality loop as bypassed.
func (t *Trace) SkipQuality(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.QualitySkipped = true
	t.rec.QualitySkipReason = reason
	t.rec.Quality = append(t.rec.Quality, QualityAttempt{Kind: "skipped", Reason: reason})
}

// AddError records a classified error.
func (t *Trace) AddError(err *ferrors.PipelineError) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.Errors = append(t.rec.Errors, err)
}

// AddUsage accumulates oracle token usage for stage.
func (t *Trace) AddUsage(stage string, u llm.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.Usage.Add(u)
	s := t.rec.UsageByStage[stage]
	s.Add(u)
	t.rec.UsageByStage[stage] = s
}

// AddHandoff records an inter-stage envelope.
func (t *Trace) AddHandoff(env *message.Envelope) {
	if env == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.Handoffs = append(t.rec.Handoffs, env.Summarize())
}

// Finish sets the final answer and the elapsed time.
func (t *Trace) Finish(answer string, degraded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.FinalAnswer = answer
	t.rec.Degraded = degraded
	t.rec.FinishedAt = t.now()
	t.rec.ElapsedMS = t.rec.FinishedAt.Sub(t.rec.StartedAt).Milliseconds()
}

// Snapshot returns a copy of the record accumulated so far.
func (t *Trace) Snapshot() *TraceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Deep copy through JSON; errors are copied by pointer so the wrapped
	// cause survives.
	out := &TraceRecord{}
	data, err := json.Marshal(t.rec)
	if err == nil && json.Unmarshal(data, out) == nil {
		out.Errors = append([]*ferrors.PipelineError(nil), t.rec.Errors...)
		return out
	}
	cp := t.rec
	return &cp
}
