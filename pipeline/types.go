package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sweetpotato0/factflow/retrieval"
)

// Aggregation is the strategy used to merge sub-query results.
type Aggregation string

const (
	AggregationCombine      Aggregation = "combine_and_summarize"
	AggregationSequential   Aggregation = "sequential"
	AggregationParallel     Aggregation = "parallel"
	AggregationSingleSource Aggregation = "single_source"
)

var knownAggregations = []Aggregation{
	AggregationCombine,
	AggregationSequential,
	AggregationParallel,
	AggregationSingleSource,
}

// Limits on plan shape.
const (
	MaxComponents  = 2
	MaxDataSources = 2
)

// QueryComponent is one unit of retrieval work within a plan.
type QueryComponent struct {
	ID       string           `json:"id"`
	SubQuery string           `json:"sub_query"`
	Source   retrieval.Source `json:"source"`
}

// Edge is a dependency pair: To runs after From.
type Edge struct {
	From string
	To   string
}

// MarshalJSON encodes the edge as a two element array.
func (e Edge) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.From, e.To})
}

// UnmarshalJSON accepts ["q1","q2"], {"from":"q1","to":"q2"} and "q1->q2".
func (e *Edge) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var pair []string
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("edge must have exactly two ids, got %d", len(pair))
		}
		e.From, e.To = pair[0], pair[1]
		return nil
	}
	var obj struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && (obj.From != "" || obj.To != "") {
		e.From, e.To = obj.From, obj.To
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if from, to, ok := strings.Cut(s, "->"); ok {
			e.From, e.To = strings.TrimSpace(from), strings.TrimSpace(to)
			return nil
		}
	}
	return fmt.Errorf("unrecognised edge %s", string(data))
}

// ExecutionOrder says which components run, in what order and how their
// answers are merged.
type ExecutionOrder struct {
	Nodes       []string    `json:"nodes"`
	Edges       []Edge      `json:"edges"`
	Aggregation Aggregation `json:"aggregation"`
}

// QueryPlan is the planner's decomposition of a user query.
type QueryPlan struct {
	UserQuery       string             `json:"user_query"`
	QueryIntent     string             `json:"query_intent"`
	DataSources     []retrieval.Source `json:"data_sources"`
	QueryComponents []QueryComponent   `json:"query_components"`
	ExecutionOrder  ExecutionOrder     `json:"execution_order"`
}

// Component returns the component with the given id.
func (p *QueryPlan) Component(id string) (QueryComponent, bool) {
	for _, c := range p.QueryComponents {
		if c.ID == id {
			return c, true
		}
	}
	return QueryComponent{}, false
}

// Clone returns a deep copy of the plan.
func (p *QueryPlan) Clone() *QueryPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.DataSources = append([]retrieval.Source(nil), p.DataSources...)
	out.QueryComponents = append([]QueryComponent(nil), p.QueryComponents...)
	out.ExecutionOrder.Nodes = append([]string(nil), p.ExecutionOrder.Nodes...)
	out.ExecutionOrder.Edges = append([]Edge(nil), p.ExecutionOrder.Edges...)
	return &out
}

// YesNo decodes "yes"/"no" strings as well as JSON booleans.
type YesNo bool

// MarshalJSON encodes the value as "yes" or "no".
func (y YesNo) MarshalJSON() ([]byte, error) {
	if y {
		return []byte(`"yes"`), nil
	}
	return []byte(`"no"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (y *YesNo) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*y = YesNo(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected yes/no, got %s", string(data))
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true":
		*y = true
	case "no", "n", "false", "":
		*y = false
	default:
		return fmt.Errorf("expected yes/no, got %q", s)
	}
	return nil
}

// TextList decodes either a JSON string array or a single string.
type TextList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *TextList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected string list, got %s", string(data))
	}
	if strings.TrimSpace(s) == "" {
		*l = nil
	} else {
		*l = TextList{s}
	}
	return nil
}

// RefinerFeedback is the refiner's verdict on a plan.
type RefinerFeedback struct {
	RefinementRequired YesNo    `json:"refinement_required"`
	FeedbackSummary    string   `json:"feedback_summary"`
	FeedbackReasoning  TextList `json:"feedback_reasoning"`
	Error              string   `json:"error,omitempty"`
}

// CitationSource maps a citation letter to the node whose documents it cites.
type CitationSource struct {
	Letter    string           `json:"letter"`
	NodeID    string           `json:"node_id"`
	Source    retrieval.Source `json:"source"`
	Documents int              `json:"documents"`
}

// ExecutionResult is the executor's combined output.
type ExecutionResult struct {
	CombinedAnswer    string                                `json:"combined_answer"`
	DocumentsBySource map[retrieval.Source][]string         `json:"documents_by_source"`
	MetadataBySource  map[retrieval.Source][]map[string]any `json:"metadata_by_source"`
	Citations         []CitationSource                      `json:"citations,omitempty"`
	Error             string                                `json:"error,omitempty"`
}

// ContributingSources lists sources that returned at least one document.
func (r *ExecutionResult) ContributingSources() []retrieval.Source {
	if r == nil {
		return nil
	}
	var out []retrieval.Source
	for _, src := range retrieval.KnownSources {
		if len(r.DocumentsBySource[src]) > 0 {
			out = append(out, src)
		}
	}
	return out
}

// EvaluationResult is one factual-accuracy verdict.
type EvaluationResult struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
	Error     string  `json:"error,omitempty"`
}

// EditResult is one corrected answer.
type EditResult struct {
	Answer string `json:"answer"`
	Error  string `json:"error,omitempty"`
}
