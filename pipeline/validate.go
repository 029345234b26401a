package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/retrieval"
)

// answerRef matches {{q1.answer}} placeholders inside sub-queries.
var answerRef = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_-]+)\.answer\s*\}\}`)

// PlanError lists every structural problem found in a plan.
type PlanError struct {
	Problems []string
}

func (e *PlanError) Error() string {
	return "invalid plan: " + strings.Join(e.Problems, "; ")
}

func (e *PlanError) Unwrap() error {
	return ferrors.ErrInvalidInput
}

// normalizePlan fills the fields a planner commonly omits: lower-cases
// sources, derives data_sources and nodes from the components, picks an
// aggregation and turns {{id.answer}} references into edges.
func normalizePlan(plan *QueryPlan, question string) {
	plan.UserQuery = question
	for i := range plan.QueryComponents {
		c := &plan.QueryComponents[i]
		c.ID = strings.TrimSpace(c.ID)
		c.SubQuery = strings.TrimSpace(c.SubQuery)
		if src, ok := retrieval.ParseSource(string(c.Source)); ok {
			c.Source = src
		}
	}
	for i, src := range plan.DataSources {
		if parsed, ok := retrieval.ParseSource(string(src)); ok {
			plan.DataSources[i] = parsed
		}
	}
	if len(plan.DataSources) == 0 {
		plan.DataSources = componentSources(plan.QueryComponents)
	}

	order := &plan.ExecutionOrder
	if len(order.Nodes) == 0 {
		for _, c := range plan.QueryComponents {
			order.Nodes = append(order.Nodes, c.ID)
		}
	}
	order.Aggregation = Aggregation(strings.ToLower(strings.TrimSpace(string(order.Aggregation))))
	if order.Aggregation == "" {
		if len(order.Nodes) == 1 {
			order.Aggregation = AggregationSingleSource
		} else {
			order.Aggregation = AggregationCombine
		}
	}

	for _, c := range plan.QueryComponents {
		for _, m := range answerRef.FindAllStringSubmatch(c.SubQuery, -1) {
			if !hasEdge(order.Edges, m[1], c.ID) {
				order.Edges = append(order.Edges, Edge{From: m[1], To: c.ID})
			}
		}
	}
}

// ValidatePlan checks the plan against the shape the executor relies on.
func ValidatePlan(plan *QueryPlan) error {
	if plan == nil {
		return &PlanError{Problems: []string{"plan is nil"}}
	}
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch n := len(plan.QueryComponents); {
	case n == 0:
		add("plan has no query components")
	case n > MaxComponents:
		add("plan has %d query components, at most %d allowed", n, MaxComponents)
	}

	ids := make(map[string]bool, len(plan.QueryComponents))
	for i, c := range plan.QueryComponents {
		if c.ID == "" {
			add("component %d has no id", i)
		} else if ids[c.ID] {
			add("duplicate component id %q", c.ID)
		}
		ids[c.ID] = true
		if c.SubQuery == "" {
			add("component %q has an empty sub_query", c.ID)
		}
		if _, ok := retrieval.ParseSource(string(c.Source)); !ok {
			add("component %q uses unknown source %q", c.ID, c.Source)
		}
	}

	if len(plan.DataSources) > MaxDataSources {
		add("plan lists %d data sources, at most %d allowed", len(plan.DataSources), MaxDataSources)
	}
	for _, src := range plan.DataSources {
		if _, ok := retrieval.ParseSource(string(src)); !ok {
			add("unknown data source %q", src)
		}
	}
	if want, got := componentSources(plan.QueryComponents), dedupeSources(plan.DataSources); !sameSources(want, got) {
		add("data_sources %v do not match component sources %v", got, want)
	}

	order := plan.ExecutionOrder
	if len(order.Nodes) == 0 {
		add("execution_order has no nodes")
	}
	seen := make(map[string]bool, len(order.Nodes))
	for _, id := range order.Nodes {
		if !ids[id] {
			add("execution_order node %q has no matching component", id)
		}
		if seen[id] {
			add("execution_order lists node %q twice", id)
		}
		seen[id] = true
	}
	for _, e := range order.Edges {
		if !seen[e.From] || !seen[e.To] {
			add("edge %s->%s references a node outside execution_order", e.From, e.To)
		}
		if e.From == e.To {
			add("edge %s->%s is a self dependency", e.From, e.To)
		}
	}
	if len(problems) == 0 {
		if _, err := topoOrder(order.Nodes, order.Edges); err != nil {
			add("%v", err)
		}
	}

	if !validAggregation(order.Aggregation) {
		add("unknown aggregation %q", order.Aggregation)
	}
	if order.Aggregation == AggregationSingleSource && len(order.Nodes) != 1 {
		add("single_source aggregation requires exactly one node, got %d", len(order.Nodes))
	}

	if len(problems) > 0 {
		return &PlanError{Problems: problems}
	}
	return nil
}

// topoOrder returns nodes ordered so every edge points forward, keeping the
// listed order wherever edges allow it.
func topoOrder(nodes []string, edges []Edge) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indegree[n] = 0
	}
	for _, e := range edges {
		indegree[e.To]++
	}

	out := make([]string, 0, len(nodes))
	done := make(map[string]bool, len(nodes))
	for len(out) < len(nodes) {
		progressed := false
		for _, n := range nodes {
			if done[n] || indegree[n] > 0 {
				continue
			}
			done[n] = true
			out = append(out, n)
			for _, e := range edges {
				if e.From == n {
					indegree[e.To]--
				}
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, fmt.Errorf("execution_order edges contain a cycle")
		}
	}
	return out, nil
}

func validAggregation(a Aggregation) bool {
	for _, known := range knownAggregations {
		if a == known {
			return true
		}
	}
	return false
}

func hasEdge(edges []Edge, from, to string) bool {
	for _, e := range edges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

func componentSources(components []QueryComponent) []retrieval.Source {
	out := make([]retrieval.Source, 0, len(components))
	for _, c := range components {
		out = append(out, c.Source)
	}
	return dedupeSources(out)
}

func dedupeSources(in []retrieval.Source) []retrieval.Source {
	seen := make(map[retrieval.Source]bool, len(in))
	out := make([]retrieval.Source, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sameSources(a, b []retrieval.Source) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
