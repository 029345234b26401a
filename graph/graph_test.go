package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type counter struct {
	steps []string
	n     int
}

func record(name string) NodeFunc[*counter] {
	return func(_ context.Context, c *counter) error {
		c.steps = append(c.steps, name)
		return nil
	}
}

func TestNewGraph(t *testing.T) {
	g := NewGraph[*counter]()
	if g == nil {
		t.Errorf("NewGraph returned nil")
	}
}

func TestAddNode(t *testing.T) {
	g := NewGraph[*counter]()

	if err := g.AddNode(&Node[*counter]{Name: "test_node", Type: NodeTypeStep, Execute: record("x")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	retrieved, err := g.GetNode("test_node")
	if err != nil {
		t.Errorf("Failed to retrieve added node: %v", err)
	}
	if retrieved.Name != "test_node" {
		t.Errorf("Retrieved node name mismatch")
	}
}

func TestAddNodeValidation(t *testing.T) {
	g := NewGraph[*counter]()

	if err := g.AddNode(&Node[*counter]{Name: "", Type: NodeTypeStep, Execute: record("x")}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := g.AddNode(&Node[*counter]{Name: "step", Type: NodeTypeStep}); err == nil {
		t.Error("expected error for step without Execute")
	}
	if err := g.AddNode(&Node[*counter]{Name: "cond", Type: NodeTypeCondition}); err == nil {
		t.Error("expected error for condition without Condition")
	}

	g.AddNode(&Node[*counter]{Name: "dup", Type: NodeTypeStep, Execute: record("x")})
	err := g.AddNode(&Node[*counter]{Name: "dup", Type: NodeTypeStep, Execute: record("x")})
	if err == nil || err.Error() != "node dup already exists" {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestLinearExecution(t *testing.T) {
	var transitions []string
	g, err := NewBuilder[*counter]().
		AddStart("start", record("start")).
		AddNode("a", record("a")).
		AddNode("b", record("b")).
		AddEnd("done", record("done")).
		AddEdge("start", "a").
		AddEdge("a", "b").
		AddEdge("b", "done").
		OnTransition(func(from, to string) { transitions = append(transitions, from+"->"+to) }).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	state := &counter{}
	end, err := g.Execute(context.Background(), state)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if end != "done" {
		t.Errorf("expected to end at done, got %s", end)
	}
	if got := strings.Join(state.steps, ","); got != "start,a,b,done" {
		t.Errorf("unexpected steps %s", got)
	}
	if got := strings.Join(transitions, ","); got != "start->a,a->b,b->done" {
		t.Errorf("unexpected transitions %s", got)
	}
}

func TestConditionalBranching(t *testing.T) {
	build := func() *Graph[*counter] {
		g, err := NewBuilder[*counter]().
			AddStart("start", nil).
			AddNode("work", func(_ context.Context, c *counter) error {
				c.n++
				return nil
			}).
			AddConditionNode("gate", func(_ context.Context, c *counter) (string, error) {
				if c.n < 3 {
					return "again", nil
				}
				return "finish", nil
			}, map[string]string{"again": "work", "finish": "done"}).
			AddEnd("done", nil).
			AddEdge("start", "work").
			AddEdge("work", "gate").
			Build()
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		return g
	}

	state := &counter{}
	if _, err := build().Execute(context.Background(), state); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if state.n != 3 {
		t.Errorf("expected 3 iterations, got %d", state.n)
	}
}

func TestInfiniteLoopDetection(t *testing.T) {
	g, err := NewBuilder[*counter]().
		AddStart("start", nil).
		AddNode("loop", record("loop")).
		AddConditionNode("gate", func(context.Context, *counter) (string, error) { return "again", nil },
			map[string]string{"again": "loop", "stop": "done"}).
		AddEnd("done", nil).
		AddEdge("start", "loop").
		AddEdge("loop", "gate").
		SetMaxVisits(5).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	_, err = g.Execute(context.Background(), &counter{})
	if err == nil || !strings.Contains(err.Error(), "infinite loop") {
		t.Errorf("expected infinite loop error, got %v", err)
	}
}

func TestNodeErrorStopsExecution(t *testing.T) {
	boom := errors.New("boom")
	g, err := NewBuilder[*counter]().
		AddStart("start", nil).
		AddNode("fail", func(context.Context, *counter) error { return boom }).
		AddNode("after", record("after")).
		AddEnd("done", nil).
		AddEdge("start", "fail").
		AddEdge("fail", "after").
		AddEdge("after", "done").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	state := &counter{}
	at, err := g.Execute(context.Background(), state)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if at != "fail" {
		t.Errorf("expected failure at node fail, got %s", at)
	}
	if len(state.steps) != 0 {
		t.Errorf("expected no steps after failure, got %v", state.steps)
	}
}

func TestConditionUnknownResult(t *testing.T) {
	g, err := NewBuilder[*counter]().
		AddStart("start", nil).
		AddConditionNode("gate", func(context.Context, *counter) (string, error) { return "maybe", nil },
			map[string]string{"yes": "done"}).
		AddEnd("done", nil).
		AddEdge("start", "gate").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := g.Execute(context.Background(), &counter{}); err == nil {
		t.Error("expected error for unmapped condition result")
	}
}

func TestBuildValidation(t *testing.T) {
	if _, err := NewBuilder[*counter]().AddNode("a", record("a")).Build(); err == nil {
		t.Error("expected error without start node")
	}

	_, err := NewBuilder[*counter]().
		AddStart("start", nil).
		AddEnd("done", nil).
		AddEdge("start", "missing").
		Build()
	if err == nil {
		t.Error("expected error for edge to unknown node")
	}

	_, err = NewBuilder[*counter]().
		AddStart("start", nil).
		AddEnd("done", nil).
		AddEdge("nowhere", "done").
		Build()
	if err == nil {
		t.Error("expected error for edge from unknown node")
	}

	_, err = NewBuilder[*counter]().
		AddStart("start", nil).
		AddNode("dangling", record("x")).
		AddEnd("done", nil).
		AddEdge("start", "done").
		Build()
	if err == nil {
		t.Error("expected error for node without outgoing edge")
	}
}
