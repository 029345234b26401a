package graph

import (
	"context"
	"fmt"
)

// NodeType represents the type of a node in the graph
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeCondition NodeType = "condition"
	NodeTypeStep      NodeType = "step"
)

// NodeFunc is the function executed by a node. S is usually a pointer so
// nodes can mutate the shared run state.
type NodeFunc[S any] func(context.Context, S) error

// ConditionFunc evaluates a condition and returns the branch key
type ConditionFunc[S any] func(context.Context, S) (string, error)

// TransitionFunc observes every edge the walk takes.
type TransitionFunc func(from, to string)

// Node represents a node in the execution graph
type Node[S any] struct {
	Name      string
	Type      NodeType
	Execute   NodeFunc[S]
	Condition ConditionFunc[S]  // Only for condition nodes
	Next      string            // Outgoing edge for non-condition nodes
	NextMap   map[string]string // For condition nodes: condition result -> next node
}

// Graph is a state machine walked one node at a time from the start node
// until an end node runs.
type Graph[S any] struct {
	nodes        map[string]*Node[S]
	startNode    string
	endNodes     map[string]struct{}
	maxVisits    int
	onTransition TransitionFunc
}

// NewGraph creates a new graph
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:     make(map[string]*Node[S]),
		endNodes:  make(map[string]struct{}),
		maxVisits: 10,
	}
}

func (g *Graph[S]) validateNode(node *Node[S]) error {
	if node.Name == "" {
		return fmt.Errorf("node name cannot be empty")
	}
	switch node.Type {
	case NodeTypeCondition:
		if node.Condition == nil {
			return fmt.Errorf("condition node %s must have non-nil Condition function", node.Name)
		}
	case NodeTypeStart, NodeTypeEnd:
		// Execute is optional for the boundary nodes.
	default:
		if node.Execute == nil {
			return fmt.Errorf("node %s of type %s must have non-nil Execute function", node.Name, node.Type)
		}
	}
	return nil
}

// AddNode adds a node to the graph
func (g *Graph[S]) AddNode(node *Node[S]) error {
	if _, exists := g.nodes[node.Name]; exists {
		return fmt.Errorf("node %s already exists", node.Name)
	}
	if err := g.validateNode(node); err != nil {
		return err
	}

	g.nodes[node.Name] = node
	switch node.Type {
	case NodeTypeStart:
		g.startNode = node.Name
	case NodeTypeEnd:
		g.endNodes[node.Name] = struct{}{}
	}
	return nil
}

// Validate checks that every edge points at a known node and a start exists.
func (g *Graph[S]) Validate() error {
	if g.startNode == "" {
		return fmt.Errorf("start node not set")
	}
	if len(g.endNodes) == 0 {
		return fmt.Errorf("no end node defined")
	}
	for _, node := range g.nodes {
		for _, child := range g.children(node) {
			if _, ok := g.nodes[child]; !ok {
				return fmt.Errorf("node %s points to unknown node %s", node.Name, child)
			}
		}
		if node.Type != NodeTypeEnd && node.Type != NodeTypeCondition && node.Next == "" {
			return fmt.Errorf("node %s has no outgoing edge", node.Name)
		}
	}
	return nil
}

// OnTransition registers a hook invoked for every edge taken.
func (g *Graph[S]) OnTransition(fn TransitionFunc) {
	g.onTransition = fn
}

// Execute walks the graph from the start node. It returns the name of the
// end node reached. A node error stops the walk and is returned together with
// the name of the failing node.
func (g *Graph[S]) Execute(ctx context.Context, state S) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}

	visited := make(map[string]int)
	current := g.startNode
	for {
		node := g.nodes[current]

		// Detect runaway loops by counting how many times we revisit a node.
		visited[current]++
		if visited[current] > g.maxVisits {
			return current, fmt.Errorf("infinite loop detected at node %s", current)
		}

		if node.Type == NodeTypeEnd {
			if node.Execute != nil {
				if err := node.Execute(ctx, state); err != nil {
					return current, fmt.Errorf("error executing node %s: %w", current, err)
				}
			}
			return current, nil
		}

		next, err := g.resolveNext(ctx, node, state)
		if err != nil {
			return current, err
		}
		if g.onTransition != nil {
			g.onTransition(current, next)
		}
		current = next
	}
}

func (g *Graph[S]) resolveNext(ctx context.Context, node *Node[S], state S) (string, error) {
	if node.Type == NodeTypeCondition {
		result, err := node.Condition(ctx, state)
		if err != nil {
			return "", fmt.Errorf("error evaluating condition at node %s: %w", node.Name, err)
		}
		next := node.NextMap[result]
		if next == "" {
			return "", fmt.Errorf("no next node for result %q at node %s", result, node.Name)
		}
		return next, nil
	}

	if node.Execute != nil {
		if err := node.Execute(ctx, state); err != nil {
			return "", fmt.Errorf("error executing node %s: %w", node.Name, err)
		}
	}
	return node.Next, nil
}

func (g *Graph[S]) children(node *Node[S]) []string {
	var out []string
	if node.Next != "" {
		out = append(out, node.Next)
	}
	for _, child := range node.NextMap {
		out = append(out, child)
	}
	return out
}

// GetNode returns a node by name
func (g *Graph[S]) GetNode(name string) (*Node[S], error) {
	node, exists := g.nodes[name]
	if !exists {
		return nil, fmt.Errorf("node %s not found", name)
	}
	return node, nil
}

// SetMaxVisits sets the maximum number of visits to a node
func (g *Graph[S]) SetMaxVisits(maxVisits int) {
	g.maxVisits = maxVisits
}

// Builder helps build graphs fluently. The first error is kept and reported
// by Build.
type Builder[S any] struct {
	graph *Graph[S]
	err   error
}

// NewBuilder creates a new graph builder
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{graph: NewGraph[S]()}
}

func (b *Builder[S]) add(node *Node[S]) *Builder[S] {
	if b.err == nil {
		b.err = b.graph.AddNode(node)
	}
	return b
}

// AddStart adds the start node. execute may be nil.
func (b *Builder[S]) AddStart(name string, execute NodeFunc[S]) *Builder[S] {
	return b.add(&Node[S]{Name: name, Type: NodeTypeStart, Execute: execute})
}

// AddEnd adds a terminal node. execute may be nil.
func (b *Builder[S]) AddEnd(name string, execute NodeFunc[S]) *Builder[S] {
	return b.add(&Node[S]{Name: name, Type: NodeTypeEnd, Execute: execute})
}

// AddNode adds a step node
func (b *Builder[S]) AddNode(name string, execute NodeFunc[S]) *Builder[S] {
	return b.add(&Node[S]{Name: name, Type: NodeTypeStep, Execute: execute})
}

// AddConditionNode adds a condition node
func (b *Builder[S]) AddConditionNode(name string, condition ConditionFunc[S], nextMap map[string]string) *Builder[S] {
	return b.add(&Node[S]{Name: name, Type: NodeTypeCondition, Condition: condition, NextMap: nextMap})
}

// AddEdge connects two nodes
func (b *Builder[S]) AddEdge(from, to string) *Builder[S] {
	if b.err != nil {
		return b
	}
	node, exists := b.graph.nodes[from]
	if !exists {
		b.err = fmt.Errorf("node %s not found", from)
		return b
	}
	if node.Type == NodeTypeCondition || node.Type == NodeTypeEnd {
		b.err = fmt.Errorf("node %s of type %s cannot take a plain edge", from, node.Type)
		return b
	}
	node.Next = to
	return b
}

// SetMaxVisits sets the maximum number of visits to a node
func (b *Builder[S]) SetMaxVisits(maxVisits int) *Builder[S] {
	b.graph.SetMaxVisits(maxVisits)
	return b
}

// OnTransition registers a hook invoked for every edge taken.
func (b *Builder[S]) OnTransition(fn TransitionFunc) *Builder[S] {
	b.graph.OnTransition(fn)
	return b
}

// Build returns the constructed graph
func (b *Builder[S]) Build() (*Graph[S], error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.graph.Validate(); err != nil {
		return nil, err
	}
	return b.graph, nil
}
