// Package runner admits work under a concurrency limit and turns panics in
// that work into errors.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sweetpotato0/factflow/graph"
)

// PanicError is returned when admitted work panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Runner executes work while bounding how many calls run at once.
type Runner struct {
	maxConcurrency int
	semaphore      chan struct{}
}

// New creates a new runner
func New(maxConcurrency int) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 10 // Default concurrency
	}
	return &Runner{
		maxConcurrency: maxConcurrency,
		semaphore:      make(chan struct{}, maxConcurrency),
	}
}

// MaxConcurrency reports the admission limit.
func (r *Runner) MaxConcurrency() int {
	return r.maxConcurrency
}

// InFlight reports how many calls currently hold a slot.
func (r *Runner) InFlight() int {
	return len(r.semaphore)
}

// Do waits for a free slot, then runs fn. Waiting honours ctx cancellation.
// A panic inside fn is recovered and returned as *PanicError.
func (r *Runner) Do(ctx context.Context, fn func(context.Context) error) (err error) {
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// RunGraph executes a graph workflow under the runner's limit and returns
// the node the walk stopped at.
func RunGraph[S any](ctx context.Context, r *Runner, g *graph.Graph[S], state S) (string, error) {
	var at string
	err := r.Do(ctx, func(ctx context.Context) error {
		var err error
		at, err = g.Execute(ctx, state)
		return err
	})
	return at, err
}
