// Package retrieval defines the contract for knowledge-source collaborators
// the executor dispatches sub-queries to.
package retrieval

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/runner"
)

// Source identifies a knowledge source kind.
type Source string

const (
	SourceKB     Source = "kb"     // knowledge base (vector search over curated docs)
	SourceNotion Source = "notion" // documentation workspace
	SourceGitHub Source = "github" // code repository browsing
	SourceWeb    Source = "web"    // web search
)

// KnownSources lists every source the planner may reference.
var KnownSources = []Source{SourceKB, SourceNotion, SourceGitHub, SourceWeb}

// ParseSource normalizes s and reports whether it names a known source.
func ParseSource(s string) (Source, bool) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownSources {
		if src == known {
			return src, true
		}
	}
	return src, false
}

// SourceResult is what one collaborator returns for one sub-query.
type SourceResult struct {
	Answer   string           `json:"answer"`
	Sources  []string         `json:"sources"`
	Metadata []map[string]any `json:"metadata"`
	Error    string           `json:"error,omitempty"`
}

// Retriever is implemented by every collaborator.
type Retriever interface {
	Retrieve(ctx context.Context, subQuery string) (*SourceResult, error)
}

// Func adapts a function into a Retriever.
type Func func(ctx context.Context, subQuery string) (*SourceResult, error)

// Retrieve implements Retriever.
func (f Func) Retrieve(ctx context.Context, subQuery string) (*SourceResult, error) {
	return f(ctx, subQuery)
}

// Registry maps sources to collaborators. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	retrievers map[Source]Retriever
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{retrievers: make(map[Source]Retriever)}
}

// Register binds r to source, replacing any previous binding.
func (r *Registry) Register(source Source, retriever Retriever) error {
	if retriever == nil {
		return fmt.Errorf("retrieval: nil retriever for %q: %w", source, ferrors.ErrInvalidInput)
	}
	if _, ok := ParseSource(string(source)); !ok {
		return fmt.Errorf("retrieval: unknown source %q: %w", source, ferrors.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrievers[source] = retriever
	return nil
}

// Get returns the collaborator bound to source.
func (r *Registry) Get(source Source) (Retriever, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret, ok := r.retrievers[source]
	if !ok {
		return nil, fmt.Errorf("retrieval: no collaborator registered for %q: %w", source, ferrors.ErrNotFound)
	}
	return ret, nil
}

// Sources lists registered sources in sorted order.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.retrievers))
	for s := range r.retrievers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WithTimeout bounds every call to r. The deadline is enforced even when r
// ignores its context: a late result is discarded and errors.ErrTimeout is
// returned. A panic in r is returned as *runner.PanicError.
func WithTimeout(r Retriever, limit time.Duration) Retriever {
	if limit <= 0 {
		return r
	}
	return Func(func(ctx context.Context, subQuery string) (*SourceResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		type outcome struct {
			res *SourceResult
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					done <- outcome{err: &runner.PanicError{Value: rec, Stack: debug.Stack()}}
				}
			}()
			res, err := r.Retrieve(callCtx, subQuery)
			done <- outcome{res, err}
		}()

		select {
		case out := <-done:
			if out.err != nil && callCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("retrieval exceeded %s: %w", limit, ferrors.ErrTimeout)
			}
			return out.res, out.err
		case <-callCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("retrieval exceeded %s: %w", limit, ferrors.ErrTimeout)
		}
	})
}

// Static returns a Retriever that always answers with res. Useful for fixtures.
func Static(res SourceResult) Retriever {
	return Func(func(context.Context, string) (*SourceResult, error) {
		out := res
		return &out, nil
	})
}
