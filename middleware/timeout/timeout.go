package timeout

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/middleware"
	"github.com/sweetpotato0/factflow/runner"
)

// Timeout bounds each oracle call. An expired deadline is reported as
// errors.ErrTimeout and is never retried here.
type Timeout struct {
	limit time.Duration
}

// New creates a timeout middleware. A non-positive limit disables it.
func New(limit time.Duration) *Timeout {
	return &Timeout{limit: limit}
}

// Name returns the middleware name
func (m *Timeout) Name() string {
	return "Timeout"
}

// Execute runs next under a per-call deadline. The rest of the chain runs on
// a copy of ctx so a call that ignores its deadline cannot write into ctx
// after Execute has returned.
func (m *Timeout) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if m.limit <= 0 {
		return next(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx.Context(), m.limit)
	defer cancel()

	call := ctx.Fork(callCtx)
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- &runner.PanicError{Value: rec, Stack: debug.Stack()}
			}
		}()
		done <- next(call)
	}()

	select {
	case err := <-done:
		ctx.Merge(call)
		if err != nil && (errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded) {
			return m.expired(ctx, err)
		}
		return err
	case <-callCtx.Done():
		if err := ctx.Context().Err(); err != nil {
			return err
		}
		return m.expired(ctx, context.DeadlineExceeded)
	}
}

func (m *Timeout) expired(ctx *middleware.Context, err error) error {
	return fmt.Errorf("%s call exceeded %s: %w", ctx.Stage(), m.limit, errors.Join(ferrors.ErrTimeout, err))
}
