package timeout

import (
	"context"
	"errors"
	"testing"
	"time"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/middleware"
	"github.com/sweetpotato0/factflow/runner"
)

func TestTimeout(t *testing.T) {
	t.Run("slow call becomes ErrTimeout", func(t *testing.T) {
		mw := New(10 * time.Millisecond)
		ctx := middleware.NewContext(context.Background(), &llm.GenerateRequest{Stage: "planner"})

		err := mw.Execute(ctx, func(c *middleware.Context) error {
			<-c.Context().Done()
			return c.Context().Err()
		})

		if !errors.Is(err, ferrors.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
		if got := ferrors.Classify("planning", err).Category; got != ferrors.CategoryTimeout {
			t.Errorf("expected timeout category, got %s", got)
		}
	})

	t.Run("fast call passes and restores context", func(t *testing.T) {
		mw := New(time.Second)
		parent := context.Background()
		ctx := middleware.NewContext(parent, nil)

		err := mw.Execute(ctx, func(c *middleware.Context) error {
			if _, ok := c.Context().Deadline(); !ok {
				t.Error("expected deadline on call context")
			}
			return nil
		})

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if ctx.Context() != parent {
			t.Error("parent context was not restored")
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		mw := New(time.Second)
		boom := errors.New("boom")
		err := mw.Execute(middleware.NewContext(context.Background(), nil), func(c *middleware.Context) error { return boom })
		if !errors.Is(err, boom) || errors.Is(err, ferrors.ErrTimeout) {
			t.Errorf("expected plain boom, got %v", err)
		}
	})

	t.Run("call ignoring its deadline is abandoned", func(t *testing.T) {
		mw := New(20 * time.Millisecond)
		ctx := middleware.NewContext(context.Background(), &llm.GenerateRequest{Stage: "evaluator"})
		release := make(chan struct{})
		defer close(release)

		start := time.Now()
		err := mw.Execute(ctx, func(c *middleware.Context) error {
			<-release
			c.Response = &llm.GenerateResponse{Text: "late"}
			return nil
		})

		if !errors.Is(err, ferrors.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("call was not abandoned, took %s", elapsed)
		}
		if ctx.Response != nil {
			t.Errorf("late response leaked into context: %+v", ctx.Response)
		}
	})

	t.Run("response and metadata are copied back", func(t *testing.T) {
		mw := New(time.Second)
		ctx := middleware.NewContext(context.Background(), &llm.GenerateRequest{Stage: "planner"})
		err := mw.Execute(ctx, func(c *middleware.Context) error {
			c.Response = &llm.GenerateResponse{Text: "plan"}
			c.Metadata["attempt"] = 1
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ctx.Response == nil || ctx.Response.Text != "plan" {
			t.Errorf("response not merged: %+v", ctx.Response)
		}
		if ctx.Metadata["attempt"] != 1 {
			t.Errorf("metadata not merged: %v", ctx.Metadata)
		}
	})

	t.Run("panic becomes an error", func(t *testing.T) {
		mw := New(time.Second)
		err := mw.Execute(middleware.NewContext(context.Background(), nil), func(c *middleware.Context) error {
			panic("sdk bug")
		})
		var perr *runner.PanicError
		if !errors.As(err, &perr) || perr.Value != "sdk bug" {
			t.Errorf("expected PanicError, got %v", err)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		mw := New(0)
		err := mw.Execute(middleware.NewContext(context.Background(), nil), func(c *middleware.Context) error {
			if _, ok := c.Context().Deadline(); ok {
				t.Error("unexpected deadline")
			}
			return nil
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
