package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/middleware"
	"github.com/sweetpotato0/factflow/pkg/logging"
)

func TestCallLogger(t *testing.T) {
	t.Run("logs completed call with usage", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewCallLogger(logging.New(&buf, "json", "debug"))

		ctx := middleware.NewContext(context.Background(), &llm.GenerateRequest{Stage: "planner", Prompt: "hello"})
		err := logger.Execute(ctx, func(c *middleware.Context) error {
			c.Response = &llm.GenerateResponse{Text: "{}", Usage: llm.Usage{InputTokens: 3, OutputTokens: 1}}
			return nil
		})

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		out := buf.String()
		if !strings.Contains(out, `"stage":"planner"`) {
			t.Errorf("stage not logged: %s", out)
		}
		if !strings.Contains(out, `"input_tokens":3`) {
			t.Errorf("usage not logged: %s", out)
		}
	})

	t.Run("logs and returns failures", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewCallLogger(logging.New(&buf, "text", "info"))
		boom := errors.New("boom")

		ctx := middleware.NewContext(context.Background(), &llm.GenerateRequest{Stage: "evaluator"})
		err := logger.Execute(ctx, func(c *middleware.Context) error { return boom })

		if !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
		if !strings.Contains(buf.String(), "oracle call failed") {
			t.Errorf("failure not logged: %s", buf.String())
		}
	})

	t.Run("handles nil request", func(t *testing.T) {
		logger := NewCallLogger(logging.Discard())
		ctx := middleware.NewContext(context.Background(), nil)
		if err := logger.Execute(ctx, func(c *middleware.Context) error { return nil }); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
