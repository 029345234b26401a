package errorhandler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/middleware"
)

func TestErrorHandlerSeesStage(t *testing.T) {
	var gotStage string
	h := NewErrorHandler(func(stage string, err error) error {
		gotStage = stage
		return nil
	})
	ctx := middleware.NewContext(context.Background(), &llm.GenerateRequest{Stage: "evaluator"})

	err := h.Execute(ctx, func(*middleware.Context) error { return errors.New("boom") })
	assert.NoError(t, err)
	assert.Equal(t, "evaluator", gotStage)
}

func TestErrorHandlerSkipsSuccess(t *testing.T) {
	called := false
	h := NewErrorHandler(func(string, error) error { called = true; return nil })
	require.NoError(t, h.Execute(&middleware.Context{}, func(*middleware.Context) error { return nil }))
	assert.False(t, called)
}

func TestNormalizerPrefixesStage(t *testing.T) {
	ctx := middleware.NewContext(context.Background(), &llm.GenerateRequest{Stage: "planner"})
	err := NewNormalizer().Execute(ctx, func(*middleware.Context) error {
		return errors.New("429 Too Many Requests")
	})
	assert.ErrorIs(t, err, ferrors.ErrRateLimited)
	assert.ErrorContains(t, err, "planner oracle call")
	assert.Equal(t, ferrors.CategoryExternalService, ferrors.Classify("planning", err).Category)
}

type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"http 429", errors.New(`POST "https://api.openai.com/v1/chat/completions": 429 Too Many Requests`), ferrors.ErrRateLimited},
		{"anthropic overloaded", errors.New("overloaded_error: Overloaded"), ferrors.ErrRateLimited},
		{"gemini quota", errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED"), ferrors.ErrRateLimited},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ferrors.ErrTimeout},
		{"net timeout", fmt.Errorf("dial: %w", netTimeout{}), ferrors.ErrTimeout},
		{"gateway timeout", errors.New("504 Gateway Timeout"), ferrors.ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.err)
			assert.ErrorIs(t, got, tt.target)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	plain := errors.New("bad request")
	assert.Same(t, plain, Normalize(plain))
	assert.NoError(t, Normalize(nil))

	already := fmt.Errorf("%w: upstream", ferrors.ErrTimeout)
	assert.Same(t, already, Normalize(already))
}
