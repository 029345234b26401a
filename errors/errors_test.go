package errors

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		stage    string
		err      error
		category Category
	}{
		{"deadline", "planning", fmt.Errorf("oracle: %w", context.DeadlineExceeded), CategoryTimeout},
		{"timeout sentinel", "executing", ErrTimeout, CategoryTimeout},
		{"rate limited", "planning", fmt.Errorf("openai: %w", ErrRateLimited), CategoryExternalService},
		{"malformed", "planning", ErrMalformedOutput, CategoryValidation},
		{"url error", "executing", &url.Error{Op: "Post", URL: "http://kb", Err: errors.New("connection refused")}, CategoryNetwork},
		{"planning default", "planning", errors.New("boom"), CategoryPlanning},
		{"execution default", "executing", errors.New("boom"), CategoryExecution},
		{"evaluation default", "evaluating", errors.New("boom"), CategoryEvaluation},
		{"unknown stage", "start", errors.New("boom"), CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Classify(tt.stage, tt.err)
			require.NotNil(t, pe)
			assert.Equal(t, tt.category, pe.Category)
			assert.NotEmpty(t, pe.UserMessage)
			assert.ErrorIs(t, pe, tt.err)
		})
	}
}

func TestClassifyKeepsExistingClassification(t *testing.T) {
	original := New(CategoryValidation, "planning", ErrInvalidInput)
	wrapped := fmt.Errorf("outer: %w", original)

	pe := Classify("executing", wrapped)
	assert.Same(t, original, pe)
	assert.Nil(t, Classify("executing", nil))
}

func TestNewFillsCategoryTable(t *testing.T) {
	pe := New(CategoryUnknown, "", nil)
	assert.Equal(t, SeverityCritical, pe.Severity)
	assert.False(t, pe.Recoverable)
	assert.Equal(t, "unknown failure", pe.Message)

	pe = New(Category("bogus"), "executing", errors.New("x"))
	assert.Equal(t, CategoryUnknown, pe.Category)
	assert.Contains(t, pe.Error(), "executing")
}
