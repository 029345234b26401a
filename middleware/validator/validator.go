package validator

import (
	"fmt"
	"strings"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/middleware"
)

// ValidatorFunc validates an outgoing request
type ValidatorFunc func(*llm.GenerateRequest) error

// RequestValidator rejects requests before they reach the oracle
type RequestValidator struct {
	validator ValidatorFunc
}

// NewRequestValidator creates a request validation middleware
func NewRequestValidator(validator ValidatorFunc) *RequestValidator {
	return &RequestValidator{validator: validator}
}

// Name returns the middleware name
func (m *RequestValidator) Name() string {
	return "RequestValidator"
}

// Execute validates the request
func (m *RequestValidator) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if m.validator != nil {
		if err := m.validator(ctx.Request); err != nil {
			return err
		}
	}
	return next(ctx)
}

// RequirePrompt rejects requests without a stage or prompt text.
func RequirePrompt(req *llm.GenerateRequest) error {
	if req == nil {
		return fmt.Errorf("nil oracle request: %w", ferrors.ErrInvalidInput)
	}
	if req.Stage == "" {
		return fmt.Errorf("oracle request has no stage: %w", ferrors.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("%s request has an empty prompt: %w", req.Stage, ferrors.ErrInvalidInput)
	}
	return nil
}
