package errorhandler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/middleware"
)

// ErrorHandlerFunc rewrites an error leaving the chain.
type ErrorHandlerFunc func(stage string, err error) error

// ErrorHandler applies a handler to every failed oracle call.
type ErrorHandler struct {
	handler ErrorHandlerFunc
}

// NewErrorHandler creates an error handling middleware
func NewErrorHandler(handler ErrorHandlerFunc) *ErrorHandler {
	return &ErrorHandler{handler: handler}
}

// NewNormalizer tags vendor failures with the shared sentinels and names the
// stage that made the call.
func NewNormalizer() *ErrorHandler {
	return NewErrorHandler(func(stage string, err error) error {
		err = Normalize(err)
		if stage == "" {
			return err
		}
		return fmt.Errorf("%s oracle call: %w", stage, err)
	})
}

// Name returns the middleware name
func (m *ErrorHandler) Name() string {
	return "ErrorHandler"
}

// Execute handles errors from downstream middlewares
func (m *ErrorHandler) Execute(ctx *middleware.Context, next middleware.Handler) error {
	err := next(ctx)
	if err != nil && m.handler != nil {
		return m.handler(ctx.Stage(), err)
	}
	return err
}

var (
	rateLimitMarkers = []string{"429", "rate limit", "rate_limit", "resource_exhausted", "overloaded", "quota"}
	timeoutMarkers   = []string{"408 request timeout", "504 gateway timeout", "deadline_exceeded"}
)

// Normalize tags vendor errors with errors.ErrRateLimited or errors.ErrTimeout
// so classification does not depend on the provider.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ferrors.ErrRateLimited) || errors.Is(err, ferrors.ErrTimeout) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ferrors.ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", ferrors.ErrRateLimited, err)
		}
	}
	for _, m := range timeoutMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", ferrors.ErrTimeout, err)
		}
	}
	return err
}
