package logger

import (
	"log/slog"
	"time"

	"github.com/sweetpotato0/factflow/middleware"
	"github.com/sweetpotato0/factflow/pkg/logging"
)

// CallLogger logs every oracle call with its stage, sizes, latency and usage.
type CallLogger struct {
	logger *slog.Logger
}

// NewCallLogger creates a logging middleware. A nil logger uses the shared
// process logger.
func NewCallLogger(logger *slog.Logger) *CallLogger {
	if logger == nil {
		logger = logging.WithComponent("oracle")
	}
	return &CallLogger{logger: logger}
}

// Name returns the middleware name
func (m *CallLogger) Name() string {
	return "CallLogger"
}

// Execute logs the request before the call and the outcome after it
func (m *CallLogger) Execute(ctx *middleware.Context, next middleware.Handler) error {
	stage := ctx.Stage()
	promptLen := 0
	if ctx.Request != nil {
		promptLen = len(ctx.Request.Prompt) + len(ctx.Request.System)
	}
	m.logger.Debug("oracle call", "stage", stage, "prompt_chars", promptLen)

	start := time.Now()
	err := next(ctx)
	elapsed := time.Since(start)

	if err != nil {
		m.logger.Warn("oracle call failed",
			"stage", stage,
			"duration", elapsed,
			"error", err,
		)
		return err
	}
	if ctx.Response != nil {
		m.logger.Info("oracle call completed",
			"stage", stage,
			"duration", elapsed,
			"output_chars", len(ctx.Response.Text),
			"input_tokens", ctx.Response.Usage.InputTokens,
			"output_tokens", ctx.Response.Usage.OutputTokens,
		)
	}
	return nil
}
