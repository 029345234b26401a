package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an external call exceeded its deadline
	ErrTimeout = errors.New("external call timed out")

	// ErrRateLimited indicates an external service rejected the call for rate reasons
	ErrRateLimited = errors.New("rate limited")

	// ErrMalformedOutput indicates oracle output could not be turned into the expected structure
	ErrMalformedOutput = errors.New("malformed structured output")

	// ErrEmptyAnswer indicates a stage produced no answer text
	ErrEmptyAnswer = errors.New("empty answer")
)

// Category groups failures for reporting and handling.
type Category string

const (
	CategoryPlanning        Category = "planning"
	CategoryExecution       Category = "execution"
	CategoryEvaluation      Category = "evaluation"
	CategoryExternalService Category = "external_service"
	CategoryValidation      Category = "validation"
	CategoryNetwork         Category = "network"
	CategoryTimeout         Category = "timeout"
	CategoryUnknown         Category = "unknown"
)

// Severity ranks how serious a failure is for the request.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type categoryInfo struct {
	severity    Severity
	recoverable bool
	userMessage string
}

var categories = map[Category]categoryInfo{
	CategoryPlanning: {
		severity:    SeverityHigh,
		recoverable: true,
		userMessage: "We could not work out how to answer this question. Please try rephrasing it.",
	},
	CategoryExecution: {
		severity:    SeverityHigh,
		recoverable: true,
		userMessage: "We could not retrieve information from one of the knowledge sources. Please try again shortly.",
	},
	CategoryEvaluation: {
		severity:    SeverityMedium,
		recoverable: true,
		userMessage: "The answer could not be fact-checked. It is returned without verification.",
	},
	CategoryExternalService: {
		severity:    SeverityHigh,
		recoverable: true,
		userMessage: "An upstream service is unavailable or busy. Please try again in a moment.",
	},
	CategoryValidation: {
		severity:    SeverityMedium,
		recoverable: false,
		userMessage: "The request could not be processed because some input was invalid.",
	},
	CategoryNetwork: {
		severity:    SeverityHigh,
		recoverable: true,
		userMessage: "A network problem interrupted the request. Please check connectivity and retry.",
	},
	CategoryTimeout: {
		severity:    SeverityMedium,
		recoverable: true,
		userMessage: "The request took too long to complete. Please try again.",
	},
	CategoryUnknown: {
		severity:    SeverityCritical,
		recoverable: false,
		userMessage: "An unexpected error occurred while answering your question.",
	},
}

// PipelineError is the structured error surfaced to callers of the pipeline.
type PipelineError struct {
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Recoverable bool     `json:"recoverable"`
	Stage       string   `json:"stage,omitempty"`
	Message     string   `json:"message"`
	UserMessage string   `json:"user_message"`
	Err         error    `json:"-"`
}

// New builds a PipelineError for the category, deriving severity, recoverability
// and the user-facing message from the category table.
func New(category Category, stage string, err error) *PipelineError {
	info, ok := categories[category]
	if !ok {
		category = CategoryUnknown
		info = categories[CategoryUnknown]
	}
	msg := string(category) + " failure"
	if err != nil {
		msg = err.Error()
	}
	return &PipelineError{
		Category:    category,
		Severity:    info.severity,
		Recoverable: info.recoverable,
		Stage:       stage,
		Message:     msg,
		UserMessage: info.userMessage,
		Err:         err,
	}
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s [%s/%s]: %s", e.Stage, e.Category, e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s/%s]: %s", e.Category, e.Severity, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Classify converts err into a PipelineError. Errors that already carry a
// classification are returned as-is; otherwise transport-level causes win over
// the stage default.
func Classify(stage string, err error) *PipelineError {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return New(categorize(stage, err), stage, err)
}

func categorize(stage string, err error) Category {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, ErrRateLimited):
		return CategoryExternalService
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformedOutput):
		return CategoryValidation
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return CategoryNetwork
	}

	switch stage {
	case "planning":
		return CategoryPlanning
	case "executing":
		return CategoryExecution
	case "evaluating":
		return CategoryEvaluation
	}
	return CategoryUnknown
}

// Is reports whether err matches target; it mirrors the standard library so
// callers importing this package under its own name keep one import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As mirrors errors.As from the standard library.
func As(err error, target any) bool {
	return errors.As(err, target)
}
