// Package llm defines the oracle contract every pipeline stage talks to.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Usage reports token consumption for one oracle call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total is the sum of input and output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// GenerateRequest is a single prompt sent to the oracle.
type GenerateRequest struct {
	// Stage names the pipeline step issuing the call (planner, refiner, ...).
	Stage string
	// System carries the stage instructions.
	System string
	// Prompt is the rendered user content.
	Prompt string
	// SchemaHint, when set, asks the provider for JSON output shaped like the hint.
	SchemaHint map[string]any
}

// GenerateResponse is the oracle reply.
type GenerateResponse struct {
	Text  string
	Model string
	Usage Usage
}

// Client is implemented by every provider adapter.
type Client interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// Func adapts a plain function into a Client.
type Func func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

// Generate implements Client.
func (f Func) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	return f(ctx, req)
}

// Validate rejects requests without any prompt content.
func (r *GenerateRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("llm: nil request")
	}
	if strings.TrimSpace(r.Prompt) == "" && strings.TrimSpace(r.System) == "" {
		return fmt.Errorf("llm: empty prompt for stage %q", r.Stage)
	}
	return nil
}

// JSONInstruction renders a short instruction describing the expected JSON
// shape, appended to prompts for providers without native JSON mode.
func JSONInstruction(hint map[string]any) string {
	if len(hint) == 0 {
		return ""
	}
	keys := make([]string, 0, len(hint))
	for k := range hint {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "Respond with a single JSON object containing the keys: " + strings.Join(keys, ", ") + "."
}
