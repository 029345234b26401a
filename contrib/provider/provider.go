// Package provider builds an oracle client by vendor name.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/factflow/contrib/provider/claude"
	"github.com/sweetpotato0/factflow/contrib/provider/gemini"
	"github.com/sweetpotato0/factflow/contrib/provider/openai"
	"github.com/sweetpotato0/factflow/llm"
)

// Settings selects and configures one vendor.
type Settings struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1/"

// New returns the oracle for settings.Name (openai, groq, claude or gemini)
// and a close function that releases vendor resources.
func New(ctx context.Context, s Settings) (llm.Client, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(s.Name) {
	case "groq":
		if s.BaseURL == "" {
			s.BaseURL = GroqBaseURL
		}
		if s.Model == "" {
			s.Model = "llama-3.3-70b-versatile"
		}
		fallthrough
	case "openai", "":
		cfg := openai.DefaultConfig().WithAPIKey(s.APIKey).WithBaseURL(s.BaseURL)
		if s.Model != "" {
			cfg.WithModel(s.Model)
		}
		if s.MaxTokens > 0 {
			cfg.MaxTokens = s.MaxTokens
		}
		if s.Temperature > 0 {
			cfg.Temperature = s.Temperature
		}
		return openai.New(cfg), noop, nil
	case "claude", "anthropic":
		cfg := claude.DefaultConfig(s.APIKey, s.BaseURL)
		if s.Model != "" {
			cfg.Model = s.Model
		}
		if s.MaxTokens > 0 {
			cfg.MaxTokens = s.MaxTokens
		}
		if s.Temperature > 0 {
			cfg.Temperature = s.Temperature
		}
		return claude.New(cfg), noop, nil
	case "gemini", "google":
		cfg := gemini.DefaultConfig(s.APIKey)
		if s.Model != "" {
			cfg.Model = s.Model
		}
		if s.MaxTokens > 0 {
			cfg.MaxTokens = int32(s.MaxTokens)
		}
		if s.Temperature > 0 {
			cfg.Temperature = float32(s.Temperature)
		}
		p, err := gemini.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("provider: unknown provider %q", s.Name)
	}
}
