package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/factflow/llm"
)

func TestNewUnknownProvider(t *testing.T) {
	_, _, err := New(context.Background(), Settings{Name: "bogus"})
	assert.Error(t, err)
}

func TestGeminiRequiresKey(t *testing.T) {
	_, _, err := New(context.Background(), Settings{Name: "gemini"})
	assert.Error(t, err)
}

func TestOpenAIGenerate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"ok\":true}"}}],
			"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`)
	}))
	defer srv.Close()

	client, closeFn, err := New(context.Background(), Settings{Name: "openai", APIKey: "k", BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	defer closeFn()

	resp, err := client.Generate(context.Background(), &llm.GenerateRequest{
		Stage:      "planner",
		System:     "plan",
		Prompt:     "What is caching?",
		SchemaHint: map[string]any{"query_intent": "string"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, int64(12), resp.Usage.InputTokens)
	assert.Equal(t, int64(4), resp.Usage.OutputTokens)

	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok, "expected response_format in request")
	assert.Equal(t, "json_object", format["type"])
}

func TestClaudeGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"m1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"Caching stores results."}],
			"stop_reason":"end_turn","usage":{"input_tokens":7,"output_tokens":3}}`)
	}))
	defer srv.Close()

	client, _, err := New(context.Background(), Settings{Name: "claude", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), &llm.GenerateRequest{Stage: "aggregator", Prompt: "combine"})
	require.NoError(t, err)
	assert.Equal(t, "Caching stores results.", resp.Text)
	assert.Equal(t, int64(10), resp.Usage.Total())
}

func TestGenerateRejectsEmptyRequest(t *testing.T) {
	client, _, err := New(context.Background(), Settings{Name: "openai", APIKey: "k", BaseURL: "http://127.0.0.1:0/"})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), &llm.GenerateRequest{Stage: "planner"})
	assert.Error(t, err)
}

func TestGroqUsesOpenAICompatibleEndpoint(t *testing.T) {
	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		model, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"llama",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hi"}}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer srv.Close()

	client, _, err := New(context.Background(), Settings{Name: "groq", APIKey: "k", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), &llm.GenerateRequest{Stage: "refiner", Prompt: "check"})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
	assert.Equal(t, "llama-3.3-70b-versatile", model)
}
