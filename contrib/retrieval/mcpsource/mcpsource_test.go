package mcpsource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/sweetpotato0/factflow/errors"
)

type stubCaller struct {
	reply string
	err   error
	name  string
	args  map[string]any
}

func (s *stubCaller) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	s.name = name
	s.args = args
	return s.reply, s.err
}

func TestRetrieveStructuredReply(t *testing.T) {
	caller := &stubCaller{reply: "Results:\n```json\n{\"answer\": \"LRU lives in cache.go\", \"sources\": [\"cache.go:10\"], \"metadata\": [{\"path\": \"cache.go\"}]}\n```"}
	src, err := New(caller, Config{Tool: "search_code", Args: map[string]any{"repo": "acme/app"}})
	require.NoError(t, err)

	res, err := src.Retrieve(context.Background(), "where is the LRU?")
	require.NoError(t, err)
	assert.Equal(t, "LRU lives in cache.go", res.Answer)
	assert.Equal(t, []string{"cache.go:10"}, res.Sources)
	assert.Equal(t, "search_code", caller.name)
	assert.Equal(t, "where is the LRU?", caller.args["query"])
	assert.Equal(t, "acme/app", caller.args["repo"])
}

func TestRetrievePlainReply(t *testing.T) {
	src, err := New(&stubCaller{reply: "  func Get(key string)   "}, Config{Tool: "search_code", QueryArg: "q"})
	require.NoError(t, err)

	res, err := src.Retrieve(context.Background(), "Get")
	require.NoError(t, err)
	assert.Equal(t, "func Get(key string)", res.Answer)
	assert.Equal(t, []string{"func Get(key string)"}, res.Sources)
}

func TestRetrieveErrors(t *testing.T) {
	boom := errors.New("boom")
	src, err := New(&stubCaller{err: boom}, Config{Tool: "search_code"})
	require.NoError(t, err)
	_, err = src.Retrieve(context.Background(), "q")
	assert.ErrorIs(t, err, boom)

	src, err = New(&stubCaller{reply: `{"answer": "x", "error": "rate limited by GitHub"}`}, Config{Tool: "search_code"})
	require.NoError(t, err)
	_, err = src.Retrieve(context.Background(), "q")
	assert.ErrorContains(t, err, "rate limited by GitHub")

	_, err = New(nil, Config{Tool: "x"})
	assert.ErrorIs(t, err, ferrors.ErrInvalidInput)
	_, err = New(&stubCaller{}, Config{})
	assert.ErrorIs(t, err, ferrors.ErrInvalidInput)
}
