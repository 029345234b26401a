package websearch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/llm"
)

const litePage = `<html><body><table>
<tr><td><a rel="nofollow" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fcache&amp;rut=x" class='result-link'>What is a cache?</a></td></tr>
<tr><td class='result-snippet'>A cache   stores results for reuse.</td></tr>
<tr><td><a rel="nofollow" href="https://example.org/lru" class='result-link'>LRU eviction</a></td></tr>
<tr><td class='result-snippet'>Least recently used entries are evicted first.</td></tr>
<tr><td><a rel="nofollow" href="https://example.org/lru" class='result-link'>LRU eviction (dup)</a></td></tr>
<tr><td class='result-snippet'>dup</td></tr>
</table></body></html>`

func newServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.PostForm.Get("q"))
		w.WriteHeader(status)
		io.WriteString(w, litePage)
	}))
}

func TestSearchParsesLitePage(t *testing.T) {
	srv := newServer(t, http.StatusOK)
	defer srv.Close()

	s := New(nil, Config{Endpoint: srv.URL, QPS: 100})
	results, err := s.Search(context.Background(), "cache")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://example.com/cache", results[0].URL)
	assert.Equal(t, "A cache stores results for reuse.", results[0].Snippet)
	assert.Equal(t, "LRU eviction", results[1].Title)
}

func TestRetrieveSummarises(t *testing.T) {
	srv := newServer(t, http.StatusOK)
	defer srv.Close()

	var prompt string
	oracle := llm.Func(func(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
		prompt = req.Prompt
		return &llm.GenerateResponse{Text: "A cache stores results [1]."}, nil
	})

	res, err := New(oracle, Config{Endpoint: srv.URL, QPS: 100}).Retrieve(context.Background(), "What is caching?")
	require.NoError(t, err)
	assert.Equal(t, "A cache stores results [1].", res.Answer)
	assert.Len(t, res.Sources, 2)
	assert.Equal(t, "https://example.org/lru", res.Metadata[1]["url"])
	assert.True(t, strings.Contains(prompt, "[2] LRU eviction"), prompt)
}

func TestSearchErrors(t *testing.T) {
	srv := newServer(t, http.StatusTooManyRequests)
	defer srv.Close()

	s := New(nil, Config{Endpoint: srv.URL, QPS: 100})
	_, err := s.Search(context.Background(), "cache")
	assert.ErrorIs(t, err, ferrors.ErrRateLimited)

	_, err = s.Search(context.Background(), "  ")
	assert.ErrorIs(t, err, ferrors.ErrInvalidInput)
}
