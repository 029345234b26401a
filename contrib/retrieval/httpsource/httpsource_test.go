package httpsource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/sweetpotato0/factflow/errors"
)

func TestRetrieve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "What is caching?", req.Query)
		assert.Equal(t, 3, req.TopK)

		json.NewEncoder(w).Encode(map[string]any{
			"answer":   " Caching stores results. ",
			"sources":  []string{"doc1", "<p>doc   two</p>", "   "},
			"metadata": []map[string]any{{"id": "1"}, {"id": "2"}},
		})
	}))
	defer srv.Close()

	src, err := New(Config{Endpoint: srv.URL, APIKey: "secret", TopK: 3})
	require.NoError(t, err)

	res, err := src.Retrieve(context.Background(), "What is caching?")
	require.NoError(t, err)
	assert.Equal(t, "Caching stores results.", res.Answer)
	assert.Equal(t, []string{"doc1", "doc two"}, res.Sources)
	assert.Len(t, res.Metadata, 2)
}

func TestRetrieveErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		if code == http.StatusOK {
			w.Write([]byte(`{"answer":"","error":"index offline"}`))
			return
		}
		w.WriteHeader(code)
	}))
	defer srv.Close()

	src, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = src.Retrieve(context.Background(), "q")
	assert.ErrorIs(t, err, ferrors.ErrRateLimited)

	status.Store(http.StatusInternalServerError)
	_, err = src.Retrieve(context.Background(), "q")
	assert.Error(t, err)

	status.Store(http.StatusOK)
	_, err = src.Retrieve(context.Background(), "q")
	assert.ErrorContains(t, err, "index offline")
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ferrors.ErrInvalidInput)
}
