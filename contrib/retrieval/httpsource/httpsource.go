// Package httpsource is a retrieval collaborator backed by a JSON HTTP service,
// the shape knowledge-base and documentation-workspace services expose.
package httpsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/pkg/preprocess"
	"github.com/sweetpotato0/factflow/retrieval"
)

const maxBodyBytes = 4 << 20

// Config configures the HTTP collaborator.
type Config struct {
	// Endpoint receives POST {"query": ..., "top_k": ...}.
	Endpoint string
	APIKey   string
	TopK     int
	Client   *http.Client
}

// Source calls a remote retrieval service.
type Source struct {
	cfg    Config
	client *http.Client
}

var _ retrieval.Retriever = (*Source)(nil)

type request struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// New validates cfg and returns the collaborator.
func New(cfg Config) (*Source, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("httpsource: endpoint is required: %w", ferrors.ErrInvalidInput)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Source{cfg: cfg, client: client}, nil
}

// Retrieve implements retrieval.Retriever.
func (s *Source) Retrieve(ctx context.Context, subQuery string) (*retrieval.SourceResult, error) {
	body, err := json.Marshal(request{Query: subQuery, TopK: s.cfg.TopK})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpsource: request %s: %w", s.cfg.Endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("httpsource: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("httpsource: %s: %w", resp.Status, ferrors.ErrRateLimited)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("httpsource: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var out retrieval.SourceResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("httpsource: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("httpsource: service error: %s", out.Error)
	}

	docs := out.Sources[:0]
	for _, doc := range out.Sources {
		if cleaned := cleanDocument(doc); cleaned != "" {
			docs = append(docs, cleaned)
		}
	}
	out.Sources = docs
	out.Answer = strings.TrimSpace(out.Answer)
	return &out, nil
}

func cleanDocument(doc string) string {
	trimmed := strings.TrimSpace(doc)
	if strings.HasPrefix(trimmed, "<") {
		if text, err := preprocess.HTMLToText(trimmed); err == nil && text != "" {
			trimmed = text
		}
	}
	return preprocess.Document(trimmed)
}
