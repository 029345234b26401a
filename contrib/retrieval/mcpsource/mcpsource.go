// Package mcpsource is a retrieval collaborator that forwards sub-queries to
// an MCP tool, typically a code-repository search server.
package mcpsource

import (
	"context"
	"fmt"
	"strings"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/extract"
	"github.com/sweetpotato0/factflow/pkg/preprocess"
	"github.com/sweetpotato0/factflow/retrieval"
)

// ToolCaller is the slice of mcp.Client the collaborator needs.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Config names the tool and the argument carrying the sub-query.
type Config struct {
	Tool     string
	QueryArg string
	// Extra arguments sent on every call (e.g. repository owner/name).
	Args map[string]any
}

// Source calls one MCP tool per sub-query.
type Source struct {
	caller ToolCaller
	cfg    Config
}

var _ retrieval.Retriever = (*Source)(nil)

// New returns the collaborator.
func New(caller ToolCaller, cfg Config) (*Source, error) {
	if caller == nil {
		return nil, fmt.Errorf("mcpsource: tool caller is required: %w", ferrors.ErrInvalidInput)
	}
	if strings.TrimSpace(cfg.Tool) == "" {
		return nil, fmt.Errorf("mcpsource: tool name is required: %w", ferrors.ErrInvalidInput)
	}
	if cfg.QueryArg == "" {
		cfg.QueryArg = "query"
	}
	return &Source{caller: caller, cfg: cfg}, nil
}

// Retrieve implements retrieval.Retriever. Tools that reply with a JSON
// object shaped like SourceResult are decoded; plain text replies become the
// answer and the single supporting document.
func (s *Source) Retrieve(ctx context.Context, subQuery string) (*retrieval.SourceResult, error) {
	args := make(map[string]any, len(s.cfg.Args)+1)
	for k, v := range s.cfg.Args {
		args[k] = v
	}
	args[s.cfg.QueryArg] = subQuery

	text, err := s.caller.CallTool(ctx, s.cfg.Tool, args)
	if err != nil {
		return nil, fmt.Errorf("mcpsource: %s: %w", s.cfg.Tool, err)
	}

	if res, _, err := extract.Into[retrieval.SourceResult](text); err == nil && (res.Answer != "" || len(res.Sources) > 0) {
		if res.Error != "" {
			return nil, fmt.Errorf("mcpsource: %s reported: %s", s.cfg.Tool, res.Error)
		}
		return &res, nil
	}

	cleaned := preprocess.CleanBasic(text)
	if cleaned == "" {
		return &retrieval.SourceResult{}, nil
	}
	return &retrieval.SourceResult{
		Answer:   cleaned,
		Sources:  []string{cleaned},
		Metadata: []map[string]any{{"tool": s.cfg.Tool}},
	}, nil
}
