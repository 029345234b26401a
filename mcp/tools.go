package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	ferrors "github.com/sweetpotato0/factflow/errors"
)

// ToolError is a failure the server reported in the tool result itself.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp tool %s: %s", e.Tool, e.Message)
}

// Tools lists every tool name the server exposes, following pagination.
func (c *Client) Tools(ctx context.Context) ([]string, error) {
	if c.session == nil {
		return nil, ErrClientClosed
	}
	var names []string
	params := &sdkmcp.ListToolsParams{}
	for {
		res, err := c.session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			if t != nil {
				names = append(names, t.Name)
			}
		}
		if res.NextCursor == "" {
			return names, nil
		}
		params.Cursor = res.NextCursor
	}
}

// RequireTool fails unless the server exposes name.
func (c *Client) RequireTool(ctx context.Context, name string) error {
	names, err := c.Tools(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	return fmt.Errorf("mcp server %q has no tool %q (have %s): %w",
		c.server, name, strings.Join(names, ", "), ferrors.ErrNotFound)
}

// CallTool invokes name and flattens the result content to text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.session == nil {
		return "", ErrClientClosed
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	text := flatten(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error without a message"
		}
		return "", &ToolError{Tool: name, Message: text}
	}
	c.logger.Debug("mcp tool call", "tool", name, "bytes", len(text))
	return text, nil
}

// flatten keeps text parts verbatim and encodes everything else as JSON.
func flatten(content []sdkmcp.Content) string {
	var b strings.Builder
	for _, part := range content {
		var s string
		if tc, ok := part.(*sdkmcp.TextContent); ok {
			s = tc.Text
		} else if data, err := part.MarshalJSON(); err == nil {
			s = string(data)
		}
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s)
	}
	return strings.TrimSpace(b.String())
}
