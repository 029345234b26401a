package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/sweetpotato0/factflow/errors"
)

type searchArgs struct {
	Query string `json:"query"`
}

func newSearchServer() *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "repo-search", Version: "0.1.0"}, nil)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "search_code",
		Description: "Search repository code",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, a searchArgs) (*sdkmcp.CallToolResult, any, error) {
		if a.Query == "fail" {
			return &sdkmcp.CallToolResult{
				IsError: true,
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "index unavailable"}},
			}, nil, nil
		}
		return &sdkmcp.CallToolResult{
			Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "match for " + a.Query}},
		}, nil, nil
	})
	return server
}

func connectInMemory(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()

	serverSession, err := newSearchServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	client, err := NewClient(ctx, clientTransport, WithClientInfo("factflow-test", "0.0.1"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCallTool(t *testing.T) {
	client := connectInMemory(t)
	ctx := context.Background()
	assert.Equal(t, "repo-search", client.Server())

	out, err := client.CallTool(ctx, "search_code", map[string]any{"query": "cache"})
	require.NoError(t, err)
	assert.Equal(t, "match for cache", out)

	_, err = client.CallTool(ctx, "search_code", map[string]any{"query": "fail"})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "index unavailable", toolErr.Message)
	assert.Equal(t, "search_code", toolErr.Tool)
}

func TestRequireTool(t *testing.T) {
	client := connectInMemory(t)
	ctx := context.Background()

	names, err := client.Tools(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"search_code"}, names)

	assert.NoError(t, client.RequireTool(ctx, "search_code"))
	err = client.RequireTool(ctx, "search_issues")
	assert.ErrorIs(t, err, ferrors.ErrNotFound)
	assert.ErrorContains(t, err, "search_code")
}

func TestFlatten(t *testing.T) {
	got := flatten([]sdkmcp.Content{
		&sdkmcp.TextContent{Text: "hello"},
		&sdkmcp.TextContent{Text: ""},
		&sdkmcp.ResourceLink{URI: "file://cache.go", Name: "cache.go"},
	})
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "hello", lines[0])
	assert.Contains(t, lines[1], `"resource_link"`)
	assert.Equal(t, "", flatten(nil))
}

func TestDialRejectsEmptyTarget(t *testing.T) {
	_, err := Dial(context.Background(), Target{})
	assert.ErrorIs(t, err, ferrors.ErrInvalidInput)

	_, err = NewClient(context.Background(), nil)
	assert.ErrorIs(t, err, ferrors.ErrInvalidInput)
}

func TestClosedClient(t *testing.T) {
	c := &Client{}
	_, err := c.CallTool(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrClientClosed)
	_, err = c.Tools(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.NoError(t, c.Close())
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "npx -y repo-search", Target{Command: []string{"npx", "-y", "repo-search"}, URL: "http://x"}.String())
	assert.Equal(t, "http://localhost:9000/mcp", Target{URL: "http://localhost:9000/mcp"}.String())
}
