// Package mcp connects to Model Context Protocol servers that expose search
// tools, either by spawning them over stdio or by dialing a streamable HTTP
// endpoint.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/pkg/logging"
)

// ErrClientClosed is returned once the session has ended.
var ErrClientClosed = errors.New("mcp client closed")

// Target says where a server lives. Command wins over URL when both are set.
type Target struct {
	Command []string
	URL     string
	Env     []string
	Dir     string
}

func (t Target) String() string {
	if len(t.Command) > 0 {
		return strings.Join(t.Command, " ")
	}
	return t.URL
}

type options struct {
	name    string
	version string
	logger  *slog.Logger
	grace   time.Duration
}

// Option configures Dial and NewClient.
type Option func(*options)

// WithClientInfo sets the implementation advertised during the handshake.
func WithClientInfo(name, version string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
		if version != "" {
			o.version = version
		}
	}
}

// WithLogger routes server log notifications and stderr lines to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Client is one live session with a server.
type Client struct {
	session *sdkmcp.ClientSession
	logger  *slog.Logger
	server  string

	closeOnce sync.Once
	closeErr  error
}

// Dial starts or connects to the server described by target and completes
// the initialization handshake.
func Dial(ctx context.Context, target Target, opts ...Option) (*Client, error) {
	o := newOptions(opts)

	var transport sdkmcp.Transport
	switch {
	case len(target.Command) > 0 && target.Command[0] != "":
		cmd := exec.Command(target.Command[0], target.Command[1:]...)
		cmd.Dir = target.Dir
		if len(target.Env) > 0 {
			cmd.Env = append(os.Environ(), target.Env...)
		}
		cmd.Stderr = stderrLogger{o.logger}
		transport = &sdkmcp.CommandTransport{Command: cmd, TerminateDuration: o.grace}
	case strings.TrimSpace(target.URL) != "":
		transport = &sdkmcp.StreamableClientTransport{Endpoint: target.URL}
	default:
		return nil, fmt.Errorf("mcp: target needs a command or a url: %w", ferrors.ErrInvalidInput)
	}

	c, err := connect(ctx, transport, o)
	if err != nil {
		return nil, fmt.Errorf("mcp: dial %s: %w", target, err)
	}
	return c, nil
}

// NewClient connects over an existing transport, such as the SDK's in-memory pair.
func NewClient(ctx context.Context, transport sdkmcp.Transport, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("mcp: transport cannot be nil: %w", ferrors.ErrInvalidInput)
	}
	return connect(ctx, transport, newOptions(opts))
}

func newOptions(opts []Option) options {
	o := options{
		name:    "factflow",
		version: "dev",
		logger:  logging.Discard(),
		grace:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func connect(ctx context.Context, transport sdkmcp.Transport, o options) (*Client, error) {
	c := &Client{logger: o.logger}
	sdk := sdkmcp.NewClient(&sdkmcp.Implementation{Name: o.name, Version: o.version}, &sdkmcp.ClientOptions{
		LoggingMessageHandler: func(_ context.Context, req *sdkmcp.LoggingMessageRequest) {
			if req != nil && req.Params != nil {
				c.logger.Debug("mcp server log", "level", req.Params.Level, "data", req.Params.Data)
			}
		},
	})

	session, err := sdk.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	c.session = session
	if res := session.InitializeResult(); res != nil && res.ServerInfo != nil {
		c.server = res.ServerInfo.Name
	}
	c.logger.Debug("mcp session started", "server", c.server)

	go func() {
		if err := session.Wait(); err != nil && !errors.Is(err, sdkmcp.ErrConnectionClosed) {
			c.logger.Warn("mcp session ended", "server", c.server, "error", err)
		}
	}()
	return c, nil
}

// Server is the name the server reported during the handshake.
func (c *Client) Server() string {
	return c.server
}

// Close ends the session and, for stdio targets, stops the process.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.session != nil {
			c.closeErr = c.session.Close()
		}
	})
	return c.closeErr
}

type stderrLogger struct {
	logger *slog.Logger
}

func (w stderrLogger) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		if line != "" {
			w.logger.Debug("mcp server stderr", "line", line)
		}
	}
	return len(p), nil
}
