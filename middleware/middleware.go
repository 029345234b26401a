package middleware

import (
	"context"
	"time"

	"github.com/sweetpotato0/factflow/llm"
)

// Context represents one oracle call travelling through the chain
type Context struct {
	// Request sent to the oracle
	Request *llm.GenerateRequest

	// Response from the oracle
	Response *llm.GenerateResponse

	// Error from execution
	Error error

	// Started is set when the chain begins
	Started time.Time

	// Metadata for passing data between middlewares
	Metadata map[string]any

	// Internal state
	context context.Context
}

// NewContext creates a new middleware context
func NewContext(ctx context.Context, req *llm.GenerateRequest) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		Request:  req,
		Started:  time.Now(),
		Metadata: make(map[string]any),
		context:  ctx,
	}
}

// Context returns the underlying context.Context
func (c *Context) Context() context.Context {
	if c.context == nil {
		return context.Background()
	}
	return c.context
}

// WithContext swaps the underlying context.Context, e.g. to attach a deadline
func (c *Context) WithContext(ctx context.Context) {
	c.context = ctx
}

// Fork returns a copy of c bound to ctx with its own metadata map. The
// request is shared and must not be modified by the fork.
func (c *Context) Fork(ctx context.Context) *Context {
	fork := *c
	fork.context = ctx
	fork.Metadata = make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		fork.Metadata[k] = v
	}
	return &fork
}

// Merge copies the results of a finished fork back into c.
func (c *Context) Merge(fork *Context) {
	c.Request = fork.Request
	c.Response = fork.Response
	c.Error = fork.Error
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, len(fork.Metadata))
	}
	for k, v := range fork.Metadata {
		c.Metadata[k] = v
	}
}

// Stage returns the pipeline stage that issued the request
func (c *Context) Stage() string {
	if c.Request == nil {
		return ""
	}
	return c.Request.Stage
}

// Middleware defines the interface for middleware components
// Middlewares can intercept and modify oracle requests/responses
type Middleware interface {
	// Name returns the name of the middleware for logging and debugging
	Name() string

	// Execute runs the middleware logic
	// It receives the current context and a next handler to continue the chain
	// Returning error will stop the middleware chain
	Execute(ctx *Context, next Handler) error
}

// Handler is the function called to pass control to the next middleware
type Handler func(*Context) error

// MiddlewareChain represents a sequence of middleware to be executed
type MiddlewareChain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{
		middlewares: middlewares,
	}
}

// Add appends a middleware to the chain
func (c *MiddlewareChain) Add(m Middleware) *MiddlewareChain {
	c.middlewares = append(c.middlewares, m)
	return c
}

// Len reports how many middlewares are registered
func (c *MiddlewareChain) Len() int {
	return len(c.middlewares)
}

// Execute runs all middlewares in the chain
func (c *MiddlewareChain) Execute(ctx *Context, finalHandler Handler) error {
	return c.executeMiddleware(ctx, 0, finalHandler)
}

// executeMiddleware recursively executes middlewares in sequence
func (c *MiddlewareChain) executeMiddleware(ctx *Context, index int, finalHandler Handler) error {
	if index >= len(c.middlewares) {
		return finalHandler(ctx)
	}

	nextHandler := func(ctx *Context) error {
		return c.executeMiddleware(ctx, index+1, finalHandler)
	}

	return c.middlewares[index].Execute(ctx, nextHandler)
}

// Wrap returns an llm.Client whose calls run through chain before reaching client.
func Wrap(client llm.Client, chain *MiddlewareChain) llm.Client {
	if chain == nil || chain.Len() == 0 {
		return client
	}
	return &wrappedClient{client: client, chain: chain}
}

type wrappedClient struct {
	client llm.Client
	chain  *MiddlewareChain
}

func (w *wrappedClient) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	mctx := NewContext(ctx, req)
	err := w.chain.Execute(mctx, func(c *Context) error {
		resp, err := w.client.Generate(c.Context(), c.Request)
		c.Response = resp
		c.Error = err
		return err
	})
	if err != nil {
		return nil, err
	}
	if mctx.Response == nil {
		return nil, ErrNoResponse
	}
	return mctx.Response, nil
}
