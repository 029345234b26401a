package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/factflow/config"
	"github.com/sweetpotato0/factflow/contrib/provider"
	"github.com/sweetpotato0/factflow/contrib/retrieval/httpsource"
	"github.com/sweetpotato0/factflow/contrib/retrieval/mcpsource"
	"github.com/sweetpotato0/factflow/contrib/retrieval/websearch"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/mcp"
	"github.com/sweetpotato0/factflow/middleware"
	"github.com/sweetpotato0/factflow/middleware/errorhandler"
	"github.com/sweetpotato0/factflow/middleware/limiter"
	mwlogger "github.com/sweetpotato0/factflow/middleware/logger"
	"github.com/sweetpotato0/factflow/middleware/timeout"
	"github.com/sweetpotato0/factflow/middleware/validator"
	"github.com/sweetpotato0/factflow/pipeline"
	"github.com/sweetpotato0/factflow/pkg/logging"
	"github.com/sweetpotato0/factflow/pkg/telemetry"
	"github.com/sweetpotato0/factflow/pkg/tokenizer"
	"github.com/sweetpotato0/factflow/retrieval"
	"github.com/sweetpotato0/factflow/session"
	"github.com/sweetpotato0/factflow/session/store"
)

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c *closers) add(fn func() error) {
	if fn != nil {
		*c = append(*c, fn)
	}
}

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// app is everything a command needs to answer questions.
type app struct {
	manager  *pipeline.Manager
	sessions *session.Manager
	closers  closers
}

func (a *app) Close() error {
	return a.closers.Close()
}

func buildApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	logger := logging.WithComponent("factflow")

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		Disable:        !cfg.Telemetry.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers.add(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	oracle, err := buildOracle(ctx, cfg, &a.closers)
	if err != nil {
		return nil, err
	}

	sources, err := buildSources(ctx, cfg, oracle, logger, &a.closers)
	if err != nil {
		return nil, err
	}

	a.sessions, err = buildSessions(ctx, cfg, &a.closers)
	if err != nil {
		return nil, err
	}

	opts := pipeline.FromConfig(cfg.Pipeline)
	opts = append(opts, pipeline.WithSessions(a.sessions), pipeline.WithMaxHistory(cfg.Session.MaxEntries))
	if cfg.Pipeline.Encoding != "" {
		tok, err := tokenizer.NewTiktoken(cfg.Pipeline.Encoding)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer %s: %w", cfg.Pipeline.Encoding, err)
		}
		opts = append(opts, pipeline.WithTokenizer(tok))
	}

	a.manager, err = pipeline.New(oracle, sources, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// buildOracle creates the vendor client and wraps it in the call chain:
// logging, request validation, rate limiting, error normalization and a
// per-call deadline.
func buildOracle(ctx context.Context, cfg *config.Config, c *closers) (llm.Client, error) {
	p := cfg.Provider
	client, closeFn, err := provider.New(ctx, provider.Settings{
		Name:        p.Name,
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		MaxTokens:   int64(p.MaxTokens),
		Temperature: p.Temperature,
	})
	if err != nil {
		return nil, err
	}
	c.add(closeFn)

	chain := middleware.NewChain(
		mwlogger.NewCallLogger(nil),
		validator.NewRequestValidator(validator.RequirePrompt),
	)
	if p.RequestsPerSecond > 0 {
		chain.Add(limiter.NewTokenBucket(p.RequestsPerSecond, p.Burst, limiter.WithMaxWait(p.Timeout)))
	}
	chain.Add(errorhandler.NewNormalizer())
	chain.Add(timeout.New(p.Timeout))
	return middleware.Wrap(client, chain), nil
}

func buildSources(ctx context.Context, cfg *config.Config, oracle llm.Client, logger *slog.Logger, c *closers) (*retrieval.Registry, error) {
	reg := retrieval.NewRegistry()
	for _, sc := range cfg.Sources {
		r, err := buildSource(ctx, sc, oracle, c)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		src, _ := retrieval.ParseSource(sc.Name)
		if err := reg.Register(src, r); err != nil {
			return nil, err
		}
		logger.Debug("source registered", "source", src, "kind", sc.Kind)
	}
	if len(reg.Sources()) == 0 {
		logger.Warn("no sources configured; only web search is available")
		if err := reg.Register(retrieval.SourceWeb, websearch.New(oracle, websearch.Config{})); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildSource(ctx context.Context, sc config.SourceConfig, oracle llm.Client, c *closers) (retrieval.Retriever, error) {
	switch sc.Kind {
	case config.KindHTTP:
		return httpsource.New(httpsource.Config{Endpoint: sc.Endpoint, APIKey: sc.APIKey, TopK: sc.TopK})
	case config.KindWebSearch:
		return websearch.New(oracle, websearch.Config{Endpoint: sc.Endpoint, MaxResults: sc.MaxResults, QPS: sc.QPS}), nil
	case config.KindMCP:
		client, err := mcp.Dial(ctx, mcp.Target{Command: sc.Command, URL: sc.Endpoint, Env: sc.Env},
			mcp.WithClientInfo("factflow", version),
			mcp.WithLogger(logging.WithComponent("mcp").With("source", sc.Name)),
		)
		if err != nil {
			return nil, err
		}
		c.add(client.Close)
		if err := client.RequireTool(ctx, sc.Tool); err != nil {
			return nil, err
		}

		args := make(map[string]any, len(sc.Args))
		for k, v := range sc.Args {
			args[k] = v
		}
		return mcpsource.New(client, mcpsource.Config{Tool: sc.Tool, Args: args})
	default:
		return nil, fmt.Errorf("unknown source kind %q", sc.Kind)
	}
}

func buildSessions(ctx context.Context, cfg *config.Config, c *closers) (*session.Manager, error) {
	st, closeFn, err := store.Open(ctx, cfg.Session.Backend)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	c.add(closeFn)
	return session.NewManager(
		session.WithStore(st),
		session.WithMaxEntries(cfg.Session.MaxEntries),
	), nil
}
