package store

import (
	"context"
	"fmt"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/session"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Open builds the named backend from environment configuration. The returned
// close function releases its connections.
func Open(ctx context.Context, backend string) (session.Store, func() error, error) {
	switch backend {
	case "", BackendMemory:
		limit, err := MemoryConfigFromEnv()
		if err != nil {
			return nil, nil, err
		}
		return NewInMemoryStore(limit), func() error { return nil }, nil
	case BackendRedis:
		cfg, err := RedisConfigFromEnv()
		if err != nil {
			return nil, nil, err
		}
		s, err := NewRedisStore(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("failed to ping Redis: %w", err)
		}
		return s, s.Close, nil
	case BackendPostgres:
		cfg, err := PostgresConfigFromEnv()
		if err != nil {
			return nil, nil, err
		}
		s, err := NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case BackendMongo:
		cfg, err := MongoConfigFromEnv()
		if err != nil {
			return nil, nil, err
		}
		s, err := NewMongoStore(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return s.Close(context.Background()) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q: %w", backend, ferrors.ErrInvalidInput)
	}
}
