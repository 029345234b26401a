package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	ferrors "github.com/sweetpotato0/factflow/errors"
)

// env reads backend settings from variables, remembering malformed values
// instead of silently falling back to the default.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func newEnv() *env {
	return &env{lookup: os.LookupEnv}
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q is not an integer: %w", key, v, ferrors.ErrInvalidInput))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q is not a duration: %w", key, v, ferrors.ErrInvalidInput))
		return def
	}
	return d
}

func (e *env) err() error {
	return errors.Join(e.errs...)
}

// PostgresConfigFromEnv reads POSTGRES_* variables over DefaultPostgresConfig.
func PostgresConfigFromEnv() (*PostgresConfig, error) {
	e, d := newEnv(), DefaultPostgresConfig()
	cfg := &PostgresConfig{
		Host:     e.str("POSTGRES_HOST", d.Host),
		Port:     e.integer("POSTGRES_PORT", d.Port),
		User:     e.str("POSTGRES_USER", d.User),
		Password: e.str("POSTGRES_PASSWORD", ""),
		DBName:   e.str("POSTGRES_DB", d.DBName),
		SSLMode:  e.str("POSTGRES_SSLMODE", d.SSLMode),
		Table:    e.str("POSTGRES_SESSION_TABLE", d.Table),
	}
	return cfg, e.err()
}

// RedisConfigFromEnv reads REDIS_* variables over DefaultRedisConfig.
func RedisConfigFromEnv() (*RedisConfig, error) {
	e, d := newEnv(), DefaultRedisConfig()
	cfg := &RedisConfig{
		Addr:     e.str("REDIS_ADDR", d.Addr),
		Password: e.str("REDIS_PASSWORD", ""),
		DB:       e.integer("REDIS_DB", d.DB),
		Prefix:   e.str("REDIS_PREFIX", d.Prefix),
		TTL:      e.duration("REDIS_TTL", d.TTL),
	}
	return cfg, e.err()
}

// MongoConfigFromEnv reads MONGODB_* variables over DefaultMongoConfig.
func MongoConfigFromEnv() (*MongoConfig, error) {
	e, d := newEnv(), DefaultMongoConfig()
	cfg := &MongoConfig{
		URI:        e.str("MONGODB_URI", d.URI),
		Database:   e.str("MONGODB_DB", d.Database),
		Collection: e.str("MONGODB_COLLECTION", d.Collection),
	}
	return cfg, e.err()
}

// MemoryConfigFromEnv reads FACTFLOW_MEMORY_MAX_SESSIONS; zero means unbounded.
func MemoryConfigFromEnv() (int, error) {
	e := newEnv()
	n := e.integer("FACTFLOW_MEMORY_MAX_SESSIONS", 0)
	return n, e.err()
}
