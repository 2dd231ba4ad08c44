package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the minimal cache operations needed by the run service.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }

// Settings selects and configures a backend.
type Settings struct {
	Enabled bool
	Backend string
	Size    int
	Valkey  ValkeyConfig
}

// New returns the configured provider, or NoopProvider when caching is off.
func New(ctx context.Context, s Settings) (Provider, error) {
	if !s.Enabled {
		return NoopProvider{}, nil
	}
	switch s.Backend {
	case "", "memory":
		return NewMemoryProvider(s.Size)
	case "valkey", "redis":
		return NewValkeyProvider(ctx, s.Valkey)
	default:
		return nil, errors.New("unknown cache backend " + s.Backend)
	}
}
