package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// ValkeyProvider stores cached tool results in Valkey or Redis.
type ValkeyProvider struct {
	client *redis.Client
	prefix string
}

// ValkeyConfig is the cache.valkey config section.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
	// KeyPrefix namespaces every key. Defaults to "osint:".
	KeyPrefix string
}

// NewValkeyProvider connects with cfg and pings the server so bad credentials
// or an unreachable address fail at startup.
func NewValkeyProvider(ctx context.Context, cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("cache: valkey address is empty")
	}
	return newValkeyProvider(ctx, redis.NewClient(cfg.options()), cfg.KeyPrefix)
}

// options maps the config onto go-redis, filling zero timeouts. Result entries
// are small so reads and writes get sub-second budgets.
func (c ValkeyConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  orDefault(c.DialTimeout, 2*time.Second),
		ReadTimeout:  orDefault(c.ReadTimeout, 500*time.Millisecond),
		WriteTimeout: orDefault(c.WriteTimeout, 500*time.Millisecond),
		MaxRetries:   max(c.MaxRetries, 1),
	}
	if c.TLS {
		serverName := c.Addr
		if host, _, err := net.SplitHostPort(c.Addr); err == nil {
			serverName = host
		}
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: serverName}
	}
	return opts
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func newValkeyProvider(ctx context.Context, client *redis.Client, prefix string) (*ValkeyProvider, error) {
	if prefix == "" {
		prefix = "osint:"
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}
	return &ValkeyProvider{client: client, prefix: prefix}, nil
}

// Get returns ErrCacheMiss for absent or expired keys.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := p.client.Get(ctx, p.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("valkey get: %w", err)
	}
	return data, nil
}

// Set stores bytes with the provided TTL. A non-positive ttl never expires.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := p.client.Set(ctx, p.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	if err := p.client.Del(ctx, p.prefix+key).Err(); err != nil {
		return fmt.Errorf("valkey del: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *ValkeyProvider) Close() error {
	return p.client.Close()
}
