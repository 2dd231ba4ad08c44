package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryEntries bounds the in-process cache when no size is configured.
const DefaultMemoryEntries = 512

// MemoryProvider is an in-process LRU with per-entry expiry.
type MemoryProvider struct {
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates a MemoryProvider holding at most size entries.
func NewMemoryProvider(size int) (*MemoryProvider, error) {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	return &MemoryProvider{entries: entries, now: time.Now}, nil
}

// Get returns a copy of the stored bytes, or ErrCacheMiss when absent or expired.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := p.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && !p.now().Before(e.expiresAt) {
		p.entries.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value. A non-positive ttl never expires.
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = p.now().Add(ttl)
	}
	p.entries.Add(key, e)
	return nil
}

// Del removes key.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.entries.Remove(key)
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (p *MemoryProvider) Len() int {
	return p.entries.Len()
}

// Close drops every entry.
func (p *MemoryProvider) Close() error {
	p.entries.Purge()
	return nil
}
