package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/miradorstack/mirador-osint/internal/adapters"
	"github.com/miradorstack/mirador-osint/internal/cache"
	"github.com/miradorstack/mirador-osint/internal/models"
)

// cachedResult is the stored form of a successful invocation.
type cachedResult struct {
	Mode       models.ExecutionMode `json:"mode"`
	ExitStatus int                  `json:"exit_status"`
	Output     []byte               `json:"output"`
	Stderr     []byte               `json:"stderr,omitempty"`
	Truncated  bool                 `json:"truncated,omitempty"`
	Duration   time.Duration        `json:"duration"`
}

// cachingRunner serves repeated invocations from the result cache.
// Only successful results are stored; cache errors never fail an invocation.
type cachingRunner struct {
	logger *slog.Logger
	next   Executor
	store  cache.Provider
	ttl    time.Duration
}

func newCachingRunner(logger *slog.Logger, next Executor, store cache.Provider, ttl time.Duration) adapters.Runner {
	return &cachingRunner{logger: logger, next: next, store: store, ttl: ttl}
}

func (c *cachingRunner) Run(ctx context.Context, desc models.ToolDescriptor, req models.ExecutionRequest) models.ExecutionResult {
	key, err := c.key(desc, req)
	if err != nil {
		c.logger.Debug("result cache bypassed", slog.String("tool", desc.ID), slog.Any("error", err))
		return c.next.Run(ctx, desc, req)
	}

	if data, err := c.store.Get(ctx, key); err == nil {
		var hit cachedResult
		if err := json.Unmarshal(data, &hit); err == nil {
			c.logger.Debug("result cache hit", slog.String("tool", desc.ID))
			return models.ExecutionResult{
				ToolID:     desc.ID,
				Mode:       hit.Mode,
				ExitStatus: hit.ExitStatus,
				Output:     hit.Output,
				Stderr:     hit.Stderr,
				Truncated:  hit.Truncated,
				Duration:   hit.Duration,
				Cached:     true,
			}
		}
		_ = c.store.Del(ctx, key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("result cache read failed", slog.String("tool", desc.ID), slog.Any("error", err))
	}

	res := c.next.Run(ctx, desc, req)
	if !res.Succeeded() {
		return res
	}
	data, err := json.Marshal(cachedResult{
		Mode:       res.Mode,
		ExitStatus: res.ExitStatus,
		Output:     res.Output,
		Stderr:     res.Stderr,
		Truncated:  res.Truncated,
		Duration:   res.Duration,
	})
	if err == nil {
		err = c.store.Set(ctx, key, data, c.ttl)
	}
	if err != nil {
		c.logger.Warn("result cache write failed", slog.String("tool", desc.ID), slog.Any("error", err))
	}
	return res
}

// key hashes everything that determines a tool's output.
func (c *cachingRunner) key(desc models.ToolDescriptor, req models.ExecutionRequest) (string, error) {
	h := sha256.New()
	mode := req.Mode
	if mode == "" {
		mode = c.next.Mode()
	}
	for _, part := range []string{desc.ID, string(mode), desc.ImageRef, desc.NativeBinary} {
		io.WriteString(h, part)
		h.Write([]byte{0})
	}
	for _, arg := range req.Args {
		io.WriteString(h, arg)
		h.Write([]byte{0})
	}
	if req.InputFile != nil {
		f, err := os.Open(req.InputFile.HostPath)
		if err != nil {
			return "", err
		}
		defer f.Close()
		if _, err := io.Copy(h, f); err != nil {
			return "", err
		}
	}
	return "result:" + hex.EncodeToString(h.Sum(nil)), nil
}
