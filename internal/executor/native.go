package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

// NativeOptions tunes a NativeRunner.
type NativeOptions struct {
	OutputLimit    int
	DefaultTimeout time.Duration
	WaitDelay      time.Duration
	LookupEnv      LookupEnv
	LookPath       func(string) (string, error)
}

// NativeRunner executes locally installed tool binaries without a shell.
type NativeRunner struct {
	logger *slog.Logger
	opts   NativeOptions
}

// NewNativeRunner constructs a NativeRunner.
func NewNativeRunner(logger *slog.Logger, opts NativeOptions) *NativeRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = DefaultOutputLimit
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = 2 * time.Second
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	return &NativeRunner{logger: logger, opts: opts}
}

// Resolve locates the descriptor's binary on PATH.
func (r *NativeRunner) Resolve(desc models.ToolDescriptor) (string, error) {
	if desc.NativeBinary == "" {
		return "", fmt.Errorf("%w: %s has no native binary", utils.ErrToolNotAvailable, desc.ID)
	}
	path, err := r.opts.LookPath(desc.NativeBinary)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found on PATH", utils.ErrToolNotAvailable, desc.NativeBinary)
	}
	return path, nil
}

// Run executes the binary with req.Args as a discrete argument vector.
func (r *NativeRunner) Run(ctx context.Context, desc models.ToolDescriptor, req models.ExecutionRequest) (result models.ExecutionResult) {
	start := time.Now()
	result = models.ExecutionResult{ToolID: desc.ID, Mode: models.ModeNative, ExitStatus: -1}
	defer func() { result.Duration = time.Since(start) }()

	path, err := r.Resolve(desc)
	if err != nil {
		result.Err = err
		return result
	}

	inputPath := ""
	if req.InputFile != nil {
		inputPath = req.InputFile.HostPath
	}

	timeout := desc.Resources.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newCappedBuffer(r.opts.OutputLimit)
	stderr := newCappedBuffer(r.opts.OutputLimit)

	cmd := exec.CommandContext(runCtx, path, substituteInput(req.Args, inputPath)...)
	cmd.Env = r.environment(desc)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.opts.WaitDelay

	runErr := cmd.Run()
	result.Output, result.Stderr = stdout.Bytes(), stderr.Bytes()
	result.Truncated = stdout.Truncated() || stderr.Truncated()

	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			result.Err = fmt.Errorf("%w: workflow deadline reached", utils.ErrExecutionTimeout)
		} else {
			result.Err = fmt.Errorf("%w: exceeded %s", utils.ErrExecutionTimeout, timeout)
		}
		return result
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		result.ExitStatus = 0
	case errors.As(runErr, &exitErr):
		result.ExitStatus = exitErr.ExitCode()
	default:
		result.Err = fmt.Errorf("run %s: %w", desc.NativeBinary, runErr)
	}
	return result
}

// environment passes PATH and HOME so the tool can find its own runtime, plus the declared allow-list.
func (r *NativeRunner) environment(desc models.ToolDescriptor) []string {
	env := make([]string, 0, len(desc.EnvAllowList)+2)
	for _, name := range []string{"PATH", "HOME"} {
		if v, ok := r.opts.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	forwarded, rejected := ForwardedEnv(desc.EnvAllowList, r.opts.LookupEnv)
	for name, err := range rejected {
		r.logger.Warn("dropping environment variable", slog.String("tool", desc.ID), slog.String("name", name), slog.Any("error", err))
	}
	return append(env, forwarded...)
}
