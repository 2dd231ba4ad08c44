package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/miradorstack/mirador-osint/internal/metrics"
	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

const (
	// ContainerUser is the unprivileged UID:GID every tool container runs as.
	ContainerUser = "65534:65534"
	// containerInputDir receives InputFile copies.
	containerInputDir = "/tmp"
	// MaxInputFileBytes caps files copied into containers.
	MaxInputFileBytes = 50 << 20
)

// TrustVerifier is the ImageTrustStore surface the runtime needs.
type TrustVerifier interface {
	Verify(toolID, ref string) error
}

// ContainerOptions tunes a ContainerRuntime.
type ContainerOptions struct {
	OutputLimit    int
	DefaultTimeout time.Duration
	PullTimeout    time.Duration
	CleanupTimeout time.Duration
	LookupEnv      LookupEnv
}

// ContainerRuntime runs one hardened, ephemeral container per invocation.
type ContainerRuntime struct {
	api     ContainerAPI
	trust   TrustVerifier
	logger  *slog.Logger
	opts    ContainerOptions
	present *lru.Cache[string, struct{}]
}

// NewContainerRuntime wires a runtime to a daemon API and the trust store.
func NewContainerRuntime(logger *slog.Logger, api ContainerAPI, trust TrustVerifier, opts ContainerOptions) *ContainerRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = DefaultOutputLimit
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = 10 * time.Minute
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = 30 * time.Second
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	present, _ := lru.New[string, struct{}](256)
	return &ContainerRuntime{api: api, trust: trust, logger: logger, opts: opts, present: present}
}

// Ping checks daemon reachability.
func (r *ContainerRuntime) Ping(ctx context.Context) error {
	if r == nil || r.api == nil {
		return utils.ErrDaemonUnavailable
	}
	return r.api.Ping(ctx)
}

// Prepare verifies and pulls the descriptor's image without running anything.
func (r *ContainerRuntime) Prepare(ctx context.Context, desc models.ToolDescriptor) error {
	if err := r.trust.Verify(desc.ID, desc.ImageRef); err != nil {
		return err
	}
	return r.ensureImage(ctx, desc.ImageRef)
}

// Run executes req inside a fresh container. The container is removed exactly
// once on every path, including panics raised while it is alive.
func (r *ContainerRuntime) Run(ctx context.Context, desc models.ToolDescriptor, req models.ExecutionRequest) (result models.ExecutionResult) {
	start := time.Now()
	result = models.ExecutionResult{ToolID: desc.ID, Mode: models.ModeContainer, ExitStatus: -1}
	defer func() { result.Duration = time.Since(start) }()

	// Trust is checked before any daemon call.
	if err := r.trust.Verify(desc.ID, desc.ImageRef); err != nil {
		result.Err = err
		return result
	}

	if err := r.ensureImage(ctx, desc.ImageRef); err != nil {
		result.Err = err
		return result
	}

	timeout := desc.Resources.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	spec, input, err := r.buildSpec(desc, req)
	if err != nil {
		result.Err = err
		return result
	}

	id, err := r.api.CreateContainer(runCtx, spec)
	if err != nil {
		result.Err = r.runError(runCtx, ctx, fmt.Errorf("create container: %w", err), timeout)
		return result
	}
	metrics.ContainerCreated()
	defer r.release(id, desc.ImageRef, req.Ephemeral)

	if input != nil {
		if err := r.api.CopyFile(runCtx, id, containerInputDir, input.name, input.data); err != nil {
			result.Err = r.runError(runCtx, ctx, fmt.Errorf("copy input: %w", err), timeout)
			return result
		}
	}

	if err := r.api.StartContainer(runCtx, id); err != nil {
		result.Err = r.runError(runCtx, ctx, fmt.Errorf("start container: %w", err), timeout)
		return result
	}

	exitCode, waitErr := r.api.WaitContainer(runCtx, id)
	stdout := newCappedBuffer(r.opts.OutputLimit)
	stderr := newCappedBuffer(r.opts.OutputLimit)

	if runCtx.Err() != nil {
		cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), r.opts.CleanupTimeout)
		if err := r.api.KillContainer(cleanupCtx, id); err != nil {
			r.logger.Debug("kill container", slog.String("tool", desc.ID), slog.Any("error", err))
		}
		r.collectLogs(cleanupCtx, id, stdout, stderr)
		cancelCleanup()
		result.Output, result.Stderr = stdout.Bytes(), stderr.Bytes()
		result.Truncated = stdout.Truncated() || stderr.Truncated()
		result.Err = r.runError(runCtx, ctx, runCtx.Err(), timeout)
		return result
	}
	if waitErr != nil {
		result.Err = fmt.Errorf("wait container: %w", waitErr)
		return result
	}

	r.collectLogs(runCtx, id, stdout, stderr)
	result.ExitStatus = exitCode
	result.Output, result.Stderr = stdout.Bytes(), stderr.Bytes()
	result.Truncated = stdout.Truncated() || stderr.Truncated()
	return result
}

type containerInput struct {
	name string
	data []byte
}

func (r *ContainerRuntime) buildSpec(desc models.ToolDescriptor, req models.ExecutionRequest) (ContainerSpec, *containerInput, error) {
	env, rejected := ForwardedEnv(desc.EnvAllowList, r.opts.LookupEnv)
	for name, err := range rejected {
		r.logger.Warn("dropping environment variable", slog.String("tool", desc.ID), slog.String("name", name), slog.Any("error", err))
	}

	var input *containerInput
	inputPath := ""
	if req.InputFile != nil {
		data, err := readInputFile(req.InputFile.HostPath)
		if err != nil {
			return ContainerSpec{}, nil, err
		}
		name := req.InputFile.Name
		if name == "" {
			name = filepath.Base(req.InputFile.HostPath)
		}
		input = &containerInput{name: name, data: data}
		inputPath = containerInputDir + "/" + name
	}

	res := withDefaults(desc.Resources)
	return ContainerSpec{
		Name:            fmt.Sprintf("osint-%s-%s", sanitizeName(desc.ID), uuid.NewString()[:8]),
		Image:           desc.ImageRef,
		Cmd:             substituteInput(req.Args, inputPath),
		Env:             env,
		User:            ContainerUser,
		NetworkDisabled: !desc.NetworkAccess,
		CPUShares:       res.CPUShares,
		MemoryBytes:     res.MemoryBytes,
		PidsLimit:       res.PidsLimit,
		Labels: map[string]string{
			"io.mirador.osint.tool": desc.ID,
		},
	}, input, nil
}

func (r *ContainerRuntime) ensureImage(ctx context.Context, ref string) error {
	if r.present.Contains(ref) {
		return nil
	}
	ok, err := r.api.ImagePresent(ctx, ref)
	if err != nil {
		if errors.Is(err, utils.ErrDaemonUnavailable) {
			return err
		}
		return fmt.Errorf("inspect image %s: %w", ref, err)
	}
	if !ok {
		pullCtx, cancel := context.WithTimeout(ctx, r.opts.PullTimeout)
		defer cancel()
		r.logger.Info("pulling image", slog.String("image", ref))
		if err := r.api.PullImage(pullCtx, ref); err != nil {
			if errors.Is(err, utils.ErrDaemonUnavailable) {
				return err
			}
			return fmt.Errorf("%w: %s: %v", utils.ErrImagePull, ref, err)
		}
	}
	r.present.Add(ref, struct{}{})
	return nil
}

func (r *ContainerRuntime) collectLogs(ctx context.Context, id string, stdout, stderr io.Writer) {
	if err := r.api.ContainerLogs(ctx, id, stdout, stderr); err != nil {
		r.logger.Debug("collect container logs", slog.String("container", id), slog.Any("error", err))
	}
}

// release tears the container down with a context detached from the caller's,
// so cancellation never leaks a container.
func (r *ContainerRuntime) release(id, ref string, ephemeral bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.CleanupTimeout)
	defer cancel()

	if err := r.api.RemoveContainer(ctx, id); err != nil {
		r.logger.Error("remove container", slog.String("container", id), slog.Any("error", err))
	}
	metrics.ContainerRemoved()

	if ephemeral {
		r.present.Remove(ref)
		if err := r.api.RemoveImage(ctx, ref); err != nil {
			r.logger.Warn("remove image", slog.String("image", ref), slog.Any("error", err))
		}
	}
}

// runError classifies a failure that happened while the container was live.
func (r *ContainerRuntime) runError(runCtx, parent context.Context, err error, timeout time.Duration) error {
	if runCtx.Err() == nil {
		return err
	}
	if parent.Err() != nil {
		return fmt.Errorf("%w: workflow deadline reached", utils.ErrExecutionTimeout)
	}
	return fmt.Errorf("%w: exceeded %s", utils.ErrExecutionTimeout, timeout)
}

func readInputFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("input file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("input file %s is not a regular file", path)
	}
	if info.Size() > MaxInputFileBytes {
		return nil, fmt.Errorf("input file %s exceeds %d bytes", path, MaxInputFileBytes)
	}
	return os.ReadFile(path)
}

func substituteInput(args []string, inputPath string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if arg == models.InputPlaceholder && inputPath != "" {
			out[i] = inputPath
			continue
		}
		out[i] = arg
	}
	return out
}

func sanitizeName(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
