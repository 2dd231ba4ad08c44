package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

// ContainerBackend is the container runtime surface the strategy drives.
type ContainerBackend interface {
	Run(ctx context.Context, desc models.ToolDescriptor, req models.ExecutionRequest) models.ExecutionResult
	Ping(ctx context.Context) error
	Prepare(ctx context.Context, desc models.ToolDescriptor) error
}

// NativeBackend is the native runner surface the strategy drives.
type NativeBackend interface {
	Run(ctx context.Context, desc models.ToolDescriptor, req models.ExecutionRequest) models.ExecutionResult
	Resolve(desc models.ToolDescriptor) (string, error)
}

// Strategy picks the container runtime or the native runner per invocation.
// One Strategy is built per workflow run.
type Strategy struct {
	logger    *slog.Logger
	mode      models.ExecutionMode
	container ContainerBackend
	native    NativeBackend
	ephemeral bool
}

// NewStrategy constructs a Strategy. container may be nil when no daemon client could be created.
func NewStrategy(logger *slog.Logger, mode models.ExecutionMode, container ContainerBackend, native NativeBackend) *Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	if mode == "" {
		mode = models.ModeHybrid
	}
	return &Strategy{logger: logger, mode: mode, container: container, native: native}
}

// WithEphemeralImages makes every container invocation remove its image afterwards.
func (s *Strategy) WithEphemeralImages(on bool) *Strategy {
	s.ephemeral = on
	return s
}

// Mode returns the configured execution mode.
func (s *Strategy) Mode() models.ExecutionMode {
	return s.mode
}

// Run executes req according to the configured mode.
func (s *Strategy) Run(ctx context.Context, desc models.ToolDescriptor, req models.ExecutionRequest) models.ExecutionResult {
	mode := s.mode
	if req.Mode != "" {
		mode = req.Mode
	}
	if s.ephemeral {
		req.Ephemeral = true
	}

	switch mode {
	case models.ModeNative:
		return s.runNative(ctx, desc, req)
	case models.ModeContainer:
		return s.runContainer(ctx, desc, req)
	default:
		if desc.ImageRef == "" {
			return s.runNative(ctx, desc, req)
		}
		result := s.runContainer(ctx, desc, req)
		if !fallbackEligible(result.Err) || s.native == nil {
			return result
		}
		if _, err := s.native.Resolve(desc); err != nil {
			return result
		}
		s.logger.Info("falling back to native execution",
			slog.String("tool", desc.ID),
			slog.Any("cause", result.Err),
		)
		return s.runNative(ctx, desc, req)
	}
}

func (s *Strategy) runContainer(ctx context.Context, desc models.ToolDescriptor, req models.ExecutionRequest) models.ExecutionResult {
	if s.container == nil {
		return models.ExecutionResult{
			ToolID:     desc.ID,
			Mode:       models.ModeContainer,
			ExitStatus: -1,
			Err:        fmt.Errorf("%w: no container client", utils.ErrDaemonUnavailable),
		}
	}
	return s.container.Run(ctx, desc, req)
}

func (s *Strategy) runNative(ctx context.Context, desc models.ToolDescriptor, req models.ExecutionRequest) models.ExecutionResult {
	if s.native == nil {
		return models.ExecutionResult{
			ToolID:     desc.ID,
			Mode:       models.ModeNative,
			ExitStatus: -1,
			Err:        fmt.Errorf("%w: native execution disabled", utils.ErrToolNotAvailable),
		}
	}
	return s.native.Run(ctx, desc, req)
}

// errNoImage marks a tool without a pinned image; it can only run natively.
var errNoImage = errors.New("no trusted container image")

// fallbackEligible reports container failures that hybrid mode may recover from natively.
func fallbackEligible(err error) bool {
	return errors.Is(err, utils.ErrDaemonUnavailable) || errors.Is(err, utils.ErrImagePull)
}
