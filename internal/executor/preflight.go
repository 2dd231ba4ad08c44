package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-osint/internal/models"
)

const pingTimeout = 5 * time.Second

// PreflightOptions controls the pre-flight pass.
type PreflightOptions struct {
	// PullImages pre-pulls the trusted image of every tool planned for container execution.
	PullImages bool
}

// Preflight checks daemon reachability once and binary presence per tool.
// Unavailable tools are reported so the scheduler can skip them; nothing is executed.
func (s *Strategy) Preflight(ctx context.Context, descs []models.ToolDescriptor, opts PreflightOptions) []models.Availability {
	var daemonErr error
	if s.mode != models.ModeNative {
		daemonErr = s.pingDaemon(ctx)
		if daemonErr != nil {
			s.logger.Warn("container daemon unreachable", slog.Any("error", daemonErr))
		}
	}

	out := make([]models.Availability, 0, len(descs))
	for _, desc := range descs {
		out = append(out, s.check(ctx, desc, daemonErr, opts))
	}
	return out
}

func (s *Strategy) check(ctx context.Context, desc models.ToolDescriptor, daemonErr error, opts PreflightOptions) models.Availability {
	avail := models.Availability{ToolID: desc.ID, Hint: desc.InstallHint}

	var binaryErr error
	if s.mode != models.ModeContainer {
		if s.native == nil {
			binaryErr = fmt.Errorf("native execution disabled")
		} else {
			_, binaryErr = s.native.Resolve(desc)
		}
	}

	switch s.mode {
	case models.ModeNative:
		if binaryErr != nil {
			avail.Reason = binaryErr.Error()
			return avail
		}
		avail.Available, avail.PlannedMode = true, models.ModeNative
		return avail

	case models.ModeContainer:
		if desc.ImageRef == "" {
			avail.Reason = errNoImage.Error()
			return avail
		}
		if daemonErr != nil {
			avail.Reason = daemonErr.Error()
			return avail
		}
		if opts.PullImages {
			if err := s.container.Prepare(ctx, desc); err != nil {
				avail.Reason = fmt.Sprintf("pre-pull failed: %v", err)
				return avail
			}
		}
		avail.Available, avail.PlannedMode = true, models.ModeContainer
		return avail

	default:
		if desc.ImageRef == "" {
			if binaryErr != nil {
				avail.Reason = fmt.Sprintf("%v; native: %v", errNoImage, binaryErr)
				return avail
			}
			avail.Available, avail.PlannedMode = true, models.ModeNative
			return avail
		}
		if daemonErr == nil {
			if !opts.PullImages {
				avail.Available, avail.PlannedMode = true, models.ModeContainer
				return avail
			}
			err := s.container.Prepare(ctx, desc)
			if err == nil {
				avail.Available, avail.PlannedMode = true, models.ModeContainer
				return avail
			}
			if !fallbackEligible(err) || binaryErr != nil {
				avail.Reason = fmt.Sprintf("pre-pull failed: %v", err)
				return avail
			}
		}
		if binaryErr == nil {
			avail.Available, avail.PlannedMode = true, models.ModeNative
			return avail
		}
		avail.Reason = fmt.Sprintf("container: %v; native: %v", daemonErr, binaryErr)
		return avail
	}
}

func (s *Strategy) pingDaemon(ctx context.Context) error {
	if s.container == nil {
		return fmt.Errorf("no container client configured")
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.container.Ping(pingCtx)
}
