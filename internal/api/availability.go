package api

import (
	"context"
	"log/slog"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/miradorstack/mirador-osint/internal/models"
)

// ToolServicePrefix prefixes the health service name of each tool.
const ToolServicePrefix = "tool/"

// Doctor reports tool availability without executing anything.
type Doctor interface {
	Doctor(ctx context.Context, mode string, pull bool) ([]models.Availability, error)
}

// StatusSetter is the health server surface the prober writes to.
type StatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// Prober publishes pre-flight results as gRPC health statuses.
type Prober struct {
	logger *slog.Logger
	doctor Doctor
	health StatusSetter
	mode   string
}

// NewProber constructs a Prober for the given execution mode.
func NewProber(logger *slog.Logger, doctor Doctor, health StatusSetter, mode string) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{logger: logger, doctor: doctor, health: health, mode: mode}
}

// Refresh runs one probe. "" is SERVING when at least one tool is available.
func (p *Prober) Refresh(ctx context.Context) error {
	avail, err := p.doctor.Doctor(ctx, p.mode, false)
	if err != nil {
		p.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	ready := 0
	for _, a := range avail {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if a.Available {
			status = healthpb.HealthCheckResponse_SERVING
			ready++
		}
		p.health.SetServingStatus(ToolServicePrefix+a.ToolID, status)
	}
	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if ready > 0 {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	p.health.SetServingStatus("", overall)
	p.logger.Debug("availability refreshed", slog.Int("tools", len(avail)), slog.Int("available", ready))
	return nil
}

// Run refreshes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.Refresh(ctx); err != nil {
			p.logger.Warn("availability probe failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
