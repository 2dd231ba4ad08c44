package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/miradorstack/mirador-osint/internal/config"
	"github.com/miradorstack/mirador-osint/internal/models"
)

type doctorStub struct {
	avail []models.Availability
	err   error
	mode  string
}

func (d *doctorStub) Doctor(_ context.Context, mode string, _ bool) ([]models.Availability, error) {
	d.mode = mode
	return d.avail, d.err
}

func status(t *testing.T, srv *health.Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return resp.GetStatus()
}

func TestProberPublishesToolStatus(t *testing.T) {
	srv := health.NewServer()
	doctor := &doctorStub{avail: []models.Availability{
		{ToolID: "sherlock", Available: true},
		{ToolID: "holehe", Reason: "binary not found"},
	}}
	prober := NewProber(nil, doctor, srv, "native")

	if err := prober.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if doctor.mode != "native" {
		t.Fatalf("expected native mode, got %q", doctor.mode)
	}
	if got := status(t, srv, "tool/sherlock"); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected sherlock SERVING, got %v", got)
	}
	if got := status(t, srv, "tool/holehe"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected holehe NOT_SERVING, got %v", got)
	}
	if got := status(t, srv, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected overall SERVING, got %v", got)
	}

	doctor.avail = []models.Availability{{ToolID: "sherlock", Reason: "daemon unreachable"}}
	if err := prober.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := status(t, srv, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected overall NOT_SERVING, got %v", got)
	}
}

func TestProberMarksNotServingOnError(t *testing.T) {
	srv := health.NewServer()
	doctor := &doctorStub{err: errors.New("trust store empty")}
	if err := NewProber(nil, doctor, srv, "").Refresh(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if got := status(t, srv, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected overall NOT_SERVING, got %v", got)
	}
}

func TestServerServesProbedStatus(t *testing.T) {
	doctor := &doctorStub{avail: []models.Availability{{ToolID: "subfinder", Available: true}}}
	server, err := NewServer(nil, config.ServerConfig{Address: "127.0.0.1:0", GracefulTimeout: time.Second, ProbeInterval: time.Hour}, doctor, "hybrid")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if server.Address() == "" {
		t.Fatalf("expected bound address")
	}
	if got := status(t, server.Health(), ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before first probe, got %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for status(t, server.Health(), "") != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatalf("expected readiness after the first probe")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := status(t, server.Health(), "tool/subfinder"); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected subfinder SERVING, got %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("server did not stop")
	}
}
