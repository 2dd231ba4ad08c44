package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-osint/internal/api"
	"github.com/miradorstack/mirador-osint/internal/metrics"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

var serveMode string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tool availability over gRPC health and Prometheus metrics",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func init() {
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "Execution mode probed for availability")
}

func serve(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, configPath, debugMode)
	if err != nil {
		return err
	}
	defer a.Close()
	logger, cfg := a.logger, a.cfg

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return utils.NewAppError("serve", "register metrics", err)
	}

	mode := serveMode
	if mode == "" {
		mode = cfg.Execution.Mode
	}
	server, err := api.NewServer(logger, cfg.Server, a.service, mode)
	if err != nil {
		return utils.NewAppError("serve", "create gRPC server", err)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		metricsServer = startMetrics(logger, cfg.Server.MetricsAddress, stop)
	}

	serveErr := server.Serve(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancel()
	}
	logger.Info("mirador-osint stopped")
	return serveErr
}

// startMetrics exposes the Prometheus registry; a listener failure stops the process.
func startMetrics(logger *slog.Logger, addr string, stop context.CancelFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server exited", slog.Any("error", err))
			stop()
		}
	}()
	return srv
}
