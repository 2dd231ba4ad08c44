package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/miradorstack/mirador-osint/internal/adapters"
	"github.com/miradorstack/mirador-osint/internal/cache"
	"github.com/miradorstack/mirador-osint/internal/config"
	"github.com/miradorstack/mirador-osint/internal/engine"
	"github.com/miradorstack/mirador-osint/internal/executor"
	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/plugins"
	"github.com/miradorstack/mirador-osint/internal/repo"
	"github.com/miradorstack/mirador-osint/internal/services"
	"github.com/miradorstack/mirador-osint/internal/trust"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

// app holds the process-wide collaborators shared by run, doctor and serve.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	service *services.RunService
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", slog.Any("error", err))
		}
	}
}

func bootstrap(ctx context.Context, configPath string, debug bool) (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, utils.NewAppError("config", "load configuration", err)
	}
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := utils.NewLogger(level, cfg.Logging.JSON)
	a := &app{cfg: cfg, logger: logger}

	store, err := trust.Load(cfg.Trust.ManifestPath)
	if err != nil {
		return nil, utils.NewAppError("trust", "load image trust manifest", err)
	}
	logger.Debug("image trust store loaded", slog.Int("images", store.Len()))

	registry, err := plugins.NewRegistry(logger, adapters.Builtins(store), plugins.Options{
		Dirs:                 cfg.Plugins.Dirs,
		AllowedRoot:          cfg.Plugins.AllowedRoot,
		ReviewedFingerprints: cfg.Plugins.ReviewedFingerprints,
		Images:               store,
	})
	if err != nil {
		return nil, utils.NewAppError("plugins", "build adapter registry", err)
	}

	catalog, err := engine.LoadCatalog(cfg.Workflows.Path, registry.Workflows(), logger)
	if err != nil {
		return nil, utils.NewAppError("workflows", "load workflows", err)
	}

	mode, err := models.ParseExecutionMode(cfg.Execution.Mode)
	if err != nil {
		return nil, utils.NewAppError("config", err.Error(), err)
	}
	var docker executor.ContainerAPI
	if mode != models.ModeNative {
		client, err := executor.NewDockerAPI(cfg.Execution.DockerHost)
		if err != nil {
			logger.Warn("container client unavailable", slog.Any("error", err))
		} else {
			docker = client
			a.closers = append(a.closers, client.Close)
		}
	}

	resultCache, err := cache.New(ctx, cache.Settings{
		Enabled: cfg.Cache.Enabled,
		Backend: cfg.Cache.Backend,
		Size:    cfg.Cache.Size,
		Valkey: cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		},
	})
	if err != nil {
		logger.Warn("result cache unavailable", slog.Any("error", err))
		resultCache = cache.NoopProvider{}
	}
	a.closers = append(a.closers, resultCache.Close)

	var archive repo.Archive = repo.NoopArchive{}
	if cfg.Archive.Enabled {
		s3, err := repo.NewS3Archive(repo.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			logger.Warn("run archive unavailable", slog.Any("error", err))
		} else {
			archive = s3
		}
	}

	factory := services.NewStrategyFactory(logger, docker, store, services.ExecutionSettings{
		OutputLimit:    cfg.Execution.OutputLimitBytes,
		DefaultTimeout: cfg.Execution.DefaultTimeout,
	})
	a.service = services.NewRunService(logger, registry, catalog, factory, services.Options{
		Mode:            mode,
		Workers:         cfg.Execution.Workers,
		WorkflowTimeout: cfg.Execution.WorkflowTimeout,
		FuzzyThreshold:  cfg.Correlation.FuzzyThreshold,
		Weights:         registry.Weights(),
		Cache:           resultCache,
		CacheTTL:        cfg.Cache.ResultTTL,
		Archive:         archive,
	})

	logger.Info("engine ready",
		slog.String("mode", string(mode)),
		slog.Int("adapters", len(registry.Adapters())),
		slog.Int("workflows", len(catalog.Names())),
		slog.String("cache", fmt.Sprintf("%T", resultCache)),
	)
	return a, nil
}
