package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-osint/internal/adapters"
	"github.com/miradorstack/mirador-osint/internal/cache"
	"github.com/miradorstack/mirador-osint/internal/engine"
	"github.com/miradorstack/mirador-osint/internal/executor"
	"github.com/miradorstack/mirador-osint/internal/metrics"
	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/repo"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

// Executor is the per-run execution surface. *executor.Strategy satisfies it.
type Executor interface {
	adapters.Runner
	Preflight(ctx context.Context, descs []models.ToolDescriptor, opts executor.PreflightOptions) []models.Availability
	Mode() models.ExecutionMode
}

// ExecutorFactory builds a fresh Executor for one run.
type ExecutorFactory func(mode models.ExecutionMode, removeImages bool) (Executor, error)

// Registry is the adapter table the service plans against.
type Registry interface {
	engine.AdapterLookup
	Adapters() []adapters.ToolAdapter
	Rejected() []models.PluginManifest
}

// RunRequest is one user-initiated run.
type RunRequest struct {
	Target     string
	TargetType string
	// Workflow selects a named workflow. Empty fans out to every capable adapter.
	Workflow string
	// Tool bypasses the scheduler's planning and runs one adapter.
	Tool         string
	Mode         string
	Workers      int
	PullImages   bool
	RemoveImages bool
}

// Options configures a RunService.
type Options struct {
	Mode            models.ExecutionMode
	Workers         int
	WorkflowTimeout time.Duration
	FuzzyThreshold  float64
	Weights         map[string]float64
	Cache           cache.Provider
	CacheTTL        time.Duration
	Archive         repo.Archive
}

// RunService drives a run from target validation to the final report.
type RunService struct {
	logger      *slog.Logger
	registry    Registry
	catalog     *engine.Catalog
	newExecutor ExecutorFactory
	opts        Options
	latencies   *utils.LatencyTracker
}

// NewRunService constructs the run facade.
func NewRunService(logger *slog.Logger, registry Registry, catalog *engine.Catalog, factory ExecutorFactory, opts Options) *RunService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = models.ModeHybrid
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopProvider{}
	}
	if opts.Archive == nil {
		opts.Archive = repo.NoopArchive{}
	}
	return &RunService{
		logger:      logger,
		registry:    registry,
		catalog:     catalog,
		newExecutor: factory,
		opts:        opts,
		latencies:   utils.NewLatencyTracker(1024),
	}
}

// Run executes req and returns its report. An error means the run could not
// start; tool failures are reported inside the report.
func (s *RunService) Run(ctx context.Context, req RunRequest) (*models.Report, error) {
	started := time.Now()
	runID := uuid.NewString()
	logger := s.logger.With(slog.String("run_id", runID))

	kind, err := models.ParseTargetType(req.TargetType)
	if err != nil {
		return nil, utils.NewAppError("run", err.Error(), utils.ErrInvalidTarget)
	}
	target, err := adapters.ValidateTarget(kind, req.Target)
	if err != nil {
		return nil, utils.NewAppError("run", "invalid target", err)
	}
	mode := s.opts.Mode
	if req.Mode != "" {
		if mode, err = models.ParseExecutionMode(req.Mode); err != nil {
			return nil, utils.NewAppError("run", err.Error(), utils.ErrInvalidTarget)
		}
	}

	exec, err := s.newExecutor(mode, req.RemoveImages)
	if err != nil {
		metrics.ObserveWorkflow(time.Since(started), metrics.OutcomeError)
		return nil, err
	}

	descs, err := s.candidates(req, kind)
	if err != nil {
		return nil, err
	}
	avail := make(map[string]models.Availability, len(descs))
	for _, a := range exec.Preflight(ctx, descs, executor.PreflightOptions{PullImages: req.PullImages}) {
		avail[a.ToolID] = a
		if !a.Available {
			logger.Warn("tool unavailable", slog.String("tool", a.ToolID), slog.String("reason", a.Reason))
		}
	}

	plan, err := s.plan(req, target, kind, avail)
	if err != nil {
		metrics.ObserveWorkflow(time.Since(started), metrics.OutcomeError)
		return nil, err
	}

	var runner adapters.Runner = exec
	if _, noop := s.opts.Cache.(cache.NoopProvider); !noop {
		runner = newCachingRunner(logger, exec, s.opts.Cache, s.opts.CacheTTL)
	}
	workers := s.opts.Workers
	if req.Workers > 0 {
		workers = req.Workers
	}
	scheduler := engine.NewScheduler(logger, runner, engine.SchedulerOptions{
		Workers: workers,
		Timeout: s.opts.WorkflowTimeout,
		Latency: s.latencies,
	})
	result := scheduler.Run(ctx, plan)

	correlator := engine.NewCorrelator(logger, s.opts.FuzzyThreshold, s.opts.Weights)
	groups := correlator.Correlate(result.Findings)

	report := &models.Report{
		RunID:      runID,
		Target:     target,
		TargetType: kind,
		Workflow:   plan.Workflow,
		Mode:       exec.Mode(),
		StartedAt:  started.UTC(),
		Tools:      result.Tools,
		Steps:      result.Steps,
		Groups:     groups,
		Links:      engine.Link(groups),
		Rejected:   s.registry.Rejected(),
		Errors:     result.Errors,
	}
	report.Duration = time.Since(started)

	s.archive(ctx, logger, report)

	outcome := metrics.OutcomeSuccess
	if result.TimedOut {
		outcome = metrics.OutcomeTimeout
	}
	metrics.ObserveWorkflow(report.Duration, outcome)
	s.logLatencies(logger)
	return report, nil
}

// Doctor runs pre-flight over every registered tool without executing anything.
func (s *RunService) Doctor(ctx context.Context, mode string, pull bool) ([]models.Availability, error) {
	m := s.opts.Mode
	if mode != "" {
		var err error
		if m, err = models.ParseExecutionMode(mode); err != nil {
			return nil, utils.NewAppError("doctor", err.Error(), utils.ErrInvalidTarget)
		}
	}
	exec, err := s.newExecutor(m, false)
	if err != nil {
		return nil, err
	}
	all := s.registry.Adapters()
	descs := make([]models.ToolDescriptor, 0, len(all))
	for _, a := range all {
		descs = append(descs, a.Descriptor())
	}
	return exec.Preflight(ctx, descs, executor.PreflightOptions{PullImages: pull}), nil
}

// candidates returns the descriptors a run may touch, so pre-flight never
// probes tools the plan cannot use.
func (s *RunService) candidates(req RunRequest, kind models.TargetType) ([]models.ToolDescriptor, error) {
	var descs []models.ToolDescriptor
	switch {
	case req.Tool != "":
		a, ok := s.registry.Lookup(req.Tool)
		if !ok {
			return nil, utils.NewToolError("run", req.Tool, "tool is not registered", utils.ErrToolNotAvailable)
		}
		descs = append(descs, a.Descriptor())
	case req.Workflow != "":
		wf, ok := s.catalog.Get(req.Workflow)
		if !ok {
			return nil, utils.NewAppError("run", fmt.Sprintf("unknown workflow %q", req.Workflow), utils.ErrNoAdapters)
		}
		seen := make(map[string]struct{})
		for _, step := range wf.Steps {
			for _, id := range step.Tools {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				if a, ok := s.registry.Lookup(id); ok {
					descs = append(descs, a.Descriptor())
				}
			}
		}
	default:
		for _, a := range s.registry.Adapters() {
			if d := a.Descriptor(); d.Accepts(kind) {
				descs = append(descs, d)
			}
		}
	}
	return descs, nil
}

func (s *RunService) plan(req RunRequest, target string, kind models.TargetType, avail map[string]models.Availability) (engine.Plan, error) {
	switch {
	case req.Tool != "":
		a, _ := s.registry.Lookup(req.Tool)
		return engine.Single(target, kind, a, avail)
	case req.Workflow != "":
		return s.catalog.Plan(req.Workflow, target, kind, s.registry, avail)
	default:
		return engine.FanOut(target, kind, s.registry.Adapters(), avail)
	}
}

// archive stores raw outputs and the report. Failures are logged only.
func (s *RunService) archive(ctx context.Context, logger *slog.Logger, report *models.Report) {
	if _, noop := s.opts.Archive.(repo.NoopArchive); noop {
		return
	}
	for _, tool := range report.Tools {
		for n, inv := range tool.Invocations {
			if len(inv.Result.Output) == 0 {
				continue
			}
			name := repo.OutputName(tool.ToolID, n+1)
			if err := s.opts.Archive.Put(ctx, report.RunID, name, inv.Result.Output, "text/plain"); err != nil {
				logger.Warn("archive output failed", slog.String("object", name), slog.Any("error", err))
			}
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Warn("encode report for archive failed", slog.Any("error", err))
		return
	}
	if err := s.opts.Archive.Put(ctx, report.RunID, repo.ReportName, data, "application/json"); err != nil {
		logger.Warn("archive report failed", slog.Any("error", err))
	}
}

func (s *RunService) logLatencies(logger *slog.Logger) {
	for _, key := range s.latencies.Keys() {
		if count := s.latencies.Count(key); count >= 5 {
			logger.Debug("tool latency",
				slog.String("tool", key),
				slog.Duration("p50", s.latencies.Percentile(key, 50)),
				slog.Duration("p95", s.latencies.Percentile(key, 95)),
				slog.Int("samples", count),
			)
		}
	}
}
