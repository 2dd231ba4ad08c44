package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/miradorstack/mirador-osint/internal/adapters"
	"github.com/miradorstack/mirador-osint/internal/executor"
	"github.com/miradorstack/mirador-osint/internal/metrics"
	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

// SchedulerOptions tunes one scheduler.
type SchedulerOptions struct {
	// Workers bounds concurrent invocations. Zero derives it from the host.
	Workers int
	// Timeout bounds the whole run. Zero means no workflow deadline.
	Timeout time.Duration
	Latency *utils.LatencyTracker
}

// Scheduler executes a plan under a bounded worker budget.
type Scheduler struct {
	logger  *slog.Logger
	runner  adapters.Runner
	workers int
	timeout time.Duration
	latency *utils.LatencyTracker
}

// Result is the scheduler output handed to correlation.
type Result struct {
	Tools    []models.ToolReport
	Steps    []models.StepReport
	Findings []models.Finding
	Errors   []string
	TimedOut bool
}

// NewScheduler constructs a Scheduler.
func NewScheduler(logger *slog.Logger, runner adapters.Runner, opts SchedulerOptions) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = executor.DefaultWorkers()
	}
	return &Scheduler{
		logger:  logger,
		runner:  runner,
		workers: workers,
		timeout: opts.Timeout,
		latency: opts.Latency,
	}
}

// Workers returns the worker budget.
func (s *Scheduler) Workers() int {
	return s.workers
}

type invocation struct {
	report   models.InvocationReport
	findings []models.Finding
}

// Run executes plan step by step. Invocation failures stay in their slot and
// never cancel siblings. Findings carry a Seq ordered by step, tool, target
// and output position, independent of completion order.
func (s *Scheduler) Run(ctx context.Context, plan Plan) Result {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	sem := semaphore.NewWeighted(int64(s.workers))
	table := newToolTable()
	var out Result

	s.logger.Info("scan started",
		utils.Event(utils.EventScanStart),
		slog.String("target_type", string(plan.TargetType)),
		slog.String("workflow", plan.Workflow),
		slog.Int("steps", len(plan.Steps)),
		slog.Int("workers", s.workers),
	)

	inputs := []string{plan.Target}
	var previous []models.Finding
	seq := 0
	for i, step := range plan.Steps {
		stepType := plan.TargetType
		if i > 0 {
			stepType, _ = step.Feed.TargetType()
			inputs = feedValues(previous, step.Feed)
		}
		report := models.StepReport{Index: i + 1, Inputs: inputs}
		for _, st := range step.Tools {
			report.Tools = append(report.Tools, st.ID)
			table.declare(st.ID, st.SkipReason)
		}

		if len(inputs) == 0 {
			report.Outcome = models.OutcomeEmpty
			out.Steps = append(out.Steps, report)
			previous = nil
			s.logger.Info("step has no inputs", slog.Int("step", i+1), slog.String("feed", string(step.Feed)))
			continue
		}

		slots := s.runStep(ctx, sem, plan.Options, i+1, step, inputs, stepType)

		previous = nil
		for ti, st := range step.Tools {
			for _, inv := range slots[ti] {
				report.Invocations++
				for _, f := range inv.findings {
					f.Seq = seq
					seq++
					previous = append(previous, f)
				}
				inv.report.Findings = len(inv.findings)
				table.record(st.ID, inv.report)
			}
		}
		report.Outcome = stepOutcome(slots)
		out.Findings = append(out.Findings, previous...)
		out.Steps = append(out.Steps, report)
	}

	out.Tools = table.reports()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
		out.Errors = append(out.Errors, fmt.Sprintf("workflow timeout after %s", s.timeout))
		s.logger.Warn("workflow deadline reached", utils.Event(utils.EventTimeout), slog.Duration("timeout", s.timeout))
	}
	s.logger.Info("scan finished",
		utils.Event(utils.EventScanEnd),
		slog.Int("findings", len(out.Findings)),
		slog.Int("tools", len(out.Tools)),
	)
	return out
}

func (s *Scheduler) runStep(ctx context.Context, sem *semaphore.Weighted, base map[string]string, index int, step Step, inputs []string, stepType models.TargetType) [][]invocation {
	opts := make(map[string]string, len(base)+1)
	for k, v := range base {
		opts[k] = v
	}
	opts[adapters.OptionTargetType] = string(stepType)

	slots := make([][]invocation, len(step.Tools))
	var wg sync.WaitGroup
	for ti, st := range step.Tools {
		if st.SkipReason != "" || st.Adapter == nil {
			metrics.ObserveSkipped(st.ID)
			continue
		}
		slots[ti] = make([]invocation, len(inputs))
		for ii, input := range inputs {
			wg.Add(1)
			go func(ti, ii int, a adapters.ToolAdapter, input string) {
				defer wg.Done()
				slots[ti][ii] = s.invoke(ctx, sem, a, input, opts, index)
			}(ti, ii, st.Adapter, input)
		}
	}
	wg.Wait()
	return slots
}

// invoke runs one adapter on one input. The worker slot is held only while
// the tool executes; parsing happens after release.
func (s *Scheduler) invoke(ctx context.Context, sem *semaphore.Weighted, a adapters.ToolAdapter, target string, opts map[string]string, step int) (inv invocation) {
	id := a.Descriptor().ID
	logger := s.logger.With(slog.String("tool", id), slog.Int("step", step))
	inv.report = models.InvocationReport{Target: target, Step: step}

	defer func() {
		if r := recover(); r != nil {
			err := utils.NewToolError("execute", id, "adapter panic", fmt.Errorf("%v", r))
			inv.findings = nil
			inv.report.Outcome, inv.report.Reason, inv.report.Err = models.OutcomeFailed, err.Error(), err
			metrics.ObserveInvocation(id, inv.report.Duration, metrics.OutcomeError)
			logger.Error("adapter panicked", utils.Event(utils.EventFailure), slog.Any("error", err))
		}
	}()

	if err := sem.Acquire(ctx, 1); err != nil {
		err = workflowError(ctx, err)
		inv.report.Outcome, inv.report.Reason, inv.report.Err = models.OutcomeFailed, err.Error(), err
		metrics.ObserveInvocation(id, 0, metrics.OutcomeTimeout)
		return inv
	}
	logger.Debug("module started", utils.Event(utils.EventModuleStart))
	start := time.Now()
	res := func() models.ExecutionResult {
		defer sem.Release(1)
		return a.Execute(ctx, s.runner, target, opts)
	}()
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}

	inv.report.Result = res
	inv.report.Mode = res.Mode
	inv.report.ExitStatus = res.ExitStatus
	inv.report.Duration = res.Duration
	inv.report.Truncated = res.Truncated
	inv.report.Cached = res.Cached
	if s.latency != nil {
		s.latency.Observe(id, res.Duration)
	}

	switch {
	case res.Err != nil:
		err := res.Err
		if ctx.Err() != nil && !errors.Is(err, utils.ErrExecutionTimeout) {
			err = workflowError(ctx, err)
		}
		inv.report.Err, inv.report.Reason = err, err.Error()
		if errors.Is(err, utils.ErrToolNotAvailable) || errors.Is(err, utils.ErrDaemonUnavailable) {
			inv.report.Outcome = models.OutcomeSkipped
			metrics.ObserveSkipped(id)
			logger.Warn("tool skipped", slog.Any("error", err))
			break
		}
		inv.report.Outcome = models.OutcomeFailed
		if errors.Is(err, utils.ErrExecutionTimeout) {
			metrics.ObserveInvocation(id, res.Duration, metrics.OutcomeTimeout)
			logger.Warn("tool timed out", utils.Event(utils.EventTimeout), slog.Duration("duration", res.Duration))
			break
		}
		metrics.ObserveInvocation(id, res.Duration, metrics.OutcomeError)
		logger.Warn("tool failed", utils.Event(utils.EventFailure), slog.Any("error", err))
	case res.ExitStatus != 0:
		// Output of a non-zero exit is still parsed; the status stays on the report.
		inv.report.Reason = fmt.Sprintf("exit status %d", res.ExitStatus)
		inv.findings = s.parse(a, id, target, res.Output, &inv.report, logger)
		if len(inv.findings) == 0 {
			inv.report.Outcome = models.OutcomeFailed
			metrics.ObserveInvocation(id, res.Duration, metrics.OutcomeError)
			logger.Warn("tool exited with error", utils.Event(utils.EventFailure), slog.Int("exit_status", res.ExitStatus))
			break
		}
		inv.report.Outcome = models.OutcomeSuccess
		metrics.ObserveInvocation(id, res.Duration, metrics.OutcomeSuccess)
		logger.Warn("tool exited with error, keeping parsed output",
			slog.Int("exit_status", res.ExitStatus),
			slog.Int("findings", len(inv.findings)),
		)
	default:
		inv.findings = s.parse(a, id, target, res.Output, &inv.report, logger)
		inv.report.Outcome = models.OutcomeSuccess
		metrics.ObserveInvocation(id, res.Duration, metrics.OutcomeSuccess)
		logger.Debug("module finished", utils.Event(utils.EventSuccess), slog.Int("findings", len(inv.findings)))
	}
	logger.Debug("module ended", utils.Event(utils.EventModuleEnd), slog.String("outcome", string(inv.report.Outcome)))
	return inv
}

// parse turns raw tool output into findings attributed to id and target.
func (s *Scheduler) parse(a adapters.ToolAdapter, id, target string, output []byte, report *models.InvocationReport, logger *slog.Logger) []models.Finding {
	findings, err := adapters.Parse(a, output)
	if err != nil {
		report.ParseError = err.Error()
		logger.Warn("partial parse", slog.Any("error", err))
	}
	for i := range findings {
		if findings[i].SourceTool == "" {
			findings[i].SourceTool = id
		}
		findings[i].Target = target
		metrics.ObserveFinding(string(findings[i].Kind))
	}
	return findings
}

// workflowError attributes err to the workflow deadline or cancellation.
func workflowError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: workflow deadline exceeded: %v", utils.ErrExecutionTimeout, err)
	}
	return fmt.Errorf("workflow cancelled: %w", err)
}

// feedValues returns the distinct values of kind in discovery order. Values
// are deduplicated on their normalized form and passed on as first seen.
func feedValues(findings []models.Finding, kind models.FindingKind) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, f := range findings {
		if f.Kind != kind {
			continue
		}
		key := Normalize(kind, f.Value)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f.Value)
	}
	return out
}

func stepOutcome(slots [][]invocation) models.Outcome {
	outcome := models.OutcomeSkipped
	for _, tool := range slots {
		for _, inv := range tool {
			switch inv.report.Outcome {
			case models.OutcomeSuccess:
				return models.OutcomeSuccess
			case models.OutcomeFailed:
				outcome = models.OutcomeFailed
			}
		}
	}
	return outcome
}

// toolTable aggregates invocations per tool in first-appearance order.
type toolTable struct {
	order []string
	tools map[string]*toolEntry
}

type toolEntry struct {
	skipReason  string
	invocations []models.InvocationReport
}

func newToolTable() *toolTable {
	return &toolTable{tools: make(map[string]*toolEntry)}
}

func (t *toolTable) declare(id, skipReason string) {
	e, ok := t.tools[id]
	if !ok {
		e = &toolEntry{}
		t.tools[id] = e
		t.order = append(t.order, id)
	}
	if e.skipReason == "" {
		e.skipReason = skipReason
	}
}

func (t *toolTable) record(id string, inv models.InvocationReport) {
	t.declare(id, "")
	t.tools[id].invocations = append(t.tools[id].invocations, inv)
}

func (t *toolTable) reports() []models.ToolReport {
	out := make([]models.ToolReport, 0, len(t.order))
	for _, id := range t.order {
		e := t.tools[id]
		r := models.ToolReport{ToolID: id, Invocations: e.invocations}
		for _, inv := range e.invocations {
			r.Findings += inv.Findings
		}
		switch {
		case len(e.invocations) == 0 && e.skipReason != "":
			r.Outcome, r.Reason = models.OutcomeSkipped, e.skipReason
		case len(e.invocations) == 0:
			r.Outcome, r.Reason = models.OutcomeEmpty, "no input values"
		default:
			r.Outcome, r.Reason = aggregateOutcome(e.invocations)
		}
		out = append(out, r)
	}
	return out
}

func aggregateOutcome(invs []models.InvocationReport) (models.Outcome, string) {
	var failed, skipped string
	for _, inv := range invs {
		switch inv.Outcome {
		case models.OutcomeSuccess:
			return models.OutcomeSuccess, ""
		case models.OutcomeFailed:
			if failed == "" {
				failed = inv.Reason
			}
		case models.OutcomeSkipped:
			if skipped == "" {
				skipped = inv.Reason
			}
		}
	}
	if failed != "" {
		return models.OutcomeFailed, failed
	}
	return models.OutcomeSkipped, skipped
}
