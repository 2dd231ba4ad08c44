package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful workflows and invocations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed workflows and invocations.
	OutcomeError = "error"
	// OutcomeTimeout labels invocations that hit their deadline.
	OutcomeTimeout = "timeout"
)

var (
	workflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_osint",
			Name:      "workflows_total",
			Help:      "Total number of workflow runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	workflowDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_osint",
			Name:      "workflow_seconds",
			Help:      "Workflow run latency in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
	)

	toolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_osint",
			Name:      "tool_invocations_total",
			Help:      "Tool invocations, partitioned by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	toolInvocationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_osint",
			Name:      "tool_invocation_seconds",
			Help:      "Tool invocation latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"tool"},
	)

	toolsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_osint",
			Name:      "tools_skipped_total",
			Help:      "Tools skipped by pre-flight because they were unavailable.",
		},
		[]string{"tool"},
	)

	containersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_osint",
			Name:      "containers_active",
			Help:      "Tool containers created and not yet removed.",
		},
	)

	pluginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_osint",
			Name:      "plugins_total",
			Help:      "Discovered plugins, partitioned by trust tier and admission verdict.",
		},
		[]string{"tier", "verdict"},
	)

	findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_osint",
			Name:      "findings_total",
			Help:      "Parsed findings, partitioned by kind.",
		},
		[]string{"kind"},
	)

	correlationGroupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_osint",
			Name:      "correlation_groups_total",
			Help:      "Correlation groups emitted across all runs.",
		},
	)
)

// Register attaches mirador-osint collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		workflowsTotal,
		workflowDurationSeconds,
		toolInvocationsTotal,
		toolInvocationSeconds,
		toolsSkippedTotal,
		containersActive,
		pluginsTotal,
		findingsTotal,
		correlationGroupsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveWorkflow records a workflow duration and outcome label.
func ObserveWorkflow(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	workflowsTotal.WithLabelValues(label).Inc()
	workflowDurationSeconds.Observe(nonNegative(duration).Seconds())
}

// ObserveInvocation records one tool invocation.
func ObserveInvocation(tool string, duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeSuccess, OutcomeTimeout:
	default:
		outcome = OutcomeError
	}
	toolInvocationsTotal.WithLabelValues(tool, outcome).Inc()
	toolInvocationSeconds.WithLabelValues(tool).Observe(nonNegative(duration).Seconds())
}

// ObserveSkipped counts a tool skipped by pre-flight.
func ObserveSkipped(tool string) {
	toolsSkippedTotal.WithLabelValues(tool).Inc()
}

// ContainerCreated and ContainerRemoved track live tool containers.
func ContainerCreated() { containersActive.Inc() }

// ContainerRemoved pairs with ContainerCreated.
func ContainerRemoved() { containersActive.Dec() }

// ObservePlugin counts a plugin admission decision.
func ObservePlugin(tier string, admitted bool) {
	verdict := "rejected"
	if admitted {
		verdict = "admitted"
	}
	pluginsTotal.WithLabelValues(tier, verdict).Inc()
}

// ObserveFinding counts one parsed finding.
func ObserveFinding(kind string) {
	findingsTotal.WithLabelValues(kind).Inc()
}

// ObserveGroups counts emitted correlation groups.
func ObserveGroups(n int) {
	if n > 0 {
		correlationGroupsTotal.Add(float64(n))
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
