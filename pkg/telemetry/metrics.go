package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Loom.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Binding metrics
	bindingsResolved *prometheus.CounterVec
	bindingsFailed   *prometheus.CounterVec
	bindingDuration  *prometheus.HistogramVec

	// Drift avoidance metrics
	driftDecisions *prometheus.CounterVec
	driftConflicts prometheus.Counter
	identityEntries *prometheus.GaugeVec

	// Policy metrics
	policyEvaluations *prometheus.CounterVec
	policyDenials     *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeRuns           prometheus.Gauge
	registeredStrategies *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of synthesis runs started",
			},
			[]string{"stack"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of synthesis runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of synthesis run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		bindingsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bindings_resolved_total",
				Help:      "Total number of bindings resolved, by strategy",
			},
			[]string{"strategy", "access"},
		),
		bindingsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bindings_failed_total",
				Help:      "Total number of binding resolution failures",
			},
			[]string{"class"},
		),
		bindingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "binding_duration_seconds",
				Help:      "Duration of binding resolution in seconds",
				Buckets:   buckets,
			},
			[]string{"strategy"},
		),

		driftDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_decisions_total",
				Help:      "Total number of drift avoidance decisions, by outcome",
			},
			[]string{"outcome", "resource_type"},
		),
		driftConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_conflicts_total",
				Help:      "Total number of identity conflicts that aborted a run",
			},
		),
		identityEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "identity_entries",
				Help:      "Current number of tracked identity entries per stack",
			},
			[]string{"stack", "environment"},
		),

		policyEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_evaluations_total",
				Help:      "Total number of policy evaluations",
			},
			[]string{"policy"},
		),
		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of policy denials",
			},
			[]string{"policy"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active synthesis runs",
			},
		),
		registeredStrategies: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_strategies",
				Help:      "Current number of registered strategies, by kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.bindingsResolved,
		m.bindingsFailed,
		m.bindingDuration,
		m.driftDecisions,
		m.driftConflicts,
		m.identityEntries,
		m.policyEvaluations,
		m.policyDenials,
		m.errorsByClass,
		m.errorsByCode,
		m.activeRuns,
		m.registeredStrategies,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(stack string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(stack).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Binding Metrics

// RecordBindingResolved records a successfully resolved binding.
func (m *Metrics) RecordBindingResolved(strategy, access string, duration time.Duration) {
	if m.bindingsResolved == nil {
		return
	}
	m.bindingsResolved.WithLabelValues(strategy, access).Inc()
	m.bindingDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordBindingFailed records a binding resolution failure by error class.
func (m *Metrics) RecordBindingFailed(class string) {
	if m.bindingsFailed == nil {
		return
	}
	m.bindingsFailed.WithLabelValues(class).Inc()
}

// Drift Metrics

// RecordDriftDecision records one drift avoidance decision.
func (m *Metrics) RecordDriftDecision(outcome, resourceType string) {
	if m.driftDecisions == nil {
		return
	}
	m.driftDecisions.WithLabelValues(outcome, resourceType).Inc()
}

// RecordDriftConflict records an identity conflict that aborted a run.
func (m *Metrics) RecordDriftConflict() {
	if m.driftConflicts == nil {
		return
	}
	m.driftConflicts.Inc()
}

// SetIdentityEntryCount sets the number of tracked identity entries for a stack.
func (m *Metrics) SetIdentityEntryCount(stack, environment string, count float64) {
	if m.identityEntries == nil {
		return
	}
	m.identityEntries.WithLabelValues(stack, environment).Set(count)
}

// Policy Metrics

// RecordPolicyEvaluation records a policy evaluation and whether it denied.
func (m *Metrics) RecordPolicyEvaluation(policy string, denied bool) {
	if m.policyEvaluations == nil {
		return
	}
	m.policyEvaluations.WithLabelValues(policy).Inc()
	if denied {
		m.policyDenials.WithLabelValues(policy).Inc()
	}
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// System Metrics

// SetRegisteredStrategies sets the number of registered strategies for a kind
// ("binding" or "drift").
func (m *Metrics) SetRegisteredStrategies(kind string, count float64) {
	if m.registeredStrategies == nil {
		return
	}
	m.registeredStrategies.WithLabelValues(kind).Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
