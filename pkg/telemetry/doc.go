// Package telemetry provides observability instrumentation for Loom.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified
// system for monitoring synthesis runs.
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "loom"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx := tel.WithContext(context.Background())
//
// Component loggers carry structured fields through the run:
//
//	logger := tel.Logger.NewComponentLogger("binder")
//	logger = logger.WithRunID("run-123").WithBinding("api", "orders-queue")
//	logger.Info("Binding resolved")
//
// Key metrics exposed at /metrics:
//
//   - loom_runs_started_total{stack}
//   - loom_runs_completed_total{status}
//   - loom_run_duration_seconds{status}
//   - loom_bindings_resolved_total{strategy,access}
//   - loom_bindings_failed_total{class}
//   - loom_drift_decisions_total{outcome,resource_type}
//   - loom_drift_conflicts_total
//   - loom_identity_entries{stack,environment}
//   - loom_policy_denials_total{policy}
//
// Tracing supports the "stdout" exporter for development, "otlp" for
// production collectors, and "none" for tests.
package telemetry
