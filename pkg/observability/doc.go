// Package observability provides structured logging, Prometheus metrics,
// health probes, graceful shutdown and OpenTelemetry setup.
//
// # Logging
//
// Loggers are logrus loggers with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("group", "node:1").Info("membership saved")
//
// Request handlers use FromContext to pick up the per-request logger with
// request and trace ids attached.
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.AccessChecksTotal.WithLabelValues("allowed", "role").Inc()
//
// All metric names are prefixed with og_.
//
// # Tracing
//
// InitOTel installs OTLP/gRPC trace and metric providers. The access engine
// starts spans from the global tracer, so tracing is a no-op until InitOTel
// runs with Enabled set.
package observability
