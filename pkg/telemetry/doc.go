// Package telemetry provides logging, metrics, and tracing for the
// orchestrator: a zerolog root logger, a Prometheus registry covering job
// batches, convergence polling, snapshots, and rollbacks, and an optional
// OpenTelemetry tracer.
package telemetry
