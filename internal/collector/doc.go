// Package collector provides load-sample collection for managed services.
//
// The collector package implements a pluggable sampling system that the
// autoscaler polls once per tick per service. Sources never push; a tick
// with no obtainable sample is skipped rather than acted on.
//
// # Supported sources
//
//   - Prometheus: PromQL instant queries via the Prometheus HTTP API
//   - HTTP: a plain JSON endpoint, for environments without a metrics stack
//   - Fixed: a static in-memory source used by tests and dry runs
//
// # Error handling
//
// All sources report a missing, unreachable, or unparsable result as
// ErrMetricUnavailable (possibly wrapped). Callers must treat this as
// "skip the tick", never as a zero observation.
package collector
