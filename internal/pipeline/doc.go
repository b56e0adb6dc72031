// Package pipeline coordinates trigger intake, prompt assembly, inference
// execution, and output fan-out. It is structured into small files by
// concern:
//
//   - orchestrator.go: core Orchestrator type, trigger admission, the
//     daemon/continuous loops, drain/shutdown.
//   - config.go: Config and package defaults; New applies defaults.
//   - slots.go: the concurrency-permit pool bounding in-flight turns.
//   - runner.go: one turn's lifecycle from pending to complete/failed,
//     including timeout, retry, and history append.
//   - dispatcher.go: non-blocking fan-out of fragments/finals to sinks.
//   - errors.go: error types and helpers (IsCapacityExceeded, IsDraining).
//   - events.go: lifecycle event publisher interface.
//   - metrics.go: prometheus instrumentation.
//   - status.go: status reporting for the HTTP surface.
//
// Concurrency model: the orchestrator loop is the only goroutine that
// launches runners; each runner owns its turn until completion and releases
// its slot on every exit path. The history buffer is the only mutable state
// shared across runners. Failures inside one turn never abort other turns or
// the loop; only slot or history accounting inconsistencies panic.
package pipeline
