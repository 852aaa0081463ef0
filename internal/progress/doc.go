// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the pipeline stages use to report run progress. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// structured logs or Prometheus metrics.
package progress
