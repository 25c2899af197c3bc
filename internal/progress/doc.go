// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that pipeline phases use to report per-project progress. It batches
// events on a background goroutine and fans them out to pluggable sinks such as
// structured logs or Prometheus metrics.
package progress
