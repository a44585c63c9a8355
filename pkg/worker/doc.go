// Package worker provides a generic, thread-safe worker pool for concurrent
// task processing.
//
// The pool manages a fixed number of goroutines draining a bounded channel of
// work items of any type T. Submit is non-blocking: when the queue is at
// capacity the item is dropped and ErrQueueFull returned, so callers observe
// backpressure immediately instead of stalling. Statistics are always
// tracked with atomic counters; Prometheus metrics are opt-in via
// WithMetricsRegistry.
//
// The flow optimizer uses a pool of these workers as its parallel offload
// boundary: graph snapshots are submitted as work items carrying a reply
// channel, and the optimizer falls back to synchronous computation when
// Submit fails or the worker reports an error.
//
// Lifecycle guarantees:
//   - Start() can only be called once
//   - Submit() fails if not started or already stopped
//   - Stop() is idempotent and drains in-flight work up to its timeout
package worker
