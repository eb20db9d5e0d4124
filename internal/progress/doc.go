// Package progress provides the event primitives, non-blocking hub, and emitter
// interface that the ingestion pipeline and delivery dispatcher use to report
// run and delivery milestones. Events are batched on a background goroutine
// and fanned out to pluggable sinks such as Prometheus or run history storage.
package progress
