// Package metric provides Prometheus-based metrics collection for the
// flownet engine.
//
// MetricsRegistry owns a dedicated prometheus.Registry pre-populated with the
// core engine metrics (optimizer runs, conversion counters, graph gauges) and
// Go runtime collectors. Components register their own metrics through the
// MetricsRegistrar interface under a component-scoped key so duplicate
// registrations are rejected with a classified error rather than a panic.
//
// Server exposes the registry over HTTP at /metrics alongside a trivial
// /health endpoint.
package metric
