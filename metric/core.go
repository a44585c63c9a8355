package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all engine-level metrics (not component-specific)
type Metrics struct {
	// Optimizer metrics
	OptimizerRuns      prometheus.Counter
	OptimizerDuration  prometheus.Histogram
	OptimizerCoalesced prometheus.Counter
	OffloadFallbacks   prometheus.Counter

	// Conversion metrics
	ConversionsStarted   prometheus.Counter
	ConversionsCompleted prometheus.Counter
	ConversionsFailed    *prometheus.CounterVec
	ActiveProcesses      prometheus.Gauge

	// Chain metrics
	ChainsCompleted prometheus.Counter
	ChainsFailed    prometheus.Counter

	// Graph metrics
	NodesRegistered       *prometheus.GaugeVec
	ConnectionsRegistered prometheus.Gauge

	// Event metrics
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		OptimizerRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flownet",
				Subsystem: "optimizer",
				Name:      "runs_total",
				Help:      "Total number of completed optimization passes",
			},
		),

		OptimizerDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "flownet",
				Subsystem: "optimizer",
				Name:      "duration_seconds",
				Help:      "Optimization pass duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		OptimizerCoalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flownet",
				Subsystem: "optimizer",
				Name:      "coalesced_total",
				Help:      "Total optimizer calls served from an in-flight or previous result",
			},
		),

		OffloadFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flownet",
				Subsystem: "optimizer",
				Name:      "offload_fallbacks_total",
				Help:      "Total parallel offload failures that fell back to synchronous computation",
			},
		),

		ConversionsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flownet",
				Subsystem: "conversion",
				Name:      "started_total",
				Help:      "Total conversion processes started",
			},
		),

		ConversionsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flownet",
				Subsystem: "conversion",
				Name:      "completed_total",
				Help:      "Total conversion processes completed",
			},
		),

		ConversionsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flownet",
				Subsystem: "conversion",
				Name:      "failed_total",
				Help:      "Total conversion starts rejected or processes cancelled",
			},
			[]string{"reason"},
		),

		ActiveProcesses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "flownet",
				Subsystem: "conversion",
				Name:      "active_processes",
				Help:      "Currently active conversion processes",
			},
		),

		ChainsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flownet",
				Subsystem: "chain",
				Name:      "completed_total",
				Help:      "Total conversion chains completed",
			},
		),

		ChainsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flownet",
				Subsystem: "chain",
				Name:      "failed_total",
				Help:      "Total conversion chains terminally failed",
			},
		),

		NodesRegistered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "flownet",
				Subsystem: "graph",
				Name:      "nodes",
				Help:      "Registered flow nodes by role",
			},
			[]string{"role"},
		),

		ConnectionsRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "flownet",
				Subsystem: "graph",
				Name:      "connections",
				Help:      "Registered flow connections",
			},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flownet",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total engine events published",
			},
			[]string{"type"},
		),
	}
}
