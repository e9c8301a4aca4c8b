// Package metrics exposes the daemon's Prometheus instrumentation:
// dispatch latency, xrun/underrun counts, and discovery duration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pwmixer",
		Name:      "dispatch_latency_seconds",
		Help:      "Time taken to apply a queued graph command.",
		Buckets:   prometheus.DefBuckets,
	})

	XrunTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwmixer",
		Name:      "xrun_total",
		Help:      "Audio server underrun/overrun events observed per node.",
	}, []string{"node"})

	DiscoveryDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pwmixer",
		Name:      "discovery_duration_seconds",
		Help:      "Time taken for a newly spawned node to be discovered.",
	})

	ThrottleDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pwmixer",
		Name:      "event_channel_drops_total",
		Help:      "Controller events dropped because the event channel was full.",
	})
)

// Register adds all collectors to reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(DispatchLatency, XrunTotal, DiscoveryDuration, ThrottleDrops)
}

// ObserveDispatch records how long a queued command took to apply.
func ObserveDispatch(start time.Time) {
	DispatchLatency.Observe(time.Since(start).Seconds())
}
