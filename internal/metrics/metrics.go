// Package metrics publishes Prometheus counters mirroring the daemon's
// protocol-visible statistics, so the same numbers can be scraped by
// standard tooling.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Recorder owns the counters for daemon activity.
type Recorder struct {
	gatherer prometheus.Gatherer

	requests  *prometheus.CounterVec
	cacheSize prometheus.Gauge
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist
// without conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sccache",
		Subsystem: "server",
		Name:      "requests_total",
		Help:      "Compile requests processed, by outcome.",
	}, []string{"outcome"})

	cacheSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sccache",
		Subsystem: "cache",
		Name:      "size_bytes",
		Help:      "Total size of stored cache entries.",
	})

	reg.MustRegister(requests, cacheSize)

	return &Recorder{
		gatherer:  reg,
		requests:  requests,
		cacheSize: cacheSize,
	}
}

// ObserveRequest counts one processed compile request by outcome.
func (r *Recorder) ObserveRequest(outcome string) {
	r.requests.WithLabelValues(outcome).Inc()
}

// SetCacheSize records the current total cache size.
func (r *Recorder) SetCacheSize(bytes int64) {
	r.cacheSize.Set(float64(bytes))
}

// Gatherer exposes the backing registry for scraping or inspection.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.gatherer
}
