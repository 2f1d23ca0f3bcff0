// Package metrics exposes the pool's gauges for Prometheus scraping,
// mirroring the same counters returned by GET /v1/status.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Snapshot is the minimal stats shape metrics needs; it mirrors
// pool.Stats without importing internal/pool, keeping this package
// usable from tests without a Docker-backed controller.
type Snapshot struct {
	Total          int
	Busy           int
	Idle           int
	IsInitializing bool
}

// Gauges bundles the worker pool's Prometheus gauges and registers
// them against a dedicated registry so /metrics never accidentally
// exposes Go runtime internals alongside pool state.
type Gauges struct {
	Registry *prometheus.Registry

	Total          prometheus.Gauge
	Busy           prometheus.Gauge
	Idle           prometheus.Gauge
	Initializing   prometheus.Gauge
}

// NewGauges builds and registers the gauge set.
func NewGauges() *Gauges {
	reg := prometheus.NewRegistry()
	g := &Gauges{
		Registry: reg,
		Total: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_workers_total",
			Help: "Total number of sandbox containers currently tracked by the pool.",
		}),
		Busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_workers_busy",
			Help: "Number of sandbox containers currently bound to a session.",
		}),
		Idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_workers_idle",
			Help: "Number of sandbox containers currently idle and available for claim.",
		}),
		Initializing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_initializing",
			Help: "1 while the pool has not yet completed its first pre-warm pass, 0 otherwise.",
		}),
	}
	reg.MustRegister(g.Total, g.Busy, g.Idle, g.Initializing)
	return g
}

// Set updates every gauge from one snapshot.
func (g *Gauges) Set(s Snapshot) {
	g.Total.Set(float64(s.Total))
	g.Busy.Set(float64(s.Busy))
	g.Idle.Set(float64(s.Idle))
	if s.IsInitializing {
		g.Initializing.Set(1)
	} else {
		g.Initializing.Set(0)
	}
}
