// Package prom exports cache.Metrics as Prometheus collectors.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/featcache/cache"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	remoteRows *prometheus.CounterVec
	fetchDur   *prometheus.HistogramVec
	sizeEnt    prometheus.Gauge
	sizeBytes  prometheus.Gauge
	populates  prometheus.Counter
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil), e.g. {"rank": "0"}
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Requested node ids served from the local cache",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Requested node ids read from the feature store",
			ConstLabels: constLabels,
		}),
		remoteRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "remote_rows_total",
				Help:        "Rows read from the feature store by field",
				ConstLabels: constLabels,
			},
			[]string{"field"},
		),
		fetchDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "remote_fetch_duration_seconds",
				Help:        "Latency of feature store calls by field",
				Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14),
				ConstLabels: constLabels,
			},
			[]string{"field"},
		),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of cached nodes",
			ConstLabels: constLabels,
		}),
		sizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_bytes",
			Help:        "Cached feature payload in bytes",
			ConstLabels: constLabels,
		}),
		populates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "populates_total",
			Help:        "Completed cache populations",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.remoteRows, a.fetchDur, a.sizeEnt, a.sizeBytes, a.populates)
	return a
}

// Hit adds n to the hit counter.
func (a *Adapter) Hit(n int) { a.hits.Add(float64(n)) }

// Miss adds n to the miss counter.
func (a *Adapter) Miss(n int) { a.misses.Add(float64(n)) }

// RemoteFetch records one store call.
func (a *Adapter) RemoteFetch(field string, rows int, d time.Duration) {
	a.remoteRows.WithLabelValues(field).Add(float64(rows))
	a.fetchDur.WithLabelValues(field).Observe(d.Seconds())
}

// Populated updates the size gauges.
func (a *Adapter) Populated(entries int, bytes int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeBytes.Set(float64(bytes))
	a.populates.Inc()
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
