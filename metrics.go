package grids

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "grids"

// managerMetrics are the Prometheus collectors of one Manager. With a nil
// Registerer they are still updated but never exported.
type managerMetrics struct {
	evictions      *prometheus.CounterVec
	swapWrites     *prometheus.CounterVec
	swapWriteBytes prometheus.Counter
	swapReads      *prometheus.CounterVec
	lowMemory      prometheus.Counter
	fatal          prometheus.Counter
	resident       prometheus.Gauge
	charged        prometheus.Gauge
	budget         prometheus.Gauge
}

func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	f := promauto.With(reg)
	return &managerMetrics{
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "evictions_total",
			Help:      "Chunks swapped out to relieve memory pressure",
		}, []string{"grid", "kind"}),
		swapWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "swap_writes_total",
			Help:      "Chunk records written to the swap store",
		}, []string{"kind"}),
		swapWriteBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "swap_write_bytes_total",
			Help:      "Bytes of chunk records written to the swap store",
		}),
		swapReads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "swap_reads_total",
			Help:      "Chunks brought back into memory",
		}, []string{"kind"}),
		lowMemory: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "low_memory_events_total",
			Help:      "Low-memory conditions handled by eviction",
		}),
		fatal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "low_memory_fatal_total",
			Help:      "Low-memory conditions where nothing could be evicted",
		}),
		resident: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "resident_chunks",
			Help:      "Chunks currently held in memory",
		}),
		charged: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "charged_bytes",
			Help:      "Bytes currently charged against the memory budget",
		}),
		budget: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "budget_bytes",
			Help:      "Configured memory budget, 0 when unlimited",
		}),
	}
}
