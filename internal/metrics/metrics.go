// Package metrics exposes the executor's Prometheus collectors on a private
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/golemcloud/golem-sub031/internal/recovery"
	"github.com/golemcloud/golem-sub031/internal/trap"
)

const namespace = "golem_executor"

// Metrics holds every collector of the executor.
type Metrics struct {
	registry *prometheus.Registry

	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	durableCalls       *prometheus.CounterVec
	traps              *prometheus.CounterVec
	requests           *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	activeWorkers      prometheus.Gauge
	ownedShards        prometheus.Gauge
	evictions          prometheus.Counter
	archivedEntries    prometheus.Counter

	storageWrites   *prometheus.HistogramVec
	storageBytes    *prometheus.CounterVec
	storageBatchOps prometheus.Histogram
}

// New registers all collectors, including the Go and process collectors,
// on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Exported function invocations by outcome.",
		}, []string{"function", "outcome"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Duration of exported function invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"function"}),
		durableCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "durable_calls_total",
			Help:      "Durable host operations by mode.",
		}, []string{"function", "mode"}),
		traps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traps_total",
			Help:      "Worker traps by kind and recovery decision.",
		}, []string{"trap", "decision"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Executor API requests by method and result.",
		}, []string{"method", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Executor API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently loaded in memory.",
		}),
		ownedShards: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "owned_shards",
			Help:      "Shards assigned to this executor.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_evictions_total",
			Help:      "Workers evicted from memory.",
		}),
		archivedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oplog_archived_entries_total",
			Help:      "Oplog entries moved to blob storage.",
		}),
		storageWrites: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "op_duration_seconds",
			Help:      "Pebble operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		storageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bytes_total",
			Help:      "Bytes read from and written to Pebble.",
		}, []string{"op"}),
		storageBatchOps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "batch_ops",
			Help:      "Operations per committed Pebble batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.invocations,
		m.invocationDuration,
		m.durableCalls,
		m.traps,
		m.requests,
		m.requestDuration,
		m.activeWorkers,
		m.ownedShards,
		m.evictions,
		m.archivedEntries,
		m.storageWrites,
		m.storageBytes,
		m.storageBatchOps,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) ObserveDurableCall(function string, live bool) {
	if m == nil {
		return
	}
	mode := "replay"
	if live {
		mode = "live"
	}
	m.durableCalls.WithLabelValues(function, mode).Inc()
}

func (m *Metrics) ObserveInvocation(function string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.invocations.WithLabelValues(function, outcome).Inc()
	m.invocationDuration.WithLabelValues(function).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTrap(t trap.TrapType, d recovery.Decision) {
	if m == nil {
		return
	}
	m.traps.WithLabelValues(trapLabel(t), d.Kind.String()).Inc()
}

func trapLabel(t trap.TrapType) string {
	switch t.Tag {
	case trap.TagInterrupt:
		return "interrupt_" + t.Interrupt.Name()
	case trap.TagExit:
		return "exit"
	default:
		return t.Error.Kind.String()
	}
}

// ObserveRequest records one API call.
func (m *Metrics) ObserveRequest(method string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.requests.WithLabelValues(method, result).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) SetActiveWorkers(n int) {
	if m != nil {
		m.activeWorkers.Set(float64(n))
	}
}

func (m *Metrics) SetOwnedShards(n int) {
	if m != nil {
		m.ownedShards.Set(float64(n))
	}
}

func (m *Metrics) IncEvictions() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) AddArchived(n int) {
	if m != nil {
		m.archivedEntries.Add(float64(n))
	}
}

// Storage returns the Pebble metrics hook backed by these collectors.
func (m *Metrics) Storage() StorageHook { return StorageHook{m: m} }

// StorageHook implements the Pebble wrapper's metrics hook.
type StorageHook struct{ m *Metrics }

func (h StorageHook) ObserveWrite(elapsed time.Duration, bytes int) {
	h.observe("write", elapsed, bytes)
}
func (h StorageHook) ObserveRead(elapsed time.Duration, bytes int) { h.observe("read", elapsed, bytes) }

func (h StorageHook) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	if h.m == nil {
		return
	}
	h.observe("batch", elapsed, bytes)
	h.m.storageBatchOps.Observe(float64(numOps))
}

func (h StorageHook) observe(op string, elapsed time.Duration, bytes int) {
	if h.m == nil {
		return
	}
	h.m.storageWrites.WithLabelValues(op).Observe(elapsed.Seconds())
	h.m.storageBytes.WithLabelValues(op).Add(float64(bytes))
}
