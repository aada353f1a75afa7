// Package metrics exposes ingestion counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/digestship/internal/app"
	"github.com/bft-labs/digestship/internal/domain"
)

const namespace = "digestship"

// Metrics owns a registry and the collectors of every feed.
type Metrics struct {
	registry *prometheus.Registry

	enqueued      *prometheus.CounterVec
	inserted      *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	flushDuration *prometheus.HistogramVec
	reconnects    *prometheus.CounterVec
	connState     *prometheus.GaugeVec
	discarded     *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Digests accepted into the pending set",
		}, []string{"feed"}),

		inserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inserted_rows_total",
			Help:      "Rows actually inserted by the store",
		}, []string{"feed"}),

		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_total",
			Help:      "Flush attempts by result",
		}, []string{"feed", "result"}),

		flushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of successful store writes",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"feed"}),

		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnects scheduled after a lost or failed connection",
		}, []string{"feed"}),

		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Feed connection state (0=disconnected, 1=connecting, 2=connected)",
		}, []string{"feed"}),

		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_discarded_total",
			Help:      "Feed messages that could not be decoded",
		}, []string{"feed"}),
	}

	m.registry.MustRegister(
		m.enqueued,
		m.inserted,
		m.flushes,
		m.flushDuration,
		m.reconnects,
		m.connState,
		m.discarded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackPending exports fn as the pending digest gauge of feed.
func (m *Metrics) TrackPending(feed string, fn func() int) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "pending_digests",
		Help:        "Digests waiting for the next flush",
		ConstLabels: prometheus.Labels{"feed": feed},
	}, func() float64 { return float64(fn()) }))
}

// Feed returns the event sink of one feed.
func (m *Metrics) Feed(name string) *FeedMetrics {
	return &FeedMetrics{m: m, feed: name}
}

// FeedMetrics records writer and connection events of one feed.
type FeedMetrics struct {
	m    *Metrics
	feed string
}

// OnEnqueue implements app.WriterEventEmitter.
func (f *FeedMetrics) OnEnqueue() {
	f.m.enqueued.WithLabelValues(f.feed).Inc()
}

// OnFlushSuccess implements app.WriterEventEmitter.
func (f *FeedMetrics) OnFlushSuccess(batchSize int, inserted int64, duration time.Duration) {
	f.m.flushes.WithLabelValues(f.feed, "success").Inc()
	f.m.inserted.WithLabelValues(f.feed).Add(float64(inserted))
	f.m.flushDuration.WithLabelValues(f.feed).Observe(duration.Seconds())
}

// OnFlushError implements app.WriterEventEmitter.
func (f *FeedMetrics) OnFlushError(err error, batchSize int) {
	f.m.flushes.WithLabelValues(f.feed, "error").Inc()
}

// OnConnState implements app.ConnEventEmitter.
func (f *FeedMetrics) OnConnState(state domain.ConnState) {
	f.m.connState.WithLabelValues(f.feed).Set(float64(state))
}

// OnReconnectScheduled implements app.ConnEventEmitter.
func (f *FeedMetrics) OnReconnectScheduled(attempt int, delay time.Duration) {
	f.m.reconnects.WithLabelValues(f.feed).Inc()
}

// OnMessageDiscarded implements app.ConnEventEmitter.
func (f *FeedMetrics) OnMessageDiscarded() {
	f.m.discarded.WithLabelValues(f.feed).Inc()
}

var (
	_ app.WriterEventEmitter = (*FeedMetrics)(nil)
	_ app.ConnEventEmitter   = (*FeedMetrics)(nil)
)
