// Package metrics exposes cache queue activity to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cesargomez89/navicache/internal/events"
	"github.com/cesargomez89/navicache/internal/logger"
)

const namespace = "navicache"

// Source reports the current size of the queue and the cache.
type Source interface {
	QueueCount(ctx context.Context) (int, error)
	CachedFilesCount(ctx context.Context) (int, error)
	CachedBytes(ctx context.Context) (int64, error)
}

type Metrics struct {
	registry     *prometheus.Registry
	queueEvents  *prometheus.CounterVec
	freeBytes    prometheus.Gauge
	evictedSongs prometheus.Counter
	evictedBytes prometheus.Counter
	reqCount     *prometheus.CounterVec
	reqDur       *prometheus.HistogramVec
	log          *logger.Logger
}

// New registers every collector on a fresh registry. The size gauges query
// src on each scrape.
func New(src Source, log *logger.Logger) *Metrics {
	if log == nil {
		log = logger.Default()
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queueEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_events_total",
			Help:      "Cache queue events, partitioned by kind",
		}, []string{"kind"}),
		freeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_capacity_warning_free_bytes",
			Help:      "Free bytes reported by the most recent capacity warning",
		}),
		evictedSongs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_songs_total",
			Help:      "Songs deleted to reclaim space",
		}),
		evictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_bytes_total",
			Help:      "Bytes reclaimed by eviction",
		}),
		reqCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "How many HTTP requests processed, partitioned by status code, method and route",
		}, []string{"code", "method", "route"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "The HTTP request latencies in seconds",
		}, []string{"code", "method", "route"}),
		log: log.WithComponent("metrics"),
	}

	m.registry.MustRegister(
		m.queueEvents,
		m.freeBytes,
		m.evictedSongs,
		m.evictedBytes,
		m.reqCount,
		m.reqDur,
		m.gauge("queue_length", "Songs waiting in the download queue", func(ctx context.Context) (float64, error) {
			n, err := src.QueueCount(ctx)
			return float64(n), err
		}),
		m.gauge("cached_songs", "Fully cached songs", func(ctx context.Context) (float64, error) {
			n, err := src.CachedFilesCount(ctx)
			return float64(n), err
		}),
		m.gauge("cached_bytes", "Bytes used by fully cached songs", func(ctx context.Context) (float64, error) {
			n, err := src.CachedBytes(ctx)
			return float64(n), err
		}),
	)
	return m
}

func (m *Metrics) gauge(name, help string, read func(ctx context.Context) (float64, error)) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		v, err := read(ctx)
		if err != nil {
			m.log.Warn("Failed to read gauge", "gauge", name, "error", err)
			return 0
		}
		return v
	})
}

// Observe counts one queue event. Subscribe it to the event bus.
func (m *Metrics) Observe(e events.Event) {
	m.queueEvents.WithLabelValues(string(e.Kind)).Inc()
	if e.Kind == events.CapacityWarning {
		m.freeBytes.Set(float64(e.FreeBytes))
	}
}

// ObserveEviction records a reclaim pass.
func (m *Metrics) ObserveEviction(songs int, bytes int64) {
	m.evictedSongs.Add(float64(songs))
	m.evictedBytes.Add(float64(bytes))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latencies by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		m.reqCount.WithLabelValues(code, r.Method, route).Inc()
		m.reqDur.WithLabelValues(code, r.Method, route).Observe(time.Since(start).Seconds())
	})
}
