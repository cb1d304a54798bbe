// Package metrics exposes crawl activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Fetch outcomes used as the "outcome" label.
const (
	OutcomeOK            = "ok"
	OutcomeFetchError    = "fetch_error"
	OutcomeParseError    = "parse_error"
	OutcomeRobotsSkipped = "robots_skipped"
)

// Enqueue results used as the "result" label.
const (
	EnqueueQueued  = "queued"
	EnqueueDropped = "dropped"
	EnqueueClosed  = "closed"
)

// Metrics holds the crawl collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	enqueues      *prometheus.CounterVec
	claims        prometheus.Counter
	fetchDuration prometheus.Histogram
	frontierSize  prometheus.Gauge
	visited       prometheus.Gauge
	activeWorkers prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depthcrawl_fetches_total",
			Help: "Pages processed by workers, by outcome",
		},
		[]string{"outcome"},
	)
	m.enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depthcrawl_enqueues_total",
			Help: "Frontier push attempts for newly claimed URLs, by result",
		},
		[]string{"result"},
	)
	m.claims = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "depthcrawl_claims_total",
		Help: "URLs claimed in the visited set",
	})
	m.fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "depthcrawl_fetch_duration_seconds",
		Help:    "Fetch latency in seconds",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	})
	m.frontierSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "depthcrawl_frontier_size",
		Help: "Items currently queued in the frontier",
	})
	m.visited = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "depthcrawl_visited_urls",
		Help: "Size of the visited set",
	})
	m.activeWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "depthcrawl_active_workers",
		Help: "Workers currently running",
	})

	m.registry.MustRegister(
		m.fetches,
		m.enqueues,
		m.claims,
		m.fetchDuration,
		m.frontierSize,
		m.visited,
		m.activeWorkers,
	)
	return m
}

// Registry returns the registry holding the crawl collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFetch records the outcome of one page and, for network fetches, its latency.
func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.fetchDuration.Observe(d.Seconds())
	}
}

// ObserveClaim records a successful visited-set claim.
func (m *Metrics) ObserveClaim() {
	if m == nil {
		return
	}
	m.claims.Inc()
}

// ObserveEnqueue records the result of a frontier push.
func (m *Metrics) ObserveEnqueue(result string) {
	if m == nil {
		return
	}
	m.enqueues.WithLabelValues(result).Inc()
}

// SetFrontier records the current frontier and visited-set sizes.
func (m *Metrics) SetFrontier(queued, visited int) {
	if m == nil {
		return
	}
	m.frontierSize.Set(float64(queued))
	m.visited.Set(float64(visited))
}

// WorkerStarted and WorkerStopped track the running worker count.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

func (m *Metrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes the metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr, path string, logger zerolog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown")
		}
	}()

	logger.Info().Str("addr", addr).Str("path", path).Msg("metrics listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
