package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the API process.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	promotionRuns     *prometheus.CounterVec
	promotionDuration prometheus.Histogram
	duesActions       *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and promotion metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campus_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_promotion_runs_total",
		Help: "Bulk promotion executions by outcome.",
	}, []string{"outcome"})
	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "campus_promotion_duration_seconds",
		Help:    "Duration of bulk promotion executions.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_dues_actions_total",
		Help: "Dues actions processed during promotion by kind and outcome.",
	}, []string{"kind", "outcome"})
	registry.MustRegister(requests, duration, runs, runDuration, actions)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		promotionRuns:     runs,
		promotionDuration: runDuration,
		duesActions:       actions,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObservePromotion records one promotion run.
func (m *Metrics) ObservePromotion(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.promotionRuns.WithLabelValues(outcome).Inc()
	m.promotionDuration.Observe(elapsed.Seconds())
}

// ObserveDuesAction records one processed dues action.
func (m *Metrics) ObserveDuesAction(kind, outcome string) {
	if m == nil {
		return
	}
	m.duesActions.WithLabelValues(kind, outcome).Inc()
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
