package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	optionsPlaced   prometheus.Counter
	optionsExpired  prometheus.Counter
	placeConflicts  prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terralot_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terralot_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	placed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terralot_options_placed_total",
		Help: "Options successfully placed.",
	})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terralot_options_expired_total",
		Help: "Options expired by the sweeper.",
	})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terralot_option_place_conflicts_total",
		Help: "Placements rejected because the lot was already held.",
	})
	registry.MustRegister(requests, duration, placed, expired, conflicts)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		optionsPlaced:   placed,
		optionsExpired:  expired,
		placeConflicts:  conflicts,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
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

// OptionPlaced increments the successful-placement counter.
func (m *Metrics) OptionPlaced() {
	if m != nil {
		m.optionsPlaced.Inc()
	}
}

// OptionsExpired adds n to the expired-option counter.
func (m *Metrics) OptionsExpired(n int) {
	if m != nil && n > 0 {
		m.optionsExpired.Add(float64(n))
	}
}

// PlaceConflict increments the lost-race counter.
func (m *Metrics) PlaceConflict() {
	if m != nil {
		m.placeConflicts.Inc()
	}
}

// Registerer exposes the registry for registering custom metrics.
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

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func routePattern(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
