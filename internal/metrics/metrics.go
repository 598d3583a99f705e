// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so tests can build as many as they like.
type Recorder struct {
	registry        *prometheus.Registry
	handler         http.Handler
	busyFetch       *prometheus.CounterVec
	pushEvents      *prometheus.CounterVec
	handoffs        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Recorder {
	registry := prometheus.NewRegistry()

	busyFetch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qdslots_busy_fetch_total",
		Help: "Busy-time fetches by result (ok, error, stale).",
	}, []string{"result"})

	pushEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qdslots_push_events_total",
		Help: "Push events by outcome (applied, ignored, malformed, duplicate).",
	}, []string{"outcome"})

	handoffs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qdslots_handoffs_total",
		Help: "Appointment handoffs by result.",
	}, []string{"result"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qdslots_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	registry.MustRegister(
		busyFetch, pushEvents, handoffs, requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Recorder{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		busyFetch:       busyFetch,
		pushEvents:      pushEvents,
		handoffs:        handoffs,
		requestDuration: requestDuration,
	}
}

func (r *Recorder) Handler() http.Handler { return r.handler }

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) BusyFetch(result string) { r.busyFetch.WithLabelValues(result).Inc() }

func (r *Recorder) PushEvent(outcome string) { r.pushEvents.WithLabelValues(outcome).Inc() }

func (r *Recorder) Handoff(result string) { r.handoffs.WithLabelValues(result).Inc() }

// Middleware observes request duration labelled by the chi route pattern.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := req.URL.Path
		if rc := chi.RouteContext(req.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.requestDuration.WithLabelValues(req.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
