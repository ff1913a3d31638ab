package telemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	OutcomesRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flagguard_outcomes_recorded_total",
		Help: "Flagged request outcomes recorded, by flag and result",
	}, []string{"flag", "result"})

	Rollbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flagguard_rollbacks_total",
		Help: "Flag rollbacks executed, by trigger",
	}, []string{"trigger"})

	Restores = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flagguard_restores_total",
		Help: "Successful flag restores",
	})

	AlertsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flagguard_alerts_dispatched_total",
		Help: "Alerts delivered to at least one sink",
	})

	AlertsSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flagguard_alerts_suppressed_total",
		Help: "Alerts dropped by duplicate suppression",
	})

	ActiveCooldowns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagguard_active_cooldowns",
		Help: "Number of flags currently in a rollback cooldown",
	})

	FlushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flagguard_persistence_flush_duration_seconds",
		Help:    "Duration of persistence flushes in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

func Init() {
	prometheus.MustRegister(httpReqs, httpDur, OutcomesRecorded, Rollbacks,
		Restores, AlertsDispatched, AlertsSuppressed, ActiveCooldowns, FlushDuration)
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// get route pattern if available
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
