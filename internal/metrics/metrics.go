package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskos_task_transitions_total",
		Help: "Task state transitions that were published, labeled by event type",
	}, []string{"type"})

	TaskPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskos_task_persist_failures_total",
		Help: "Task writes that failed after the transition event was published",
	})

	LedgerPostings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskos_ledger_postings_total",
		Help: "Movement entries posted to the ledger, labeled by kind",
	}, []string{"kind"})

	LedgerPostedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskos_ledger_posted_amount_total",
		Help: "Sum of posted amounts, labeled by kind",
	}, []string{"kind"})

	EventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskos_events_handled_total",
		Help: "Consumed events, labeled by consumer and outcome",
	}, []string{"consumer", "outcome"})

	ReassignDraws = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskos_reassign_draws_total",
		Help: "Reassignment draws, labeled by whether they were committed",
	}, []string{"outcome"})

	PayoutRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskos_payout_runs_total",
		Help: "Payout runs, labeled by outcome",
	}, []string{"outcome"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskos_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskos_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})
)

// Handled records the outcome of one consumed event.
func Handled(consumer string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	EventsHandled.WithLabelValues(consumer, outcome).Inc()
}

// NewServer exposes /metrics and /healthz for processes without an API.
func NewServer(addr string) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	r.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
