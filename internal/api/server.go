package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskos/internal/analytics"
	"taskos/internal/app"
	"taskos/internal/ledger"
	"taskos/internal/metrics"
	"taskos/internal/reassign"
	"taskos/internal/task"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ActorHeader carries the id of the user performing the request.
const ActorHeader = "X-User-ID"

const dateLayout = "2006-01-02"

var validate = validator.New()

type Server struct {
	app *app.App
	log *slog.Logger
	mux *chi.Mux
}

func New(a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		app: a,
		log: logger,
		mux: chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks/assigned", s.handleAssignedTasks)
		r.Post("/tasks/reassign", s.handleReassignAll)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/tasks/{id}/assign", s.handleAssignTask)
		r.Post("/tasks/{id}/reassign", s.handleReassignTask)
		r.With(requireActor).Post("/tasks/{id}/complete", s.handleCompleteTask)

		r.Get("/ledger/stonks", s.handleStonks)
		r.Get("/ledger/outstanding", s.handleOutstandingAll)
		r.Post("/ledger/payouts", s.handlePayoutRun)
		r.Get("/ledger/users/{userID}/books", s.handleBooks)
		r.Get("/ledger/users/{userID}/entries", s.handleEntries)
		r.Get("/ledger/users/{userID}/outstanding", s.handleOutstanding)

		r.Get("/analytics/today", s.handleAnalyticsToday)
		r.Get("/analytics/max-price/{from}/{to}", s.handleMaxPrice)
		r.Get("/analytics/top-revenue", s.handleTopRevenue)
		r.Get("/analytics/losers", s.handleLoserCount)

		r.Get("/users", s.handleListUsers)
		r.Post("/users", s.handleUpsertUser)
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor(r) == "" {
			writeError(w, http.StatusUnauthorized, "missing "+ActorHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in task.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.app.Tasks.Create(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	t, err := s.app.Tasks.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAssignedTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.app.Tasks.ListAssigned(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var in struct {
		Assignee string `json:"assignee" validate:"required"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.Assignee = strings.TrimSpace(in.Assignee)
	if err := validate.Struct(in); err != nil {
		writeError(w, http.StatusBadRequest, "assignee is required")
		return
	}
	t, err := s.app.Tasks.Assign(r.Context(), id, in.Assignee)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	t, err := s.app.Tasks.Complete(r.Context(), actor(r), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleReassignTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	t, err := s.app.Reassign.Reassign(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleReassignAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.app.Reassign.ReassignAll(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"requested": n})
}

func (s *Server) handleStonks(w http.ResponseWriter, r *http.Request) {
	loc := s.app.Ledger.Location()
	date := time.Now().In(loc)
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		d, err := time.ParseInLocation(dateLayout, raw, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}
	total, err := s.app.Ledger.TotalStonksForDate(r.Context(), date)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":  date.Format(dateLayout),
		"total": total,
	})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	books, err := s.app.Ledger.Books(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"books":       books,
		"outstanding": books.Outstanding(),
	})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	entries, err := s.app.Ledger.Entries(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "entries": entries})
}

func (s *Server) handleOutstanding(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	amount, err := s.app.Ledger.OutstandingPayout(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "outstanding": amount})
}

func (s *Server) handleOutstandingAll(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Ledger.OutstandingPayouts(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outstanding": out})
}

func (s *Server) handlePayoutRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.app.Payouts.Run(r.Context())
	if err != nil {
		s.log.Error("payout run incomplete", "users", summary.Users, "total", summary.Total, "err", err)
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAnalyticsToday(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Analytics.Today(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMaxPrice(w http.ResponseWriter, r *http.Request) {
	loc := s.app.Ledger.Location()
	from, err := time.ParseInLocation(dateLayout, chi.URLParam(r, "from"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to, err := time.ParseInLocation(dateLayout, chi.URLParam(r, "to"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}
	price, err := s.app.Analytics.MaxPriceForInterval(r.Context(), from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":      from.Format(dateLayout),
		"to":        to.Format(dateLayout),
		"max_price": price,
	})
}

func (s *Server) handleTopRevenue(w http.ResponseWriter, r *http.Request) {
	v, err := s.app.Analytics.TopRevenueToday(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"top_revenue": v})
}

func (s *Server) handleLoserCount(w http.ResponseWriter, r *http.Request) {
	v, err := s.app.Analytics.LoserCountToday(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"losers": v})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.app.Directory.Users(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var u reassign.User
	if err := decodeJSON(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u.ID = strings.TrimSpace(u.ID)
	u.Role = reassign.Role(strings.ToLower(strings.TrimSpace(string(u.Role))))
	if err := u.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.app.Directory.Upsert(r.Context(), u); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return uuid.Nil, false
	}
	return id, true
}

// writeDomainError answers caller mistakes with their message. Anything else
// is logged and answered with the bare status text.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, task.ErrTaskCompletePermission):
		status = http.StatusForbidden
	case errors.Is(err, task.ErrTaskNotAssignable), errors.Is(err, task.ErrTaskNotCompletable),
		errors.Is(err, reassign.ErrNoWorkers), errors.Is(err, reassign.ErrStaleDraw):
		status = http.StatusConflict
	case task.IsValidation(err), errors.Is(err, analytics.ErrIntervalTooLong),
		errors.Is(err, ledger.ErrNegativeAmount), errors.Is(err, ledger.ErrInvalidEntry):
		status = http.StatusBadRequest
	case errors.Is(err, task.ErrPublish):
		s.log.Error("event publish failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
		return
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
