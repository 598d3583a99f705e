package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/quickdrop-slots/internal/application/usecases"
	"github.com/example/quickdrop-slots/internal/auth"
	"github.com/example/quickdrop-slots/internal/domain/availability"
	"github.com/example/quickdrop-slots/internal/handoff"
	"github.com/example/quickdrop-slots/internal/internaltypes"
	"github.com/example/quickdrop-slots/internal/logger"
	"github.com/example/quickdrop-slots/internal/metrics"
)

type SlotLister interface {
	Execute(ctx context.Context, slug string, date, now time.Time) (usecases.Grid, error)
}

type HandoffEnqueuer interface {
	Execute(ctx context.Context, slug string, req usecases.HandoffRequest) (handoff.Handoff, error)
}

type HandoffLister interface {
	List(ctx context.Context, status handoff.Status, limit int) ([]handoff.Handoff, error)
}

type Server struct {
	Auth     *auth.Store
	Slots    SlotLister
	Enqueue  HandoffEnqueuer
	Handoffs HandoffLister
	Metrics  *metrics.Recorder // optional
	Log      *zap.Logger

	Location       *time.Location
	AllowedOrigins []string
	RatePerMinute  int

	now func() time.Time
}

func (s *Server) Routes() http.Handler {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	if s.Location == nil {
		s.Location = time.Local
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(s.Log))
	r.Use(middleware.Recoverer)
	if s.Metrics != nil {
		r.Use(s.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.RatePerMinute > 0 {
				r.Use(httprate.LimitByIP(s.RatePerMinute, time.Minute))
			}
			r.Get("/businesses/{slug}/slots", s.handleSlots)
			r.Post("/businesses/{slug}/handoffs", s.handleCreateHandoff)
		})
		r.With(s.Auth.RequireAuth).Get("/handoffs", s.handleListHandoffs)
	})

	return r
}

func (s *Server) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		s.writeError(w, r, internaltypes.ErrNoDateSelected)
		return
	}
	date, err := availability.ParseDate(raw, s.Location)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", internaltypes.ErrInvalidInput, err))
		return
	}

	grid, err := s.Slots.Execute(r.Context(), chi.URLParam(r, "slug"), date, s.clock())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

func (s *Server) handleCreateHandoff(w http.ResponseWriter, r *http.Request) {
	var req usecases.HandoffRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", internaltypes.ErrInvalidInput, err))
		return
	}

	h, err := s.Enqueue.Execute(r.Context(), chi.URLParam(r, "slug"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          h.ID,
		"status":      h.Status,
		"appointment": h.Appointment,
	})
}

type handoffView struct {
	ID           uuid.UUID      `json:"id"`
	Business     string         `json:"business"`
	TenantID     string         `json:"tenant_id"`
	CustomerName string         `json:"customer_name"`
	Appointment  string         `json:"appointment"`
	Status       handoff.Status `json:"status"`
	Attempts     int            `json:"attempts"`
	LastError    *string        `json:"last_error,omitempty"`
	OrderID      *string        `json:"order_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (s *Server) handleListHandoffs(w http.ResponseWriter, r *http.Request) {
	status, err := handoff.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, r, internaltypes.ErrInvalidInput)
			return
		}
		limit = n
	}

	hs, err := s.Handoffs.List(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]handoffView, 0, len(hs))
	for _, h := range hs {
		out = append(out, handoffView{
			ID:           h.ID,
			Business:     h.BusinessSlug,
			TenantID:     h.TenantID,
			CustomerName: h.CustomerName,
			Appointment:  h.Appointment,
			Status:       h.Status,
			Attempts:     h.Attempts,
			LastError:    h.LastError,
			OrderID:      h.OrderID,
			CreatedAt:    h.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"handoffs": out})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&c); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", internaltypes.ErrInvalidInput, err))
		return
	}
	username := strings.TrimSpace(c.Username)
	id, err := s.Auth.Authenticate(r.Context(), username, c.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Auth.SetSession(w, r, auth.Session{UserID: id, Username: username}); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := internaltypes.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves h until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
