package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/aaravM123/goalkeeper/internal/config"
	"github.com/aaravM123/goalkeeper/internal/goal"
	"github.com/aaravM123/goalkeeper/internal/orchestrator"
	"github.com/aaravM123/goalkeeper/pkg/cerr"
	"github.com/aaravM123/goalkeeper/pkg/clog"
)

// Server exposes the probe/status contract the agent owes its collaborators:
// liveness, readiness, and the current progress snapshot. The core never
// depends on this package.
type Server struct {
	server *http.Server
	env    *config.Env
	orch   *orchestrator.Orchestrator
}

func New(env *config.Env, orch *orchestrator.Orchestrator) *Server {
	return &Server{env: env, orch: orch}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(clog.SlogChiMiddleware(clog.WithChiFilter(func(req *http.Request) bool {
		return req.URL.Path != "/health"
	})))
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/status", s.handleStatus)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(r)
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cerr.WriteJSON(r.Context(), w, map[string]string{"status": "alive"})
}

// handleReady reports whether the store is reachable and the record is in a
// recoverable condition. NotFound is ready: the agent simply has no goal yet.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.Status(r.Context())
	if err != nil {
		cerr.WriteError(r.Context(), w, err)
		return
	}
	cerr.WriteJSON(r.Context(), w, map[string]string{
		"status": "ready",
		"agent":  string(status),
	})
}

type statusResponse struct {
	Status        goal.Status `json:"status"`
	Goal          string      `json:"goal,omitempty"`
	CurrentDay    int         `json:"current_day"`
	EstimatedDays int         `json:"estimated_days"`
	SubtasksDone  int         `json:"subtasks_done"`
	SubtasksTotal int         `json:"subtasks_total"`
	LastSummary   string      `json:"last_summary,omitempty"`
	UpdatedAt     *time.Time  `json:"updated_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.orch.State(r.Context())
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			cerr.WriteJSON(r.Context(), w, statusResponse{Status: goal.StatusPlanning})
			return
		}
		cerr.WriteError(r.Context(), w, err)
		return
	}

	resp := statusResponse{
		Status:        state.Status,
		Goal:          state.Goal.Text,
		CurrentDay:    state.CurrentDay,
		EstimatedDays: state.Plan.EstimatedDays,
		SubtasksDone:  state.Plan.DoneCount(),
		SubtasksTotal: len(state.Plan.Subtasks),
		UpdatedAt:     &state.UpdatedAt,
	}
	if entry := state.LastEntry(); entry != nil {
		resp.LastSummary = entry.Summary
	}
	cerr.WriteJSON(r.Context(), w, resp)
}
