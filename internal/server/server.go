// Package server exposes run status and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"forumscout/internal/domain"
	"forumscout/internal/metrics"
	"forumscout/internal/scan"
	"forumscout/internal/storage/sqlite"
)

// RunSource is the read side of the store.
type RunSource interface {
	LatestRun(ctx context.Context) (sqlite.RunRecord, error)
	QuestionsByRun(ctx context.Context, runID string) ([]domain.CategorizedQuestion, error)
}

type Server struct {
	router chi.Router
	runs   RunSource
	logger *zap.Logger
}

// New builds the router. runs and m may be nil.
func New(runs RunSource, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{runs: runs, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}
	r.Route("/runs", func(r chi.Router) {
		r.Get("/latest", s.latestRun)
		r.Get("/{run_id}/questions", s.runQuestions)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "no store configured", s.logger)
		return
	}
	run, err := s.runs.LatestRun(r.Context())
	if errors.Is(err, sqlite.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no runs recorded", s.logger)
		return
	}
	if err != nil {
		s.logger.Error("latest run lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, run, s.logger)
}

func (s *Server) runQuestions(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "no store configured", s.logger)
		return
	}
	runID := chi.URLParam(r, "run_id")
	qs, err := s.runs.QuestionsByRun(r.Context(), runID)
	if err != nil {
		s.logger.Error("questions lookup failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed", s.logger)
		return
	}
	if len(qs) == 0 {
		writeError(w, http.StatusNotFound, "unknown run", s.logger)
		return
	}
	entries := make([]scan.ReportEntry, 0, len(qs))
	for _, cq := range qs {
		entries = append(entries, scan.NewReportEntry(cq))
	}
	writeJSON(w, http.StatusOK, entries, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
