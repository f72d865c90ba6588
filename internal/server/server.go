// Package server exposes the obligation services as a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/events"
	"github.com/ArionMiles/obligations/pkg/ingest"
	"github.com/ArionMiles/obligations/pkg/registry"
	"github.com/ArionMiles/obligations/pkg/report"
)

// OwnerHeader carries the id of the user every request acts for.
const OwnerHeader = "X-User-ID"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Deps are the collaborators the HTTP layer dispatches to.
type Deps struct {
	Store    api.Store
	Events   *events.Service
	Ingest   *ingest.Service
	Previews *ingest.PreviewCache
	Registry *registry.Service
	Reports  *report.Service
}

// Options tune the HTTP layer.
type Options struct {
	// IngestLimiter throttles POST /ingestions. Nil disables throttling.
	IngestLimiter *rate.Limiter
	// Location decides what "today" is for commitments. Defaults to UTC.
	Location *time.Location
	// ExportLocalized selects Brazilian formatting for CSV exports.
	ExportLocalized bool
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Server routes requests to the services.
type Server struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	router *mux.Router
}

// New creates a server and registers its routes.
func New(deps Deps, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logger.With("component", "server"),
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

// NewLimiter converts a per-minute budget into a token bucket.
func NewLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.recoverer, s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	owned := r.NewRoute().Subrouter()
	owned.Use(requireOwner)

	owned.HandleFunc("/obligations", s.handleListObligations).Methods(http.MethodGet)
	owned.HandleFunc("/obligations", s.handleCreateObligation).Methods(http.MethodPost)
	owned.HandleFunc("/obligations/{id}", s.handleGetObligation).Methods(http.MethodGet)
	owned.HandleFunc("/obligations/{id}", s.handleUpdateObligation).Methods(http.MethodPatch)
	owned.HandleFunc("/obligations/{id}", s.handleDeleteObligation).Methods(http.MethodDelete)
	owned.HandleFunc("/obligations/{id}/items", s.handleListItems).Methods(http.MethodGet)

	owned.Handle("/ingestions", s.rateLimit(http.HandlerFunc(s.handlePreview))).Methods(http.MethodPost)
	owned.HandleFunc("/ingestions/{previewId}/confirm", s.handleConfirm).Methods(http.MethodPost)

	owned.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	owned.HandleFunc("/commitments", s.handleCommitments).Methods(http.MethodGet)
	owned.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)

	owned.HandleFunc("/categories", s.handleListCategories).Methods(http.MethodGet)
	owned.HandleFunc("/categories", s.handleCreateCategory).Methods(http.MethodPost)
	owned.HandleFunc("/categories/{id}", s.handleDeleteCategory).Methods(http.MethodDelete)
	owned.HandleFunc("/entities", s.handleListEntities).Methods(http.MethodGet)
	owned.HandleFunc("/entities", s.handleCreateEntity).Methods(http.MethodPost)
	owned.HandleFunc("/entities/{id}", s.handleDeleteEntity).Methods(http.MethodDelete)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down within grace.
func (s *Server) Run(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		// Ingestion waits on an upstream fetch.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server", "grace", grace)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if p, ok := s.deps.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
