// Package api serves the human review surface over HTTP: session audit,
// diff, approve/rollback, maintenance, and node browsing.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mnemohq/engram/internal/memory"
)

// Server hosts the review API around an open store.
type Server struct {
	store  *memory.Store
	addr   string
	logger *log.Logger
}

// NewServer creates a review API server listening on addr.
func NewServer(store *memory.Store, addr string) *Server {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "engram-api",
		ReportTimestamp: true,
	})
	return &Server{store: store, addr: addr, logger: logger}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)

	r.Route("/api/review", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionID}/snapshots", s.handleListSessionSnapshots)
		r.Get("/sessions/{sessionID}/diff", s.handleDiffResource)
		r.Post("/sessions/{sessionID}/approve", s.handleApproveSession)
		r.Get("/snapshots/{snapshotID}", s.handleGetSnapshot)
		r.Get("/snapshots/{snapshotID}/diff", s.handleDiffSnapshot)
		r.Post("/snapshots/{snapshotID}/approve", s.handleApprove)
		r.Post("/snapshots/{snapshotID}/rollback", s.handleRollback)
	})

	r.Route("/api/maintenance", func(r chi.Router) {
		r.Get("/unreachable", s.handleListUnreachable)
		r.Get("/unreachable/{contentID}", s.handleUnreachableDetail)
		r.Post("/purge", s.handlePurge)
	})

	r.Route("/api/browse", func(r chi.Router) {
		r.Get("/node", s.handleBrowseNode)
		r.Get("/search", s.handleSearch)
	})

	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("review API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleListSessionSnapshots(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	snapshots, err := s.store.ListSessionSnapshots(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"snapshots":  snapshots,
	})
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.GetSnapshot(r.Context(), chi.URLParam(r, "snapshotID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDiffResource(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		http.Error(w, "resource query parameter is required", http.StatusBadRequest)
		return
	}
	diff, err := s.store.DiffResource(r.Context(), sessionID, resource)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, diff)
}

func (s *Server) handleDiffSnapshot(w http.ResponseWriter, r *http.Request) {
	diff, err := s.store.DiffSnapshot(r.Context(), chi.URLParam(r, "snapshotID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, diff)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "snapshotID")
	if err := s.store.Approve(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("snapshot approved", "snapshot", id)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"approved": id})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "snapshotID")
	if err := s.store.Rollback(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("snapshot rolled back", "snapshot", id)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"rolled_back": id})
}

func (s *Server) handleApproveSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	n, err := s.store.ApproveSession(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("session approved", "session", sessionID, "snapshots", n)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"approved":   n,
	})
}

func (s *Server) handleListUnreachable(w http.ResponseWriter, r *http.Request) {
	unreachable, err := s.store.ClassifyUnreachable(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"unreachable": unreachable,
		"count":       len(unreachable),
	})
}

func (s *Server) handleUnreachableDetail(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.ClassifyContent(r.Context(), chi.URLParam(r, "contentID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"content":   u,
		"migration": u.FormatMigration(),
	})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs     []string `json:"ids"`
		Confirm bool     `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.store.Purge(r.Context(), req.IDs, req.Confirm); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Warn("content purged", "count", len(req.IDs))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"purged": req.IDs})
}

func (s *Server) handleBrowseNode(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		http.Error(w, "uri query parameter is required", http.StatusBadRequest)
		return
	}
	node, err := s.store.Resolve(r.Context(), uri)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"node":        node,
		"breadcrumbs": breadcrumbs(node.URI),
	})
}

// breadcrumbs lists the ancestor URIs of a node, outermost first, ending with
// the node itself.
func breadcrumbs(uri string) []string {
	parsed, err := memory.ParseURI(uri)
	if err != nil {
		return []string{uri}
	}
	crumbs := []string{parsed.Domain + "://"}
	prefix := ""
	for _, seg := range parsed.Segments() {
		if prefix != "" {
			prefix += "/"
		}
		prefix += seg
		crumbs = append(crumbs, parsed.Domain+"://"+prefix)
	}
	return crumbs
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	results, err := s.store.Search(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "err", err)
	}
}

// writeError maps the store's error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, memory.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, memory.ErrConflict), errors.Is(err, memory.ErrAmbiguousMatch):
		status = http.StatusConflict
	case errors.Is(err, memory.ErrUnknownDomain), errors.Is(err, memory.ErrInvalidOperation):
		status = http.StatusBadRequest
	case errors.Is(err, memory.ErrPatchNotFound):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, memory.ErrConfirmationRequired):
		status = http.StatusPreconditionRequired
	case errors.Is(err, memory.ErrServiceUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
