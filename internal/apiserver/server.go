// Package apiserver is the minimal project submission/status HTTP surface: a
// stdlib net/http handler backed by an in-memory async-task map guarded by a
// mutex, with a running/completed/failed status vocabulary.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hspmesh/hsp/coordinator"
)

// ProjectHandler is the subset of *coordinator.Coordinator the server depends
// on, so tests can substitute a fake.
type ProjectHandler interface {
	HandleProject(ctx context.Context, query string) (*coordinator.ProjectOutcome, error)
}

type projectStatus string

const (
	statusRunning   projectStatus = "running"
	statusCompleted projectStatus = "completed"
	statusFailed    projectStatus = "failed"
)

type projectRecord struct {
	ID        string        `json:"id"`
	Query     string        `json:"query"`
	Status    projectStatus `json:"status"`
	Response  string        `json:"response,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Server serves POST /projects (submit a query for decomposition and
// execution) and GET /projects/{id} (poll the outcome), handing work off to a
// ProjectHandler and tracking in-flight/completed projects in memory.
type Server struct {
	handler ProjectHandler
	logger  *zap.Logger

	mu       sync.RWMutex
	projects map[string]*projectRecord

	httpServer *http.Server
}

// New builds a Server bound to addr, not yet listening.
func New(addr string, handler ProjectHandler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		handler:  handler,
		logger:   logger.With(zap.String("component", "apiserver")),
		projects: make(map[string]*projectRecord),
	}
	s.httpServer = &http.Server{Addr: addr, Handler: s}
	return s
}

// ListenAndServe starts the HTTP listener; it blocks until the server stops.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	method := r.Method

	switch {
	case path == "/projects" && method == http.MethodPost:
		s.handleSubmit(w, r)
	case strings.HasPrefix(path, "/projects/") && method == http.MethodGet:
		s.handleStatus(w, r)
	case path == "/healthz" && method == http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		s.writeError(w, http.StatusNotFound, fmt.Errorf("endpoint not found: %s %s", method, path))
	}
}

type submitRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("query must not be empty"))
		return
	}

	id := uuid.NewString()
	now := time.Now()
	rec := &projectRecord{ID: id, Query: req.Query, Status: statusRunning, CreatedAt: now, UpdatedAt: now}

	s.mu.Lock()
	s.projects[id] = rec
	s.mu.Unlock()

	go s.run(id, req.Query)

	s.writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) run(id, query string) {
	ctx := context.Background()
	outcome, err := s.handler.HandleProject(ctx, query)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projects[id]
	if !ok {
		return
	}
	rec.UpdatedAt = time.Now()
	if err != nil {
		rec.Status = statusFailed
		rec.Error = err.Error()
		s.logger.Warn("project execution failed", zap.String("project_id", id), zap.Error(err))
		return
	}
	rec.Status = statusCompleted
	rec.Response = outcome.Response
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/projects/")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing project id"))
		return
	}

	s.mu.RLock()
	rec, ok := s.projects[id]
	s.mu.RUnlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown project id: %s", id))
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("request error", zap.Int("status", status), zap.Error(err))
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
