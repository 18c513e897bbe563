// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/atelierhq/atelier/internal/auth"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/events"
	"github.com/atelierhq/atelier/internal/logging"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/quota"
	"github.com/atelierhq/atelier/internal/storage"
	"github.com/atelierhq/atelier/internal/store/postgres"
	"github.com/atelierhq/atelier/internal/tabs"
	"github.com/atelierhq/atelier/internal/tree"
)

// Server is the HTTP server.
type Server struct {
	store         *postgres.Store
	tree          *tree.Service
	auth          *auth.Auth
	blobs         storage.Backend
	broadcaster   *events.Broadcaster
	sessions      *tabs.Registry
	rateLimiter   *quota.RateLimiter
	maxUploadSize int64
	config        *config.Config
}

// NewServer creates a new server.
func NewServer(
	store *postgres.Store,
	treeService *tree.Service,
	authHandler *auth.Auth,
	blobs storage.Backend,
	broadcaster *events.Broadcaster,
	sessions *tabs.Registry,
	rateLimiter *quota.RateLimiter,
	cfg *config.Config,
) *Server {
	return &Server{
		store:         store,
		tree:          treeService,
		auth:          authHandler,
		blobs:         blobs,
		broadcaster:   broadcaster,
		sessions:      sessions,
		rateLimiter:   rateLimiter,
		maxUploadSize: cfg.MaxUploadSize,
		config:        cfg,
	}
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)

	// Protected endpoints
	protected := http.NewServeMux()

	protected.HandleFunc("POST /api/v1/auth/refresh", s.auth.HandleRefresh)

	// Project endpoints
	protected.HandleFunc("GET /api/v1/projects", s.handleListProjects)
	protected.HandleFunc("POST /api/v1/projects", s.handleCreateProject)
	protected.HandleFunc("GET /api/v1/projects/{projectID}", s.handleGetProject)
	protected.HandleFunc("PUT /api/v1/projects/{projectID}", s.handleRenameProject)
	protected.HandleFunc("PUT /api/v1/projects/{projectID}/import-status", s.handleSetImportStatus)
	protected.HandleFunc("DELETE /api/v1/projects/{projectID}", s.handleDeleteProject)

	// Tree endpoints
	protected.HandleFunc("GET /api/v1/projects/{projectID}/children", s.handleListChildren)
	protected.HandleFunc("GET /api/v1/projects/{projectID}/nodes", s.handleListNodes)
	protected.HandleFunc("POST /api/v1/projects/{projectID}/files", s.handleCreateFile)
	protected.HandleFunc("POST /api/v1/projects/{projectID}/folders", s.handleCreateFolder)
	protected.HandleFunc("GET /api/v1/nodes/{nodeID}", s.handleGetNode)
	protected.HandleFunc("PUT /api/v1/nodes/{nodeID}/name", s.handleRenameNode)
	protected.HandleFunc("PUT /api/v1/nodes/{nodeID}/content", s.handleUpdateContent)
	protected.HandleFunc("DELETE /api/v1/nodes/{nodeID}", s.handleDeleteNode)

	// Blob endpoints
	protected.HandleFunc("POST /api/v1/nodes/{nodeID}/blob", s.handleBlobUpload)
	protected.HandleFunc("GET /api/v1/nodes/{nodeID}/blob", s.handleBlobDownload)

	// Editor tab session endpoints
	protected.HandleFunc("GET /api/v1/projects/{projectID}/session/tabs", s.handleSessionTabs)
	protected.HandleFunc("POST /api/v1/projects/{projectID}/session/tabs/open", s.handleOpenTab)
	protected.HandleFunc("POST /api/v1/projects/{projectID}/session/tabs/close", s.handleCloseTab)
	protected.HandleFunc("POST /api/v1/projects/{projectID}/session/tabs/close-all", s.handleCloseAllTabs)
	protected.HandleFunc("POST /api/v1/projects/{projectID}/session/tabs/active", s.handleSetActiveTab)

	// SSE endpoint
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Rate limiting runs inside auth so limits are keyed by subject
	authed := s.auth.Middleware(s.rateLimitMiddleware(protected))
	mux.Handle("/api/v1/", authed)

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// rateLimitMiddleware rejects requests over the per-subject limit with 429.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.GetClaims(r.Context())
		if claims != nil && s.rateLimiter != nil && !s.rateLimiter.Allow(claims.Subject) {
			w.Header().Set("Retry-After", strconv.Itoa(s.rateLimiter.RetryAfter(claims.Subject)))
			s.sendError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// publishEvent publishes an event to the broadcaster if available.
func (s *Server) publishEvent(eventType, projectID, nodeID, name string) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.Event{
		Type:      eventType,
		ProjectID: projectID,
		NodeID:    nodeID,
		Name:      name,
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendTreeError maps tree store sentinels to their HTTP status.
func (s *Server) sendTreeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tree.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "not found")
	case errors.Is(err, tree.ErrUnauthorized):
		s.sendError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, tree.ErrConflict):
		s.sendError(w, http.StatusConflict, "name already exists")
	default:
		s.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// identity returns the caller identity, or writes a 401 and reports false.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (tree.Identity, bool) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "not authenticated")
		return tree.Identity{}, false
	}
	return claims.Identity(), true
}
