package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/auth"
	"github.com/atelierhq/atelier/internal/events"
	"github.com/atelierhq/atelier/internal/logging"
	"github.com/atelierhq/atelier/internal/models"
)

// ownProject loads the project from the path and enforces ownership.
// Writes the error response itself when it fails.
func (s *Server) ownProject(w http.ResponseWriter, r *http.Request) (*models.Project, bool) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}

	project, err := s.store.GetProject(r.Context(), r.PathValue("projectID"))
	if err != nil {
		s.sendTreeError(w, err)
		return nil, false
	}
	if project.OwnerID != claims.Subject {
		s.sendError(w, http.StatusForbidden, "access denied")
		return nil, false
	}
	return project, true
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	projects, err := s.store.ListProjectsByOwner(r.Context(), claims.Subject)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	sendJSON(w, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name required")
		return
	}

	project := &models.Project{
		ID:           uuid.NewString(),
		Name:         req.Name,
		OwnerID:      claims.Subject,
		ImportStatus: models.ImportPending,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateProject(r.Context(), project); err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logging.Info("project created",
		zap.String("project_id", project.ID),
		zap.String("owner", project.OwnerID))
	w.WriteHeader(http.StatusCreated)
	sendJSON(w, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownProject(w, r)
	if !ok {
		return
	}
	sendJSON(w, project)
}

func (s *Server) handleRenameProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownProject(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name required")
		return
	}

	now := time.Now().UTC()
	if err := s.store.RenameProject(r.Context(), project.ID, req.Name, now); err != nil {
		s.sendTreeError(w, err)
		return
	}
	project.Name = req.Name
	project.UpdatedAt = now

	s.publishEvent(events.EventProjectUpdated, project.ID, "", req.Name)
	sendJSON(w, project)
}

func (s *Server) handleSetImportStatus(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownProject(w, r)
	if !ok {
		return
	}

	var req struct {
		Status models.ImportStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Status {
	case models.ImportPending, models.ImportImported, models.ImportFailed:
	default:
		s.sendError(w, http.StatusBadRequest, "invalid import status")
		return
	}

	now := time.Now().UTC()
	if err := s.store.SetImportStatus(r.Context(), project.ID, req.Status, now); err != nil {
		s.sendTreeError(w, err)
		return
	}
	project.ImportStatus = req.Status
	project.UpdatedAt = now

	s.publishEvent(events.EventProjectUpdated, project.ID, "", project.Name)
	sendJSON(w, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownProject(w, r)
	if !ok {
		return
	}

	// Remove stored blobs before the rows; the foreign key cascades the
	// node records away with the project.
	nodes, err := s.store.ListNodesByProject(r.Context(), project.ID)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, node := range nodes {
		if node.StorageID == "" {
			continue
		}
		if err := s.blobs.DeleteObject(r.Context(), node.StorageID); err != nil {
			logging.Error("blob cleanup failed",
				zap.String("storage_id", node.StorageID), zap.Error(err))
		}
	}

	if err := s.store.DeleteProject(r.Context(), project.ID); err != nil {
		s.sendTreeError(w, err)
		return
	}

	logging.Info("project deleted",
		zap.String("project_id", project.ID),
		zap.Int("nodes", len(nodes)))
	s.publishEvent(events.EventProjectUpdated, project.ID, "", "")
	w.WriteHeader(http.StatusNoContent)
}
