package api

import (
	"encoding/json"
	"net/http"

	"github.com/atelierhq/atelier/internal/auth"
	"github.com/atelierhq/atelier/internal/tabs"
)

// sessionManager resolves the tab manager for the caller's workspace
// session, after the project ownership check.
func (s *Server) sessionManager(w http.ResponseWriter, r *http.Request) (*tabs.Manager, string, bool) {
	project, ok := s.ownProject(w, r)
	if !ok {
		return nil, "", false
	}
	return s.sessions.Manager(auth.SessionKey(r.Context())), project.ID, true
}

type tabRequest struct {
	TabID  string `json:"tab_id"`
	Pinned bool   `json:"pinned"`
}

func (s *Server) decodeTabRequest(w http.ResponseWriter, r *http.Request) (tabRequest, bool) {
	var req tabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TabID == "" {
		s.sendError(w, http.StatusBadRequest, "tab_id required")
		return req, false
	}
	return req, true
}

func (s *Server) handleSessionTabs(w http.ResponseWriter, r *http.Request) {
	mgr, projectID, ok := s.sessionManager(w, r)
	if !ok {
		return
	}
	sendJSON(w, mgr.State(projectID))
}

func (s *Server) handleOpenTab(w http.ResponseWriter, r *http.Request) {
	mgr, projectID, ok := s.sessionManager(w, r)
	if !ok {
		return
	}
	req, ok := s.decodeTabRequest(w, r)
	if !ok {
		return
	}
	sendJSON(w, mgr.OpenFile(projectID, req.TabID, req.Pinned))
}

func (s *Server) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	mgr, projectID, ok := s.sessionManager(w, r)
	if !ok {
		return
	}
	req, ok := s.decodeTabRequest(w, r)
	if !ok {
		return
	}
	sendJSON(w, mgr.CloseTab(projectID, req.TabID))
}

func (s *Server) handleCloseAllTabs(w http.ResponseWriter, r *http.Request) {
	mgr, projectID, ok := s.sessionManager(w, r)
	if !ok {
		return
	}
	sendJSON(w, mgr.CloseAll(projectID))
}

func (s *Server) handleSetActiveTab(w http.ResponseWriter, r *http.Request) {
	mgr, projectID, ok := s.sessionManager(w, r)
	if !ok {
		return
	}
	req, ok := s.decodeTabRequest(w, r)
	if !ok {
		return
	}
	sendJSON(w, mgr.SetActive(projectID, req.TabID))
}
