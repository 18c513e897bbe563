package api

import (
	"encoding/json"
	"net/http"

	"github.com/atelierhq/atelier/internal/events"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/models"
)

func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	var parentID *string
	if p := r.URL.Query().Get("parent_id"); p != "" {
		parentID = &p
	}

	nodes, err := s.tree.ListChildren(r.Context(), caller, r.PathValue("projectID"), parentID)
	metrics.RecordTreeOp("list_children", err)
	if err != nil {
		s.sendTreeError(w, err)
		return
	}
	if nodes == nil {
		nodes = []models.Node{}
	}
	sendJSON(w, nodes)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	nodes, err := s.tree.ListNodes(r.Context(), caller, r.PathValue("projectID"))
	metrics.RecordTreeOp("list_nodes", err)
	if err != nil {
		s.sendTreeError(w, err)
		return
	}
	if nodes == nil {
		nodes = []models.Node{}
	}
	sendJSON(w, nodes)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	node, err := s.tree.GetNode(r.Context(), caller, r.PathValue("nodeID"))
	metrics.RecordTreeOp("get_node", err)
	if err != nil {
		s.sendTreeError(w, err)
		return
	}
	sendJSON(w, node)
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		ParentID *string `json:"parent_id"`
		Name     string  `json:"name"`
		Content  *string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name required")
		return
	}

	node, err := s.tree.CreateFile(r.Context(), caller, r.PathValue("projectID"), req.ParentID, req.Name, req.Content)
	metrics.RecordTreeOp("create_file", err)
	if err != nil {
		s.sendTreeError(w, err)
		return
	}

	s.publishEvent(events.EventNodeCreated, node.ProjectID, node.ID, node.Name)
	w.WriteHeader(http.StatusCreated)
	sendJSON(w, node)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		ParentID *string `json:"parent_id"`
		Name     string  `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name required")
		return
	}

	node, err := s.tree.CreateFolder(r.Context(), caller, r.PathValue("projectID"), req.ParentID, req.Name)
	metrics.RecordTreeOp("create_folder", err)
	if err != nil {
		s.sendTreeError(w, err)
		return
	}

	s.publishEvent(events.EventNodeCreated, node.ProjectID, node.ID, node.Name)
	w.WriteHeader(http.StatusCreated)
	sendJSON(w, node)
}

func (s *Server) handleRenameNode(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.identity(w, r)
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

	node, err := s.tree.Rename(r.Context(), caller, r.PathValue("nodeID"), req.Name)
	metrics.RecordTreeOp("rename", err)
	if err != nil {
		s.sendTreeError(w, err)
		return
	}

	s.publishEvent(events.EventNodeRenamed, node.ProjectID, node.ID, node.Name)
	sendJSON(w, node)
}

func (s *Server) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		Content *string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	node, err := s.tree.UpdateContent(r.Context(), caller, r.PathValue("nodeID"), req.Content)
	metrics.RecordTreeOp("update_content", err)
	if err != nil {
		s.sendTreeError(w, err)
		return
	}

	s.publishEvent(events.EventNodeUpdated, node.ProjectID, node.ID, node.Name)
	sendJSON(w, node)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	nodeID := r.PathValue("nodeID")
	node, err := s.tree.GetNode(r.Context(), caller, nodeID)
	if err != nil {
		s.sendTreeError(w, err)
		return
	}

	err = s.tree.Delete(r.Context(), caller, nodeID)
	metrics.RecordTreeOp("delete", err)
	if err != nil {
		s.sendTreeError(w, err)
		return
	}

	s.publishEvent(events.EventNodeDeleted, node.ProjectID, node.ID, node.Name)
	w.WriteHeader(http.StatusNoContent)
}
