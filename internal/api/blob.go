package api

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/logging"
	"github.com/atelierhq/atelier/internal/metrics"
)

// handleBlobUpload stores the request body as the node's binary content.
// The node keeps inline text in content; blobs replace whatever object the
// node pointed at before.
func (s *Server) handleBlobUpload(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	node, err := s.tree.GetNode(r.Context(), caller, r.PathValue("nodeID"))
	if err != nil {
		s.sendTreeError(w, err)
		return
	}
	if node.IsFolder() {
		s.sendError(w, http.StatusBadRequest, "cannot attach a blob to a folder")
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	defer body.Close()

	key := uuid.NewString()
	data, err := io.ReadAll(body)
	if err != nil {
		s.sendError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}

	if err := s.blobs.PutObject(r.Context(), key, bytes.NewReader(data), int64(len(data))); err != nil {
		logging.Error("blob upload failed", zap.String("node_id", node.ID), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "storage error")
		return
	}

	now := time.Now().UTC()
	if err := s.store.SetNodeStorageID(r.Context(), node.ID, key, now); err != nil {
		// Roll the orphaned object back out
		s.blobs.DeleteObject(r.Context(), key)
		s.sendTreeError(w, err)
		return
	}
	if err := s.store.TouchProject(r.Context(), node.ProjectID, now); err != nil {
		s.sendTreeError(w, err)
		return
	}

	// The previous blob is unreferenced now
	if node.StorageID != "" && node.StorageID != key {
		if err := s.blobs.DeleteObject(r.Context(), node.StorageID); err != nil {
			logging.Error("stale blob cleanup failed",
				zap.String("storage_id", node.StorageID), zap.Error(err))
		}
	}

	metrics.RecordBlobUpload(int64(len(data)))
	node.StorageID = key
	node.UpdatedAt = now
	sendJSON(w, node)
}

func (s *Server) handleBlobDownload(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	node, err := s.tree.GetNode(r.Context(), caller, r.PathValue("nodeID"))
	if err != nil {
		s.sendTreeError(w, err)
		return
	}
	if node.StorageID == "" {
		s.sendError(w, http.StatusNotFound, "node has no stored blob")
		return
	}

	obj, size, err := s.blobs.GetObject(r.Context(), node.StorageID)
	if err != nil {
		logging.Error("blob download failed", zap.String("node_id", node.ID), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "storage error")
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	n, _ := io.Copy(w, obj)
	metrics.RecordBlobDownload(n)
}
