// Package models contains the core data types shared across the server.
package models

import "time"

// NodeType distinguishes files from folders in a project tree.
type NodeType string

const (
	NodeTypeFile   NodeType = "file"
	NodeTypeFolder NodeType = "folder"
)

// ImportStatus tracks the state of a project import job.
type ImportStatus string

const (
	ImportPending  ImportStatus = "pending"
	ImportImported ImportStatus = "imported"
	ImportFailed   ImportStatus = "failed"
)

// Project is the owning entity for a node tree. UpdatedAt is touched by
// every tree mutation and doubles as a dirty/sync indicator for the UI.
type Project struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	OwnerID      string       `json:"owner_id"`
	ImportStatus ImportStatus `json:"import_status"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Node is a single file or folder entry in a project tree. ParentID is nil
// for root-level nodes; the per-project forest hangs off "no parent".
// Content is set only for file nodes; StorageID references a binary blob in
// the storage backend when the file holds binary content.
type Node struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	ParentID  *string   `json:"parent_id,omitempty"`
	Name      string    `json:"name"`
	Type      NodeType  `json:"type"`
	Content   *string   `json:"content,omitempty"`
	StorageID string    `json:"storage_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFolder reports whether the node is a folder.
func (n *Node) IsFolder() bool {
	return n.Type == NodeTypeFolder
}
