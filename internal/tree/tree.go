// Package tree implements the project tree store: it authorizes, validates,
// and applies structural and content changes to a project's node forest.
//
// Authorization is ownership-scoped: every operation resolves the owning
// project and requires the caller's subject to match the project owner.
// Sibling name uniqueness is type-scoped, so a folder and a file may share a
// display name under the same parent (mirroring foo/ next to foo.ts).
package tree

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/atelierhq/atelier/internal/logging"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/models"
)

// Identity is the authenticated caller, as supplied by the auth collaborator.
type Identity struct {
	Subject string
}

// NodeStore is the persistence interface for node records.
// Implementations must return ErrNotFound for missing nodes and ErrConflict
// when an insert or rename would collide with a same-type sibling name.
// The uniqueness check and the write are expected to be a single atomic
// statement against the store.
type NodeStore interface {
	GetNode(ctx context.Context, nodeID string) (*models.Node, error)
	ListChildren(ctx context.Context, projectID string, parentID *string) ([]models.Node, error)
	ListNodesByProject(ctx context.Context, projectID string) ([]models.Node, error)
	InsertNode(ctx context.Context, node *models.Node) error
	RenameNode(ctx context.Context, nodeID, newName string, at time.Time) error
	SetNodeContent(ctx context.Context, nodeID string, content *string, at time.Time) error
	DeleteNode(ctx context.Context, nodeID string) error
}

// ProjectStore is the project-record collaborator: lookup plus the
// updated-at patch issued after every tree mutation.
type ProjectStore interface {
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	TouchProject(ctx context.Context, projectID string, at time.Time) error
}

// BlobStore is the binary content collaborator. Deletes are assumed
// idempotent. storage.Backend satisfies this.
type BlobStore interface {
	DeleteObject(ctx context.Context, key string) error
}

// Service is the tree store.
type Service struct {
	nodes    NodeStore
	projects ProjectStore
	blobs    BlobStore
}

// NewService creates a tree store over the given collaborators.
func NewService(nodes NodeStore, projects ProjectStore, blobs BlobStore) *Service {
	return &Service{nodes: nodes, projects: projects, blobs: blobs}
}

// ListChildren returns the nodes directly under parentID (or the project
// root when parentID is nil), folders before files, each group in ascending
// collation order by name.
func (s *Service) ListChildren(ctx context.Context, caller Identity, projectID string, parentID *string) ([]models.Node, error) {
	if _, err := s.projectForCaller(ctx, caller, projectID); err != nil {
		return nil, err
	}
	nodes, err := s.nodes.ListChildren(ctx, projectID, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	sortSiblings(nodes)
	return nodes, nil
}

// ListNodes returns every node belonging to the project, unsorted.
func (s *Service) ListNodes(ctx context.Context, caller Identity, projectID string) ([]models.Node, error) {
	if _, err := s.projectForCaller(ctx, caller, projectID); err != nil {
		return nil, err
	}
	nodes, err := s.nodes.ListNodesByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return nodes, nil
}

// GetNode returns a single node, resolving its owning project for the
// ownership check.
func (s *Service) GetNode(ctx context.Context, caller Identity, nodeID string) (*models.Node, error) {
	return s.nodeForCaller(ctx, caller, nodeID)
}

// CreateFile inserts a new file node. Fails with ErrConflict if a file of
// the same name already exists among the siblings; a folder of that name
// does not block creation.
func (s *Service) CreateFile(ctx context.Context, caller Identity, projectID string, parentID *string, name string, content *string) (*models.Node, error) {
	return s.create(ctx, caller, projectID, parentID, name, models.NodeTypeFile, content)
}

// CreateFolder inserts a new folder node. The collision check is restricted
// to existing folders among the same siblings.
func (s *Service) CreateFolder(ctx context.Context, caller Identity, projectID string, parentID *string, name string) (*models.Node, error) {
	return s.create(ctx, caller, projectID, parentID, name, models.NodeTypeFolder, nil)
}

func (s *Service) create(ctx context.Context, caller Identity, projectID string, parentID *string, name string, nodeType models.NodeType, content *string) (*models.Node, error) {
	if name == "" {
		return nil, fmt.Errorf("create %s: name must not be empty", nodeType)
	}
	if _, err := s.projectForCaller(ctx, caller, projectID); err != nil {
		return nil, err
	}
	if parentID != nil {
		parent, err := s.nodes.GetNode(ctx, *parentID)
		if err != nil {
			return nil, fmt.Errorf("resolve parent: %w", err)
		}
		if parent.ProjectID != projectID || !parent.IsFolder() {
			return nil, fmt.Errorf("resolve parent: %w", ErrNotFound)
		}
	}

	now := time.Now().UTC()
	node := &models.Node{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		ParentID:  parentID,
		Name:      name,
		Type:      nodeType,
		Content:   content,
		UpdatedAt: now,
	}
	if err := s.nodes.InsertNode(ctx, node); err != nil {
		return nil, fmt.Errorf("insert %s: %w", nodeType, err)
	}
	if err := s.projects.TouchProject(ctx, projectID, now); err != nil {
		return nil, fmt.Errorf("touch project: %w", err)
	}

	logging.Debug("node created",
		zap.String("project_id", projectID),
		zap.String("node_id", node.ID),
		zap.String("type", string(nodeType)))
	return node, nil
}

// Rename changes a node's name. Fails with ErrConflict if another sibling of
// the same type already bears newName; the node itself is excluded from the
// check by identity.
func (s *Service) Rename(ctx context.Context, caller Identity, nodeID, newName string) (*models.Node, error) {
	if newName == "" {
		return nil, fmt.Errorf("rename: name must not be empty")
	}
	node, err := s.nodeForCaller(ctx, caller, nodeID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.nodes.RenameNode(ctx, nodeID, newName, now); err != nil {
		return nil, fmt.Errorf("rename %s: %w", node.Type, err)
	}
	if err := s.projects.TouchProject(ctx, node.ProjectID, now); err != nil {
		return nil, fmt.Errorf("touch project: %w", err)
	}

	node.Name = newName
	node.UpdatedAt = now
	return node, nil
}

// UpdateContent replaces a file node's content. Passing nil clears it.
func (s *Service) UpdateContent(ctx context.Context, caller Identity, nodeID string, content *string) (*models.Node, error) {
	node, err := s.nodeForCaller(ctx, caller, nodeID)
	if err != nil {
		return nil, err
	}
	if node.IsFolder() {
		return nil, fmt.Errorf("update content: node %s is a folder", nodeID)
	}

	now := time.Now().UTC()
	if err := s.nodes.SetNodeContent(ctx, nodeID, content, now); err != nil {
		return nil, fmt.Errorf("set content: %w", err)
	}
	if err := s.projects.TouchProject(ctx, node.ProjectID, now); err != nil {
		return nil, fmt.Errorf("touch project: %w", err)
	}

	node.Content = content
	node.UpdatedAt = now
	return node, nil
}

// deleteFrame is one pending entry on the cascade work list.
type deleteFrame struct {
	id       string
	expanded bool
}

// Delete removes a node. For folders the entire subtree is removed depth
// first: children are fully deleted before their parent, one store operation
// per node, sequentially. The work list bounds stack usage independent of
// tree depth. A node that vanishes mid-traversal fails the operation with
// ErrNotFound; earlier-deleted descendants stay deleted, and re-issuing the
// delete is the recovery path. The project is touched exactly once, after
// the whole subtree is gone.
func (s *Service) Delete(ctx context.Context, caller Identity, nodeID string) error {
	root, err := s.nodeForCaller(ctx, caller, nodeID)
	if err != nil {
		return err
	}

	removed := 0
	stack := []deleteFrame{{id: nodeID}}
	for len(stack) > 0 {
		i := len(stack) - 1
		node, err := s.nodes.GetNode(ctx, stack[i].id)
		if err != nil {
			return fmt.Errorf("delete subtree: %w", err)
		}

		if node.IsFolder() && !stack[i].expanded {
			stack[i].expanded = true
			children, err := s.nodes.ListChildren(ctx, node.ProjectID, &node.ID)
			if err != nil {
				return fmt.Errorf("delete subtree: %w", err)
			}
			for _, child := range children {
				stack = append(stack, deleteFrame{id: child.ID})
			}
			continue
		}

		if node.StorageID != "" {
			if err := s.blobs.DeleteObject(ctx, node.StorageID); err != nil {
				return fmt.Errorf("delete blob %s: %w", node.StorageID, err)
			}
		}
		if err := s.nodes.DeleteNode(ctx, node.ID); err != nil {
			return fmt.Errorf("delete node: %w", err)
		}
		removed++
		stack = stack[:len(stack)-1]
	}

	metrics.RecordNodesDeleted(removed)
	if err := s.projects.TouchProject(ctx, root.ProjectID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch project: %w", err)
	}

	logging.Debug("subtree deleted",
		zap.String("project_id", root.ProjectID),
		zap.String("node_id", nodeID),
		zap.Int("nodes", removed))
	return nil
}

func (s *Service) projectForCaller(ctx context.Context, caller Identity, projectID string) (*models.Project, error) {
	project, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != caller.Subject {
		return nil, ErrUnauthorized
	}
	return project, nil
}

func (s *Service) nodeForCaller(ctx context.Context, caller Identity, nodeID string) (*models.Node, error) {
	node, err := s.nodes.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if _, err := s.projectForCaller(ctx, caller, node.ProjectID); err != nil {
		return nil, err
	}
	return node, nil
}

// sortSiblings orders folders before files, then by name using a
// locale-aware collation within each type.
func sortSiblings(nodes []models.Node) {
	c := collate.New(language.Und)
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].IsFolder()
		}
		return c.CompareString(nodes[i].Name, nodes[j].Name) < 0
	})
}
