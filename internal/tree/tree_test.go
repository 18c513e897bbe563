package tree

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atelierhq/atelier/internal/models"
)

type memNodes struct {
	nodes map[string]*models.Node
	// deleteLog records node ids in the order their records were removed.
	deleteLog []string
	failGet   map[string]bool
}

func newMemNodes() *memNodes {
	return &memNodes{nodes: make(map[string]*models.Node), failGet: make(map[string]bool)}
}

func (m *memNodes) GetNode(_ context.Context, nodeID string) (*models.Node, error) {
	if m.failGet[nodeID] {
		return nil, ErrNotFound
	}
	n, ok := m.nodes[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *memNodes) ListChildren(_ context.Context, projectID string, parentID *string) ([]models.Node, error) {
	var out []models.Node
	for _, n := range m.nodes {
		if n.ProjectID != projectID {
			continue
		}
		if sameParent(n.ParentID, parentID) {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *memNodes) ListNodesByProject(_ context.Context, projectID string) ([]models.Node, error) {
	var out []models.Node
	for _, n := range m.nodes {
		if n.ProjectID == projectID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *memNodes) InsertNode(_ context.Context, node *models.Node) error {
	for _, n := range m.nodes {
		if n.ProjectID == node.ProjectID && sameParent(n.ParentID, node.ParentID) &&
			n.Type == node.Type && n.Name == node.Name {
			return ErrConflict
		}
	}
	cp := *node
	m.nodes[node.ID] = &cp
	return nil
}

func (m *memNodes) RenameNode(_ context.Context, nodeID, newName string, at time.Time) error {
	node, ok := m.nodes[nodeID]
	if !ok {
		return ErrNotFound
	}
	for id, n := range m.nodes {
		if id == nodeID {
			continue
		}
		if n.ProjectID == node.ProjectID && sameParent(n.ParentID, node.ParentID) &&
			n.Type == node.Type && n.Name == newName {
			return ErrConflict
		}
	}
	node.Name = newName
	node.UpdatedAt = at
	return nil
}

func (m *memNodes) SetNodeContent(_ context.Context, nodeID string, content *string, at time.Time) error {
	node, ok := m.nodes[nodeID]
	if !ok {
		return ErrNotFound
	}
	node.Content = content
	node.UpdatedAt = at
	return nil
}

func (m *memNodes) DeleteNode(_ context.Context, nodeID string) error {
	if _, ok := m.nodes[nodeID]; !ok {
		return ErrNotFound
	}
	delete(m.nodes, nodeID)
	m.deleteLog = append(m.deleteLog, nodeID)
	return nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type memProjects struct {
	projects map[string]*models.Project
	touches  map[string]int
}

func newMemProjects() *memProjects {
	return &memProjects{projects: make(map[string]*models.Project), touches: make(map[string]int)}
}

func (m *memProjects) GetProject(_ context.Context, projectID string) (*models.Project, error) {
	p, ok := m.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProjects) TouchProject(_ context.Context, projectID string, at time.Time) error {
	p, ok := m.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	p.UpdatedAt = at
	m.touches[projectID]++
	return nil
}

type memBlobs struct {
	deleted []string
}

func (m *memBlobs) DeleteObject(_ context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	return nil
}

type fixture struct {
	svc      *Service
	nodes    *memNodes
	projects *memProjects
	blobs    *memBlobs
}

func newFixture() *fixture {
	nodes := newMemNodes()
	projects := newMemProjects()
	blobs := &memBlobs{}
	projects.projects["p1"] = &models.Project{ID: "p1", Name: "demo", OwnerID: "alice"}
	return &fixture{
		svc:      NewService(nodes, projects, blobs),
		nodes:    nodes,
		projects: projects,
		blobs:    blobs,
	}
}

func (f *fixture) addNode(id string, parentID *string, name string, t models.NodeType) {
	f.nodes.nodes[id] = &models.Node{ID: id, ProjectID: "p1", ParentID: parentID, Name: name, Type: t}
}

var alice = Identity{Subject: "alice"}

func TestCreateFileConflictScopedByType(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.CreateFolder(ctx, alice, "p1", nil, "config"); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	// a file may reuse a folder's name
	if _, err := f.svc.CreateFile(ctx, alice, "p1", nil, "config", nil); err != nil {
		t.Fatalf("CreateFile alongside folder: %v", err)
	}
	// but not another file's
	if _, err := f.svc.CreateFile(ctx, alice, "p1", nil, "config", nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate file: got %v, want ErrConflict", err)
	}
	// nor may a second folder reuse the folder's name
	if _, err := f.svc.CreateFolder(ctx, alice, "p1", nil, "config"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate folder: got %v, want ErrConflict", err)
	}
}

func TestCreateValidatesParent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	missing := "nope"
	if _, err := f.svc.CreateFile(ctx, alice, "p1", &missing, "a.txt", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing parent: got %v, want ErrNotFound", err)
	}

	f.addNode("file1", nil, "readme.md", models.NodeTypeFile)
	parent := "file1"
	if _, err := f.svc.CreateFile(ctx, alice, "p1", &parent, "a.txt", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("file parent: got %v, want ErrNotFound", err)
	}

	if _, err := f.svc.CreateFile(ctx, alice, "p1", nil, "", nil); err == nil {
		t.Fatal("empty name: expected error")
	}
}

func TestOwnershipEnforced(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	mallory := Identity{Subject: "mallory"}

	if _, err := f.svc.ListChildren(ctx, mallory, "p1", nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("ListChildren as non-owner: got %v, want ErrUnauthorized", err)
	}
	if _, err := f.svc.ListChildren(ctx, alice, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ListChildren missing project: got %v, want ErrNotFound", err)
	}

	f.addNode("n1", nil, "main.go", models.NodeTypeFile)
	if _, err := f.svc.GetNode(ctx, mallory, "n1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("GetNode as non-owner: got %v, want ErrUnauthorized", err)
	}
	if err := f.svc.Delete(ctx, mallory, "n1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Delete as non-owner: got %v, want ErrUnauthorized", err)
	}
}

func TestListChildrenSorted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.addNode("f1", nil, "zeta.txt", models.NodeTypeFile)
	f.addNode("f2", nil, "alpha.txt", models.NodeTypeFile)
	f.addNode("d1", nil, "vendor", models.NodeTypeFolder)
	f.addNode("d2", nil, "assets", models.NodeTypeFolder)

	children, err := f.svc.ListChildren(ctx, alice, "p1", nil)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	want := []string{"assets", "vendor", "alpha.txt", "zeta.txt"}
	if len(children) != len(want) {
		t.Fatalf("got %d children, want %d", len(children), len(want))
	}
	for i, name := range want {
		if children[i].Name != name {
			t.Errorf("children[%d] = %q, want %q", i, children[i].Name, name)
		}
	}
}

func TestRenameConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.addNode("f1", nil, "a.txt", models.NodeTypeFile)
	f.addNode("f2", nil, "b.txt", models.NodeTypeFile)
	f.addNode("d1", nil, "b.txt", models.NodeTypeFolder)

	if _, err := f.svc.Rename(ctx, alice, "f1", "b.txt"); !errors.Is(err, ErrConflict) {
		t.Fatalf("rename onto sibling file: got %v, want ErrConflict", err)
	}
	// renaming to its own current name is not a collision
	if _, err := f.svc.Rename(ctx, alice, "f1", "a.txt"); err != nil {
		t.Fatalf("rename to same name: %v", err)
	}
	// a folder sibling of the target name does not block a file rename
	node, err := f.svc.Rename(ctx, alice, "f2", "c.txt")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if node.Name != "c.txt" {
		t.Errorf("renamed node name = %q, want %q", node.Name, "c.txt")
	}
	if got := f.projects.touches["p1"]; got != 2 {
		t.Errorf("project touches = %d, want 2", got)
	}
}

func TestUpdateContent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.addNode("f1", nil, "main.go", models.NodeTypeFile)
	f.addNode("d1", nil, "src", models.NodeTypeFolder)

	body := "package main"
	node, err := f.svc.UpdateContent(ctx, alice, "f1", &body)
	if err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	if node.Content == nil || *node.Content != body {
		t.Errorf("content = %v, want %q", node.Content, body)
	}
	if _, err := f.svc.UpdateContent(ctx, alice, "d1", &body); err == nil {
		t.Fatal("UpdateContent on folder: expected error")
	}
	if got := f.projects.touches["p1"]; got != 1 {
		t.Errorf("project touches = %d, want 1", got)
	}
}

func TestDeleteCascades(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// root/ -> sub/ -> deep.txt, plus root/leaf.txt with a blob
	rootID := "root"
	f.addNode(rootID, nil, "root", models.NodeTypeFolder)
	f.addNode("sub", &rootID, "sub", models.NodeTypeFolder)
	subID := "sub"
	f.addNode("deep", &subID, "deep.txt", models.NodeTypeFile)
	f.addNode("leaf", &rootID, "leaf.txt", models.NodeTypeFile)
	f.nodes.nodes["leaf"].StorageID = "blob-leaf"
	f.nodes.nodes["deep"].StorageID = "blob-deep"

	if err := f.svc.Delete(ctx, alice, "root"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.nodes.nodes) != 0 {
		t.Errorf("%d nodes remain after cascade", len(f.nodes.nodes))
	}

	// every child is removed before its parent
	pos := make(map[string]int, len(f.nodes.deleteLog))
	for i, id := range f.nodes.deleteLog {
		pos[id] = i
	}
	if pos["deep"] > pos["sub"] {
		t.Error("file deleted after its parent folder")
	}
	if pos["sub"] > pos["root"] || pos["leaf"] > pos["root"] {
		t.Error("child deleted after the subtree root")
	}

	for _, key := range []string{"blob-leaf", "blob-deep"} {
		found := false
		for _, d := range f.blobs.deleted {
			if d == key {
				found = true
			}
		}
		if !found {
			t.Errorf("blob %s not deleted", key)
		}
	}

	if got := f.projects.touches["p1"]; got != 1 {
		t.Errorf("project touches = %d, want exactly 1", got)
	}
}

func TestDeleteFailsWhenNodeVanishes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	rootID := "root"
	f.addNode(rootID, nil, "root", models.NodeTypeFolder)
	f.addNode("gone", &rootID, "gone.txt", models.NodeTypeFile)
	f.nodes.failGet["gone"] = true

	if err := f.svc.Delete(ctx, alice, "root"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete with vanished child: got %v, want ErrNotFound", err)
	}
	if got := f.projects.touches["p1"]; got != 0 {
		t.Errorf("project touched %d times on failed delete, want 0", got)
	}
}
