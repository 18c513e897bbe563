// Package postgres provides the PostgreSQL-backed project and node store
// with metrics.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lib/pq"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/logging"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/models"
	"github.com/atelierhq/atelier/internal/tree"
)

// Store is a PostgreSQL project store.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- Projects ---

// CreateProject inserts a new project record.
func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_project", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, owner_id, import_status, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Name, p.OwnerID, p.ImportStatus, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject returns a single project by id.
func (s *Store) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_project", time.Since(start)) }()

	var p models.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, import_status, updated_at
		 FROM projects WHERE id = $1`, projectID).
		Scan(&p.ID, &p.Name, &p.OwnerID, &p.ImportStatus, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, tree.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query project: %w", err)
	}
	return &p, nil
}

// ListProjectsByOwner returns the owner's projects, most recently updated
// first.
func (s *Store) ListProjectsByOwner(ctx context.Context, ownerID string) ([]models.Project, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_projects", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, owner_id, import_status, updated_at
		 FROM projects WHERE owner_id = $1 ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerID, &p.ImportStatus, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// RenameProject updates a project's display name.
func (s *Store) RenameProject(ctx context.Context, projectID, name string, at time.Time) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("rename_project", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = $2, updated_at = $3 WHERE id = $1`,
		projectID, name, at)
	if err != nil {
		return fmt.Errorf("rename project: %w", err)
	}
	return requireRow(res)
}

// SetImportStatus updates a project's import lifecycle state.
func (s *Store) SetImportStatus(ctx context.Context, projectID string, status models.ImportStatus, at time.Time) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_import_status", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET import_status = $2, updated_at = $3 WHERE id = $1`,
		projectID, status, at)
	if err != nil {
		return fmt.Errorf("set import status: %w", err)
	}
	return requireRow(res)
}

// TouchProject bumps a project's updated_at.
func (s *Store) TouchProject(ctx context.Context, projectID string, at time.Time) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("touch_project", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET updated_at = $2 WHERE id = $1`, projectID, at)
	if err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	return requireRow(res)
}

// DeleteProject removes a project record. Node rows go with it via the
// foreign key; blob cleanup is the caller's job, so callers list the
// project's nodes first.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_project", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRow(res)
}

// --- Nodes ---

// GetNode returns a single node by id.
func (s *Store) GetNode(ctx context.Context, nodeID string) (*models.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_node", time.Since(start)) }()

	node, err := scanNode(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, parent_id, name, node_type, content, storage_id, updated_at
		 FROM nodes WHERE id = $1`, nodeID))
	if err == sql.ErrNoRows {
		return nil, tree.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query node: %w", err)
	}
	return node, nil
}

// ListChildren returns the direct children of parentID, or the project's
// root nodes when parentID is nil. Ordering is left to the caller.
func (s *Store) ListChildren(ctx context.Context, projectID string, parentID *string) ([]models.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_children", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, parent_id, name, node_type, content, storage_id, updated_at
		 FROM nodes WHERE project_id = $1 AND parent_id IS NOT DISTINCT FROM $2`,
		projectID, parentID)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()
	return collectNodes(rows)
}

// ListNodesByProject returns every node in the project.
func (s *Store) ListNodesByProject(ctx context.Context, projectID string) ([]models.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_nodes", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, parent_id, name, node_type, content, storage_id, updated_at
		 FROM nodes WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()
	return collectNodes(rows)
}

// InsertNode inserts a node record. The sibling-name check and the insert
// are one statement, so two racing creates cannot both pass: the loser
// inserts zero rows and gets ErrConflict. The unique index backs this up.
func (s *Store) InsertNode(ctx context.Context, node *models.Node) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_node", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, project_id, parent_id, name, node_type, content, storage_id, updated_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8
		 WHERE NOT EXISTS (
		     SELECT 1 FROM nodes
		     WHERE project_id = $2 AND parent_id IS NOT DISTINCT FROM $3
		       AND node_type = $5 AND name = $4)`,
		node.ID, node.ProjectID, node.ParentID, node.Name, node.Type,
		node.Content, node.StorageID, node.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return tree.ErrConflict
		}
		return fmt.Errorf("insert node: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return tree.ErrConflict
	}
	return nil
}

// RenameNode renames a node, refusing the change when another same-type
// sibling already carries the name. The excluded-id subquery keeps a
// same-name rename from conflicting with itself.
func (s *Store) RenameNode(ctx context.Context, nodeID, newName string, at time.Time) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("rename_node", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET name = $2, updated_at = $3
		 WHERE id = $1
		   AND NOT EXISTS (
		       SELECT 1 FROM nodes n2
		       WHERE n2.project_id = nodes.project_id
		         AND n2.parent_id IS NOT DISTINCT FROM nodes.parent_id
		         AND n2.node_type = nodes.node_type
		         AND n2.name = $2
		         AND n2.id <> $1)`,
		nodeID, newName, at)
	if err != nil {
		if isUniqueViolation(err) {
			return tree.ErrConflict
		}
		return fmt.Errorf("rename node: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Either the node is gone or a sibling holds the name; look again
		// to report the right failure.
		if _, err := s.GetNode(ctx, nodeID); err != nil {
			return err
		}
		return tree.ErrConflict
	}
	return nil
}

// SetNodeContent replaces a node's inline content.
func (s *Store) SetNodeContent(ctx context.Context, nodeID string, content *string, at time.Time) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_node_content", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET content = $2, updated_at = $3 WHERE id = $1`,
		nodeID, content, at)
	if err != nil {
		return fmt.Errorf("set node content: %w", err)
	}
	return requireRow(res)
}

// SetNodeStorageID points a node at a stored blob. An empty storageID
// detaches the blob.
func (s *Store) SetNodeStorageID(ctx context.Context, nodeID, storageID string, at time.Time) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_node_storage_id", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET storage_id = $2, updated_at = $3 WHERE id = $1`,
		nodeID, storageID, at)
	if err != nil {
		return fmt.Errorf("set node storage id: %w", err)
	}
	return requireRow(res)
}

// DeleteNode removes a single node record.
func (s *Store) DeleteNode(ctx context.Context, nodeID string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_node", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM nodes WHERE id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return tree.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*models.Node, error) {
	var n models.Node
	var parentID, content sql.NullString
	if err := row.Scan(&n.ID, &n.ProjectID, &parentID, &n.Name, &n.Type,
		&content, &n.StorageID, &n.UpdatedAt); err != nil {
		return nil, err
	}
	if parentID.Valid {
		n.ParentID = &parentID.String
	}
	if content.Valid {
		n.Content = &content.String
	}
	return &n, nil
}

func collectNodes(rows *sql.Rows) ([]models.Node, error) {
	var nodes []models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}
