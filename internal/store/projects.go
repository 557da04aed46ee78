package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// ErrProjectAlreadyExists is returned by CreateProject when name is
// already taken; the failed insert leaves state unchanged.
var ErrProjectAlreadyExists = fmt.Errorf("project already exists")

// ErrNotFound is returned by entity lookups that find no matching row.
var ErrNotFound = fmt.Errorf("not found")

// CreateProject inserts a new project with the given name.
func (db *DB) CreateProject(name string) (*Project, error) {
	p := &Project{Name: name}
	err := db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO projects (name) VALUES (?)`, name)
		if err != nil {
			if isUniqueConstraint(err) {
				return ErrProjectAlreadyExists
			}
			return fmt.Errorf("failed to create project: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		p.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject retrieves a project by name.
func (db *DB) GetProject(name string) (*Project, error) {
	p := &Project{}
	err := db.withLock(func() error {
		return db.conn.QueryRow(
			`SELECT id, name, declaration, locked_declaration, actions_path, key, description, homepage, title
			 FROM projects WHERE name = ?`, name,
		).Scan(&p.ID, &p.Name, &p.Declaration, &p.LockedDeclaration, &p.ActionsPath, &p.Key, &p.Description, &p.Homepage, &p.Title)
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// GetProjectByID retrieves a project by its surrogate id, used by
// internal/pipeline to resolve a run's project without already
// knowing its name.
func (db *DB) GetProjectByID(id int64) (*Project, error) {
	p := &Project{}
	err := db.withLock(func() error {
		return db.conn.QueryRow(
			`SELECT id, name, declaration, locked_declaration, actions_path, key, description, homepage, title
			 FROM projects WHERE id = ?`, id,
		).Scan(&p.ID, &p.Name, &p.Declaration, &p.LockedDeclaration, &p.ActionsPath, &p.Key, &p.Description, &p.Homepage, &p.Title)
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project by id: %w", err)
	}
	return p, nil
}

// ListProjects returns every project.
func (db *DB) ListProjects() ([]*Project, error) {
	var projects []*Project
	err := db.withLock(func() error {
		rows, err := db.conn.Query(
			`SELECT id, name, declaration, locked_declaration, actions_path, key, description, homepage, title
			 FROM projects ORDER BY id`,
		)
		if err != nil {
			return fmt.Errorf("failed to list projects: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			p := &Project{}
			if err := rows.Scan(&p.ID, &p.Name, &p.Declaration, &p.LockedDeclaration, &p.ActionsPath, &p.Key, &p.Description, &p.Homepage, &p.Title); err != nil {
				return fmt.Errorf("failed to scan project: %w", err)
			}
			projects = append(projects, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// SetDecl updates a project's declaration and locked_declaration.
func (db *DB) SetDecl(projectID int64, declaration, locked string) error {
	return db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE projects SET declaration = ?, locked_declaration = ? WHERE id = ?`, declaration, locked, projectID)
		if err != nil {
			return fmt.Errorf("failed to set declaration: %w", err)
		}
		return mustAffectOne(res)
	})
}

// SetPrivateKey updates a project's signing key material.
func (db *DB) SetPrivateKey(projectID int64, key string) error {
	return db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE projects SET key = ? WHERE id = ?`, key, projectID)
		if err != nil {
			return fmt.Errorf("failed to set private key: %w", err)
		}
		return mustAffectOne(res)
	})
}

// RefreshProject records the outcome of re-reading a project's
// declaration: the locked form of the declaration and the actions
// bundle path it names. Jobset reconciliation happens separately via
// UpsertJobset.
func (db *DB) RefreshProject(projectID int64, locked string, actionsPath *string, title, description, homepage string) error {
	return db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE projects SET locked_declaration = ?, actions_path = ?, title = ?, description = ?, homepage = ? WHERE id = ?`,
			locked, actionsPath, title, description, homepage, projectID,
		)
		if err != nil {
			return fmt.Errorf("failed to refresh project: %w", err)
		}
		return mustAffectOne(res)
	})
}

// DeleteProject removes a project and cascades to its jobsets,
// evaluations, jobs, and runs.
func (db *DB) DeleteProject(projectID int64) error {
	return db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, projectID)
		if err != nil {
			return fmt.Errorf("failed to delete project: %w", err)
		}
		return mustAffectOne(res)
	})
}

func mustAffectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
