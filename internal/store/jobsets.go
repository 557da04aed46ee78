package store

import (
	"database/sql"
	"fmt"
)

// CreateJobset inserts a jobset under a project, unique by (project, name).
func (db *DB) CreateJobset(projectID int64, name, flakeRef string) (*Jobset, error) {
	j := &Jobset{ProjectID: projectID, Name: name, FlakeRef: flakeRef}
	err := db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO jobsets (project_id, name, flake_ref) VALUES (?, ?, ?)`,
			projectID, name, flakeRef,
		)
		if err != nil {
			return fmt.Errorf("failed to create jobset: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		j.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// GetJobset retrieves a jobset by project and name.
func (db *DB) GetJobset(projectID int64, name string) (*Jobset, error) {
	j := &Jobset{}
	err := db.withLock(func() error {
		return db.conn.QueryRow(
			`SELECT id, project_id, name, flake_ref FROM jobsets WHERE project_id = ? AND name = ?`,
			projectID, name,
		).Scan(&j.ID, &j.ProjectID, &j.Name, &j.FlakeRef)
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get jobset: %w", err)
	}
	return j, nil
}

// GetJobsetByID retrieves a jobset by its surrogate id, used by
// internal/pipeline to resolve a run's jobset name for action input.
func (db *DB) GetJobsetByID(id int64) (*Jobset, error) {
	j := &Jobset{}
	err := db.withLock(func() error {
		return db.conn.QueryRow(
			`SELECT id, project_id, name, flake_ref FROM jobsets WHERE id = ?`, id,
		).Scan(&j.ID, &j.ProjectID, &j.Name, &j.FlakeRef)
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get jobset by id: %w", err)
	}
	return j, nil
}

// ListJobsets returns every jobset belonging to a project.
func (db *DB) ListJobsets(projectID int64) ([]*Jobset, error) {
	var jobsets []*Jobset
	err := db.withLock(func() error {
		rows, err := db.conn.Query(
			`SELECT id, project_id, name, flake_ref FROM jobsets WHERE project_id = ? ORDER BY id`,
			projectID,
		)
		if err != nil {
			return fmt.Errorf("failed to list jobsets: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			j := &Jobset{}
			if err := rows.Scan(&j.ID, &j.ProjectID, &j.Name, &j.FlakeRef); err != nil {
				return fmt.Errorf("failed to scan jobset: %w", err)
			}
			jobsets = append(jobsets, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return jobsets, nil
}

// UpsertJobset creates the jobset if absent, or updates its flake_ref if
// present, used by project refresh to reconcile declared jobsets.
func (db *DB) UpsertJobset(projectID int64, name, flakeRef string) (*Jobset, error) {
	existing, err := db.GetJobset(projectID, name)
	if err == nil {
		if updErr := db.withTx(func(tx *sql.Tx) error {
			_, err := tx.Exec(`UPDATE jobsets SET flake_ref = ? WHERE id = ?`, flakeRef, existing.ID)
			return err
		}); updErr != nil {
			return nil, fmt.Errorf("failed to update jobset: %w", updErr)
		}
		existing.FlakeRef = flakeRef
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	return db.CreateJobset(projectID, name, flakeRef)
}
