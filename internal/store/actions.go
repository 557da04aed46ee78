package store

import (
	"database/sql"
	"fmt"
)

// CreateAction allocates the next per-project action num, creates a
// fresh pending task, and inserts the (immutable after creation) action
// row, all in one transaction.
func (db *DB) CreateAction(projectID int64, inputJSON, path string) (*Action, error) {
	a := &Action{ProjectID: projectID, InputJSON: inputJSON, Path: path}
	err := db.withTx(func(tx *sql.Tx) error {
		num, err := nextNum(tx, "actions", "project_id", projectID)
		if err != nil {
			return err
		}

		res, err := tx.Exec(`INSERT INTO tasks (status, log_buffer) VALUES (?, '')`, StatusPending)
		if err != nil {
			return fmt.Errorf("failed to create action task: %w", err)
		}
		taskID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		res, err = tx.Exec(
			`INSERT INTO actions (project_id, num, input_json, path, task_id) VALUES (?, ?, ?, ?, ?)`,
			projectID, num, inputJSON, path, taskID,
		)
		if err != nil {
			return fmt.Errorf("failed to create action: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		a.ID = id
		a.Num = num
		a.TaskID = taskID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetAction retrieves an action by id.
func (db *DB) GetAction(id int64) (*Action, error) {
	a := &Action{}
	err := db.withLock(func() error {
		return db.conn.QueryRow(
			`SELECT id, project_id, num, input_json, path, task_id FROM actions WHERE id = ?`, id,
		).Scan(&a.ID, &a.ProjectID, &a.Num, &a.InputJSON, &a.Path, &a.TaskID)
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return a, nil
}
