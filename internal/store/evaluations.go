package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateEvaluation allocates the next per-project evaluation num, creates
// a fresh pending task, and inserts the evaluation row, all inside one
// transaction.
func (db *DB) CreateEvaluation(jobsetID, projectID int64, actionsPath *string) (*Evaluation, error) {
	e := &Evaluation{JobsetID: jobsetID, ProjectID: projectID, ActionsPath: actionsPath}
	err := db.withTx(func(tx *sql.Tx) error {
		num, err := nextNum(tx, "evaluations", "project_id", projectID)
		if err != nil {
			return err
		}

		res, err := tx.Exec(`INSERT INTO tasks (status, log_buffer) VALUES (?, '')`, StatusPending)
		if err != nil {
			return fmt.Errorf("failed to create evaluation task: %w", err)
		}
		taskID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		now := time.Now()
		res, err = tx.Exec(
			`INSERT INTO evaluations (jobset_id, project_id, num, actions_path, time_created, task_id)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			jobsetID, projectID, num, actionsPath, now.Unix(), taskID,
		)
		if err != nil {
			return fmt.Errorf("failed to create evaluation: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		e.ID = id
		e.Num = num
		e.TaskID = taskID
		e.TimeCreated = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetEvaluation retrieves an evaluation by id.
func (db *DB) GetEvaluation(id int64) (*Evaluation, error) {
	e := &Evaluation{}
	var created int64
	err := db.withLock(func() error {
		return db.conn.QueryRow(
			`SELECT id, jobset_id, project_id, num, flake_locked, actions_path, time_created, task_id
			 FROM evaluations WHERE id = ?`, id,
		).Scan(&e.ID, &e.JobsetID, &e.ProjectID, &e.Num, &e.FlakeLocked, &e.ActionsPath, &created, &e.TaskID)
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}
	e.TimeCreated = time.Unix(created, 0).UTC()
	return e, nil
}

// SetFlakeLocked records the flake reference an evaluation runs
// against; internal/core stores the jobset's flake reference as given,
// before the evaluator starts.
func (db *DB) SetFlakeLocked(evaluationID int64, locked string) error {
	return db.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE evaluations SET flake_locked = ? WHERE id = ?`, locked, evaluationID)
		if err != nil {
			return fmt.Errorf("failed to set flake_locked: %w", err)
		}
		return nil
	})
}

// ListEvaluationsByJobset returns all evaluations for a jobset, ordered
// by num.
func (db *DB) ListEvaluationsByJobset(jobsetID int64) ([]*Evaluation, error) {
	var evals []*Evaluation
	err := db.withLock(func() error {
		rows, err := db.conn.Query(
			`SELECT id, jobset_id, project_id, num, flake_locked, actions_path, time_created, task_id
			 FROM evaluations WHERE jobset_id = ? ORDER BY num`, jobsetID,
		)
		if err != nil {
			return fmt.Errorf("failed to list evaluations: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			e := &Evaluation{}
			var created int64
			if err := rows.Scan(&e.ID, &e.JobsetID, &e.ProjectID, &e.Num, &e.FlakeLocked, &e.ActionsPath, &created, &e.TaskID); err != nil {
				return fmt.Errorf("failed to scan evaluation: %w", err)
			}
			e.TimeCreated = time.Unix(created, 0).UTC()
			evals = append(evals, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return evals, nil
}
