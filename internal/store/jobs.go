package store

import (
	"database/sql"
	"fmt"
	"time"
)

// JobInput is one entry of the NewJobs map produced by the evaluation
// driver.
type JobInput struct {
	System string
	Name   string
	Drv    string
	Out    string
	Dist   bool
}

// CreateJobsAndRuns inserts one Job row per input and one Run (num=1)
// per created Job, inside a single transaction.
func (db *DB) CreateJobsAndRuns(evaluationID int64, inputs []JobInput) ([]*Job, []*Run, error) {
	var jobs []*Job
	var runs []*Run
	err := db.withTx(func(tx *sql.Tx) error {
		var err error
		jobs, runs, err = createJobsAndRunsTx(tx, evaluationID, inputs)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return jobs, runs, nil
}

func createJobsAndRunsTx(tx *sql.Tx, evaluationID int64, inputs []JobInput) ([]*Job, []*Run, error) {
	var jobs []*Job
	var runs []*Run
	for _, in := range inputs {
		dist := 0
		if in.Dist {
			dist = 1
		}
		res, err := tx.Exec(
			`INSERT INTO jobs (evaluation_id, system, name, drv, out, dist) VALUES (?, ?, ?, ?, ?, ?)`,
			evaluationID, in.System, in.Name, in.Drv, in.Out, dist,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create job %s:%s: %w", in.System, in.Name, err)
		}
		jobID, err := res.LastInsertId()
		if err != nil {
			return nil, nil, err
		}
		job := &Job{
			ID: jobID, EvaluationID: evaluationID, System: in.System,
			Name: in.Name, Drv: in.Drv, Out: in.Out, Dist: in.Dist,
		}
		jobs = append(jobs, job)

		run, err := createRunTx(tx, jobID, 1)
		if err != nil {
			return nil, nil, err
		}
		runs = append(runs, run)
	}
	return jobs, runs, nil
}

// FinishEvaluation commits a successful evaluation in one transaction:
// insert one Job per NewJobs entry, one Run (num=1) per Job, and flip
// the evaluation's task to success. Either all of it is visible or
// none of it is.
func (db *DB) FinishEvaluation(evaluationID, taskID int64, inputs []JobInput) ([]*Job, []*Run, error) {
	var jobs []*Job
	var runs []*Run
	err := db.withTx(func(tx *sql.Tx) error {
		var err error
		jobs, runs, err = createJobsAndRunsTx(tx, evaluationID, inputs)
		if err != nil {
			return err
		}

		var current StatusKind
		if err := tx.QueryRow(`SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&current); err != nil {
			return fmt.Errorf("failed to read evaluation task status: %w", err)
		}
		if current != StatusRunning {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, StatusSuccess)
		}
		if _, err := tx.Exec(
			`UPDATE tasks SET status = ?, time_finished = ? WHERE id = ?`,
			StatusSuccess, time.Now().Unix(), taskID,
		); err != nil {
			return fmt.Errorf("failed to finish evaluation task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return jobs, runs, nil
}

// GetJob retrieves a job by id.
func (db *DB) GetJob(id int64) (*Job, error) {
	j := &Job{}
	var dist int
	err := db.withLock(func() error {
		return db.conn.QueryRow(
			`SELECT id, evaluation_id, system, name, drv, out, dist FROM jobs WHERE id = ?`, id,
		).Scan(&j.ID, &j.EvaluationID, &j.System, &j.Name, &j.Drv, &j.Out, &dist)
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	j.Dist = dist != 0
	return j, nil
}

// ListJobsByEvaluation returns every job created by an evaluation.
func (db *DB) ListJobsByEvaluation(evaluationID int64) ([]*Job, error) {
	var jobs []*Job
	err := db.withLock(func() error {
		rows, err := db.conn.Query(
			`SELECT id, evaluation_id, system, name, drv, out, dist FROM jobs WHERE evaluation_id = ? ORDER BY id`,
			evaluationID,
		)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			j := &Job{}
			var dist int
			if err := rows.Scan(&j.ID, &j.EvaluationID, &j.System, &j.Name, &j.Drv, &j.Out, &dist); err != nil {
				return fmt.Errorf("failed to scan job: %w", err)
			}
			j.Dist = dist != 0
			jobs = append(jobs, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
