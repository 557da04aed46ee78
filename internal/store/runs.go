package store

import (
	"database/sql"
	"fmt"
	"time"
)

// createRunTx inserts a run row with an explicit num, used both by
// CreateJobsAndRuns (num=1) and CreateRun (subsequent retries, if ever
// added) under the same transaction discipline.
func createRunTx(tx *sql.Tx, jobID, num int64) (*Run, error) {
	now := time.Now()
	res, err := tx.Exec(
		`INSERT INTO runs (job_id, num, time_created) VALUES (?, ?, ?)`,
		jobID, num, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Run{ID: id, JobID: jobID, Num: num, TimeCreated: now}, nil
}

// CreateRun allocates the next per-job run num and inserts the row.
func (db *DB) CreateRun(jobID int64) (*Run, error) {
	var run *Run
	err := db.withTx(func(tx *sql.Tx) error {
		num, err := nextNum(tx, "runs", "job_id", jobID)
		if err != nil {
			return err
		}
		run, err = createRunTx(tx, jobID, num)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRun retrieves a run by id.
func (db *DB) GetRun(id int64) (*Run, error) {
	r := &Run{}
	var created int64
	err := db.withLock(func() error {
		return db.conn.QueryRow(
			`SELECT id, job_id, num, time_created, begin_action_id, build_id, end_action_id FROM runs WHERE id = ?`,
			id,
		).Scan(&r.ID, &r.JobID, &r.Num, &created, &r.BeginActionID, &r.BuildID, &r.EndActionID)
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	r.TimeCreated = time.Unix(created, 0).UTC()
	return r, nil
}

// ListRunsByJob returns every run of a job, ordered by num.
func (db *DB) ListRunsByJob(jobID int64) ([]*Run, error) {
	var runs []*Run
	err := db.withLock(func() error {
		rows, err := db.conn.Query(
			`SELECT id, job_id, num, time_created, begin_action_id, build_id, end_action_id FROM runs WHERE job_id = ? ORDER BY num`,
			jobID,
		)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			r := &Run{}
			var created int64
			if err := rows.Scan(&r.ID, &r.JobID, &r.Num, &created, &r.BeginActionID, &r.BuildID, &r.EndActionID); err != nil {
				return fmt.Errorf("failed to scan run: %w", err)
			}
			r.TimeCreated = time.Unix(created, 0).UTC()
			runs = append(runs, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// SetBeginAndBuild persists begin_action_id and build_id together,
// atomically, the first phase-linkage write of a run's lifecycle. The
// fields are never overwritten afterward: callers must only invoke
// this once per run, which internal/pipeline enforces by construction
// (it is called exactly once per Coordinator.Start).
func (db *DB) SetBeginAndBuild(runID, beginActionID, buildID int64) error {
	return db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE runs SET begin_action_id = ?, build_id = ? WHERE id = ? AND build_id IS NULL`,
			beginActionID, buildID, runID,
		)
		if err != nil {
			return fmt.Errorf("failed to set begin/build: %w", err)
		}
		return mustAffectOne(res)
	})
}

// SetEnd persists end_action_id, the final phase-linkage write of a
// run's lifecycle. Never overwrites an existing value.
func (db *DB) SetEnd(runID, endActionID int64) error {
	return db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE runs SET end_action_id = ? WHERE id = ? AND end_action_id IS NULL`,
			endActionID, runID,
		)
		if err != nil {
			return fmt.Errorf("failed to set end: %w", err)
		}
		return mustAffectOne(res)
	})
}

// DerivedStatus computes a Run's aggregate status without relying on
// internal/pipeline's in-process run task registry: runs carry no
// status column of their own, so status is always composed
// from the begin action and build task statuses a run currently has
// linked. A run with a begin action that hasn't settled is running; a
// run with neither phase persisted yet is pending; otherwise the
// build's own status is the run's status.
func (db *DB) DerivedStatus(run *Run) (StatusKind, error) {
	if run.BeginActionID != nil {
		begin, err := db.GetAction(*run.BeginActionID)
		if err != nil {
			return "", fmt.Errorf("derive status: get begin action: %w", err)
		}
		beginStatus, err := db.Status(begin.TaskID)
		if err != nil {
			return "", fmt.Errorf("derive status: begin status: %w", err)
		}
		if !beginStatus.IsTerminal() {
			return StatusRunning, nil
		}
	}

	if run.BuildID == nil {
		if run.BeginActionID == nil {
			return StatusPending, nil
		}
		return StatusRunning, nil
	}
	b, err := db.GetBuild(*run.BuildID)
	if err != nil {
		return "", fmt.Errorf("derive status: get build: %w", err)
	}
	buildStatus, err := db.Status(b.TaskID)
	if err != nil {
		return "", fmt.Errorf("derive status: build status: %w", err)
	}
	return buildStatus, nil
}

// RunSearch filters SearchRuns.
type RunSearch struct {
	ProjectName   *string
	JobsetName    *string
	EvaluationNum *int64
	JobName       *string
	JobSystem     *string
	Offset        int
	Limit         int
}

// SearchRuns finds runs by joining through
// jobs/evaluations/jobsets/projects.
func (db *DB) SearchRuns(s RunSearch) ([]*Run, error) {
	query := `
		SELECT r.id, r.job_id, r.num, r.time_created, r.begin_action_id, r.build_id, r.end_action_id
		FROM runs r
		JOIN jobs j ON j.id = r.job_id
		JOIN evaluations e ON e.id = j.evaluation_id
		JOIN jobsets js ON js.id = e.jobset_id
		JOIN projects p ON p.id = e.project_id
		WHERE 1 = 1
	`
	var args []any
	if s.ProjectName != nil {
		query += " AND p.name = ?"
		args = append(args, *s.ProjectName)
	}
	if s.JobsetName != nil {
		query += " AND js.name = ?"
		args = append(args, *s.JobsetName)
	}
	if s.EvaluationNum != nil {
		query += " AND e.num = ?"
		args = append(args, *s.EvaluationNum)
	}
	if s.JobName != nil {
		query += " AND j.name = ?"
		args = append(args, *s.JobName)
	}
	if s.JobSystem != nil {
		query += " AND j.system = ?"
		args = append(args, *s.JobSystem)
	}
	query += " ORDER BY r.time_created DESC"
	if s.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, s.Limit, s.Offset)
	}

	var runs []*Run
	err := db.withLock(func() error {
		rows, err := db.conn.Query(query, args...)
		if err != nil {
			return fmt.Errorf("failed to search runs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			r := &Run{}
			var created int64
			if err := rows.Scan(&r.ID, &r.JobID, &r.Num, &created, &r.BeginActionID, &r.BuildID, &r.EndActionID); err != nil {
				return fmt.Errorf("failed to scan run: %w", err)
			}
			r.TimeCreated = time.Unix(created, 0).UTC()
			runs = append(runs, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}
