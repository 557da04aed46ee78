package store

import (
	"database/sql"
	"fmt"
)

// GetLiveBuild returns the Build for drv that is currently in
// {pending, running}, if any. At most one such build exists per drv.
func (db *DB) GetLiveBuild(drv string) (*Build, error) {
	b := &Build{}
	err := db.withLock(func() error {
		return db.conn.QueryRow(
			`SELECT b.id, b.drv, b.num, b.task_id
			 FROM builds b JOIN tasks t ON t.id = b.task_id
			 WHERE b.drv = ? AND t.status IN (?, ?)
			 ORDER BY b.num DESC LIMIT 1`,
			drv, StatusPending, StatusRunning,
		).Scan(&b.ID, &b.Drv, &b.Num, &b.TaskID)
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query live build: %w", err)
	}
	return b, nil
}

// CreateBuild allocates the next per-drv build num, creates a fresh
// pending task, and inserts the build row, all in one transaction. The
// caller (internal/build) holds its own in-process mutex around its
// lookup of live builds and CreateBuild to make the dedup
// check-then-create atomic at the application level; the database
// transaction alone only
// guarantees num density, not the absence of a concurrent duplicate
// build for the same drv (see internal/build/driver.go).
func (db *DB) CreateBuild(drv string) (*Build, error) {
	b := &Build{Drv: drv}
	err := db.withTx(func(tx *sql.Tx) error {
		// builds.num is keyed by the string drv rather than an integer
		// parent id, so allocate it directly instead of via nextNum.
		var num int64
		if err := tx.QueryRow(
			`SELECT COALESCE(MAX(num), 0) + 1 FROM builds WHERE drv = ?`, drv,
		).Scan(&num); err != nil {
			return fmt.Errorf("failed to allocate build num: %w", err)
		}

		res, err := tx.Exec(`INSERT INTO tasks (status, log_buffer) VALUES (?, '')`, StatusPending)
		if err != nil {
			return fmt.Errorf("failed to create build task: %w", err)
		}
		taskID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		res, err = tx.Exec(`INSERT INTO builds (drv, num, task_id) VALUES (?, ?, ?)`, drv, num, taskID)
		if err != nil {
			return fmt.Errorf("failed to create build: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		b.ID = id
		b.Num = num
		b.TaskID = taskID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBuild retrieves a build by id.
func (db *DB) GetBuild(id int64) (*Build, error) {
	b := &Build{}
	err := db.withLock(func() error {
		return db.conn.QueryRow(
			`SELECT id, drv, num, task_id FROM builds WHERE id = ?`, id,
		).Scan(&b.ID, &b.Drv, &b.Num, &b.TaskID)
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	return b, nil
}
