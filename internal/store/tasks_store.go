package store

import (
	"database/sql"
	"fmt"
	"time"
)

// illegal transitions: any target not reachable from the current status.
var legalTransitions = map[StatusKind]map[StatusKind]bool{
	StatusPending: {StatusRunning: true, StatusCanceled: true},
	StatusRunning: {StatusSuccess: true, StatusError: true, StatusCanceled: true},
}

// ErrIllegalTransition is returned by SetStatus when the requested
// transition does not follow pending -> running -> {success,error,canceled}
// or pending -> canceled.
var ErrIllegalTransition = fmt.Errorf("illegal task status transition")

// NewTask creates a pending task record and returns its id.
func (db *DB) NewTask() (int64, error) {
	var id int64
	err := db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO tasks (status, log_buffer) VALUES (?, '')`,
			StatusPending,
		)
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// SetStatus performs the monotonic status transition for taskID,
// recording time_started on entry to running and time_finished on entry
// to any terminal state. Rejects illegal transitions.
func (db *DB) SetStatus(taskID int64, status StatusKind) error {
	return db.withTx(func(tx *sql.Tx) error {
		var current StatusKind
		if err := tx.QueryRow(`SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&current); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("task not found: %d", taskID)
			}
			return fmt.Errorf("failed to read task status: %w", err)
		}

		if current == status {
			return nil
		}
		if !legalTransitions[current][status] {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, status)
		}

		now := time.Now().Unix()
		switch {
		case status == StatusRunning:
			_, err := tx.Exec(`UPDATE tasks SET status = ?, time_started = ? WHERE id = ?`, status, now, taskID)
			return err
		case status.IsTerminal():
			_, err := tx.Exec(`UPDATE tasks SET status = ?, time_finished = ? WHERE id = ?`, status, now, taskID)
			return err
		default:
			_, err := tx.Exec(`UPDATE tasks SET status = ? WHERE id = ?`, status, taskID)
			return err
		}
	})
}

// AppendLog appends a newline-terminated chunk to taskID's log buffer.
func (db *DB) AppendLog(taskID int64, chunk string) error {
	if len(chunk) == 0 {
		return nil
	}
	if chunk[len(chunk)-1] != '\n' {
		chunk += "\n"
	}
	return db.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE tasks SET log_buffer = log_buffer || ? WHERE id = ?`, chunk, taskID)
		if err != nil {
			return fmt.Errorf("failed to append log: %w", err)
		}
		return nil
	})
}

// ReadLog returns the full accumulated log buffer for taskID.
func (db *DB) ReadLog(taskID int64) (string, error) {
	var buf string
	err := db.withLock(func() error {
		return db.conn.QueryRow(`SELECT log_buffer FROM tasks WHERE id = ?`, taskID).Scan(&buf)
	})
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("task not found: %d", taskID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read log: %w", err)
	}
	return buf, nil
}

// GetTask returns the full task record.
func (db *DB) GetTask(taskID int64) (*Task, error) {
	t := &Task{}
	err := db.withLock(func() error {
		return db.conn.QueryRow(
			`SELECT id, status, time_started, time_finished, log_buffer FROM tasks WHERE id = ?`,
			taskID,
		).Scan(&t.ID, &t.Status, scanUnixPtr(&t.TimeStarted), scanUnixPtr(&t.TimeFinished), &t.LogBuffer)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// Status returns just the status kind for taskID.
func (db *DB) Status(taskID int64) (StatusKind, error) {
	var status StatusKind
	err := db.withLock(func() error {
		return db.conn.QueryRow(`SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&status)
	})
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("task not found: %d", taskID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read status: %w", err)
	}
	return status, nil
}

// Reconcile implements the startup fixup: any task left in
// {pending, running} when the process starts (because no in-process
// executor survived the prior process's exit) is rewritten to error,
// with "interrupted" appended to its log.
func (db *DB) Reconcile() (int, error) {
	var n int
	err := db.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(
			`SELECT id FROM tasks WHERE status IN (?, ?)`,
			StatusPending, StatusRunning,
		)
		if err != nil {
			return fmt.Errorf("failed to query interrupted tasks: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now().Unix()
		for _, id := range ids {
			if _, err := tx.Exec(
				`UPDATE tasks SET status = ?, time_finished = ?, log_buffer = log_buffer || ? WHERE id = ?`,
				StatusError, now, "interrupted\n", id,
			); err != nil {
				return fmt.Errorf("failed to reconcile task %d: %w", id, err)
			}
			n++
		}
		return nil
	})
	return n, err
}

// scanUnixPtr adapts a *time.Time field to sql.Scan against a nullable
// INTEGER unix-seconds column.
func scanUnixPtr(dst **time.Time) *unixTimeScanner {
	return &unixTimeScanner{dst: dst}
}

type unixTimeScanner struct {
	dst **time.Time
}

func (s *unixTimeScanner) Scan(src any) error {
	if src == nil {
		*s.dst = nil
		return nil
	}
	var secs int64
	switch v := src.(type) {
	case int64:
		secs = v
	default:
		return fmt.Errorf("unsupported unix time type %T", src)
	}
	t := time.Unix(secs, 0).UTC()
	*s.dst = &t
	return nil
}
