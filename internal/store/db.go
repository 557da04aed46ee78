// Package store persists the CI orchestrator's entities (projects,
// jobsets, evaluations, jobs, runs, actions, builds) and their task
// status records in a single sqlite database, and holds the connection
// mutex that serializes writes and dense num allocation.
//
// A single modernc.org/sqlite connection, WAL mode, foreign keys on,
// schema applied with CREATE TABLE IF NOT EXISTS.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite connection and the write mutex that serializes
// transactions: a single connection guarded by a mutex.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
}

// Open creates or opens a sqlite database at path, enabling WAL mode and
// foreign keys, and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// withLock serializes access to the single connection. All writes are
// transactional; reads share the lock.
func (db *DB) withLock(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn()
}

// withTx runs fn inside a transaction, serialized by the connection
// mutex. Since the mutex already excludes every other writer in this
// process for the duration of fn, a plain transaction is sufficient to
// make "read max(num)+1, then insert" race-free: there is only ever
// one goroutine inside a transaction at a time.
func (db *DB) withTx(fn func(*sql.Tx) error) error {
	return db.withLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}
