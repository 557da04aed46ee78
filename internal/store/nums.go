package store

import (
	"database/sql"
	"fmt"
)

// nextNum reads max(num)+1 for the given table/parent-column/parent-id
// inside the caller's transaction, guaranteeing a dense, strictly
// increasing, never-reused sequence: the read and the
// subsequent insert (done by the caller using the same tx) are
// serialized by DB.withTx's connection mutex, so no other goroutine in
// this process can observe or claim the same num concurrently.
func nextNum(tx *sql.Tx, table, parentCol string, parentID int64) (int64, error) {
	var num int64
	query := fmt.Sprintf(`SELECT COALESCE(MAX(num), 0) + 1 FROM %s WHERE %s = ?`, table, parentCol)
	if err := tx.QueryRow(query, parentID).Scan(&num); err != nil {
		return 0, fmt.Errorf("failed to allocate num on %s: %w", table, err)
	}
	return num, nil
}
