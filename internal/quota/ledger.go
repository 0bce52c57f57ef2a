// Package quota implements the per-key daily sending quota: a counter
// row per (API key, UTC day) with atomic check-and-increment semantics.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Ledger is the storage primitive beneath the limiter. One counter row
// exists per (api_key_id, day); the row is created lazily by the first
// increment and the uniqueness constraint resolves creation races.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Begin opens the transaction that scopes one check-and-increment.
// The increment must stay uncommitted until the limit comparison has
// passed, so the caller owns the commit/rollback decision.
func (l *Ledger) Begin(ctx context.Context) (*sql.Tx, error) {
	return l.db.BeginTx(ctx, nil)
}

// Increment applies the counter arithmetic for (keyID, day) inside tx
// and returns the new count. The upsert creates the row on first use
// and adds to it afterwards, as a single atomic statement; SQLite's
// write lock serializes concurrent increments for the same row until
// the transaction resolves.
func (l *Ledger) Increment(ctx context.Context, tx *sql.Tx, keyID, day string, n int) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO daily_usage (api_key_id, day, count)
		VALUES (?, ?, ?)
		ON CONFLICT(api_key_id, day)
		DO UPDATE SET count = count + excluded.count
		RETURNING count`,
		keyID, day, n,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage counter: %w", err)
	}
	return count, nil
}

// Read returns the counter for (keyID, day) without locking. Missing
// rows read as zero. Used only for status paths that tolerate a stale
// value, never for limit decisions.
func (l *Ledger) Read(ctx context.Context, keyID, day string) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx,
		"SELECT count FROM daily_usage WHERE api_key_id = ? AND day = ?",
		keyID, day,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage counter: %w", err)
	}
	return count, nil
}

// Day formats t as the UTC calendar day used as the ledger key.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// retryable reports whether err is a transient storage conflict worth
// one re-attempt: a lost insert race or a busy writer.
func retryable(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy ||
			se.Code == sqlite3.ErrLocked ||
			se.Code == sqlite3.ErrConstraint
	}
	return false
}
