// Package audit keeps the append-only send log: one row per accepted
// delivery attempt, created before dispatch and resolved with the
// delivery outcome afterwards.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailgate/mailgate/internal/models"
)

type Log struct {
	db *sql.DB
}

func NewLog(db *sql.DB) *Log {
	return &Log{db: db}
}

// Create inserts the audit row for one accepted recipient with the
// delivery identifier unset, and returns the row ID. Called only after
// the quota increment has committed; a denied request never reaches
// this point.
func (l *Log) Create(ctx context.Context, keyID, recipient string) (string, error) {
	id := uuid.New().String()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO send_logs (id, api_key_id, recipient, message_id, created_at)
		VALUES (?, ?, ?, NULL, ?)`,
		id, keyID, recipient, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create send log: %w", err)
	}
	return id, nil
}

// SetMessageID resolves the audit row with the delivery outcome. An
// empty messageID records an explicit failure (the column stays NULL
// rather than ambiguous). Runs on the pool's own connection so it never
// participates in a request transaction.
func (l *Log) SetMessageID(ctx context.Context, id, messageID string) error {
	var value sql.NullString
	if messageID != "" {
		value = sql.NullString{String: messageID, Valid: true}
	}

	result, err := l.db.ExecContext(ctx,
		"UPDATE send_logs SET message_id = ? WHERE id = ?", value, id)
	if err != nil {
		return fmt.Errorf("failed to update send log: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("send log %s not found", id)
	}
	return nil
}

// Get returns a single audit record by ID
func (l *Log) Get(ctx context.Context, id string) (*models.SendLog, error) {
	var rec models.SendLog
	var messageID sql.NullString

	err := l.db.QueryRowContext(ctx, `
		SELECT id, api_key_id, recipient, message_id, created_at
		FROM send_logs WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.APIKeyID, &rec.Recipient, &messageID, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.MessageID = messageID.String
	return &rec, nil
}

// ListByKey returns the most recent audit records for one API key
func (l *Log) ListByKey(ctx context.Context, keyID string, limit int) ([]models.SendLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, api_key_id, recipient, message_id, created_at
		FROM send_logs
		WHERE api_key_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, keyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.SendLog
	for rows.Next() {
		var rec models.SendLog
		var messageID sql.NullString
		if err := rows.Scan(&rec.ID, &rec.APIKeyID, &rec.Recipient, &messageID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.MessageID = messageID.String
		records = append(records, rec)
	}

	return records, rows.Err()
}

// TotalSent returns the all-time number of accepted sends for a key
func (l *Log) TotalSent(ctx context.Context, keyID string) (int, error) {
	var total int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM send_logs WHERE api_key_id = ?", keyID,
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}
