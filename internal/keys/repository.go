// Package keys manages API key records: creation, secret resolution and
// activation state. Secrets are stored as bcrypt hashes; resolution
// narrows candidates by key prefix before the bcrypt comparison.
package keys

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mailgate/mailgate/internal/models"
)

// keyPrefixLen covers the "mg_" marker plus the first 8 hex chars.
const keyPrefixLen = 11

var (
	ErrNotFound = errors.New("API key not found")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateOptions contains options for creating an API key
type CreateOptions struct {
	Name              string
	DailyLimit        int // <=0 means "use system default"
	AllowedRecipients []string
}

// Create creates a new API key and returns the full key (only shown once)
func (r *Repository) Create(ctx context.Context, opts CreateOptions) (*models.APIKeyCreateResult, error) {
	// Generate random key
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	key := "mg_" + hex.EncodeToString(keyBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash key: %w", err)
	}

	recipientsJSON, err := json.Marshal(opts.AllowedRecipients)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize allowed recipients: %w", err)
	}

	apiKey := &models.APIKey{
		ID:                uuid.New().String(),
		Name:              opts.Name,
		KeyHash:           string(hash),
		KeyPrefix:         key[:keyPrefixLen],
		DailyLimit:        opts.DailyLimit,
		AllowedRecipients: opts.AllowedRecipients,
		Active:            true,
		CreatedAt:         time.Now().UTC(),
	}

	var dailyLimit sql.NullInt64
	if opts.DailyLimit > 0 {
		dailyLimit = sql.NullInt64{Int64: int64(opts.DailyLimit), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, daily_limit, allowed_recipients, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		apiKey.ID, apiKey.Name, apiKey.KeyHash, apiKey.KeyPrefix,
		dailyLimit, string(recipientsJSON), 1, apiKey.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return &models.APIKeyCreateResult{
		APIKey: *apiKey,
		Key:    key,
	}, nil
}

// GetByID returns an API key by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, key_hash, key_prefix, COALESCE(daily_limit, 0),
		       allowed_recipients, active, created_at, last_used_at
		FROM api_keys WHERE id = ?`, id)

	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

// Resolve maps a presented secret to its API key record. The returned
// key may be inactive; callers decide how to treat that. Returns
// ErrNotFound when no key matches.
func (r *Repository) Resolve(ctx context.Context, secret string) (*models.APIKey, error) {
	if len(secret) < keyPrefixLen {
		return nil, ErrNotFound
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, key_hash, key_prefix, COALESCE(daily_limit, 0),
		       allowed_recipients, active, created_at, last_used_at
		FROM api_keys WHERE key_prefix = ?`, secret[:keyPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("failed to query API keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(secret)) == nil {
			return k, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return nil, ErrNotFound
}

// List returns API keys with all-time send counts
func (r *Repository) List(ctx context.Context, filter models.APIKeyFilter) ([]models.APIKeyWithStats, error) {
	query := `
		SELECT k.id, k.name, k.key_hash, k.key_prefix, COALESCE(k.daily_limit, 0),
		       k.allowed_recipients, k.active, k.created_at, k.last_used_at,
		       COALESCE(s.total_sent, 0)
		FROM api_keys k
		LEFT JOIN (
			SELECT api_key_id, COUNT(*) as total_sent
			FROM send_logs
			GROUP BY api_key_id
		) s ON k.id = s.api_key_id
		WHERE 1=1`
	args := []any{}

	if filter.Search != "" {
		query += " AND k.name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	query += " ORDER BY k.created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.APIKeyWithStats
	for rows.Next() {
		var k models.APIKeyWithStats
		var recipientsJSON sql.NullString
		var lastUsedAt sql.NullTime
		var active int

		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.DailyLimit,
			&recipientsJSON, &active, &k.CreatedAt, &lastUsedAt, &k.TotalSent); err != nil {
			return nil, err
		}

		k.Active = active != 0
		k.AllowedRecipients = parseRecipients(recipientsJSON)
		if lastUsedAt.Valid {
			k.LastUsedAt = &lastUsedAt.Time
		}

		result = append(result, k)
	}

	return result, rows.Err()
}

// UpdateLastUsed updates the last_used_at timestamp
func (r *Repository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = ? WHERE id = ?", time.Now().UTC(), id)
	return err
}

// Deactivate soft-disables an API key. Keys are never hard-deleted
// because usage and audit rows reference them.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	return r.setActive(ctx, id, 0)
}

// Activate re-enables an API key
func (r *Repository) Activate(ctx context.Context, id string) error {
	return r.setActive(ctx, id, 1)
}

func (r *Repository) setActive(ctx context.Context, id string, active int) error {
	result, err := r.db.ExecContext(ctx, "UPDATE api_keys SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(s scanner) (*models.APIKey, error) {
	k := &models.APIKey{}
	var recipientsJSON sql.NullString
	var lastUsedAt sql.NullTime
	var active int

	err := s.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.DailyLimit,
		&recipientsJSON, &active, &k.CreatedAt, &lastUsedAt)
	if err != nil {
		return nil, err
	}

	k.Active = active != 0
	k.AllowedRecipients = parseRecipients(recipientsJSON)
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Time
	}

	return k, nil
}

func parseRecipients(v sql.NullString) []string {
	if !v.Valid || v.String == "" || v.String == "null" {
		return nil
	}
	var recipients []string
	if err := json.Unmarshal([]byte(v.String), &recipients); err != nil {
		return nil
	}
	return recipients
}
