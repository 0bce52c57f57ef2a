// Package models contains the persistent types shared by the gateway's
// repositories.
package models

import (
	"strings"
	"time"
)

// APIKey represents an API key record for send authentication
type APIKey struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	KeyHash           string     `json:"-"`                  // bcrypt hash, never expose
	KeyPrefix         string     `json:"key_prefix"`         // First chars of the key for display/lookup
	DailyLimit        int        `json:"daily_limit"`        // Per-key daily quota (<=0 = use system default)
	AllowedRecipients []string   `json:"allowed_recipients"` // Recipients the key may send to (empty = any)
	Active            bool       `json:"active"`
	CreatedAt         time.Time  `json:"created_at"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}

// EffectiveDailyLimit resolves the daily quota for this key. The per-key
// override applies only when it is strictly positive; zero or negative
// values mean "unset" and fall back to the system default.
func (k *APIKey) EffectiveDailyLimit(systemDefault int) int {
	if k.DailyLimit > 0 {
		return k.DailyLimit
	}
	return systemDefault
}

// AllowsRecipient checks if the key may send to the given address.
// An empty allowlist permits any recipient.
func (k *APIKey) AllowsRecipient(addr string) bool {
	if len(k.AllowedRecipients) == 0 {
		return true
	}
	addr = strings.ToLower(strings.TrimSpace(addr))
	for _, allowed := range k.AllowedRecipients {
		if strings.ToLower(strings.TrimSpace(allowed)) == addr {
			return true
		}
	}
	return false
}

// APIKeyFilter for listing API keys
type APIKeyFilter struct {
	Search string
	Limit  int
	Offset int
}

// APIKeyWithStats includes all-time usage statistics
type APIKeyWithStats struct {
	APIKey
	TotalSent int `json:"total_sent"`
}

// APIKeyCreateResult returned when creating a new key.
// Contains the full key which is shown only once.
type APIKeyCreateResult struct {
	APIKey
	Key string `json:"key"` // Full key, shown only on creation
}

// DailyUsage is the quota counter for one key on one UTC calendar day.
// At most one row exists per (api_key_id, day); the uniqueness is
// enforced by the schema, not by application logic.
type DailyUsage struct {
	ID       int64  `json:"id"`
	APIKeyID string `json:"api_key_id"`
	Day      string `json:"day"` // UTC date, YYYY-MM-DD
	Count    int    `json:"count"`
}

// SendLog is the audit record for one accepted send. MessageID starts
// empty and is resolved exactly once after the delivery attempt
// completes; an empty value after completion means the delivery failed.
type SendLog struct {
	ID        string    `json:"id"`
	APIKeyID  string    `json:"api_key_id"`
	Recipient string    `json:"recipient"`
	MessageID string    `json:"message_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
