// Package dispatch ties the accept path together: recipient checks,
// quota commit, audit rows, and spooling for async delivery.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mailgate/mailgate/internal/audit"
	"github.com/mailgate/mailgate/internal/email"
	"github.com/mailgate/mailgate/internal/keys"
	"github.com/mailgate/mailgate/internal/models"
	"github.com/mailgate/mailgate/internal/quota"
	"github.com/mailgate/mailgate/internal/queue"
)

// InvalidRecipientError reports a syntactically invalid recipient
// address. Maps to 400.
type InvalidRecipientError struct {
	Recipient string
}

func (e *InvalidRecipientError) Error() string {
	return fmt.Sprintf("invalid recipient address: %s", e.Recipient)
}

// RecipientNotAllowedError reports a recipient rejected by the global
// domain allowlist or the key's recipient allowlist. Maps to 403.
type RecipientNotAllowedError struct {
	Recipient string
}

func (e *RecipientNotAllowedError) Error() string {
	return fmt.Sprintf("recipient not allowed: %s", e.Recipient)
}

// RateLimitedError reports a denied quota decision. Maps to 429.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("daily quota exceeded, retry after %s", e.RetryAfter)
}

// Config contains orchestrator settings
type Config struct {
	DefaultFrom    string
	AllowedDomains []string // empty means any domain
}

// Request is one accepted-or-rejected send attempt
type Request struct {
	To       []string
	Subject  string
	HTML     string
	Text     string
	Headers  map[string]string
	ClientIP string
}

// Result is returned on acceptance
type Result struct {
	SpoolID   string
	MessageID string
	Remaining int
}

// Orchestrator runs the accept path in its fixed order: recipient
// checks first, then the quota commit, then audit rows, then the spool.
// Nothing is recorded for a rejected request, and a spooled message
// that later fails delivery never refunds quota.
type Orchestrator struct {
	cfg     Config
	keys    *keys.Repository
	limiter *quota.Limiter
	audit   *audit.Log
	spool   queue.Queue
	logger  *slog.Logger
}

func New(cfg Config, keyRepo *keys.Repository, limiter *quota.Limiter, auditLog *audit.Log, spool queue.Queue, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		keys:    keyRepo,
		limiter: limiter,
		audit:   auditLog,
		spool:   spool,
		logger:  logger,
	}
}

// Send processes one send request for an authenticated key. The quota
// is charged len(req.To) units in a single atomic decision: either the
// whole request fits in today's window or none of it does.
func (o *Orchestrator) Send(ctx context.Context, key *models.APIKey, req Request) (*Result, error) {
	if len(req.To) == 0 {
		return nil, &InvalidRecipientError{Recipient: ""}
	}
	if req.HTML == "" && req.Text == "" {
		return nil, fmt.Errorf("message has no body")
	}

	recipients := make([]string, 0, len(req.To))
	for _, to := range req.To {
		addr := strings.TrimSpace(to)
		if !email.ValidAddress(addr) {
			return nil, &InvalidRecipientError{Recipient: to}
		}
		if !o.domainAllowed(addr) {
			return nil, &RecipientNotAllowedError{Recipient: addr}
		}
		if !key.AllowsRecipient(addr) {
			return nil, &RecipientNotAllowedError{Recipient: addr}
		}
		recipients = append(recipients, addr)
	}

	decision := o.limiter.CheckAndIncrement(ctx, key, len(recipients))
	if !decision.Allowed {
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	data, messageID := email.Build(&email.Message{
		From:    o.cfg.DefaultFrom,
		To:      recipients,
		Subject: req.Subject,
		HTML:    req.HTML,
		Text:    req.Text,
		Headers: req.Headers,
	})

	// Quota is committed at this point. Audit and spool failures are
	// surfaced as errors but never roll the counter back.
	auditIDs := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		auditID, err := o.audit.Create(ctx, key.ID, recipient)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit record: %w", err)
		}
		auditIDs = append(auditIDs, auditID)
	}

	msg := &queue.Message{
		ID:        uuid.New().String(),
		From:      o.cfg.DefaultFrom,
		To:        recipients,
		Data:      data,
		MessageID: messageID,
		AuditIDs:  auditIDs,
		Status:    queue.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		ClientIP:  req.ClientIP,
	}
	if err := o.spool.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to spool message: %w", err)
	}

	if err := o.keys.UpdateLastUsed(ctx, key.ID); err != nil {
		o.logger.Warn("failed to update key last_used_at", "api_key_id", key.ID, "error", err)
	}

	o.logger.Info("message accepted",
		"api_key_id", key.ID,
		"spool_id", msg.ID,
		"recipients", len(recipients),
		"remaining", decision.Remaining(),
	)

	return &Result{
		SpoolID:   msg.ID,
		MessageID: messageID,
		Remaining: decision.Remaining(),
	}, nil
}

// Usage reports the key's quota status without consuming any of it
func (o *Orchestrator) Usage(ctx context.Context, key *models.APIKey) quota.Usage {
	return o.limiter.Usage(ctx, key)
}

func (o *Orchestrator) domainAllowed(addr string) bool {
	if len(o.cfg.AllowedDomains) == 0 {
		return true
	}
	domain := email.ExtractDomain(addr)
	for _, allowed := range o.cfg.AllowedDomains {
		if strings.EqualFold(domain, allowed) {
			return true
		}
	}
	return false
}
