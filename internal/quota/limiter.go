package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/mailgate/mailgate/internal/models"
)

// Decision is the explicit result of a limiter call. When Allowed is
// true, Count is the committed new counter value; when false, Count is
// the untouched current value and RetryAfter says when the window
// resets. The limiter never signals denial through errors.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int           // effective daily limit used for the comparison
	RetryAfter time.Duration // seconds until next UTC midnight, set on denial
}

// Remaining returns the quota left after this decision, clamped at zero.
func (d Decision) Remaining() int {
	remaining := d.Limit - d.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Usage is the status snapshot reported to callers.
type Usage struct {
	DailyLimit int       `json:"daily_limit"`
	UsedToday  int       `json:"used_today"`
	Remaining  int       `json:"remaining"`
	ResetsAt   time.Time `json:"resets_at_utc"`
}

// Limiter enforces the per-key daily quota on top of the ledger.
// Increments for the same (key, day) are serialized by the ledger's
// row exclusivity; any internal error denies the request (fail closed).
type Limiter struct {
	ledger       *Ledger
	defaultLimit int
	now          func() time.Time
	logger       *slog.Logger
}

func NewLimiter(ledger *Ledger, defaultLimit int, logger *slog.Logger) *Limiter {
	return &Limiter{
		ledger:       ledger,
		defaultLimit: defaultLimit,
		now:          time.Now,
		logger:       logger,
	}
}

// CheckAndIncrement decides whether key may send n more messages today
// and, if so, commits the counter increment. n == 0 is a peek: it runs
// the same limit comparison but never touches stored state.
//
// Creation races on the counter row are retried once; a second
// collision, like any other storage error, denies the request.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key *models.APIKey, n int) Decision {
	now := l.now()
	day := Day(now)
	limit := key.EffectiveDailyLimit(l.defaultLimit)

	if n == 0 {
		return l.peek(ctx, key.ID, day, limit, now)
	}

	decision, err := l.tryIncrement(ctx, key.ID, day, limit, n, now)
	if err != nil && retryable(err) {
		decision, err = l.tryIncrement(ctx, key.ID, day, limit, n, now)
	}
	if err != nil {
		l.logger.Error("quota check failed, denying request",
			"api_key_id", key.ID,
			"day", day,
			"requested", n,
			"error", err,
		)
		return Decision{
			Allowed:    false,
			Count:      0,
			Limit:      limit,
			RetryAfter: untilNextMidnightUTC(now),
		}
	}

	if !decision.Allowed {
		l.logger.Warn("daily quota exceeded",
			"api_key_id", key.ID,
			"day", day,
			"current_count", decision.Count,
			"effective_limit", limit,
			"requested", n,
		)
	}

	return decision
}

// Usage reports the current quota status for key without consuming any
// of it.
func (l *Limiter) Usage(ctx context.Context, key *models.APIKey) Usage {
	decision := l.CheckAndIncrement(ctx, key, 0)
	return Usage{
		DailyLimit: decision.Limit,
		UsedToday:  decision.Count,
		Remaining:  decision.Remaining(),
		ResetsAt:   nextMidnightUTC(l.now()),
	}
}

func (l *Limiter) tryIncrement(ctx context.Context, keyID, day string, limit, n int, now time.Time) (Decision, error) {
	tx, err := l.ledger.Begin(ctx)
	if err != nil {
		return Decision{}, err
	}

	newCount, err := l.ledger.Increment(ctx, tx, keyID, day, n)
	if err != nil {
		tx.Rollback()
		return Decision{}, err
	}

	if newCount > limit {
		// Over the ceiling: discard the uncommitted increment.
		if err := tx.Rollback(); err != nil {
			return Decision{}, err
		}
		return Decision{
			Allowed:    false,
			Count:      newCount - n,
			Limit:      limit,
			RetryAfter: untilNextMidnightUTC(now),
		}, nil
	}

	if err := tx.Commit(); err != nil {
		return Decision{}, err
	}

	return Decision{
		Allowed: true,
		Count:   newCount,
		Limit:   limit,
	}, nil
}

func (l *Limiter) peek(ctx context.Context, keyID, day string, limit int, now time.Time) Decision {
	count, err := l.ledger.Read(ctx, keyID, day)
	if err != nil {
		l.logger.Error("quota peek failed, reporting no remaining quota",
			"api_key_id", keyID,
			"day", day,
			"error", err,
		)
		return Decision{
			Allowed:    false,
			Count:      0,
			Limit:      limit,
			RetryAfter: untilNextMidnightUTC(now),
		}
	}

	if count > limit {
		return Decision{
			Allowed:    false,
			Count:      count,
			Limit:      limit,
			RetryAfter: untilNextMidnightUTC(now),
		}
	}

	return Decision{
		Allowed: true,
		Count:   count,
		Limit:   limit,
	}
}

// nextMidnightUTC returns the start of the next UTC calendar day.
func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// untilNextMidnightUTC returns the time left in the current quota
// window, rounded up to whole seconds.
func untilNextMidnightUTC(now time.Time) time.Duration {
	d := nextMidnightUTC(now).Sub(now.UTC())
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}
