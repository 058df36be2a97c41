// Package throttle implements the sliding-window attempt limiter shared by
// the auth, obtain and verify phases and by the account lockout guard.
package throttle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/stepgate/internal/cache"
	"github.com/BradenHooton/stepgate/internal/models"
)

// Throttle scopes
const (
	ScopeAuth        = "2fa-auth"
	ScopeObtain      = "2fa-obtain"
	ScopeVerify      = "2fa-verify"
	ScopeUserLockout = "user-auth-security"
)

// RateThrottle keeps a bounded history of attempt timestamps per identity
// inside a trailing window. Histories live in the shared store under
// "throttle:{scope}:{ident}" with TTL equal to the window.
//
// Reads and writes are not atomic. Concurrent checks for the same identity
// at the cap may each observe "allowed", so up to (racers - 1) extra
// attempts can be recorded beyond MaxAttempts.
type RateThrottle struct {
	store     cache.Store
	scope     string
	condition models.ThrottleCondition
	enabled   func() bool
	now       func() time.Time
}

// Option configures a RateThrottle
type Option func(*RateThrottle)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *RateThrottle) {
		t.now = now
	}
}

// WithEnabled sets the switch consulted before every write. When it reports
// false, histories are never persisted and every identity stays allowed.
func WithEnabled(enabled func() bool) Option {
	return func(t *RateThrottle) {
		t.enabled = enabled
	}
}

// New creates a RateThrottle for scope
func New(store cache.Store, scope string, condition models.ThrottleCondition, opts ...Option) *RateThrottle {
	t := &RateThrottle{
		store:     store,
		scope:     scope,
		condition: condition,
		enabled:   func() bool { return true },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Scope returns the throttle scope name
func (t *RateThrottle) Scope() string {
	return t.scope
}

// Condition returns the attempt budget of the throttle
func (t *RateThrottle) Condition() models.ThrottleCondition {
	return t.condition
}

// Check records an attempt for ident unless its budget is already spent
func (t *RateThrottle) Check(ctx context.Context, ident string) (*models.ThrottleStatus, error) {
	return t.check(ctx, ident, true)
}

// Peek reports the status of ident without recording an attempt
func (t *RateThrottle) Peek(ctx context.Context, ident string) (*models.ThrottleStatus, error) {
	return t.check(ctx, ident, false)
}

func (t *RateThrottle) check(ctx context.Context, ident string, increase bool) (*models.ThrottleStatus, error) {
	now := t.now()

	history, err := t.history(ctx, ident, now)
	if err != nil {
		return nil, err
	}

	// Once locked, the history stops growing
	if len(history) >= t.condition.MaxAttempts {
		return t.status(history, false, now), nil
	}

	if increase {
		history = append(history, now)
		if err := t.save(ctx, ident, history); err != nil {
			return nil, err
		}
	}

	return t.status(history, true, now), nil
}

// IncreaseAttempts unconditionally records an attempt for ident
func (t *RateThrottle) IncreaseAttempts(ctx context.Context, ident string) (*models.ThrottleStatus, error) {
	now := t.now()

	history, err := t.history(ctx, ident, now)
	if err != nil {
		return nil, err
	}

	history = append(history, now)
	if err := t.save(ctx, ident, history); err != nil {
		return nil, err
	}

	return t.status(history, len(history) <= t.condition.MaxAttempts, now), nil
}

// Reset forgets the history of ident
func (t *RateThrottle) Reset(ctx context.Context, ident string) error {
	if err := t.store.Delete(ctx, t.key(ident)); err != nil {
		return fmt.Errorf("reset %s throttle: %w", t.scope, err)
	}
	return nil
}

func (t *RateThrottle) status(history []time.Time, allowed bool, now time.Time) *models.ThrottleStatus {
	return &models.ThrottleStatus{
		History:   history,
		Condition: t.condition,
		IsAllowed: allowed,
		Timestamp: now,
	}
}

// history loads the stored attempts and drops those outside the window.
// Entries are stored oldest first.
func (t *RateThrottle) history(ctx context.Context, ident string, now time.Time) ([]time.Time, error) {
	data, err := t.store.Get(ctx, t.key(ident))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return []time.Time{}, nil
		}
		return nil, fmt.Errorf("load %s throttle history: %w", t.scope, err)
	}

	var history []time.Time
	if err := json.Unmarshal(data, &history); err != nil {
		// Unreadable history is treated as empty; the next save overwrites it
		return []time.Time{}, nil
	}

	cutoff := now.Add(-t.condition.Window)
	start := 0
	for start < len(history) && !history[start].After(cutoff) {
		start++
	}

	return history[start:], nil
}

func (t *RateThrottle) save(ctx context.Context, ident string, history []time.Time) error {
	if !t.enabled() {
		return nil
	}

	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode %s throttle history: %w", t.scope, err)
	}

	if err := t.store.Set(ctx, t.key(ident), data, t.condition.Window); err != nil {
		return fmt.Errorf("save %s throttle history: %w", t.scope, err)
	}
	return nil
}

func (t *RateThrottle) key(ident string) string {
	return "throttle:" + t.scope + ":" + ident
}
