package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/stepgate/internal/cache"
	"github.com/BradenHooton/stepgate/internal/metrics"
	"github.com/BradenHooton/stepgate/internal/models"
	"github.com/BradenHooton/stepgate/internal/throttle"
	pkglogger "github.com/BradenHooton/stepgate/pkg/logger"
)

// UserLookup resolves accounts by username
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// LockoutConfig holds the failed login budget and notification cooldown
type LockoutConfig struct {
	MaxAttempts    int
	Window         time.Duration
	NotifyCooldown time.Duration
}

// LockoutService counts failed logins per username, independently of the
// per-request throttles. When the budget is spent the counter starts over
// and the account holder is notified at most once per cooldown.
//
// Every failure here is logged and swallowed: the login flow never depends
// on the guard.
type LockoutService struct {
	throttle *throttle.RateThrottle
	store    cache.Store
	users    UserLookup
	sender   EmailSender
	config   LockoutConfig
	metrics  *metrics.Metrics
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
	now      func() time.Time
}

// NewLockoutService creates a LockoutService. The throttle must use the
// user lockout scope.
func NewLockoutService(
	failures *throttle.RateThrottle,
	store cache.Store,
	users UserLookup,
	sender EmailSender,
	config LockoutConfig,
	m *metrics.Metrics,
	audit *pkglogger.AuditLogger,
	logger *slog.Logger,
	now func() time.Time,
) *LockoutService {
	if now == nil {
		now = time.Now
	}
	return &LockoutService{
		throttle: failures,
		store:    store,
		users:    users,
		sender:   sender,
		config:   config,
		metrics:  m,
		audit:    audit,
		logger:   logger,
		now:      now,
	}
}

// AddFailedLoginAttempt records a failed login for username from ip.
// Unknown usernames are ignored.
func (s *LockoutService) AddFailedLoginAttempt(ctx context.Context, username, ip string) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("lockout: failed to look up user",
				slog.String("username", username),
				slog.Any("error", err))
		}
		return
	}

	status, err := s.throttle.IncreaseAttempts(ctx, username)
	if err != nil {
		s.logger.Error("lockout: failed to record attempt",
			slog.String("username", username),
			slog.Any("error", err))
		return
	}

	if !status.IsSpentAllAttempts() {
		return
	}

	if err := s.throttle.Reset(ctx, username); err != nil {
		s.logger.Error("lockout: failed to reset counter",
			slog.String("username", username),
			slog.Any("error", err))
	}

	s.notify(ctx, user, ip)
}

func (s *LockoutService) notify(ctx context.Context, user *models.User, ip string) {
	key := "notification-about-login-attempts:" + user.ID

	if _, err := s.store.Get(ctx, key); err == nil {
		return
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Error("lockout: failed to read notification flag",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return
	}

	now := s.now()

	if user.Email != "" {
		subject, body := lockoutNotificationEmail(user, ip, now)
		if err := s.sender.SendEmail(ctx, user.Email, subject, body); err != nil {
			s.logger.Error("lockout: failed to send notification",
				slog.String("user_id", user.ID),
				slog.Any("error", err))
		}
	}

	if err := s.store.Set(ctx, key, []byte(now.UTC().Format(time.RFC3339)), s.config.NotifyCooldown); err != nil {
		s.logger.Error("lockout: failed to store notification flag",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	s.metrics.IncrementLockoutNotification()
	if s.audit != nil {
		s.audit.LogTwoFactorEvent(ctx, pkglogger.AuditEvent{
			EventType: pkglogger.EventLockoutNotified,
			UserID:    user.ID,
			Username:  user.Username,
			IPAddress: ip,
			Scope:     throttle.ScopeUserLockout,
			Success:   true,
		})
	}
}
