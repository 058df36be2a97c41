package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/stepgate/internal/cache"
	"github.com/BradenHooton/stepgate/internal/metrics"
	"github.com/BradenHooton/stepgate/internal/models"
	"github.com/BradenHooton/stepgate/internal/throttle"
	pkglogger "github.com/BradenHooton/stepgate/pkg/logger"
)

// UserAuthenticator checks primary credentials. It returns
// models.ErrUnauthorized when they do not match an account.
type UserAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
}

// StrategyOverride picks a strategy tag for a user. An empty tag means no
// override.
type StrategyOverride func(user *models.User) string

// UserTwoFactorType is the override that reads the tag stored on the account
func UserTwoFactorType(user *models.User) string {
	return user.TwoFactorType
}

// TwoFactorSettings is the runtime configuration of the two-factor flow
type TwoFactorSettings struct {
	Enabled           bool
	ThrottlingEnabled bool
	DefaultStrategy   string
	StrategyOverride  StrategyOverride // nil disables per-user overrides
	Auth              models.ThrottleCondition
	Obtain            models.ThrottleCondition
	Verify            models.ThrottleCondition
	Lockout           LockoutConfig
}

// Validate checks the settings against the registered strategies
func (s TwoFactorSettings) Validate(registry *StrategyRegistry) error {
	if !registry.Has(s.DefaultStrategy) {
		return fmt.Errorf("default strategy: %w: %q", models.ErrUnknownStrategy, s.DefaultStrategy)
	}

	conditions := map[string]models.ThrottleCondition{
		throttle.ScopeAuth:   s.Auth,
		throttle.ScopeObtain: s.Obtain,
		throttle.ScopeVerify: s.Verify,
		throttle.ScopeUserLockout: {
			MaxAttempts: s.Lockout.MaxAttempts,
			Window:      s.Lockout.Window,
		},
	}
	for scope, c := range conditions {
		if c.MaxAttempts < 1 || c.Window <= 0 {
			return fmt.Errorf("throttle %s: max attempts must be >= 1 and window > 0", scope)
		}
	}

	if s.Lockout.NotifyCooldown <= 0 {
		return errors.New("lockout notify cooldown must be > 0")
	}

	return nil
}

// twoFactorState is an immutable snapshot built from one settings value
type twoFactorState struct {
	settings TwoFactorSettings
	auth     *throttle.RateThrottle
	obtain   *throttle.RateThrottle
	verify   *throttle.RateThrottle
	lockout  *LockoutService
}

// TwoFactorRequest is one login attempt. The authenticated user and the
// resolved strategy are computed on first use and cached on the request,
// which must not be shared between goroutines.
type TwoFactorRequest struct {
	Username  string
	Password  string
	DeviceID  string // Client supplied, optional
	IP        string
	UserAgent string

	state *twoFactorState

	user         *models.User
	userResolved bool

	strategy         Strategy
	strategyResolved bool
}

// Ident is the throttling identity of the request
func (r *TwoFactorRequest) Ident() string {
	return r.Username + "-" + r.IP
}

// TwoFactorService decides whether a login needs a second factor, drives the
// obtain/verify protocol and enforces the auth, obtain and verify throttles.
// It keeps no per-request state; everything mutable lives in the store.
type TwoFactorService struct {
	users    UserAuthenticator
	lookup   UserLookup
	registry *StrategyRegistry
	direct   Strategy
	devices  *DeviceTrustService
	store    cache.Store
	sender   EmailSender
	metrics  *metrics.Metrics
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
	now      func() time.Time

	state atomic.Pointer[twoFactorState]
}

// TwoFactorOption configures a TwoFactorService
type TwoFactorOption func(*TwoFactorService)

// WithClock overrides the time source of the throttles and lockout guard
func WithClock(now func() time.Time) TwoFactorOption {
	return func(s *TwoFactorService) {
		s.now = now
	}
}

// WithMetrics records flow metrics
func WithMetrics(m *metrics.Metrics) TwoFactorOption {
	return func(s *TwoFactorService) {
		s.metrics = m
	}
}

// WithAuditLogger emits audit events for every decision
func WithAuditLogger(audit *pkglogger.AuditLogger) TwoFactorOption {
	return func(s *TwoFactorService) {
		s.audit = audit
	}
}

// NewTwoFactorService creates the orchestrator. The registry is fixed for
// the lifetime of the service; settings can be swapped with Reload.
func NewTwoFactorService(
	users UserAuthenticator,
	lookup UserLookup,
	registry *StrategyRegistry,
	devices *DeviceTrustService,
	store cache.Store,
	sender EmailSender,
	settings TwoFactorSettings,
	logger *slog.Logger,
	opts ...TwoFactorOption,
) (*TwoFactorService, error) {
	s := &TwoFactorService{
		users:    users,
		lookup:   lookup,
		registry: registry,
		devices:  devices,
		store:    store,
		sender:   sender,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if direct, err := registry.Get(StrategyDirect); err == nil {
		s.direct = direct
	} else {
		s.direct = NewDirectStrategy()
	}

	if err := s.Reload(settings); err != nil {
		return nil, err
	}

	return s, nil
}

// Reload validates settings and atomically replaces the active ones.
// Requests already in flight keep the snapshot they started with.
func (s *TwoFactorService) Reload(settings TwoFactorSettings) error {
	if err := settings.Validate(s.registry); err != nil {
		return fmt.Errorf("invalid two-factor settings: %w", err)
	}

	enabled := func() bool { return settings.ThrottlingEnabled }
	newThrottle := func(scope string, c models.ThrottleCondition) *throttle.RateThrottle {
		return throttle.New(s.store, scope, c, throttle.WithClock(s.now), throttle.WithEnabled(enabled))
	}

	lockoutThrottle := newThrottle(throttle.ScopeUserLockout, models.ThrottleCondition{
		MaxAttempts: settings.Lockout.MaxAttempts,
		Window:      settings.Lockout.Window,
	})

	s.state.Store(&twoFactorState{
		settings: settings,
		auth:     newThrottle(throttle.ScopeAuth, settings.Auth),
		obtain:   newThrottle(throttle.ScopeObtain, settings.Obtain),
		verify:   newThrottle(throttle.ScopeVerify, settings.Verify),
		lockout: NewLockoutService(lockoutThrottle, s.store, s.lookup, s.sender,
			settings.Lockout, s.metrics, s.audit, s.logger, s.now),
	})

	s.logger.Info("two-factor settings loaded",
		slog.Bool("enabled", settings.Enabled),
		slog.Bool("throttling_enabled", settings.ThrottlingEnabled),
		slog.String("default_strategy", settings.DefaultStrategy),
		slog.Bool("per_user_strategy", settings.StrategyOverride != nil))

	return nil
}

// Settings returns the active settings
func (s *TwoFactorService) Settings() TwoFactorSettings {
	return s.state.Load().settings
}

// Registry returns the strategy registry
func (s *TwoFactorService) Registry() *StrategyRegistry {
	return s.registry
}

// bind pins the request to the settings snapshot current at its first use
func (s *TwoFactorService) bind(req *TwoFactorRequest) *twoFactorState {
	if req.state == nil {
		req.state = s.state.Load()
	}
	return req.state
}

// User returns the authenticated user of req, nil when the credentials
// are wrong. Infrastructure errors are not cached.
func (s *TwoFactorService) User(ctx context.Context, req *TwoFactorRequest) (*models.User, error) {
	if req.userResolved {
		return req.user, nil
	}

	user, err := s.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, models.ErrUnauthorized) {
			return nil, fmt.Errorf("authenticate: %w", err)
		}
		user = nil
	}

	req.user, req.userResolved = user, true
	return user, nil
}

// Strategy returns the resolved strategy of req, nil when there is no
// active authenticated user
func (s *TwoFactorService) Strategy(ctx context.Context, req *TwoFactorRequest) (Strategy, error) {
	if req.strategyResolved {
		return req.strategy, nil
	}

	user, err := s.User(ctx, req)
	if err != nil {
		return nil, err
	}

	var strategy Strategy
	if user != nil && user.IsActive {
		strategy, err = s.resolveStrategy(ctx, s.bind(req), user, req.DeviceID)
		if err != nil {
			return nil, err
		}
	}

	req.strategy, req.strategyResolved = strategy, true
	return strategy, nil
}

func (s *TwoFactorService) resolveStrategy(ctx context.Context, st *twoFactorState, user *models.User, deviceID string) (Strategy, error) {
	if !st.settings.Enabled {
		return s.direct, nil
	}

	trusted, err := s.devices.HasDevice(ctx, user.ID, deviceID)
	if err != nil {
		return nil, err
	}
	if trusted {
		return s.direct, nil
	}

	if st.settings.StrategyOverride != nil {
		if tag := st.settings.StrategyOverride(user); tag != "" {
			strategy, err := s.registry.Get(tag)
			if err == nil {
				return strategy, nil
			}
			s.logger.Warn("ignoring unknown per-user strategy",
				slog.String("user_id", user.ID),
				slog.String("two_factor_type", tag))
		}
	}

	return s.registry.Get(st.settings.DefaultStrategy)
}

// GetStatus checks credentials and reports which strategy applies
func (s *TwoFactorService) GetStatus(ctx context.Context, req *TwoFactorRequest) (*models.TwoFactorStatus, error) {
	status, _, err := s.checkAuth(ctx, req)
	if err != nil {
		return nil, err
	}

	strategy, err := s.Strategy(ctx, req)
	if err != nil {
		return nil, err
	}

	return &models.TwoFactorStatus{
		Type:           strategy.Type(),
		Name:           strategy.Name(),
		ThrottleStatus: status,
	}, nil
}

// Obtain issues a second factor challenge. A successful obtain grants a
// fresh verify budget.
func (s *TwoFactorService) Obtain(ctx context.Context, req *TwoFactorRequest) (*models.ObtainResult, error) {
	_, user, err := s.checkAuth(ctx, req)
	if err != nil {
		return nil, err
	}

	st := s.bind(req)
	ident := req.Ident()

	status, err := st.obtain.Check(ctx, ident)
	if err != nil {
		return nil, err
	}
	if !status.IsAllowed {
		s.metrics.IncrementThrottleDenial(throttle.ScopeObtain)
		s.auditEvent(ctx, req, user, "", pkglogger.EventLockedOut, false, throttle.ScopeObtain, "obtain throttled")
		return nil, models.NewTwoFactorError(fmt.Sprintf(models.TooManyObtainsMessage, status.WaitingTimeString()), status)
	}

	strategy, err := s.Strategy(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := strategy.Obtain(ctx, user)
	if err != nil {
		if tfErr, ok := models.AsTwoFactorError(err); ok {
			tfErr.AttachThrottleStatus(status)
			return nil, tfErr
		}
		return nil, err
	}
	result.ThrottleStatus = status

	if err := st.verify.Reset(ctx, ident); err != nil {
		s.logger.Error("failed to reset verify throttle",
			slog.String("ident", ident),
			slog.Any("error", err))
	}

	s.metrics.IncrementObtain(strategy.Type())
	s.auditEvent(ctx, req, user, strategy.Type(), pkglogger.EventCodeIssued, true, throttle.ScopeObtain, "")

	return result, nil
}

// Verify checks a submitted code. On success the device becomes trusted.
func (s *TwoFactorService) Verify(ctx context.Context, req *TwoFactorRequest, code string) (*models.VerifyResult, error) {
	_, user, err := s.checkAuth(ctx, req)
	if err != nil {
		return nil, err
	}

	st := s.bind(req)
	ident := req.Ident()

	strategy, err := s.Strategy(ctx, req)
	if err != nil {
		return nil, err
	}

	status, err := st.verify.Peek(ctx, ident)
	if err != nil {
		return nil, err
	}

	if !status.IsAllowed {
		s.metrics.IncrementThrottleDenial(throttle.ScopeVerify)

		if strategy.Type() == StrategyDirect {
			return nil, models.NewTwoFactorError("", status)
		}

		if err := strategy.Reset(ctx, user); err != nil {
			return nil, err
		}
		s.auditEvent(ctx, req, user, strategy.Type(), pkglogger.EventCodeRevoked, false, throttle.ScopeVerify, "too many invalid codes")
		return nil, models.NewTwoFactorError(models.CodeRevokedMessage, status)
	}

	valid, err := strategy.IsValid(ctx, user, code)
	if err != nil {
		return nil, err
	}

	if !valid {
		st.lockout.AddFailedLoginAttempt(ctx, req.Username, req.IP)

		status, err = st.verify.IncreaseAttempts(ctx, ident)
		if err != nil {
			return nil, err
		}

		s.metrics.IncrementVerify(strategy.Type(), "invalid")
		s.auditEvent(ctx, req, user, strategy.Type(), pkglogger.EventVerifyFailed, false, throttle.ScopeVerify, "invalid code")
		return nil, models.NewTwoFactorError(models.InvalidCodeMessage, status)
	}

	if err := s.devices.AddDevice(ctx, user.ID, req.DeviceID, req.UserAgent); err != nil {
		s.logger.Error("failed to register trusted device",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	} else if req.DeviceID != "" {
		s.metrics.IncrementTrustedDevice()
		s.auditEvent(ctx, req, user, strategy.Type(), pkglogger.EventDeviceTrusted, true, "", "")
	}

	s.metrics.IncrementVerify(strategy.Type(), "success")
	s.auditEvent(ctx, req, user, strategy.Type(), pkglogger.EventVerifySucceeded, true, throttle.ScopeVerify, "")

	return &models.VerifyResult{
		User:           user,
		ThrottleStatus: status,
	}, nil
}

// ForgetDevice revokes trust for the request's device so the next login asks
// for a second factor again. Credentials are checked like any other operation.
func (s *TwoFactorService) ForgetDevice(ctx context.Context, req *TwoFactorRequest) error {
	_, user, err := s.checkAuth(ctx, req)
	if err != nil {
		return err
	}

	if req.DeviceID == "" {
		return nil
	}

	if err := s.devices.RemoveDevice(ctx, user.ID, req.DeviceID); err != nil {
		return err
	}

	s.auditEvent(ctx, req, user, "", pkglogger.EventDeviceForgotten, true, "", "")
	return nil
}

// checkAuth is the precondition of every operation. A caller past the auth
// budget is rejected before credentials are checked. Only unknown
// credentials count against the budget; an inactive account with valid
// credentials is rejected without being counted.
func (s *TwoFactorService) checkAuth(ctx context.Context, req *TwoFactorRequest) (*models.ThrottleStatus, *models.User, error) {
	st := s.bind(req)
	ident := req.Ident()

	status, err := st.auth.Peek(ctx, ident)
	if err != nil {
		return nil, nil, err
	}
	if !status.IsAllowed {
		s.metrics.IncrementThrottleDenial(throttle.ScopeAuth)
		s.auditEvent(ctx, req, nil, "", pkglogger.EventLockedOut, false, throttle.ScopeAuth, "auth throttled")
		return nil, nil, models.NewTwoFactorError("", status)
	}

	user, err := s.User(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	if user == nil || !user.IsActive {
		reason := "inactive account"
		if user == nil {
			reason = "invalid credentials"
			st.lockout.AddFailedLoginAttempt(ctx, req.Username, req.IP)

			status, err = st.auth.IncreaseAttempts(ctx, ident)
			if err != nil {
				return nil, nil, err
			}
		}

		s.auditEvent(ctx, req, user, "", pkglogger.EventCredentialsRejected, false, throttle.ScopeAuth, reason)
		return nil, nil, models.NewTwoFactorError(models.AccountErrorMessage, status)
	}

	return status, user, nil
}

func (s *TwoFactorService) auditEvent(ctx context.Context, req *TwoFactorRequest, user *models.User, strategy, eventType string, success bool, scope, reason string) {
	if s.audit == nil {
		return
	}

	event := pkglogger.AuditEvent{
		EventType:     eventType,
		Username:      req.Username,
		IPAddress:     req.IP,
		DeviceID:      req.DeviceID,
		Strategy:      strategy,
		Scope:         scope,
		Success:       success,
		FailureReason: reason,
	}
	if user != nil {
		event.UserID = user.ID
	}

	s.audit.LogTwoFactorEvent(ctx, event)
}
