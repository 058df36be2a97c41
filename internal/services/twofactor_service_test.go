package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/stepgate/internal/cache"
	"github.com/BradenHooton/stepgate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse"

type twoFactorFixture struct {
	svc     *TwoFactorService
	store   *cache.MemoryStore
	clock   *TestClock
	sender  *MockEmailSender
	authn   *MockUserAuthenticator
	devices *DeviceTrustService
	user    *models.User
}

func defaultTestSettings() TwoFactorSettings {
	condition := models.ThrottleCondition{MaxAttempts: 3, Window: 5 * time.Minute}
	return TwoFactorSettings{
		Enabled:           true,
		ThrottlingEnabled: true,
		DefaultStrategy:   StrategyEmail,
		Auth:              condition,
		Obtain:            condition,
		Verify:            condition,
		Lockout: LockoutConfig{
			MaxAttempts:    10,
			Window:         2 * time.Hour,
			NotifyCooldown: 30 * time.Minute,
		},
	}
}

func newTwoFactorFixture(t *testing.T, mutate func(*TwoFactorSettings)) *twoFactorFixture {
	t.Helper()

	clock := NewTestClock()
	store := cache.NewMemoryStore(cache.WithMemoryClock(clock.Now))
	sender := &MockEmailSender{}
	user := NewTestUser("u-1", "alice", "alice@example.com")

	authn := &MockUserAuthenticator{
		AuthenticateFunc: func(ctx context.Context, username, password string) (*models.User, error) {
			if username == user.Username && password == testPassword {
				return user, nil
			}
			return nil, models.ErrUnauthorized
		},
	}
	lookup := &MockUserRepository{
		GetByUsernameFunc: func(ctx context.Context, username string) (*models.User, error) {
			if username == user.Username {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
	}

	devices := NewDeviceTrustService(store, 4*7*24*time.Hour, newTestLogger())
	devices.now = clock.Now

	registry, err := NewStrategyRegistry(
		NewDirectStrategy(),
		NewEmailStrategy(store, sender, 24*time.Hour, newTestLogger()),
	)
	require.NoError(t, err)

	settings := defaultTestSettings()
	if mutate != nil {
		mutate(&settings)
	}

	svc, err := NewTwoFactorService(authn, lookup, registry, devices, store, sender, settings,
		newTestLogger(), WithClock(clock.Now))
	require.NoError(t, err)

	return &twoFactorFixture{
		svc:     svc,
		store:   store,
		clock:   clock,
		sender:  sender,
		authn:   authn,
		devices: devices,
		user:    user,
	}
}

func (f *twoFactorFixture) request(password, deviceID string) *TwoFactorRequest {
	return &TwoFactorRequest{
		Username: "alice",
		Password: password,
		DeviceID: deviceID,
		IP:       "10.0.0.1",
	}
}

func requireTwoFactorError(t *testing.T, err error) *models.TwoFactorError {
	t.Helper()
	tfErr, ok := models.AsTwoFactorError(err)
	require.True(t, ok, "expected TwoFactorError, got %v", err)
	return tfErr
}

// ============================================================================
// Status
// ============================================================================

func TestTwoFactorService_GetStatus_DefaultStrategy(t *testing.T) {
	f := newTwoFactorFixture(t, nil)

	status, err := f.svc.GetStatus(context.Background(), f.request(testPassword, ""))
	require.NoError(t, err)

	assert.Equal(t, StrategyEmail, status.Type)
	assert.Equal(t, "Email", status.Name)
	assert.True(t, status.ThrottleStatus.IsAllowed)
	assert.Equal(t, 3, status.ThrottleStatus.RemainingAttempts())
}

func TestTwoFactorService_GetStatus_Disabled(t *testing.T) {
	f := newTwoFactorFixture(t, func(s *TwoFactorSettings) { s.Enabled = false })

	status, err := f.svc.GetStatus(context.Background(), f.request(testPassword, ""))
	require.NoError(t, err)
	assert.Equal(t, StrategyDirect, status.Type)
}

func TestTwoFactorService_GetStatus_InvalidCredentials(t *testing.T) {
	f := newTwoFactorFixture(t, nil)

	_, err := f.svc.GetStatus(context.Background(), f.request("wrong", ""))

	tfErr := requireTwoFactorError(t, err)
	assert.Equal(t, models.AccountErrorMessage, tfErr.Reason)
	require.NotNil(t, tfErr.ThrottleStatus)
	assert.Equal(t, 1, tfErr.ThrottleStatus.NumAttempts())
	assert.Equal(t, 2, tfErr.ThrottleStatus.RemainingAttempts())
}

func TestTwoFactorService_AuthLockout(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)

	for i := 0; i < 3; i++ {
		_, err := f.svc.GetStatus(ctx, f.request("wrong", ""))
		assert.Equal(t, models.AccountErrorMessage, requireTwoFactorError(t, err).Reason)
	}

	_, err := f.svc.GetStatus(ctx, f.request(testPassword, ""))

	tfErr := requireTwoFactorError(t, err)
	assert.True(t, tfErr.IsThrottled())
	assert.Equal(t, "We've locked you because of too many login attempts. Try again in 5 minutes.", tfErr.Reason)
	assert.Positive(t, tfErr.ThrottleStatus.WaitingTime())
	assert.Equal(t, 3, f.authn.Calls, "credentials are not checked once locked")

	// Other IPs are not affected
	other := f.request(testPassword, "")
	other.IP = "10.0.0.2"
	_, err = f.svc.GetStatus(ctx, other)
	assert.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.svc.GetStatus(ctx, f.request(testPassword, ""))
	assert.NoError(t, err)
}

func TestTwoFactorService_InactiveUserNotCounted(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)
	f.user.IsActive = false

	for i := 0; i < 5; i++ {
		_, err := f.svc.GetStatus(ctx, f.request(testPassword, ""))
		tfErr := requireTwoFactorError(t, err)
		assert.Equal(t, models.AccountErrorMessage, tfErr.Reason)
		assert.Equal(t, 0, tfErr.ThrottleStatus.NumAttempts())
	}
}

func TestTwoFactorService_RequestIsMemoized(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)
	req := f.request(testPassword, "")

	_, err := f.svc.GetStatus(ctx, req)
	require.NoError(t, err)
	_, err = f.svc.Obtain(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 1, f.authn.Calls)
}

// ============================================================================
// Obtain / Verify
// ============================================================================

func TestTwoFactorService_ObtainVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)

	result, err := f.svc.Obtain(ctx, f.request(testPassword, ""))
	require.NoError(t, err)
	assert.Contains(t, result.Message, "al***@example.com")
	require.NotEmpty(t, result.VerificationCode)
	assert.Equal(t, 1, f.sender.Count())

	verified, err := f.svc.Verify(ctx, f.request(testPassword, ""), result.VerificationCode)
	require.NoError(t, err)
	assert.Equal(t, "u-1", verified.User.ID)

	_, err = f.svc.Verify(ctx, f.request(testPassword, ""), result.VerificationCode)
	assert.Equal(t, models.InvalidCodeMessage, requireTwoFactorError(t, err).Reason)
}

func TestTwoFactorService_VerifyTrustsDevice(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)

	result, err := f.svc.Obtain(ctx, f.request(testPassword, "dev-1"))
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, f.request(testPassword, "dev-1"), result.VerificationCode)
	require.NoError(t, err)

	status, err := f.svc.GetStatus(ctx, f.request(testPassword, "dev-1"))
	require.NoError(t, err)
	assert.Equal(t, StrategyDirect, status.Type)

	status, err = f.svc.GetStatus(ctx, f.request(testPassword, "dev-2"))
	require.NoError(t, err)
	assert.Equal(t, StrategyEmail, status.Type)

	f.clock.Advance(4 * 7 * 24 * time.Hour)

	status, err = f.svc.GetStatus(ctx, f.request(testPassword, "dev-1"))
	require.NoError(t, err)
	assert.Equal(t, StrategyEmail, status.Type)
}

func TestTwoFactorService_ForgetDevice(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)

	result, err := f.svc.Obtain(ctx, f.request(testPassword, "dev-1"))
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, f.request(testPassword, "dev-1"), result.VerificationCode)
	require.NoError(t, err)

	err = f.svc.ForgetDevice(ctx, f.request("wrong", "dev-1"))
	requireTwoFactorError(t, err)

	status, err := f.svc.GetStatus(ctx, f.request(testPassword, "dev-1"))
	require.NoError(t, err)
	assert.Equal(t, StrategyDirect, status.Type)

	require.NoError(t, f.svc.ForgetDevice(ctx, f.request(testPassword, "dev-1")))

	status, err = f.svc.GetStatus(ctx, f.request(testPassword, "dev-1"))
	require.NoError(t, err)
	assert.Equal(t, StrategyEmail, status.Type)
}

func TestTwoFactorService_VerifyInvalidCode(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)

	_, err := f.svc.Obtain(ctx, f.request(testPassword, ""))
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, f.request(testPassword, ""), "000000x")

	tfErr := requireTwoFactorError(t, err)
	assert.Equal(t, models.InvalidCodeMessage, tfErr.Reason)
	assert.Equal(t, 1, tfErr.ThrottleStatus.NumAttempts())
	assert.Equal(t, 2, tfErr.ThrottleStatus.RemainingAttempts())
}

func TestTwoFactorService_VerifyLockoutRevokesCode(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)

	result, err := f.svc.Obtain(ctx, f.request(testPassword, ""))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Verify(ctx, f.request(testPassword, ""), "bad")
		assert.Equal(t, models.InvalidCodeMessage, requireTwoFactorError(t, err).Reason)
	}

	_, err = f.svc.Verify(ctx, f.request(testPassword, ""), result.VerificationCode)
	tfErr := requireTwoFactorError(t, err)
	assert.Equal(t, models.CodeRevokedMessage, tfErr.Reason)
	assert.True(t, tfErr.IsThrottled())

	// The pending code is gone
	_, err = f.store.Get(ctx, "2fa:email:u-1")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	// A fresh obtain restores the full verify budget
	result, err = f.svc.Obtain(ctx, f.request(testPassword, ""))
	require.NoError(t, err)

	verified, err := f.svc.Verify(ctx, f.request(testPassword, ""), result.VerificationCode)
	require.NoError(t, err)
	assert.Equal(t, 3, verified.ThrottleStatus.RemainingAttempts())
}

func TestTwoFactorService_VerifyLockoutDirectStrategy(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, func(s *TwoFactorSettings) { s.Enabled = false })

	req := f.request(testPassword, "")
	for i := 0; i < 3; i++ {
		_, err := f.svc.state.Load().verify.IncreaseAttempts(ctx, req.Ident())
		require.NoError(t, err)
	}

	_, err := f.svc.Verify(ctx, req, "")

	tfErr := requireTwoFactorError(t, err)
	assert.True(t, tfErr.IsThrottled())
	assert.Contains(t, tfErr.Reason, "We've locked you")
}

func TestTwoFactorService_ObtainThrottled(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Obtain(ctx, f.request(testPassword, ""))
		require.NoError(t, err)
	}

	_, err := f.svc.Obtain(ctx, f.request(testPassword, ""))

	tfErr := requireTwoFactorError(t, err)
	assert.Equal(t, "You have made a lot of requests. Try again in 5 minutes.", tfErr.Reason)
	assert.True(t, tfErr.IsThrottled())
	assert.Equal(t, 3, f.sender.Count())
}

func TestTwoFactorService_ObtainStrategyError(t *testing.T) {
	f := newTwoFactorFixture(t, nil)
	f.user.Email = ""

	_, err := f.svc.Obtain(context.Background(), f.request(testPassword, ""))

	tfErr := requireTwoFactorError(t, err)
	assert.Equal(t, NoEmailMessage, tfErr.Reason)
	require.NotNil(t, tfErr.ThrottleStatus)
	assert.Equal(t, 1, tfErr.ThrottleStatus.NumAttempts())
}

func TestTwoFactorService_InvalidCodesTriggerLockoutNotification(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, func(s *TwoFactorSettings) {
		s.Verify.MaxAttempts = 100
		s.Lockout.MaxAttempts = 3
	})

	_, err := f.svc.Obtain(ctx, f.request(testPassword, ""))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Verify(ctx, f.request(testPassword, ""), "bad")
		require.Error(t, err)
	}

	email := f.sender.Last()
	require.NotNil(t, email)
	assert.Equal(t, "Too many failed login attempts", email.Subject)
	assert.Contains(t, email.Body, "10.0.0.1")
}

// ============================================================================
// Strategy resolution
// ============================================================================

func TestTwoFactorService_PerUserOverride(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, func(s *TwoFactorSettings) { s.StrategyOverride = UserTwoFactorType })

	f.user.TwoFactorType = StrategyDirect
	status, err := f.svc.GetStatus(ctx, f.request(testPassword, ""))
	require.NoError(t, err)
	assert.Equal(t, StrategyDirect, status.Type)

	f.user.TwoFactorType = "sms"
	status, err = f.svc.GetStatus(ctx, f.request(testPassword, ""))
	require.NoError(t, err)
	assert.Equal(t, StrategyEmail, status.Type)
}

func TestTwoFactorService_ThrottlingDisabled(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, func(s *TwoFactorSettings) { s.ThrottlingEnabled = false })

	for i := 0; i < 10; i++ {
		_, err := f.svc.GetStatus(ctx, f.request("wrong", ""))
		assert.Equal(t, models.AccountErrorMessage, requireTwoFactorError(t, err).Reason)
	}

	_, err := f.svc.GetStatus(ctx, f.request(testPassword, ""))
	assert.NoError(t, err)
}

func TestTwoFactorService_Reload(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)

	settings := f.svc.Settings()
	settings.DefaultStrategy = StrategyDirect
	require.NoError(t, f.svc.Reload(settings))

	status, err := f.svc.GetStatus(ctx, f.request(testPassword, ""))
	require.NoError(t, err)
	assert.Equal(t, StrategyDirect, status.Type)

	settings.DefaultStrategy = "sms"
	err = f.svc.Reload(settings)
	assert.ErrorIs(t, err, models.ErrUnknownStrategy)
	assert.Equal(t, StrategyDirect, f.svc.Settings().DefaultStrategy)

	settings.DefaultStrategy = StrategyEmail
	settings.Auth.MaxAttempts = 0
	assert.Error(t, f.svc.Reload(settings))
}

func TestTwoFactorService_StoreErrorPropagates(t *testing.T) {
	f := newTwoFactorFixture(t, nil)
	storeErr := errors.New("redis down")

	svc, err := NewTwoFactorService(f.authn, &MockUserRepository{}, f.svc.registry, f.devices,
		failingStore{err: storeErr}, f.sender, defaultTestSettings(), newTestLogger())
	require.NoError(t, err)

	_, err = svc.GetStatus(context.Background(), f.request(testPassword, ""))
	assert.ErrorIs(t, err, storeErr)
	_, isDomain := models.AsTwoFactorError(err)
	assert.False(t, isDomain)
}

type failingStore struct {
	err error
}

func (s failingStore) Get(ctx context.Context, key string) ([]byte, error) { return nil, s.err }

func (s failingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.err
}

func (s failingStore) Delete(ctx context.Context, key string) error { return s.err }
