package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/BradenHooton/stepgate/internal/cache"
	"github.com/BradenHooton/stepgate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sixDigits = regexp.MustCompile(`\b\d{6}\b`)

func newTestEmailStrategy() (*EmailStrategy, *cache.MemoryStore, *MockEmailSender) {
	store := cache.NewMemoryStore()
	sender := &MockEmailSender{}
	return NewEmailStrategy(store, sender, 24*time.Hour, newTestLogger()), store, sender
}

func TestEmailStrategy_Obtain_SendsCode(t *testing.T) {
	ctx := context.Background()
	s, _, sender := newTestEmailStrategy()
	user := NewTestUser("u-1", "shit_happens", "shit_happens@test.com")

	result, err := s.Obtain(ctx, user)
	require.NoError(t, err)

	assert.Regexp(t, `^\d{6}$`, result.VerificationCode)
	assert.Contains(t, result.Message, "sh**********@test.com")

	email := sender.Last()
	require.NotNil(t, email)
	assert.Equal(t, "shit_happens@test.com", email.To)
	assert.Equal(t, "2-factor authentication", email.Subject)
	assert.Equal(t, result.VerificationCode, sixDigits.FindString(email.Body))
}

func TestEmailStrategy_Obtain_NoEmail(t *testing.T) {
	s, _, sender := newTestEmailStrategy()

	_, err := s.Obtain(context.Background(), NewTestUser("u-1", "alice", ""))

	tfErr, ok := models.AsTwoFactorError(err)
	require.True(t, ok)
	assert.Equal(t, NoEmailMessage, tfErr.Reason)
	assert.Equal(t, 0, sender.Count())
}

func TestEmailStrategy_Obtain_SendFailure(t *testing.T) {
	s, _, sender := newTestEmailStrategy()
	sender.SendEmailFunc = func(ctx context.Context, to, subject, body string) error {
		return errors.New("ses down")
	}

	_, err := s.Obtain(context.Background(), NewTestUser("u-1", "alice", "alice@example.com"))
	require.Error(t, err)

	_, isDomain := models.AsTwoFactorError(err)
	assert.False(t, isDomain)
}

func TestEmailStrategy_IsValid_SingleUse(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestEmailStrategy()
	user := NewTestUser("u-1", "alice", "alice@example.com")

	result, err := s.Obtain(ctx, user)
	require.NoError(t, err)

	valid, err := s.IsValid(ctx, user, result.VerificationCode)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = s.IsValid(ctx, user, result.VerificationCode)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestEmailStrategy_IsValid_Rejects(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestEmailStrategy()
	s.generateCode = func() (string, error) { return "123456", nil }
	user := NewTestUser("u-1", "alice", "alice@example.com")

	valid, err := s.IsValid(ctx, user, "123456")
	require.NoError(t, err)
	assert.False(t, valid, "no pending code")

	_, err = s.Obtain(ctx, user)
	require.NoError(t, err)

	for _, code := range []string{"", "654321", "12345"} {
		valid, err := s.IsValid(ctx, user, code)
		require.NoError(t, err)
		assert.False(t, valid, code)
	}

	valid, err = s.IsValid(ctx, user, "123456")
	require.NoError(t, err)
	assert.True(t, valid, "wrong codes do not consume the pending code")
}

func TestEmailStrategy_Reset(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestEmailStrategy()
	user := NewTestUser("u-1", "alice", "alice@example.com")

	result, err := s.Obtain(ctx, user)
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx, user))

	valid, err := s.IsValid(ctx, user, result.VerificationCode)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestEmailStrategy_CodeExpires(t *testing.T) {
	ctx := context.Background()
	clock := NewTestClock()
	store := cache.NewMemoryStore(cache.WithMemoryClock(clock.Now))
	s := NewEmailStrategy(store, &MockEmailSender{}, 24*time.Hour, newTestLogger())
	user := NewTestUser("u-1", "alice", "alice@example.com")

	result, err := s.Obtain(ctx, user)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)

	valid, err := s.IsValid(ctx, user, result.VerificationCode)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestGenerateNumericCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateNumericCode()
		require.NoError(t, err)
		assert.Regexp(t, `^\d{6}$`, code)
	}
}
