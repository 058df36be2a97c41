package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/stepgate/internal/auth"
	"github.com/BradenHooton/stepgate/internal/cache"
	"github.com/BradenHooton/stepgate/internal/models"
)

// TOTPNotEnrolledMessage is returned when the account has no authenticator app
const TOTPNotEnrolledMessage = "You have not set up an authenticator app."

// totpReplayWindow covers the ±1 step validation skew
const totpReplayWindow = 90 * time.Second

// TOTPStrategy validates codes from an authenticator app. Obtain sends
// nothing; the code is generated on the user's device.
type TOTPStrategy struct {
	manager *auth.TOTPManager
	store   cache.Store
	logger  *slog.Logger
	now     func() time.Time
}

// NewTOTPStrategy creates a TOTPStrategy
func NewTOTPStrategy(manager *auth.TOTPManager, store cache.Store, logger *slog.Logger) *TOTPStrategy {
	return &TOTPStrategy{
		manager: manager,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *TOTPStrategy) Type() string { return StrategyTOTP }

func (s *TOTPStrategy) Name() string { return "Authenticator app" }

func (s *TOTPStrategy) Obtain(ctx context.Context, user *models.User) (*models.ObtainResult, error) {
	if !user.HasTOTP() {
		return nil, models.NewTwoFactorError(TOTPNotEnrolledMessage, nil)
	}

	return &models.ObtainResult{
		Message: "Enter the 6 digit code from your authenticator app.",
	}, nil
}

func (s *TOTPStrategy) Reset(ctx context.Context, user *models.User) error {
	return nil
}

func (s *TOTPStrategy) IsValid(ctx context.Context, user *models.User, code string) (bool, error) {
	if code == "" || !user.HasTOTP() {
		return false, nil
	}

	secret, err := s.manager.DecryptSecret(user.TOTPSecretEncrypted, user.TOTPSecretNonce)
	if err != nil {
		return false, fmt.Errorf("decrypt totp secret: %w", err)
	}

	valid, err := s.manager.ValidateCode(string(secret), code, s.now())
	if err != nil {
		s.logger.Warn("totp validation error",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return false, nil
	}
	if !valid {
		return false, nil
	}

	// A code is accepted once per replay window
	replayKey := "2fa:totp-used:" + user.ID + ":" + code
	if _, err := s.store.Get(ctx, replayKey); err == nil {
		s.logger.Warn("totp code replay rejected", slog.String("user_id", user.ID))
		return false, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		return false, fmt.Errorf("load totp replay marker: %w", err)
	}

	if err := s.store.Set(ctx, replayKey, []byte("1"), totpReplayWindow); err != nil {
		return false, fmt.Errorf("store totp replay marker: %w", err)
	}

	return true, nil
}
