package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/BradenHooton/stepgate/internal/cache"
	"github.com/BradenHooton/stepgate/internal/models"
	"github.com/BradenHooton/stepgate/pkg/logger"
)

const (
	emailCodeLength = 6
	// NoEmailMessage is returned when the account has no destination address
	NoEmailMessage = "You do not have an email."
)

// EmailStrategy sends a one-time 6 digit code to the user's email address.
// The pending code is stored under "2fa:email:{user_id}" and is single use.
type EmailStrategy struct {
	store   cache.Store
	sender  EmailSender
	codeTTL time.Duration
	logger  *slog.Logger

	generateCode func() (string, error)
}

// NewEmailStrategy creates an EmailStrategy
func NewEmailStrategy(store cache.Store, sender EmailSender, codeTTL time.Duration, logger *slog.Logger) *EmailStrategy {
	return &EmailStrategy{
		store:        store,
		sender:       sender,
		codeTTL:      codeTTL,
		logger:       logger,
		generateCode: generateNumericCode,
	}
}

func (s *EmailStrategy) Type() string { return StrategyEmail }

func (s *EmailStrategy) Name() string { return "Email" }

func (s *EmailStrategy) Obtain(ctx context.Context, user *models.User) (*models.ObtainResult, error) {
	if user.Email == "" {
		return nil, models.NewTwoFactorError(NoEmailMessage, nil)
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	if err := s.store.Set(ctx, s.key(user), []byte(code), s.codeTTL); err != nil {
		return nil, fmt.Errorf("store verification code: %w", err)
	}

	subject, body := verificationCodeEmail(user, code, s.codeTTL)
	if err := s.sender.SendEmail(ctx, user.Email, subject, body); err != nil {
		return nil, fmt.Errorf("send verification code: %w", err)
	}

	masked := logger.MaskEmail(user.Email)
	s.logger.Info("verification code sent",
		slog.String("user_id", user.ID),
		slog.String("email", masked))

	return &models.ObtainResult{
		Message: fmt.Sprintf(
			"An email with a %d digit verification code was just sent to %s. Please check and enter a code.",
			emailCodeLength, masked),
		VerificationCode: code,
	}, nil
}

func (s *EmailStrategy) Reset(ctx context.Context, user *models.User) error {
	if err := s.store.Delete(ctx, s.key(user)); err != nil {
		return fmt.Errorf("delete verification code: %w", err)
	}
	return nil
}

func (s *EmailStrategy) IsValid(ctx context.Context, user *models.User, code string) (bool, error) {
	if code == "" {
		return false, nil
	}

	saved, err := s.store.Get(ctx, s.key(user))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return false, nil
		}
		return false, fmt.Errorf("load verification code: %w", err)
	}

	if len(saved) == 0 || subtle.ConstantTimeCompare(saved, []byte(code)) != 1 {
		return false, nil
	}

	// Single use
	if err := s.Reset(ctx, user); err != nil {
		return false, err
	}

	return true, nil
}

func (s *EmailStrategy) key(user *models.User) string {
	return "2fa:email:" + user.ID
}

// generateNumericCode draws each digit independently and uniformly from 0-9
func generateNumericCode() (string, error) {
	digits := make([]byte, emailCodeLength)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
