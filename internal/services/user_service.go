package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/stepgate/internal/auth"
	"github.com/BradenHooton/stepgate/internal/models"
	pkgauth "github.com/BradenHooton/stepgate/pkg/auth"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	SetTwoFactorType(ctx context.Context, id, twoFactorType string) error
	SetTOTPSecret(ctx context.Context, id string, encrypted, nonce []byte) error
}

// UserService handles account lookups and credential checks
type UserService struct {
	repo       UserRepository
	timing     *auth.TimingDelay
	bcryptCost int
	logger     *slog.Logger
}

// NewUserService creates a new UserService
func NewUserService(repo UserRepository, timing *auth.TimingDelay, logger *slog.Logger) *UserService {
	return &UserService{
		repo:       repo,
		timing:     timing,
		bcryptCost: pkgauth.BcryptCost,
		logger:     logger,
	}
}

// Authenticate checks username and password. It returns models.ErrUnauthorized
// when the credentials do not match an account. Inactive accounts with valid
// credentials are returned; callers decide what inactivity means.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	start := time.Now()

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.timing.WaitFrom(start, false)
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user", slog.String("username", username), slog.Any("error", err))
		return nil, fmt.Errorf("get user by username: %w", err)
	}

	if user.PasswordHash == "" || pkgauth.ComparePassword(user.PasswordHash, password) != nil {
		s.timing.WaitFrom(start, false)
		return nil, models.ErrUnauthorized
	}

	s.timing.WaitFrom(start, true)
	return user, nil
}

// GetByUsername retrieves a user by username
func (s *UserService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return user, nil
}

// CreateUser creates an active account with a bcrypt password hash
func (s *UserService) CreateUser(ctx context.Context, username, email, password string) (*models.User, error) {
	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		s.logger.Info("user already exists", slog.String("username", username))
		return nil, models.ErrConflict
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("get user by username: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	hash, err := pkgauth.HashPasswordWithCost(password, s.bcryptCost)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	created, err := s.repo.Create(ctx, &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	})
	if err != nil {
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, err
	}

	s.logger.Info("user created", slog.String("user_id", created.ID))
	return created, nil
}

// SetTwoFactorType sets the per-user strategy override. An empty tag
// restores the deployment default.
func (s *UserService) SetTwoFactorType(ctx context.Context, username, tag string) error {
	user, err := s.GetByUsername(ctx, username)
	if err != nil {
		return err
	}

	if err := s.repo.SetTwoFactorType(ctx, user.ID, tag); err != nil {
		return fmt.Errorf("set two-factor type: %w", err)
	}

	s.logger.Info("two-factor type updated",
		slog.String("user_id", user.ID),
		slog.String("two_factor_type", tag))
	return nil
}

// EnrollTOTP generates and stores an authenticator app secret for username
func (s *UserService) EnrollTOTP(ctx context.Context, username string, manager *auth.TOTPManager, qrSize int) (*auth.TOTPEnrollment, error) {
	user, err := s.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	account := user.Email
	if account == "" {
		account = user.Username
	}

	enrollment, err := manager.Enroll(account, qrSize)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetTOTPSecret(ctx, user.ID, enrollment.EncryptedSecret, enrollment.Nonce); err != nil {
		return nil, fmt.Errorf("store totp secret: %w", err)
	}

	s.logger.Info("totp enrolled", slog.String("user_id", user.ID))
	return enrollment, nil
}
