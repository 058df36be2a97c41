package services

import (
	"context"

	"github.com/BradenHooton/stepgate/internal/models"
)

// DirectStrategy skips the second factor. It applies when two-factor is
// disabled or the device is already trusted.
type DirectStrategy struct{}

// NewDirectStrategy creates a DirectStrategy
func NewDirectStrategy() *DirectStrategy {
	return &DirectStrategy{}
}

func (s *DirectStrategy) Type() string { return StrategyDirect }

func (s *DirectStrategy) Name() string { return "Direct (without 2FA)" }

func (s *DirectStrategy) Obtain(ctx context.Context, user *models.User) (*models.ObtainResult, error) {
	return &models.ObtainResult{Message: "You do not need to use 2FA."}, nil
}

func (s *DirectStrategy) Reset(ctx context.Context, user *models.User) error {
	return nil
}

func (s *DirectStrategy) IsValid(ctx context.Context, user *models.User, code string) (bool, error) {
	return true, nil
}
