package handlers

import (
	"github.com/BradenHooton/stepgate/internal/models"
)

// Request DTOs

// CredentialsRequest is the body shared by every two-factor endpoint
type CredentialsRequest struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password" validate:"required,max=128"`
	DeviceID string `json:"device_id,omitempty" validate:"omitempty,max=64"`
}

// VerifyRequest submits a second factor code. Direct logins send no code.
type VerifyRequest struct {
	CredentialsRequest
	Code string `json:"code" validate:"omitempty,max=16"`
}

// LoginRequest is the login form: credentials plus an optional code
type LoginRequest struct {
	CredentialsRequest
	Code string `json:"code,omitempty" validate:"omitempty,max=16"`
}

// Response DTOs

// VerifyResponse is returned once the second factor is satisfied
type VerifyResponse struct {
	UserID         string                 `json:"user_id"`
	Username       string                 `json:"username"`
	ThrottleStatus *models.ThrottleStatus `json:"throttle_status,omitempty"`
}

// LoginChallengeResponse asks the client to submit a code
type LoginChallengeResponse struct {
	TwoFactorType  string                 `json:"two_factor_type"`
	TwoFactorName  string                 `json:"two_factor_name"`
	Message        string                 `json:"message"`
	ThrottleStatus *models.ThrottleStatus `json:"throttle_status,omitempty"`
}

func newVerifyResponse(result *models.VerifyResult) VerifyResponse {
	return VerifyResponse{
		UserID:         result.User.ID,
		Username:       result.User.Username,
		ThrottleStatus: result.ThrottleStatus,
	}
}
