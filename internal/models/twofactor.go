package models

// TwoFactorStatus is the result of resolving the strategy for a login attempt
type TwoFactorStatus struct {
	Type           string          `json:"two_factor_type"`
	Name           string          `json:"two_factor_name"`
	ThrottleStatus *ThrottleStatus `json:"throttle_status"`
}

// ObtainResult is returned when a second factor was requested
type ObtainResult struct {
	Message          string          `json:"message"`
	VerificationCode string          `json:"-"` // Never sent back to the client
	ThrottleStatus   *ThrottleStatus `json:"throttle_status,omitempty"`
}

// VerifyResult is returned when the second factor was satisfied
type VerifyResult struct {
	User           *User
	ThrottleStatus *ThrottleStatus
}
