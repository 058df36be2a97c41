package models

import (
	"time"
)

// User is the account record owned by the credential store
type User struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string
	IsActive            bool
	TwoFactorType       string // Per-user strategy override, empty = deployment default
	TOTPSecretEncrypted []byte // AES-256-GCM encrypted TOTP secret
	TOTPSecretNonce     []byte // GCM nonce (12 bytes)
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasTOTP reports whether an authenticator app secret is enrolled
func (u *User) HasTOTP() bool {
	return len(u.TOTPSecretEncrypted) > 0 && len(u.TOTPSecretNonce) > 0
}
