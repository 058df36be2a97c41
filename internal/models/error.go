package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Strategy registry errors
	ErrUnknownStrategy   = errors.New("unknown two-factor strategy")
	ErrDuplicateStrategy = errors.New("two-factor strategy already registered")
)

// Messages rendered to the end user
const (
	AccountErrorMessage   = "No active account found with the given credentials."
	AccountLockedMessage  = "We've locked you because of too many login attempts. Try again in %s."
	TooManyObtainsMessage = "You have made a lot of requests. Try again in %s."
	CodeRevokedMessage    = "After many failed attempts we removed your code. You need to request a code again."
	InvalidCodeMessage    = "Invalid verification code."
	LastAttemptMessage    = "1 attempt before your account is locked for a few minutes."
)

// TwoFactorError is the single caller-recoverable error kind of the
// two-factor flow. Reason is safe to render to the end user.
type TwoFactorError struct {
	Reason         string
	ThrottleStatus *ThrottleStatus
}

// NewTwoFactorError builds a TwoFactorError. When no reason is given and the
// attached status is a lockout, a default "try again in" reason is used.
func NewTwoFactorError(reason string, status *ThrottleStatus) *TwoFactorError {
	e := &TwoFactorError{Reason: reason}
	e.AttachThrottleStatus(status)
	return e
}

// AttachThrottleStatus sets the throttle status and fills in the lockout
// reason if none was set yet
func (e *TwoFactorError) AttachThrottleStatus(status *ThrottleStatus) {
	e.ThrottleStatus = status

	if e.Reason == "" && status != nil && !status.IsAllowed {
		e.Reason = fmt.Sprintf(AccountLockedMessage, status.WaitingTimeString())
	}
}

// IsThrottled reports whether the error was caused by a spent attempt budget
func (e *TwoFactorError) IsThrottled() bool {
	return e.ThrottleStatus != nil && !e.ThrottleStatus.IsAllowed
}

func (e *TwoFactorError) Error() string {
	return e.Reason
}

// AsTwoFactorError unwraps err into a *TwoFactorError
func AsTwoFactorError(err error) (*TwoFactorError, bool) {
	var tfErr *TwoFactorError
	if errors.As(err, &tfErr) {
		return tfErr, true
	}
	return nil, false
}
