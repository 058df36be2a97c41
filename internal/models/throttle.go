package models

import (
	"encoding/json"
	"math"
	"time"

	"github.com/BradenHooton/stepgate/pkg/timefmt"
)

// ThrottleCondition is the attempt budget of a throttle scope
type ThrottleCondition struct {
	MaxAttempts int
	Window      time.Duration
}

// ThrottleStatus is a judgment about an attempt history at a point in time.
// It is derived at check time and never persisted.
type ThrottleStatus struct {
	History   []time.Time // Oldest first, all inside the window
	Condition ThrottleCondition
	IsAllowed bool
	Timestamp time.Time
}

// NumAttempts returns the number of attempts inside the window
func (s *ThrottleStatus) NumAttempts() int {
	return len(s.History)
}

// RemainingAttempts returns how many attempts are left, never below zero
func (s *ThrottleStatus) RemainingAttempts() int {
	if s.NumAttempts() > s.Condition.MaxAttempts {
		return 0
	}
	return s.Condition.MaxAttempts - s.NumAttempts()
}

// IsSpentAllAttempts reports whether no attempts remain
func (s *ThrottleStatus) IsSpentAllAttempts() bool {
	return s.RemainingAttempts() == 0
}

// LockingTime returns how long until enough attempts leave the window for
// the history to drop below the cap again
func (s *ThrottleStatus) LockingTime() time.Duration {
	if len(s.History) == 0 {
		return 0
	}

	idx := 0
	if s.Condition.MaxAttempts > 0 && len(s.History) >= s.Condition.MaxAttempts {
		idx = len(s.History) - s.Condition.MaxAttempts
	}

	remaining := s.History[idx].Add(s.Condition.Window).Sub(s.Timestamp)
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// WaitingTime is the locking time while all attempts are spent, zero otherwise
func (s *ThrottleStatus) WaitingTime() time.Duration {
	if !s.IsSpentAllAttempts() {
		return 0
	}
	return s.LockingTime()
}

// WaitingTimeString renders WaitingTime rounded up, e.g. "2 minutes"
func (s *ThrottleStatus) WaitingTimeString() string {
	return timefmt.FormatSeconds(ceilSeconds(s.WaitingTime()), timefmt.Options{Round: true})
}

// LockingTimeString renders LockingTime rounded up
func (s *ThrottleStatus) LockingTimeString() string {
	return timefmt.FormatSeconds(ceilSeconds(s.LockingTime()), timefmt.Options{Round: true})
}

// MarshalJSON exposes the caller-facing view of the status
func (s *ThrottleStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		IsAllowed         bool   `json:"is_allowed"`
		NumAttempts       int    `json:"num_attempts"`
		MaxAttempts       int    `json:"max_attempts"`
		RemainingAttempts int    `json:"remaining_attempts"`
		WaitingSeconds    int64  `json:"waiting_seconds"`
		WaitingTime       string `json:"waiting_time,omitempty"`
	}{
		IsAllowed:         s.IsAllowed,
		NumAttempts:       s.NumAttempts(),
		MaxAttempts:       s.Condition.MaxAttempts,
		RemainingAttempts: s.RemainingAttempts(),
		WaitingSeconds:    ceilSeconds(s.WaitingTime()),
		WaitingTime:       waitingTimeOrEmpty(s),
	})
}

func waitingTimeOrEmpty(s *ThrottleStatus) string {
	if s.WaitingTime() == 0 {
		return ""
	}
	return s.WaitingTimeString()
}

func ceilSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}
