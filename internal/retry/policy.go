// Package retry classifies booking failures and tracks the retry budget.
package retry

import (
	"time"

	"github.com/example/courtres/internal/reservation"
)

// IsRetryable reports transient failures: any upstream 5xx or a transport error.
func IsRetryable(err error) bool {
	k, ok := reservation.KindOf(err)
	if !ok {
		return false
	}
	return k == reservation.KindUpstream || k == reservation.KindNetwork
}

// IsTerminalBookingFailure reports that the slot cannot be obtained at all.
func IsTerminalBookingFailure(err error) bool {
	return reservation.IsSlotUnavailable(err)
}

type Class string

const (
	ClassRetryable Class = "retryable"
	ClassTerminal  Class = "terminal"
	ClassFatal     Class = "fatal"
)

func Classify(err error) Class {
	switch {
	case IsTerminalBookingFailure(err):
		return ClassTerminal
	case IsRetryable(err):
		return ClassRetryable
	default:
		return ClassFatal
	}
}

// State is persisted by the actor between wakes.
type State struct {
	Attempt         int       `json:"attempt"`
	WindowStartedAt time.Time `json:"windowStartedAt"`
}

type Budget struct {
	MaxAttempts int
	Window      time.Duration
	Backoff     time.Duration
}

func DefaultBudget() Budget {
	return Budget{MaxAttempts: 8, Window: 12 * time.Minute, Backoff: 15 * time.Second}
}

func (b Budget) Exceeded(s State, now time.Time) bool {
	return now.Sub(s.WindowStartedAt) >= b.Window || s.Attempt >= b.MaxAttempts
}

// Next returns the state after one more retryable failure.
func (b Budget) Next(prev *State, now time.Time) State {
	if prev == nil {
		return State{Attempt: 1, WindowStartedAt: now}
	}
	return State{Attempt: prev.Attempt + 1, WindowStartedAt: prev.WindowStartedAt}
}

// Reset opens a fresh window. The cycle never ends on its own; the booking
// window closing upstream turns retries into terminal failures.
func (b Budget) Reset(now time.Time) State {
	return State{Attempt: 0, WindowStartedAt: now}
}

func (b Budget) NextWake(now time.Time) time.Time {
	return now.Add(b.Backoff)
}
