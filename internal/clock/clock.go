// Package clock owns the lifecycle of the audio-rate time source: bringing it
// up, keeping it running while playback is active, and tearing it down.
package clock

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle phase of a clock device.
type State int

const (
	Uninitialized State = iota
	Suspended
	Running
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Suspended:
		return "suspended"
	case Running:
		return "running"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Device is the time source the Manager drives. Now reports seconds on the
// device timeline; it must advance while Running and stay frozen otherwise.
type Device interface {
	Resume() error
	Suspend() error
	Close() error
	State() State
	Now() float64
}

// Notifier is implemented by devices that report their own state changes,
// for example when the host suspends audio output.
type Notifier interface {
	SetStateHook(func(State))
}

var (
	ErrInitialization = errors.New("clock: did not reach running state")
	ErrClosed         = errors.New("clock: closed")
	ErrUninitialized  = errors.New("clock: not initialized")
	// ErrLost means the device was torn down underneath an open Manager.
	ErrLost = errors.New("clock: device lost")
)

// RetryPolicy bounds how long the Manager waits for a device to start
// running: at most MaxAttempts checks, Interval apart.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 20, Interval: 100 * time.Millisecond}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) interval() time.Duration {
	if p.Interval <= 0 {
		return 100 * time.Millisecond
	}
	return p.Interval
}

// Budget is the longest a single resume can wait.
func (p RetryPolicy) Budget() time.Duration {
	return time.Duration(p.attempts()) * p.interval()
}

// InitError reports a device that never reached Running.
type InitError struct {
	Attempts int
	Waited   time.Duration
	State    State
	Err      error // last error returned by the device, if any
}

func (e *InitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "clock: still %s after %d attempts (%s)", e.State, e.Attempts, e.Waited.Round(time.Millisecond))
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *InitError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInitialization}
	}
	return []error{ErrInitialization, e.Err}
}
