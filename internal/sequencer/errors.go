package sequencer

import (
	"errors"
	"fmt"
)

var (
	ErrStartCanceled = errors.New("sequencer: start canceled by stop")
	ErrStarting      = errors.New("sequencer: start already in progress")
)

// ClockError reports a clock that failed mid-tick. The tick that saw it
// dispatched nothing and the sequencer is Stopped.
type ClockError struct {
	Step    int
	NextDue float64
	Err     error
}

func (e *ClockError) Error() string {
	return fmt.Sprintf("sequencer: clock lost before step %d (due %.4fs): %v", e.Step, e.NextDue, e.Err)
}

func (e *ClockError) Unwrap() error { return e.Err }

// PastDueWarning reports a step whose due time had already slipped behind
// the clock. Playback continues.
type PastDueWarning struct {
	Step      int
	Due       float64 // original due time
	Now       float64
	Scheduled float64 // time actually handed to the voice
}

func (w *PastDueWarning) Error() string {
	return fmt.Sprintf("sequencer: step %d was due at %.4fs, %.1fms late, scheduled at %.4fs",
		w.Step, w.Due, w.Lag()*1000, w.Scheduled)
}

// Lag is how far behind the clock the step was, in seconds. It is slightly
// negative for a step that only missed the minimum lead.
func (w *PastDueWarning) Lag() float64 { return w.Now - w.Due }
