// Package voice defines the trigger contract between the step dispatcher and
// whatever turns a trigger into sound.
package voice

import (
	"errors"
	"fmt"
	"strings"
)

// Track identifies one of the fixed drum machine lanes.
type Track int

const (
	Kick Track = iota
	Snare
	HiHat
	Bass
)

// NumTracks is the size of the fixed track set.
const NumTracks = 4

// Tracks lists every track in dispatch order.
var Tracks = [NumTracks]Track{Kick, Snare, HiHat, Bass}

var ErrInvalidTrack = errors.New("invalid track")

// ErrPanic wraps the value of a panic raised inside a voice's Trigger.
var ErrPanic = errors.New("voice panicked")

func (t Track) String() string {
	switch t {
	case Kick:
		return "kick"
	case Snare:
		return "snare"
	case HiHat:
		return "hihat"
	case Bass:
		return "bass"
	default:
		return fmt.Sprintf("track(%d)", int(t))
	}
}

func (t Track) Valid() bool {
	return t >= Kick && t <= Bass
}

// ParseTrack maps a track id such as "kick" to its Track. Matching is case
// insensitive.
func ParseTrack(s string) (Track, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kick":
		return Kick, nil
	case "snare":
		return Snare, nil
	case "hihat":
		return HiHat, nil
	case "bass":
		return Bass, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTrack, s)
}

// Params carries the per-track voice parameters. Voices ignore the fields
// that do not apply to them.
type Params struct {
	Open    bool    // hi-hat: open instead of closed
	PitchHz float64 // bass: fundamental in Hz
}

// Bass pitch range in Hz and the pitch used when a trigger carries none.
const (
	MinBassPitch     = 40.0
	MaxBassPitch     = 200.0
	DefaultBassPitch = 80.0
)

// Voice schedules one bounded acoustic event anchored at clock time at
// (seconds). Trigger must not block and must not fail for velocity in [0,1].
type Voice interface {
	Trigger(track Track, at, velocity float64, params Params) error
}

// Func adapts a function to Voice.
type Func func(track Track, at, velocity float64, params Params) error

func (f Func) Trigger(track Track, at, velocity float64, params Params) error {
	return f(track, at, velocity, params)
}
