// Package pattern holds the step matrix and per-track settings of the drum
// machine, and dispatches due steps to a voice.
package pattern

import (
	"errors"
	"fmt"

	"github.com/cbegin/stepseq-go/internal/voice"
)

// NumSteps is the fixed cycle length.
const NumSteps = 16

// Steps is one track's active flags.
type Steps [NumSteps]bool

var (
	ErrInvalidTrack   = voice.ErrInvalidTrack
	ErrInvalidStep    = errors.New("invalid step index")
	ErrInvalidPattern = errors.New("invalid pattern")
)

// Settings are the per-track parameters read at dispatch time.
type Settings struct {
	Velocity float64
	Enabled  bool
	Params   voice.Params
}

// DefaultSettings returns the out-of-the-box mix for a track.
func DefaultSettings(track voice.Track) Settings {
	s := Settings{Enabled: true}
	switch track {
	case voice.Kick:
		s.Velocity = 1.0
	case voice.Snare:
		s.Velocity = 0.8
	case voice.HiHat:
		s.Velocity = 0.6
	case voice.Bass:
		s.Velocity = 0.7
		s.Params.PitchHz = voice.DefaultBassPitch
	}
	return s
}

// Snapshot is a consistent copy of the whole pattern, taken once per tick.
type Snapshot struct {
	Steps    [voice.NumTracks]Steps
	Settings [voice.NumTracks]Settings
}

// Active reports whether track should fire at step.
func (s *Snapshot) Active(track voice.Track, step int) bool {
	if !track.Valid() || step < 0 || step >= NumSteps {
		return false
	}
	return s.Steps[track][step] && s.Settings[track].Enabled
}

// Count returns the number of active steps on a track.
func (s Steps) Count() int {
	n := 0
	for _, on := range s {
		if on {
			n++
		}
	}
	return n
}

// FromBools validates a raw step list.
func FromBools(b []bool) (Steps, error) {
	var s Steps
	if len(b) != NumSteps {
		return s, fmt.Errorf("%w: %d steps, want %d", ErrInvalidPattern, len(b), NumSteps)
	}
	copy(s[:], b)
	return s, nil
}

func (s Steps) Bools() []bool {
	out := make([]bool, NumSteps)
	copy(out, s[:])
	return out
}

func (s Steps) String() string {
	b := make([]byte, NumSteps)
	for i, on := range s {
		b[i] = '.'
		if on {
			b[i] = 'x'
		}
	}
	return string(b)
}

func checkTrack(track voice.Track) error {
	if !track.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidTrack, int(track))
	}
	return nil
}

func checkStep(step int) error {
	if step < 0 || step >= NumSteps {
		return fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
	return nil
}
