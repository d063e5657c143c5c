package stepseq

import (
	"github.com/cbegin/stepseq-go/internal/audio"
	"github.com/cbegin/stepseq-go/internal/clock"
	"github.com/cbegin/stepseq-go/internal/drums"
	"github.com/cbegin/stepseq-go/internal/pattern"
	"github.com/cbegin/stepseq-go/internal/sequencer"
	"github.com/cbegin/stepseq-go/internal/voice"
)

type (
	Track        = voice.Track
	VoiceParams  = voice.Params
	Voice        = voice.Voice
	VoiceFunc    = voice.Func
	Config       = sequencer.Config
	Note         = sequencer.Note
	ClockState   = clock.State
	ClockDevice  = clock.Device
	RetryPolicy  = clock.RetryPolicy
	Settings     = pattern.Settings
	Change       = pattern.Change
	Observer     = pattern.Observer
	TriggerEvent = pattern.TriggerEvent

	InitError      = clock.InitError
	ClockError     = sequencer.ClockError
	PastDueWarning = sequencer.PastDueWarning
	VoiceError     = pattern.VoiceError

	DrumParams = drums.Params
	DrumStats  = drums.Stats
)

const (
	Kick  = voice.Kick
	Snare = voice.Snare
	HiHat = voice.HiHat
	Bass  = voice.Bass

	NumTracks = voice.NumTracks
	NumSteps  = pattern.NumSteps

	MinBPM = sequencer.MinBPM
	MaxBPM = sequencer.MaxBPM

	// DefaultBufferSize is the audio driver buffer, and so how far the clock
	// runs ahead of what is heard, unless WithBufferSize says otherwise.
	DefaultBufferSize = audio.DefaultBufferSize
)

var (
	ErrInitialization = clock.ErrInitialization
	ErrClosed         = clock.ErrClosed
	ErrClockLost      = clock.ErrLost
	ErrInvalidTrack   = pattern.ErrInvalidTrack
	ErrInvalidStep    = pattern.ErrInvalidStep
	ErrInvalidPattern = pattern.ErrInvalidPattern
	ErrStartCanceled  = sequencer.ErrStartCanceled
	ErrBusy           = sequencer.ErrStarting
)

// Tracks lists the fixed tracks in dispatch order.
var Tracks = voice.Tracks

func DefaultConfig() Config { return sequencer.DefaultConfig() }

func DefaultRetryPolicy() RetryPolicy { return clock.DefaultRetryPolicy() }

// DefaultDrumParams are the built-in synth settings WithDrumParams starts from.
func DefaultDrumParams() DrumParams { return drums.DefaultParams() }

func ParseTrack(s string) (Track, error) { return voice.ParseTrack(s) }

// StepDuration is (60/bpm)/stepsPerBeat with bpm clamped into range.
func StepDuration(bpm float64, stepsPerBeat int) float64 {
	return sequencer.StepDuration(bpm, stepsPerBeat)
}

// DecodePattern parses a YAML or JSON pattern document without applying it.
func DecodePattern(data []byte) (map[string][]bool, error) {
	p, err := pattern.Decode(data)
	if p == nil {
		return nil, err
	}
	out := make(map[string][]bool, len(p))
	for tr, steps := range p {
		out[tr.String()] = steps.Bools()
	}
	return out, err
}
