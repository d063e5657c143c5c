package sequencer

import (
	"math"
	"time"
)

// Tempo range accepted by SetBPM. Values outside are clamped, never rejected.
const (
	MinBPM = 20.0
	MaxBPM = 300.0
)

// Config drives the look-ahead loop. Times on the clock timeline are in
// seconds.
type Config struct {
	BPM                float64
	StepsPerBeat       int
	TotalSteps         int
	ScheduleAhead      float64       // how far past now steps are scheduled
	LookaheadInterval  time.Duration // wall-clock period of the tick loop
	MinScheduleEpsilon float64       // smallest lead a step may be scheduled with
	StartOffset        float64       // lead of step 0 after Start
	// ClampPastDue moves steps that fell behind now forward to
	// now+MinScheduleEpsilon. With it off they are handed to the voice at
	// their original, already past, time.
	ClampPastDue bool
}

func DefaultConfig() Config {
	return Config{
		BPM:                120,
		StepsPerBeat:       4,
		TotalSteps:         16,
		ScheduleAhead:      0.1,
		LookaheadInterval:  25 * time.Millisecond,
		MinScheduleEpsilon: 0.001,
		StartOffset:        0.005,
		ClampPastDue:       true,
	}
}

// normalized fills zero fields with defaults and clamps the tempo.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.BPM == 0 {
		c.BPM = def.BPM
	}
	c.BPM = ClampBPM(c.BPM)
	if c.StepsPerBeat <= 0 {
		c.StepsPerBeat = def.StepsPerBeat
	}
	if c.TotalSteps <= 0 {
		c.TotalSteps = def.TotalSteps
	}
	if c.ScheduleAhead <= 0 || math.IsNaN(c.ScheduleAhead) {
		c.ScheduleAhead = def.ScheduleAhead
	}
	if c.LookaheadInterval <= 0 {
		c.LookaheadInterval = def.LookaheadInterval
	}
	if c.MinScheduleEpsilon <= 0 || math.IsNaN(c.MinScheduleEpsilon) {
		c.MinScheduleEpsilon = def.MinScheduleEpsilon
	}
	if c.StartOffset < 0 || math.IsNaN(c.StartOffset) {
		c.StartOffset = def.StartOffset
	}
	return c
}

// ClampBPM limits bpm to [MinBPM, MaxBPM]. NaN maps to MinBPM.
func ClampBPM(bpm float64) float64 {
	if math.IsNaN(bpm) || bpm < MinBPM {
		return MinBPM
	}
	if bpm > MaxBPM {
		return MaxBPM
	}
	return bpm
}

// StepDuration is the length of one step in seconds: (60/bpm)/stepsPerBeat.
func StepDuration(bpm float64, stepsPerBeat int) float64 {
	if stepsPerBeat <= 0 {
		stepsPerBeat = 1
	}
	return 60 / ClampBPM(bpm) / float64(stepsPerBeat)
}
