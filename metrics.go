package stepseq

import (
	"math"
	"time"
)

// Metrics is a point-in-time view of the machine counters. Tick jitter is a
// service level to benchmark against, not a guarantee.
type Metrics struct {
	State      PlaybackState
	Playing    bool
	BPM        float64
	ClockState ClockState
	ClockTime  float64

	StepsPlayed    int64
	NotesTriggered int64
	VoiceErrors    int64
	PastDue        int64
	LastStepTime   float64

	Ticks         int64
	TickJitterAvg time.Duration
	TickJitterMax time.Duration

	VisualQueued  int
	VisualDropped int64
	FramesSkipped int64

	Synth *DrumStats
}

func (m *Machine) Metrics() Metrics {
	st := m.seq.Stats()
	vis := m.follower.Stats()
	out := Metrics{
		State:          m.State(),
		Playing:        m.IsPlaying(),
		BPM:            m.BPM(),
		ClockState:     m.clock.State(),
		StepsPlayed:    m.stepsPlayed.Load(),
		NotesTriggered: m.dispatcher.Triggered(),
		VoiceErrors:    m.dispatcher.Failed(),
		PastDue:        st.PastDue,
		LastStepTime:   math.Float64frombits(m.lastStep.Load()),
		Ticks:          st.Ticks,
		TickJitterAvg:  st.JitterAvg,
		TickJitterMax:  st.JitterMax,
		VisualQueued:   m.queue.Len(),
		VisualDropped:  m.queue.Dropped(),
		FramesSkipped:  vis.Skipped,
	}
	if now, err := m.clock.Now(); err == nil {
		out.ClockTime = now
	}
	if m.synth != nil {
		s := m.synth.Stats()
		out.Synth = &s
	}
	return out
}
