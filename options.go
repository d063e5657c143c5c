package stepseq

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/stepseq-go/internal/clock"
	"github.com/cbegin/stepseq-go/internal/drums"
	"github.com/cbegin/stepseq-go/internal/pattern"
	"github.com/cbegin/stepseq-go/internal/sequencer"
	"github.com/cbegin/stepseq-go/internal/visual"
	"github.com/cbegin/stepseq-go/internal/voice"
)

type Option func(*machineConfig)

type machineConfig struct {
	seq             sequencer.Config
	retry           clock.RetryPolicy
	health          time.Duration
	renderLookahead float64
	logger          logrus.FieldLogger
	device          clock.Device
	voices          []voice.Voice
	routes          map[voice.Track][]voice.Voice
	observers       []pattern.Observer
	synth           bool
	engine          *drums.Engine
	drums           drums.Params
	bufferSize      time.Duration
	sampleTap       func([]float32)
	visualLimit     int
	manualTicks     bool
}

func defaultMachineConfig() machineConfig {
	return machineConfig{
		seq:             sequencer.DefaultConfig(),
		retry:           clock.DefaultRetryPolicy(),
		health:          time.Second,
		renderLookahead: visual.DefaultLookahead,
		synth:           true,
		drums:           drums.DefaultParams(),
		visualLimit:     visual.DefaultLimit,
	}
}

// WithConfig replaces the scheduler configuration. Zero fields take their
// defaults.
func WithConfig(cfg Config) Option {
	return func(c *machineConfig) {
		c.seq = cfg
	}
}

func WithBPM(bpm float64) Option {
	return func(c *machineConfig) {
		c.seq.BPM = bpm
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *machineConfig) {
		c.retry = p
	}
}

// WithHealthInterval sets how often the clock is checked for an unexpected
// suspend while playing.
func WithHealthInterval(d time.Duration) Option {
	return func(c *machineConfig) {
		if d > 0 {
			c.health = d
		}
	}
}

// WithRenderLookahead sets how early, in seconds, a step is reported to
// OnVisualUpdate before its due time.
func WithRenderLookahead(sec float64) Option {
	return func(c *machineConfig) {
		if sec > 0 {
			c.renderLookahead = sec
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *machineConfig) {
		c.logger = l
	}
}

// WithClockDevice replaces the audio output as the time source. The built-in
// synth still receives triggers but nothing renders it unless the caller
// does.
func WithClockDevice(dev ClockDevice) Option {
	return func(c *machineConfig) {
		c.device = dev
	}
}

// WithVoices adds voices that receive every track without an explicit route.
func WithVoices(vs ...Voice) Option {
	return func(c *machineConfig) {
		c.voices = append(c.voices, vs...)
	}
}

// WithRoute sends one track exclusively to the given voices, for example the
// bass line to a MIDI port.
func WithRoute(track Track, vs ...Voice) Option {
	return func(c *machineConfig) {
		if c.routes == nil {
			c.routes = make(map[voice.Track][]voice.Voice)
		}
		c.routes[track] = append(c.routes[track], vs...)
	}
}

// WithoutSynth leaves the built-in drum synth out of the voice chain.
func WithoutSynth() Option {
	return func(c *machineConfig) {
		c.synth = false
	}
}

func WithDrumParams(p DrumParams) Option {
	return func(c *machineConfig) {
		c.drums = p
	}
}

// WithBufferSize sets the audio driver buffer.
func WithBufferSize(d time.Duration) Option {
	return func(c *machineConfig) {
		c.bufferSize = d
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) Option {
	return func(c *machineConfig) {
		c.sampleTap = tap
	}
}

// WithObserver installs hooks called around every voice trigger.
func WithObserver(o Observer) Option {
	return func(c *machineConfig) {
		c.observers = append(c.observers, o)
	}
}

// WithVisualLimit bounds the visual queue.
func WithVisualLimit(n int) Option {
	return func(c *machineConfig) {
		if n > 0 {
			c.visualLimit = n
		}
	}
}

func withEngine(e *drums.Engine) Option {
	return func(c *machineConfig) {
		c.engine = e
	}
}

// withManualTicks makes Start skip the timer loop and the health check; the
// caller drives the scheduler through tick.
func withManualTicks() Option {
	return func(c *machineConfig) {
		c.manualTicks = true
	}
}
