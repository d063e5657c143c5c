package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/sirupsen/logrus"

	"github.com/cbegin/stepseq-go/internal/clock"
	"github.com/cbegin/stepseq-go/internal/logging"
)

// DefaultBufferSize keeps the driver a little ahead of the listener without
// adding noticeable latency to live edits.
const DefaultBufferSize = 40 * time.Millisecond

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// ebiten allows one audio context per process.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// Device plays a SampleSource through ebiten and implements clock.Device and
// clock.Notifier on top of it. The player is created lazily by the first
// Resume, the way a browser audio context is unlocked by the first gesture.
type Device struct {
	sampleRate float64
	source     SampleSource
	bufferSize time.Duration
	log        logrus.FieldLogger

	mu     sync.Mutex
	ctx    *ebitaudio.Context
	player *ebitaudio.Player
	reader *StreamReader
	closed bool
	last   clock.State
	hook   func(clock.State)

	// set by Resume, cleared by the first pull afterwards
	armed atomic.Bool
}

type DeviceOption func(*Device)

func WithBufferSize(d time.Duration) DeviceOption {
	return func(dev *Device) {
		if d > 0 {
			dev.bufferSize = d
		}
	}
}

func WithLogger(l logrus.FieldLogger) DeviceOption {
	return func(dev *Device) {
		dev.log = logging.Component(l, "audio")
	}
}

func NewDevice(sampleRate int, source SampleSource, opts ...DeviceOption) *Device {
	d := &Device{
		sampleRate: float64(sampleRate),
		source:     source,
		bufferSize: DefaultBufferSize,
		log:        logging.Component(nil, "audio"),
		last:       clock.Suspended,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) SetStateHook(fn func(clock.State)) {
	d.mu.Lock()
	d.hook = fn
	d.mu.Unlock()
}

func (d *Device) Resume() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return clock.ErrClosed
	}
	if d.player == nil {
		if err := d.openLocked(); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	if !d.player.IsPlaying() {
		d.armed.Store(true)
		d.player.Play()
	}
	d.mu.Unlock()
	d.report()
	return nil
}

func (d *Device) openLocked() error {
	ctx, err := sharedAudioContext(int(d.sampleRate))
	if err != nil {
		return err
	}
	reader := NewStreamReader(d.source)
	reader.OnRead(d.pulled)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return fmt.Errorf("audio: create player: %w", err)
	}
	pl.SetBufferSize(d.bufferSize)
	d.ctx, d.player, d.reader = ctx, pl, reader
	d.log.WithFields(logrus.Fields{"sample_rate": int(d.sampleRate), "buffer": d.bufferSize}).Debug("audio player created")
	return nil
}

func (d *Device) pulled(int) {
	if d.armed.CompareAndSwap(true, false) {
		go d.report()
	}
}

func (d *Device) Suspend() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return clock.ErrClosed
	}
	if d.player != nil {
		d.player.Pause()
	}
	d.mu.Unlock()
	d.report()
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var err error
	if d.player != nil {
		d.player.Pause()
		err = d.player.Close()
	}
	d.mu.Unlock()
	d.report()
	return err
}

func (d *Device) State() clock.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateLocked()
}

func (d *Device) stateLocked() clock.State {
	switch {
	case d.closed:
		return clock.Closed
	case d.player == nil, !d.player.IsPlaying(), d.armed.Load(), !d.ctx.IsReady():
		return clock.Suspended
	}
	return clock.Running
}

// report runs the state hook if the state moved since the last report.
func (d *Device) report() {
	d.mu.Lock()
	s := d.stateLocked()
	if s == d.last {
		d.mu.Unlock()
		return
	}
	d.last = s
	hook := d.hook
	d.mu.Unlock()
	d.log.WithField("state", s).Debug("audio state changed")
	if hook != nil {
		hook(s)
	}
}

// Now is the number of frames pulled by the driver, in seconds. It moves in
// buffer-sized steps and stops while the player is paused.
func (d *Device) Now() float64 {
	d.mu.Lock()
	r := d.reader
	d.mu.Unlock()
	if r == nil {
		return 0
	}
	return float64(r.Frames()) / d.sampleRate
}

// Position is what the listener has actually heard so far.
func (d *Device) Position() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return 0
	}
	return d.player.Position()
}
