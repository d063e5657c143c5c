// Package midiout is a voice that plays the pattern on an external MIDI
// device. Notes are handed to timers relative to the clock, so a trigger
// returns at once and the port is written at the note's time.
package midiout

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/cbegin/stepseq-go/internal/logging"
	"github.com/cbegin/stepseq-go/internal/voice"
)

// General MIDI percussion keys.
const (
	KeyKick        uint8 = 36
	KeySnare       uint8 = 38
	KeyClosedHiHat uint8 = 42
	KeyOpenHiHat   uint8 = 46
)

// DefaultNoteLength is the gap between NoteOn and NoteOff.
const DefaultNoteLength = 50 * time.Millisecond

var ErrClosed = errors.New("midiout: closed")

// Clock is the timeline trigger times refer to.
type Clock interface {
	Now() (float64, error)
}

// Sender writes one message to a port. gomidi.SendTo returns one.
type Sender func(gomidi.Message) error

type timer interface {
	Stop() bool
}

type Options struct {
	// Channel is zero based, 0..15.
	Channel    uint8
	NoteLength time.Duration
	// Latency holds every note back by the output latency of the audio the
	// clock is read from, so MIDI lines up with what is heard rather than
	// with what the driver has pulled.
	Latency time.Duration
	Logger  logrus.FieldLogger

	afterFunc func(time.Duration, func()) timer
}

type Voice struct {
	clock     Clock
	send      Sender
	channel   uint8
	length    time.Duration
	latency   time.Duration
	log       logrus.FieldLogger
	afterFunc func(time.Duration, func()) timer
	closer    func() error

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	pending map[uint64]timer
}

func New(clock Clock, send Sender, opts Options) *Voice {
	if opts.NoteLength <= 0 {
		opts.NoteLength = DefaultNoteLength
	}
	if opts.Latency < 0 {
		opts.Latency = 0
	}
	if opts.afterFunc == nil {
		opts.afterFunc = func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) }
	}
	return &Voice{
		clock:     clock,
		send:      send,
		channel:   opts.Channel & 0x0f,
		length:    opts.NoteLength,
		latency:   opts.Latency,
		log:       logging.Component(opts.Logger, "midiout"),
		afterFunc: opts.afterFunc,
		pending:   make(map[uint64]timer),
	}
}

// Open finds an output port by name or number and returns a voice writing
// to it. A MIDI driver must be registered by the caller.
func Open(port string, clock Clock, opts Options) (*Voice, error) {
	out, err := findPort(port)
	if err != nil {
		return nil, err
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("midiout: open %q: %w", out.String(), err)
	}
	v := New(clock, Sender(send), opts)
	v.closer = out.Close
	v.log.WithField("port", out.String()).Info("midi output opened")
	return v, nil
}

func findPort(port string) (drivers.Out, error) {
	if n, err := strconv.Atoi(port); err == nil {
		out, err := gomidi.OutPort(n)
		if err != nil {
			return nil, fmt.Errorf("midiout: port %d: %w", n, err)
		}
		return out, nil
	}
	out, err := gomidi.FindOutPort(port)
	if err != nil {
		return nil, fmt.Errorf("midiout: port %q: %w", port, err)
	}
	return out, nil
}

// ListPorts returns the names of the available output ports.
func ListPorts() []string {
	var names []string
	for _, p := range gomidi.GetOutPorts() {
		names = append(names, p.String())
	}
	return names
}

// Key maps a track and its parameters to a MIDI key.
func Key(track voice.Track, params voice.Params) uint8 {
	switch track {
	case voice.Kick:
		return KeyKick
	case voice.Snare:
		return KeySnare
	case voice.HiHat:
		if params.Open {
			return KeyOpenHiHat
		}
		return KeyClosedHiHat
	}
	hz := params.PitchHz
	if hz <= 0 || math.IsNaN(hz) {
		hz = voice.DefaultBassPitch
	}
	k := math.Round(69 + 12*math.Log2(hz/440))
	return uint8(math.Max(0, math.Min(127, k)))
}

// Velocity scales [0,1] to 1..127; zero stays zero.
func Velocity(v float64) uint8 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return uint8(math.Max(1, math.Min(127, math.Round(v*127))))
}

func (v *Voice) Trigger(track voice.Track, at, velocity float64, params voice.Params) error {
	if !track.Valid() {
		return fmt.Errorf("%w: %d", voice.ErrInvalidTrack, int(track))
	}
	vel := Velocity(velocity)
	if vel == 0 {
		return nil
	}
	now, err := v.clock.Now()
	if err != nil {
		return fmt.Errorf("midiout: %w", err)
	}
	delay := time.Duration((at-now)*float64(time.Second)) + v.latency
	if delay < 0 {
		delay = 0
	}
	key := Key(track, params)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	id := v.nextID
	v.nextID++
	v.pending[id] = v.afterFunc(delay, func() {
		v.write(gomidi.NoteOn(v.channel, key, vel))
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.closed {
			return
		}
		v.pending[id] = v.afterFunc(v.length, func() {
			v.write(gomidi.NoteOff(v.channel, key))
			v.mu.Lock()
			delete(v.pending, id)
			v.mu.Unlock()
		})
	})
	return nil
}

func (v *Voice) write(msg gomidi.Message) {
	if err := v.send(msg); err != nil {
		v.log.WithError(err).WithField("msg", msg.String()).Warn("midi send failed")
	}
}

// Pending is the number of notes not yet released.
func (v *Voice) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// Close cancels every pending note and closes the port if Open made it.
// Notes already sounding are released.
func (v *Voice) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	pending := v.pending
	v.pending = make(map[uint64]timer)
	v.mu.Unlock()
	for _, t := range pending {
		t.Stop()
	}
	// All Notes Off on our channel.
	v.write(gomidi.ControlChange(v.channel, 123, 0))
	if v.closer != nil {
		return v.closer()
	}
	return nil
}
