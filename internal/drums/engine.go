// Package drums is the built-in synthesizer: four analog-style drum voices
// rendered sample by sample and anchored to the frame clock of the stream
// that pulls them.
package drums

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cbegin/stepseq-go/internal/effects"
	"github.com/cbegin/stepseq-go/internal/voice"
)

const twoPi = math.Pi * 2

var (
	ErrQueueFull   = errors.New("drums: trigger queue full")
	ErrBadTime     = errors.New("drums: trigger time is not finite")
	ErrBadVelocity = errors.New("drums: velocity is not finite")
)

type Params struct {
	MasterGain float64
	MaxVoices  int
	MaxPending int  // triggers waiting for their start frame
	Bus        bool // EQ, compressor and saturator on the master bus
}

func DefaultParams() Params {
	return Params{
		MasterGain: 0.8,
		MaxVoices:  16,
		MaxPending: 256,
		Bus:        true,
	}
}

type hit struct {
	frame    int64
	track    voice.Track
	velocity float64
	params   voice.Params
}

// Engine implements voice.Voice for the four drum tracks. Trigger may be
// called from any goroutine; Process must only be called by the audio stream.
type Engine struct {
	sampleRate float64
	params     Params

	mu      sync.Mutex
	pending []hit

	frame      atomic.Int64
	masterGain atomic.Uint64
	late       atomic.Int64
	stolen     atomic.Int64
	active     atomic.Int32
	silence    atomic.Bool

	// owned by Process
	due    []hit
	voices []drumVoice
	noise  uint32
	bus    *effects.Chain
}

func New(sampleRate int, params Params) *Engine {
	if params.MaxVoices <= 0 {
		params.MaxVoices = 16
	}
	if params.MaxPending <= 0 {
		params.MaxPending = 256
	}
	e := &Engine{
		sampleRate: float64(sampleRate),
		params:     params,
		voices:     make([]drumVoice, params.MaxVoices),
		noise:      0x2545F491,
	}
	e.SetMasterGain(params.MasterGain)
	if params.Bus {
		e.bus = effects.NewChain(
			effects.NewEQ3Band(sampleRate, 1.15, 1, 0.95, 120, 6000),
			effects.NewCompressor(sampleRate, -10, 3, 5, 120, 2),
			effects.NewSaturator(sampleRate, 1.5, 0.6, 0),
		)
	}
	return e
}

func (e *Engine) SampleRate() int { return int(e.sampleRate) }

// Now is the engine's position on its own timeline: frames rendered so far
// divided by the sample rate.
func (e *Engine) Now() float64 {
	return float64(e.frame.Load()) / e.sampleRate
}

// Frames returns the number of frames rendered so far.
func (e *Engine) Frames() int64 { return e.frame.Load() }

func (e *Engine) SetMasterGain(g float64) {
	if math.IsNaN(g) {
		g = 0
	}
	e.masterGain.Store(math.Float64bits(clamp(g, 0, 1)))
}

func (e *Engine) MasterGain() float64 {
	return math.Float64frombits(e.masterGain.Load())
}

// Trigger queues a hit to start at frame round(at*sampleRate). Hits due in
// the past start at the next rendered frame and are counted as late.
func (e *Engine) Trigger(track voice.Track, at, velocity float64, params voice.Params) error {
	if !track.Valid() {
		return fmt.Errorf("%w: %d", voice.ErrInvalidTrack, int(track))
	}
	if math.IsNaN(at) || math.IsInf(at, 0) {
		return ErrBadTime
	}
	if math.IsNaN(velocity) || math.IsInf(velocity, 0) {
		return ErrBadVelocity
	}
	h := hit{
		frame:    int64(math.Round(at * e.sampleRate)),
		track:    track,
		velocity: clamp(velocity, 0, 1),
		params:   params,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) >= e.params.MaxPending {
		return ErrQueueFull
	}
	i := sort.Search(len(e.pending), func(i int) bool { return e.pending[i].frame > h.frame })
	e.pending = append(e.pending, hit{})
	copy(e.pending[i+1:], e.pending[i:])
	e.pending[i] = h
	return nil
}

// Pending returns the number of queued hits that have not started yet.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Stats reports voice usage counters.
type Stats struct {
	ActiveVoices int
	Pending      int
	Late         int64
	Stolen       int64
}

func (e *Engine) Stats() Stats {
	return Stats{
		ActiveVoices: int(e.active.Load()),
		Pending:      e.Pending(),
		Late:         e.late.Load(),
		Stolen:       e.stolen.Load(),
	}
}

// Reset drops pending hits and cuts every sounding voice at the start of the
// next rendered buffer. The frame clock keeps running.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.pending = e.pending[:0]
	e.mu.Unlock()
	e.silence.Store(true)
}

// take moves every hit starting before end into e.due.
func (e *Engine) take(end int64) {
	e.due = e.due[:0]
	e.mu.Lock()
	n := sort.Search(len(e.pending), func(i int) bool { return e.pending[i].frame >= end })
	if n > 0 {
		e.due = append(e.due, e.pending[:n]...)
		e.pending = append(e.pending[:0], e.pending[n:]...)
	}
	e.mu.Unlock()
}

// Process renders len(dst)/2 interleaved stereo frames and advances the frame
// clock by the same amount.
func (e *Engine) Process(dst []float32) {
	frames := len(dst) / 2
	start := e.frame.Load()
	if e.silence.Swap(false) {
		for v := range e.voices {
			e.voices[v].active = false
		}
	}
	e.take(start + int64(frames))
	next := 0
	gain := e.MasterGain()
	for i := 0; i < frames; i++ {
		f := start + int64(i)
		for next < len(e.due) && e.due[next].frame <= f {
			h := e.due[next]
			if h.frame < start {
				e.late.Add(1)
			}
			e.start(h)
			next++
		}
		s := 0.0
		for v := range e.voices {
			dv := &e.voices[v]
			if dv.active {
				s += e.render(dv)
			}
		}
		out := float32(s * gain)
		dst[i*2] = out
		dst[i*2+1] = out
	}
	e.bus.ProcessBuffer(dst[:frames*2])
	for i := range dst[:frames*2] {
		dst[i] = float32(clamp(float64(dst[i]), -1, 1))
	}
	var n int32
	for v := range e.voices {
		if e.voices[v].active {
			n++
		}
	}
	e.active.Store(n)
	e.frame.Add(int64(frames))
}

func (e *Engine) start(h hit) {
	slot := e.stealVoice()
	v := &e.voices[slot]
	*v = drumVoice{
		active:   true,
		track:    h.track,
		velocity: h.velocity,
		open:     h.params.Open,
		pitch:    h.params.PitchHz,
	}
	if v.pitch <= 0 {
		v.pitch = voice.DefaultBassPitch
	}
	v.length = int(math.Ceil(v.duration() * e.sampleRate))
}

func (e *Engine) stealVoice() int {
	oldest, oldestAge := 0, -1
	for i := range e.voices {
		v := &e.voices[i]
		if !v.active {
			return i
		}
		if v.age > oldestAge {
			oldest, oldestAge = i, v.age
		}
	}
	e.stolen.Add(1)
	return oldest
}

// white returns the next sample of the engine's xorshift noise source.
func (e *Engine) white() float64 {
	x := e.noise
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	e.noise = x
	return float64(x)/float64(math.MaxUint32)*2 - 1
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
