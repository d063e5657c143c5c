package stepseq

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/cbegin/stepseq-go/internal/clock"
	"github.com/cbegin/stepseq-go/internal/drums"
)

// RenderPattern plays p from step 0 for the given number of seconds and
// returns the interleaved stereo output of the built-in synth. The scheduler
// runs against the synth's own frame counter, so the result does not depend
// on wall time.
func RenderPattern(p map[string][]bool, sampleRate int, seconds float64, opts ...Option) ([]float32, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return nil, fmt.Errorf("render length %v: must be positive", seconds)
	}
	cfg := defaultMachineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	engine := drums.New(sampleRate, cfg.drums)
	opts = append(opts, withEngine(engine), WithClockDevice(&frameClock{engine: engine}), withManualTicks())
	m, err := NewMachine(sampleRate, opts...)
	if err != nil {
		return nil, err
	}
	defer m.Destroy()
	if _, err := m.LoadPattern(p); err != nil {
		return nil, err
	}
	if err := m.Start(context.Background()); err != nil {
		return nil, err
	}

	frames := int(float64(sampleRate) * seconds)
	chunk := int(m.Config().LookaheadInterval.Seconds() * float64(sampleRate))
	if chunk <= 0 {
		chunk = 1
	}
	out := make([]float32, frames*2)
	for pos := 0; pos < frames; pos += chunk {
		n := min(chunk, frames-pos)
		m.tick()
		engine.Process(out[pos*2 : (pos+n)*2])
	}
	return out, nil
}

// frameClock is a clock device whose timeline is the frames an engine has
// rendered. It runs as soon as it is resumed.
type frameClock struct {
	engine *drums.Engine

	mu    sync.Mutex
	state clock.State
}

func (c *frameClock) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == clock.Closed {
		return clock.ErrClosed
	}
	c.state = clock.Running
	return nil
}

func (c *frameClock) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == clock.Closed {
		return clock.ErrClosed
	}
	c.state = clock.Suspended
	return nil
}

func (c *frameClock) Close() error {
	c.mu.Lock()
	c.state = clock.Closed
	c.mu.Unlock()
	return nil
}

func (c *frameClock) State() clock.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == clock.Uninitialized {
		return clock.Suspended
	}
	return c.state
}

func (c *frameClock) Now() float64 { return c.engine.Now() }

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
