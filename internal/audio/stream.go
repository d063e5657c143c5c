// Package audio connects a SampleSource to the host audio output and exposes
// the output as a clock: the frames the driver has pulled are the timeline.
package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
)

// SampleSource renders interleaved stereo float32 frames.
type SampleSource interface {
	Process(dst []float32)
}

// StreamReader adapts a SampleSource to the io.Reader the audio driver pulls
// 32-bit float little-endian stereo from.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
	frames atomic.Int64
	onRead func(frames int)
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

// OnRead installs a callback run after every pull, on the driver goroutine.
func (r *StreamReader) OnRead(fn func(frames int)) {
	r.mu.Lock()
	r.onRead = fn
	r.mu.Unlock()
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	frames := len(p) / 8
	if frames == 0 {
		r.mu.Unlock()
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	r.frames.Add(int64(frames))
	fn := r.onRead
	r.mu.Unlock()
	if fn != nil {
		fn(frames)
	}
	return frames * 8, nil
}

// Frames returns the number of frames handed to the driver so far.
func (r *StreamReader) Frames() int64 { return r.frames.Load() }

func (r *StreamReader) Close() error { return nil }
