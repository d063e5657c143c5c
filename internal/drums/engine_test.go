package drums

import (
	"errors"
	"math"
	"testing"

	"github.com/cbegin/stepseq-go/internal/voice"
)

const testRate = 48000

func peak(buf []float32) float64 {
	m := 0.0
	for _, s := range buf {
		m = math.Max(m, math.Abs(float64(s)))
	}
	return m
}

func firstNonZeroFrame(buf []float32) int {
	for i := 0; i+1 < len(buf); i += 2 {
		if buf[i] != 0 || buf[i+1] != 0 {
			return i / 2
		}
	}
	return -1
}

func TestTriggerStartsAtScheduledFrame(t *testing.T) {
	params := DefaultParams()
	params.Bus = false
	e := New(testRate, params)
	at := 0.01 // frame 480
	if err := e.Trigger(voice.Kick, at, 1, voice.Params{}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	buf := make([]float32, 1024*2)
	e.Process(buf)
	// the kick starts at phase zero, so its first sample is silent
	got := firstNonZeroFrame(buf)
	if got < 480 || got > 482 {
		t.Fatalf("first audible frame = %d, want ~480", got)
	}
	if e.Now() != 1024.0/testRate {
		t.Fatalf("now = %v, want %v", e.Now(), 1024.0/testRate)
	}
}

func TestEveryTrackProducesSound(t *testing.T) {
	for _, tr := range voice.Tracks {
		t.Run(tr.String(), func(t *testing.T) {
			e := New(testRate, DefaultParams())
			if err := e.Trigger(tr, 0, 1, voice.Params{PitchHz: 80}); err != nil {
				t.Fatalf("trigger: %v", err)
			}
			buf := make([]float32, 2048*2)
			e.Process(buf)
			if p := peak(buf); p < 0.01 {
				t.Fatalf("peak = %f, want audible output", p)
			}
			if p := peak(buf); p > 1 {
				t.Fatalf("peak = %f, want clipped to 1", p)
			}
		})
	}
}

func TestVoicesEndAfterTheirDuration(t *testing.T) {
	e := New(testRate, DefaultParams())
	_ = e.Trigger(voice.HiHat, 0, 1, voice.Params{})
	buf := make([]float32, 512*2)
	e.Process(buf)
	if got := e.Stats().ActiveVoices; got != 1 {
		t.Fatalf("active voices = %d, want 1", got)
	}
	for i := 0; i < 10; i++ {
		e.Process(buf)
	}
	if got := e.Stats().ActiveVoices; got != 0 {
		t.Fatalf("active voices after closed hat = %d, want 0", got)
	}
}

func TestZeroVelocityIsSilent(t *testing.T) {
	e := New(testRate, DefaultParams())
	for _, tr := range voice.Tracks {
		if err := e.Trigger(tr, 0, 0, voice.Params{}); err != nil {
			t.Fatalf("trigger %v: %v", tr, err)
		}
	}
	buf := make([]float32, 1024*2)
	e.Process(buf)
	if p := peak(buf); p != 0 {
		t.Fatalf("peak = %f, want silence", p)
	}
}

func TestTriggerRejectsBadInput(t *testing.T) {
	e := New(testRate, DefaultParams())
	if err := e.Trigger(voice.Track(9), 0, 1, voice.Params{}); !errors.Is(err, voice.ErrInvalidTrack) {
		t.Fatalf("err = %v, want ErrInvalidTrack", err)
	}
	if err := e.Trigger(voice.Kick, math.NaN(), 1, voice.Params{}); !errors.Is(err, ErrBadTime) {
		t.Fatalf("err = %v, want ErrBadTime", err)
	}
	if err := e.Trigger(voice.Kick, 0, math.Inf(1), voice.Params{}); !errors.Is(err, ErrBadVelocity) {
		t.Fatalf("err = %v, want ErrBadVelocity", err)
	}
	if err := e.Trigger(voice.Kick, 0, 7, voice.Params{}); err != nil {
		t.Fatalf("out of range velocity should clamp, got %v", err)
	}
}

func TestQueueIsBounded(t *testing.T) {
	params := DefaultParams()
	params.MaxPending = 2
	e := New(testRate, params)
	_ = e.Trigger(voice.Kick, 1, 1, voice.Params{})
	_ = e.Trigger(voice.Kick, 2, 1, voice.Params{})
	if err := e.Trigger(voice.Kick, 3, 1, voice.Params{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	e.Reset()
	if e.Pending() != 0 {
		t.Fatalf("pending after reset = %d, want 0", e.Pending())
	}
}

func TestLateHitsStartImmediately(t *testing.T) {
	params := DefaultParams()
	params.Bus = false
	e := New(testRate, params)
	buf := make([]float32, 256*2)
	e.Process(buf)
	_ = e.Trigger(voice.Snare, 0, 1, voice.Params{})
	e.Process(buf)
	if got := e.Stats().Late; got != 1 {
		t.Fatalf("late = %d, want 1", got)
	}
	if got := firstNonZeroFrame(buf); got < 0 || got > 2 {
		t.Fatalf("late hit first frame = %d, want at buffer start", got)
	}
}

func TestVoiceStealingPrefersOldest(t *testing.T) {
	params := DefaultParams()
	params.MaxVoices = 2
	e := New(testRate, params)
	for i := 0; i < 3; i++ {
		_ = e.Trigger(voice.Kick, float64(i)*0.001, 1, voice.Params{})
	}
	buf := make([]float32, 512*2)
	e.Process(buf)
	st := e.Stats()
	if st.Stolen != 1 {
		t.Fatalf("stolen = %d, want 1", st.Stolen)
	}
	if st.ActiveVoices != 2 {
		t.Fatalf("active = %d, want 2", st.ActiveVoices)
	}
}

func TestMasterGainClamps(t *testing.T) {
	e := New(testRate, DefaultParams())
	e.SetMasterGain(3)
	if got := e.MasterGain(); got != 1 {
		t.Fatalf("gain = %v, want 1", got)
	}
	e.SetMasterGain(math.NaN())
	if got := e.MasterGain(); got != 0 {
		t.Fatalf("gain = %v, want 0", got)
	}
}

func TestExpRamp(t *testing.T) {
	if got := expRamp(150, 40, 0, 0.05); got != 150 {
		t.Fatalf("start = %v, want 150", got)
	}
	if got := expRamp(150, 40, 0.05, 0.05); got != 40 {
		t.Fatalf("end = %v, want 40", got)
	}
	mid := expRamp(100, 1, 0.5, 1)
	if math.Abs(mid-10) > 1e-9 {
		t.Fatalf("mid = %v, want 10", mid)
	}
}

func BenchmarkProcessFullKit(b *testing.B) {
	e := New(testRate, DefaultParams())
	buf := make([]float32, 512*2)
	for i := 0; i < b.N; i++ {
		if i%8 == 0 {
			for _, tr := range voice.Tracks {
				_ = e.Trigger(tr, e.Now(), 0.8, voice.Params{PitchHz: 80})
			}
		}
		e.Process(buf)
	}
}
