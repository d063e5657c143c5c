package sequencer

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cbegin/stepseq-go/internal/clock"
)

type recorder struct {
	mu      sync.Mutex
	notes   []Note
	visual  []Note
	cleared int
}

func (r *recorder) dispatch(notes []Note) {
	r.mu.Lock()
	r.notes = append(r.notes, notes...)
	r.mu.Unlock()
}

func (r *recorder) Push(step int, at float64) {
	r.mu.Lock()
	r.visual = append(r.visual, Note{Step: step, Time: at})
	r.mu.Unlock()
}

func (r *recorder) Clear() {
	r.mu.Lock()
	r.visual = nil
	r.cleared++
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

func runningClock(t *testing.T) (*clock.Manual, *clock.Manager) {
	t.Helper()
	dev := clock.NewManual()
	m := clock.NewManager(dev, clock.Options{Retry: clock.RetryPolicy{MaxAttempts: 3, Interval: time.Millisecond}})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize clock: %v", err)
	}
	return dev, m
}

func newManual(t *testing.T, cfg Config) (*clock.Manual, *Sequencer, *recorder) {
	t.Helper()
	dev, m := runningClock(t)
	rec := &recorder{}
	s := New(m, Options{Config: cfg, Dispatch: rec.dispatch, Visual: rec})
	if err := s.StartManual(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return dev, s, rec
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestStepDurationScalesWithTempo(t *testing.T) {
	for bpm := MinBPM; bpm <= MaxBPM/2; bpm += 7 {
		d := StepDuration(bpm, 4)
		if want := 60 / bpm / 4; math.Abs(d-want) > 1e-4 {
			t.Fatalf("StepDuration(%v) = %v, want %v", bpm, d, want)
		}
		if half := StepDuration(bpm*2, 4); math.Abs(half-d/2) > 1e-4 {
			t.Fatalf("doubling %v bpm gave %v, want %v", bpm, half, d/2)
		}
	}
	if got := StepDuration(120, 4); got != 0.125 {
		t.Fatalf("StepDuration(120) = %v, want 0.125", got)
	}
}

func TestSetBPMClamps(t *testing.T) {
	_, m := runningClock(t)
	s := New(m, Options{})
	cases := []struct{ in, want float64 }{
		{10, 20},
		{500, 300},
		{133, 133},
	}
	for _, tc := range cases {
		s.SetBPM(tc.in)
		if got := s.BPM(); got != tc.want {
			t.Fatalf("SetBPM(%v) -> %v, want %v", tc.in, got, tc.want)
		}
	}
	s.SetBPM(math.NaN())
	if got := s.BPM(); got != 133 {
		t.Fatalf("NaN changed tempo to %v", got)
	}
	if got := New(m, Options{Config: Config{BPM: 1000}}).BPM(); got != MaxBPM {
		t.Fatalf("config bpm = %v, want clamped %v", got, MaxBPM)
	}
}

func TestFirstStepsAt120BPM(t *testing.T) {
	dev, s, rec := newManual(t, DefaultConfig())
	want := []float64{0.005, 0.130, 0.255, 0.380}
	for len(rec.notes) < len(want) {
		s.Tick()
		dev.Advance(0.025)
	}
	for i, w := range want {
		n := rec.notes[i]
		if n.Step != i || !near(n.Time, w) {
			t.Fatalf("note %d = %+v, want step %d at %v", i, n, i, w)
		}
	}
}

func TestStepsCycleAndTimesIncrease(t *testing.T) {
	dev, s, rec := newManual(t, DefaultConfig())
	for i := 0; i < 400; i++ {
		s.Tick()
		dev.Advance(0.025)
	}
	if len(rec.notes) < 64 {
		t.Fatalf("only %d notes scheduled", len(rec.notes))
	}
	for i, n := range rec.notes {
		if n.Step != i%16 {
			t.Fatalf("note %d step = %d, want %d", i, n.Step, i%16)
		}
		if i > 0 && n.Time <= rec.notes[i-1].Time {
			t.Fatalf("note %d time %v not after %v", i, n.Time, rec.notes[i-1].Time)
		}
	}
}

func TestPastDueStepsAreClamped(t *testing.T) {
	dev, s, rec := newManual(t, DefaultConfig())
	var warnings []*PastDueWarning
	s.onPastDue = func(w *PastDueWarning) { warnings = append(warnings, w) }
	dev.Advance(1.0)
	s.Tick()
	now := 1.0
	floor := now + s.cfg.MinScheduleEpsilon
	if len(rec.notes) != 9 {
		t.Fatalf("notes = %d, want 9 (due 0.005..1.005)", len(rec.notes))
	}
	for _, n := range rec.notes {
		if n.Time < now {
			t.Fatalf("step %d scheduled at %v, before now %v", n.Step, n.Time, now)
		}
		if n.Time < floor-1e-12 {
			t.Fatalf("step %d scheduled at %v, want >= %v", n.Step, n.Time, floor)
		}
	}
	if len(warnings) != 8 || s.Stats().PastDue != 8 {
		t.Fatalf("warnings = %d (stats %d), want 8", len(warnings), s.Stats().PastDue)
	}
	if w := warnings[0]; w.Due != 0.005 || w.Scheduled != floor || w.Lag() <= 0 {
		t.Fatalf("first warning = %+v", w)
	}
}

func TestPastDueWithoutClampKeepsOriginalTimes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClampPastDue = false
	dev, s, rec := newManual(t, cfg)
	dev.Advance(0.5)
	s.Tick()
	if rec.notes[0].Time != 0.005 {
		t.Fatalf("first note = %v, want original 0.005", rec.notes[0].Time)
	}
	if s.Stats().PastDue == 0 {
		t.Fatalf("late steps should still be counted")
	}
}

func TestStallDrainsInOnePass(t *testing.T) {
	devA, steady, recA := newManual(t, DefaultConfig())
	devB, stalled, recB := newManual(t, DefaultConfig())

	for i := 0; i < 4; i++ {
		steady.Tick()
		stalled.Tick()
		devA.Advance(0.025)
		devB.Advance(0.025)
	}
	before := len(recB.notes)
	for i := 0; i < 20; i++ {
		steady.Tick()
		devA.Advance(0.025)
	}
	steady.Tick()
	devB.Advance(0.5)
	stalled.Tick()

	stepA, dueA := steady.Position()
	stepB, dueB := stalled.Position()
	if stepA != stepB || dueA != dueB {
		t.Fatalf("stalled position (%d, %v), want (%d, %v)", stepB, dueB, stepA, dueA)
	}
	if len(recA.notes) != len(recB.notes) {
		t.Fatalf("stalled scheduled %d notes, steady %d", len(recB.notes), len(recA.notes))
	}
	if got := len(recB.notes) - before; got < 4 {
		t.Fatalf("stall pass scheduled %d notes, want every step of the window", got)
	}
}

func TestTempoChangeAppliesToLaterSteps(t *testing.T) {
	dev, s, rec := newManual(t, DefaultConfig())
	s.Tick()
	s.SetBPM(240)
	for len(rec.notes) < 3 {
		dev.Advance(0.025)
		s.Tick()
	}
	if !near(rec.notes[1].Time, 0.130) {
		t.Fatalf("step 1 = %v, want 0.130 (computed before the change)", rec.notes[1].Time)
	}
	if !near(rec.notes[2].Time, 0.1925) {
		t.Fatalf("step 2 = %v, want 0.1925", rec.notes[2].Time)
	}
}

func TestVisualSinkMirrorsDispatch(t *testing.T) {
	dev, s, rec := newManual(t, DefaultConfig())
	for i := 0; i < 20; i++ {
		s.Tick()
		dev.Advance(0.025)
	}
	if len(rec.visual) != len(rec.notes) {
		t.Fatalf("visual = %d, notes = %d", len(rec.visual), len(rec.notes))
	}
	for i := range rec.notes {
		if rec.visual[i] != rec.notes[i] {
			t.Fatalf("visual %d = %+v, want %+v", i, rec.visual[i], rec.notes[i])
		}
	}
}

func TestStopSilencesTheLoop(t *testing.T) {
	dev, m := runningClock(t)
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.LookaheadInterval = time.Millisecond
	s := New(m, Options{Config: cfg, Dispatch: rec.dispatch, Visual: rec})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for rec.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("loop dispatched %d notes in 1s", rec.count())
		}
		dev.Advance(0.05)
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	// a dispatch already running when Stop was called may still finish
	time.Sleep(5 * time.Millisecond)
	n := rec.count()
	for i := 0; i < 20; i++ {
		dev.Advance(0.05)
		time.Sleep(time.Millisecond)
	}
	if rec.count() != n {
		t.Fatalf("dispatches after stop: %d -> %d", n, rec.count())
	}
	if len(rec.visual) != 0 || rec.cleared == 0 {
		t.Fatalf("visual queue not cleared: %d entries", len(rec.visual))
	}
	if s.State() != Stopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}
	if s.Tick() {
		t.Fatalf("tick after stop reported running")
	}
}

func TestStopFromDispatchReturns(t *testing.T) {
	dev, m := runningClock(t)
	cfg := DefaultConfig()
	cfg.LookaheadInterval = time.Millisecond
	var s *Sequencer
	var calls atomic.Int32
	returned := make(chan struct{})
	s = New(m, Options{Config: cfg, Dispatch: func([]Note) {
		if calls.Add(1) == 1 {
			s.Stop()
			close(returned)
		}
	}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop called from Dispatch did not return")
	}
	for i := 0; i < 20; i++ {
		dev.Advance(0.05)
		time.Sleep(time.Millisecond)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("dispatch calls = %d, want 1", n)
	}
	if s.State() != Stopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}
	// the old loop is gone, so a fresh run starts cleanly
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s.Stop()
}

func TestStopFromPastDueSkipsDispatch(t *testing.T) {
	dev, m := runningClock(t)
	rec := &recorder{}
	var s *Sequencer
	s = New(m, Options{Dispatch: rec.dispatch, Visual: rec, OnPastDue: func(*PastDueWarning) { s.Stop() }})
	if err := s.StartManual(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	dev.Advance(1)
	if s.Tick() {
		t.Fatalf("tick reported running after Stop from OnPastDue")
	}
	if rec.count() != 0 {
		t.Fatalf("dispatched %d notes after stop", rec.count())
	}
}

func TestTickResumesSuspendedClock(t *testing.T) {
	dev, s, _ := newManual(t, DefaultConfig())
	before := dev.ResumeCalls()
	dev.Force(clock.Suspended)
	if !s.Tick() {
		t.Fatalf("tick on a suspended clock stopped playback")
	}
	deadline := time.Now().Add(2 * time.Second)
	for dev.State() != clock.Running {
		if time.Now().After(deadline) {
			t.Fatalf("clock state = %v, want running", dev.State())
		}
		time.Sleep(time.Millisecond)
	}
	if dev.ResumeCalls() <= before {
		t.Fatalf("resume calls = %d, want more than %d", dev.ResumeCalls(), before)
	}
}

func TestRestartResetsPosition(t *testing.T) {
	dev, s, _ := newManual(t, DefaultConfig())
	for i := 0; i < 10; i++ {
		s.Tick()
		dev.Advance(0.025)
	}
	s.Stop()
	if err := s.StartManual(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	step, due := s.Position()
	if step != 0 || !near(due, 0.25+0.005) {
		t.Fatalf("position after restart = (%d, %v), want (0, 0.255)", step, due)
	}
}

func TestClockLossStopsPlayback(t *testing.T) {
	_, m := runningClock(t)
	rec := &recorder{}
	var got error
	s := New(m, Options{Dispatch: rec.dispatch, Visual: rec, OnError: func(err error) { got = err }})
	if err := s.StartManual(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = m.Close()
	if s.Tick() {
		t.Fatalf("tick should report stopped after clock loss")
	}
	var ce *ClockError
	if !errors.As(got, &ce) || !errors.Is(got, clock.ErrClosed) {
		t.Fatalf("error = %v, want *ClockError wrapping ErrClosed", got)
	}
	if rec.count() != 0 {
		t.Fatalf("aborted tick dispatched %d notes", rec.count())
	}
	if s.State() != Stopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}
	s.Stop()
}

func TestStartFailsWhenClockNeverRuns(t *testing.T) {
	dev := clock.NewManual()
	dev.HoldSuspended(true)
	m := clock.NewManager(dev, clock.Options{Retry: clock.RetryPolicy{MaxAttempts: 2, Interval: time.Millisecond}})
	s := New(m, Options{})
	err := s.Start(context.Background())
	if !errors.Is(err, clock.ErrInitialization) {
		t.Fatalf("err = %v, want ErrInitialization", err)
	}
	if s.State() != Stopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}
}

func TestStopDuringStartCancelsIt(t *testing.T) {
	dev := clock.NewManual()
	dev.HoldSuspended(true)
	m := clock.NewManager(dev, clock.Options{Retry: clock.RetryPolicy{MaxAttempts: 50, Interval: 5 * time.Millisecond}})
	s := New(m, Options{})
	errc := make(chan error, 1)
	go func() { errc <- s.Start(context.Background()) }()
	for s.State() != Starting {
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	dev.Force(clock.Running)
	if err := <-errc; !errors.Is(err, ErrStartCanceled) {
		t.Fatalf("err = %v, want ErrStartCanceled", err)
	}
	if s.State() != Stopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}
}

func TestStatsTrackJitter(t *testing.T) {
	dev, s, _ := newManual(t, DefaultConfig())
	for i := 0; i < 5; i++ {
		s.Tick()
		dev.Advance(0.025)
	}
	st := s.Stats()
	if st.Ticks != 5 {
		t.Fatalf("ticks = %d, want 5", st.Ticks)
	}
	// back to back manual ticks run far faster than the nominal period
	if st.JitterMax <= 0 || st.JitterAvg <= 0 {
		t.Fatalf("jitter = %v/%v, want positive", st.JitterAvg, st.JitterMax)
	}
}

func BenchmarkTick(b *testing.B) {
	dev := clock.NewManual()
	m := clock.NewManager(dev, clock.Options{})
	if err := m.Initialize(context.Background()); err != nil {
		b.Fatalf("initialize: %v", err)
	}
	s := New(m, Options{Dispatch: func([]Note) {}})
	if err := s.StartManual(context.Background()); err != nil {
		b.Fatalf("start: %v", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dev.Advance(0.025)
		s.Tick()
	}
}
