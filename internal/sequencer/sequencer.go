// Package sequencer runs the look-ahead scheduling loop: a wall-clock timer
// wakes it up often, and every wake-up schedules the steps that fall due
// within the next ScheduleAhead seconds of the audio clock.
package sequencer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/stepseq-go/internal/logging"
)

// Clock is the time source the scheduler reads. Now fails once the clock is
// closed or otherwise unusable.
type Clock interface {
	Now() (float64, error)
	Resume(ctx context.Context) error
}

// resumer is implemented by clocks that can restart themselves in the
// background without blocking the caller.
type resumer interface {
	Suspended() bool
	RequestResume(ctx context.Context)
}

// Note is one step instance: the step index plus the clock time it sounds at.
type Note struct {
	Step int
	Time float64
}

// Sink receives every scheduled note for the render-rate consumer.
type Sink interface {
	Push(step int, at float64)
	Clear()
}

type State int32

const (
	Stopped State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	Config Config
	// Dispatch receives the notes of one tick, in time order. It runs on the
	// scheduler goroutine and must not block. It may call Stop.
	Dispatch  func(notes []Note)
	OnPastDue func(*PastDueWarning)
	// OnError receives the *ClockError that stopped playback.
	OnError func(error)
	Visual  Sink
	Logger  logrus.FieldLogger
}

// Stats are cumulative counters since construction. Jitter compares the real
// tick period against LookaheadInterval; it is a service level to watch, not
// something the scheduler guarantees.
type Stats struct {
	Ticks     int64
	Steps     int64
	PastDue   int64
	Step      int
	NextDue   float64
	LastDue   float64
	JitterAvg time.Duration
	JitterMax time.Duration
}

type Sequencer struct {
	clock     Clock
	cfg       Config
	dispatch  func([]Note)
	onPastDue func(*PastDueWarning)
	onError   func(error)
	visual    Sink
	log       logrus.FieldLogger

	bpm   atomic.Uint64
	state atomic.Int32
	// generation whose tick is running a callback, 0 when none is
	inCallback atomic.Uint64

	mu      sync.Mutex
	gen     uint64
	step    int
	nextDue float64
	stopCh  chan struct{}
	doneCh  chan struct{}

	stats     Stats
	lastTick  time.Time
	jitterSum time.Duration
	jitterN   int64
}

func New(clock Clock, opts Options) *Sequencer {
	cfg := opts.Config.normalized()
	s := &Sequencer{
		clock:     clock,
		cfg:       cfg,
		dispatch:  opts.Dispatch,
		onPastDue: opts.OnPastDue,
		onError:   opts.OnError,
		visual:    opts.Visual,
		log:       logging.Component(opts.Logger, "sequencer"),
	}
	s.bpm.Store(math.Float64bits(cfg.BPM))
	return s
}

// SetBPM clamps bpm into range and applies it from the next advance on.
// Already scheduled steps keep their times. NaN is ignored.
func (s *Sequencer) SetBPM(bpm float64) {
	if math.IsNaN(bpm) {
		return
	}
	bpm = ClampBPM(bpm)
	s.bpm.Store(math.Float64bits(bpm))
	s.log.WithField("bpm", bpm).Debug("tempo changed")
}

func (s *Sequencer) BPM() float64 {
	return math.Float64frombits(s.bpm.Load())
}

// StepDuration is the current step length in seconds.
func (s *Sequencer) StepDuration() float64 {
	return StepDuration(s.BPM(), s.cfg.StepsPerBeat)
}

// Config returns the configuration with the current tempo.
func (s *Sequencer) Config() Config {
	c := s.cfg
	c.BPM = s.BPM()
	return c
}

func (s *Sequencer) State() State { return State(s.state.Load()) }

// Position returns the next step to schedule and its due time.
func (s *Sequencer) Position() (int, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step, s.nextDue
}

// Start waits for the clock to run, resets the position to step 0 at
// now+StartOffset and starts the tick loop. Starting a running sequencer is
// a no-op.
func (s *Sequencer) Start(ctx context.Context) error {
	return s.start(ctx, true)
}

// StartManual is Start without the timer loop; the caller drives Tick. It is
// used for offline rendering and deterministic tests.
func (s *Sequencer) StartManual(ctx context.Context) error {
	return s.start(ctx, false)
}

func (s *Sequencer) start(ctx context.Context, loop bool) error {
	s.mu.Lock()
	switch s.State() {
	case Running:
		s.mu.Unlock()
		return nil
	case Starting:
		s.mu.Unlock()
		return ErrStarting
	}
	s.gen++
	gen := s.gen
	s.state.Store(int32(Starting))
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		if s.gen == gen {
			s.state.Store(int32(Stopped))
		}
		s.mu.Unlock()
		return err
	}
	if err := s.clock.Resume(ctx); err != nil {
		return fail(err)
	}
	now, err := s.clock.Now()
	if err != nil {
		return fail(&ClockError{Err: err})
	}

	s.mu.Lock()
	if s.gen != gen || s.State() != Starting {
		s.mu.Unlock()
		return ErrStartCanceled
	}
	s.step = 0
	s.nextDue = now + s.cfg.StartOffset
	s.lastTick = time.Time{}
	s.state.Store(int32(Running))
	var stop, done chan struct{}
	if loop {
		stop, done = make(chan struct{}), make(chan struct{})
		s.stopCh, s.doneCh = stop, done
	}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"now": now, "first_due": now + s.cfg.StartOffset, "bpm": s.BPM()}).Info("sequencer started")
	if loop {
		go s.loop(gen, stop, done)
	}
	return nil
}

func (s *Sequencer) loop(gen uint64, stop, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}
		if !s.tick(gen) {
			return
		}
		timer.Reset(s.cfg.LookaheadInterval)
	}
}

// Stop halts playback and empties the visual queue. Once it returns no new
// Dispatch or visual notification for the old run starts. Called from a
// callback, it returns without waiting for the loop, which exits as soon as
// the callback does. The same holds for a callback that is already running
// when Stop is called from another goroutine.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	gen := s.gen
	s.gen++
	was := s.State()
	s.state.Store(int32(Stopped))
	stop, done := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		if s.inCallback.Load() != gen {
			<-done
		}
	}
	if s.visual != nil {
		s.visual.Clear()
	}
	if was != Stopped {
		s.log.Info("sequencer stopped")
	}
}

// Tick runs one scheduling pass. It reports whether the sequencer is still
// running afterwards.
func (s *Sequencer) Tick() bool {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.tick(gen)
}

func (s *Sequencer) tick(gen uint64) bool {
	s.mu.Lock()
	if s.gen != gen || s.State() != Running {
		s.mu.Unlock()
		return false
	}
	s.trackJitter(time.Now())
	s.stats.Ticks++

	now, err := s.clock.Now()
	if err != nil {
		cerr := &ClockError{Step: s.step, NextDue: s.nextDue, Err: err}
		s.gen++
		s.state.Store(int32(Stopped))
		s.stopCh, s.doneCh = nil, nil
		s.mu.Unlock()
		if s.visual != nil {
			s.visual.Clear()
		}
		s.log.WithError(err).Error("clock lost, playback stopped")
		if s.onError != nil {
			s.inCallback.Store(gen)
			s.onError(cerr)
			s.inCallback.CompareAndSwap(gen, 0)
		}
		return false
	}

	dur := StepDuration(s.BPM(), s.cfg.StepsPerBeat)
	horizon := now + s.cfg.ScheduleAhead
	floor := now + s.cfg.MinScheduleEpsilon
	var notes []Note
	var late []*PastDueWarning
	for s.nextDue < horizon {
		due := s.nextDue
		if due < floor {
			w := &PastDueWarning{Step: s.step, Due: due, Now: now, Scheduled: due}
			if s.cfg.ClampPastDue {
				due = floor
				w.Scheduled = due
			}
			late = append(late, w)
		}
		notes = append(notes, Note{Step: s.step, Time: due})
		if s.visual != nil {
			s.visual.Push(s.step, due)
		}
		s.nextDue += dur
		s.step = (s.step + 1) % s.cfg.TotalSteps
	}
	s.stats.Steps += int64(len(notes))
	s.stats.PastDue += int64(len(late))
	if len(notes) > 0 {
		s.stats.LastDue = notes[len(notes)-1].Time
	}
	s.mu.Unlock()

	if r, ok := s.clock.(resumer); ok && r.Suspended() {
		s.log.Debug("clock suspended during playback, requesting resume")
		r.RequestResume(context.Background())
	}

	s.inCallback.Store(gen)
	defer s.inCallback.CompareAndSwap(gen, 0)
	for _, w := range late {
		s.log.WithFields(logrus.Fields{"step": w.Step, "lag_ms": w.Lag() * 1000}).Warn("step past due")
		if s.onPastDue != nil && s.current(gen) {
			s.onPastDue(w)
		}
	}
	if len(notes) > 0 && s.dispatch != nil && s.current(gen) {
		s.dispatch(notes)
	}
	return s.current(gen)
}

// current reports whether gen is still the live run.
func (s *Sequencer) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Sequencer) trackJitter(at time.Time) {
	if !s.lastTick.IsZero() {
		d := at.Sub(s.lastTick) - s.cfg.LookaheadInterval
		if d < 0 {
			d = -d
		}
		s.jitterSum += d
		s.jitterN++
		if d > s.stats.JitterMax {
			s.stats.JitterMax = d
		}
	}
	s.lastTick = at
}

func (s *Sequencer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Step = s.step
	st.NextDue = s.nextDue
	if s.jitterN > 0 {
		st.JitterAvg = s.jitterSum / time.Duration(s.jitterN)
	}
	return st
}
