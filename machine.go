// Package stepseq is a four-track, sixteen-step drum machine driven by an
// audio-rate clock. A look-ahead scheduler hands every step to the voices a
// little before it is due, with a timestamp on the audio timeline, and a
// separate render-rate consumer reports the playback position to the UI.
package stepseq

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/stepseq-go/internal/audio"
	"github.com/cbegin/stepseq-go/internal/clock"
	"github.com/cbegin/stepseq-go/internal/drums"
	"github.com/cbegin/stepseq-go/internal/logging"
	"github.com/cbegin/stepseq-go/internal/pattern"
	"github.com/cbegin/stepseq-go/internal/sequencer"
	"github.com/cbegin/stepseq-go/internal/visual"
	"github.com/cbegin/stepseq-go/internal/voice"
)

// PlaybackState is the machine-level lifecycle.
type PlaybackState int32

const (
	Stopped PlaybackState = iota
	Initializing
	Running
	Destroyed
)

func (s PlaybackState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("playback(%d)", int(s))
	}
}

// Machine owns one clock, one pattern and one scheduler. Create it with
// NewMachine and release it with Destroy.
type Machine struct {
	cfg        machineConfig
	sampleRate int
	log        logrus.FieldLogger

	synth      *drums.Engine
	voices     *voice.Multi
	clock      *clock.Manager
	store      *pattern.Store
	dispatcher *pattern.Dispatcher
	seq        *sequencer.Sequencer
	queue      *visual.Queue
	follower   *visual.Follower

	mu        sync.Mutex
	state     atomic.Int32
	run       uint64
	stopWatch context.CancelFunc

	cbMu            sync.RWMutex
	onStep          func(step int, at float64)
	onError         func(error)
	onPatternChange func(Change)

	volume      atomic.Uint64
	stepsPlayed atomic.Int64
	lastStep    atomic.Uint64
}

func NewMachine(sampleRate int, opts ...Option) (*Machine, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultMachineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	m := &Machine{
		cfg:        cfg,
		sampleRate: sampleRate,
		log:        logging.Component(cfg.logger, "machine"),
		store:      pattern.NewStore(),
		queue:      visual.NewQueue(cfg.visualLimit),
	}
	m.volume.Store(math.Float64bits(1))

	m.voices = voice.NewMulti()
	if cfg.synth {
		m.synth = cfg.engine
		if m.synth == nil {
			m.synth = drums.New(sampleRate, cfg.drums)
		}
		m.voices.Add(m.synth)
	}
	for _, v := range cfg.voices {
		m.voices.Add(v)
	}
	for tr, vs := range cfg.routes {
		m.voices.Route(tr, vs...)
	}
	if m.voices.Len() == 0 {
		return nil, errors.New("stepseq: no voices: the built-in synth is disabled and none were given")
	}

	dev := cfg.device
	if dev == nil {
		var src audio.SampleSource = silence{}
		if m.synth != nil {
			src = m.synth
		}
		if cfg.sampleTap != nil {
			src = tapSource{src: src, tap: cfg.sampleTap}
		}
		dev = audio.NewDevice(sampleRate, src, audio.WithBufferSize(cfg.bufferSize), audio.WithLogger(cfg.logger))
	}
	m.clock = clock.NewManager(dev, clock.Options{
		Retry:          cfg.retry,
		HealthInterval: cfg.health,
		Logger:         cfg.logger,
	})

	m.dispatcher = pattern.NewDispatcher(m.voices, pattern.DispatcherOptions{
		Logger:    cfg.logger,
		Observers: cfg.observers,
		OnError:   m.reportError,
	})
	m.seq = sequencer.New(m.clock, sequencer.Options{
		Config:    cfg.seq,
		Dispatch:  m.dispatch,
		OnPastDue: m.pastDue,
		OnError:   m.clockLost,
		Visual:    m.queue,
		Logger:    cfg.logger,
	})
	m.follower = visual.NewFollower(m.queue, m.clock, visual.FollowerOptions{
		Lookahead: cfg.renderLookahead,
		Logger:    cfg.logger,
	})
	m.store.OnChange(func(c pattern.Change) {
		m.cbMu.RLock()
		fn := m.onPatternChange
		m.cbMu.RUnlock()
		if fn != nil {
			fn(c)
		}
	})
	return m, nil
}

func (m *Machine) SampleRate() int { return m.sampleRate }

func (m *Machine) State() PlaybackState { return PlaybackState(m.state.Load()) }

func (m *Machine) IsPlaying() bool { return m.State() == Running }

// Now is the clock time in seconds, the timeline trigger times refer to.
func (m *Machine) Now() (float64, error) { return m.clock.Now() }

// ClockState reports the lifecycle of the underlying clock.
func (m *Machine) ClockState() ClockState { return m.clock.State() }

// Initialize brings the clock up without starting playback. Start does this
// on its own when needed.
func (m *Machine) Initialize(ctx context.Context) error {
	m.mu.Lock()
	switch m.State() {
	case Destroyed:
		m.mu.Unlock()
		return ErrClosed
	case Running, Initializing:
		m.mu.Unlock()
		return nil
	}
	m.state.Store(int32(Initializing))
	m.mu.Unlock()

	err := m.clock.Initialize(ctx)

	m.mu.Lock()
	if m.State() == Initializing {
		m.state.Store(int32(Stopped))
	}
	m.mu.Unlock()
	if err != nil {
		m.log.WithError(err).Error("clock initialization failed")
		m.reportError(err)
		return err
	}
	return nil
}

// Start begins playback from step 0. It blocks until the clock runs or the
// retry policy gives up.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.State() {
	case Destroyed:
		m.mu.Unlock()
		return ErrClosed
	case Running:
		m.mu.Unlock()
		return nil
	case Initializing:
		m.mu.Unlock()
		return ErrBusy
	}
	m.state.Store(int32(Initializing))
	m.run++
	run := m.run
	m.mu.Unlock()

	m.queue.Clear()
	m.follower.Reset()
	start := m.seq.Start
	if m.cfg.manualTicks {
		start = m.seq.StartManual
	}
	if err := start(ctx); err != nil {
		m.mu.Lock()
		if m.run == run {
			m.state.Store(int32(Stopped))
		}
		m.mu.Unlock()
		if !errors.Is(err, ErrStartCanceled) {
			m.log.WithError(err).Error("start failed")
			m.reportError(err)
		}
		return err
	}

	m.mu.Lock()
	if m.run != run || m.State() != Initializing {
		m.mu.Unlock()
		m.seq.Stop()
		return ErrStartCanceled
	}
	m.state.Store(int32(Running))
	if !m.cfg.manualTicks {
		watchCtx, cancel := context.WithCancel(context.Background())
		m.stopWatch = cancel
		go m.clock.Watch(watchCtx, m.IsPlaying)
	}
	m.mu.Unlock()

	m.log.WithField("bpm", m.BPM()).Info("playback started")
	return nil
}

// Stop halts playback. After it returns no new OnStep or OnVisualUpdate
// callback starts for the old run. It may be called from inside any callback.
func (m *Machine) Stop() {
	m.mu.Lock()
	if m.State() == Destroyed {
		m.mu.Unlock()
		return
	}
	m.run++
	m.state.Store(int32(Stopped))
	m.cancelLocked()
	m.mu.Unlock()

	m.seq.Stop()
	m.follower.Reset()
}

func (m *Machine) cancelLocked() {
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
}

// Toggle stops a playing machine and starts a stopped one.
func (m *Machine) Toggle(ctx context.Context) error {
	if m.IsPlaying() {
		m.Stop()
		return nil
	}
	return m.Start(ctx)
}

// Destroy stops playback and closes the clock. The machine cannot be used
// afterwards.
func (m *Machine) Destroy() error {
	m.Stop()
	m.mu.Lock()
	if m.State() == Destroyed {
		m.mu.Unlock()
		return nil
	}
	m.state.Store(int32(Destroyed))
	m.mu.Unlock()
	err := m.clock.Close()
	m.log.Info("machine destroyed")
	return err
}

// tick runs one scheduling pass by hand. Only meaningful with
// withManualTicks.
func (m *Machine) tick() bool { return m.seq.Tick() }

func (m *Machine) dispatch(notes []sequencer.Note) {
	snap := m.store.Snapshot()
	m.cbMu.RLock()
	onStep := m.onStep
	m.cbMu.RUnlock()
	m.mu.Lock()
	run := m.run
	m.mu.Unlock()
	for _, n := range notes {
		if !m.live(run) {
			return
		}
		m.dispatcher.Dispatch(snap, n.Step, n.Time)
		m.stepsPlayed.Add(1)
		m.lastStep.Store(math.Float64bits(n.Time))
		if onStep != nil {
			onStep(n.Step, n.Time)
		}
	}
}

// live reports whether no Stop or Start happened since run was read.
func (m *Machine) live(run uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run == run
}

func (m *Machine) pastDue(w *sequencer.PastDueWarning) {
	m.log.WithFields(logrus.Fields{"step": w.Step, "due": w.Due, "scheduled": w.Scheduled}).Debug("past-due step")
}

// clockLost runs on the scheduler goroutine after it stopped itself.
func (m *Machine) clockLost(err error) {
	m.mu.Lock()
	if m.State() == Running {
		m.run++
		m.state.Store(int32(Stopped))
		m.cancelLocked()
	}
	m.mu.Unlock()
	m.follower.Reset()
	m.reportError(err)
}

func (m *Machine) reportError(err error) {
	m.cbMu.RLock()
	fn := m.onError
	m.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// OnStep registers the audio-rate callback: it runs on the scheduler
// goroutine once per scheduled step, ahead of the step's time.
func (m *Machine) OnStep(fn func(step int, at float64)) {
	m.cbMu.Lock()
	m.onStep = fn
	m.cbMu.Unlock()
}

// OnVisualUpdate registers the render-rate callback. It runs inside
// RenderFrame, on the caller's goroutine.
func (m *Machine) OnVisualUpdate(fn func(step int, at float64)) {
	m.follower.OnStep(fn)
}

// OnError registers the error callback. It receives *ClockError,
// *InitError and *VoiceError values.
func (m *Machine) OnError(fn func(error)) {
	m.cbMu.Lock()
	m.onError = fn
	m.cbMu.Unlock()
}

func (m *Machine) OnPatternChange(fn func(Change)) {
	m.cbMu.Lock()
	m.onPatternChange = fn
	m.cbMu.Unlock()
}

// RenderFrame is the per-frame hook of the host UI. It reports the steps
// due within the render lookahead and returns how many it reported.
func (m *Machine) RenderFrame() int { return m.follower.Frame() }

// RunVisual drives RenderFrame at fps until ctx is done, for hosts without a
// frame callback of their own.
func (m *Machine) RunVisual(ctx context.Context, fps int) { m.follower.Run(ctx, fps) }

// VisualStep is the step most recently reported by RenderFrame.
func (m *Machine) VisualStep() (int, bool) { return m.follower.Current() }

func (m *Machine) SetBPM(bpm float64) { m.seq.SetBPM(bpm) }

func (m *Machine) BPM() float64 { return m.seq.BPM() }

func (m *Machine) Config() Config { return m.seq.Config() }

func (m *Machine) SetStep(track Track, step int, active bool) error {
	return m.store.SetStep(track, step, active)
}

func (m *Machine) ToggleStep(track Track, step int) (bool, error) {
	return m.store.ToggleStep(track, step)
}

func (m *Machine) Step(track Track, step int) (bool, error) {
	return m.store.Step(track, step)
}

// LoadPattern applies every valid track of p and reports the rest. Tracks
// missing from p are left alone.
func (m *Machine) LoadPattern(p map[string][]bool) ([]Track, error) {
	return m.store.Load(p)
}

// LoadPatternData decodes a YAML or JSON pattern document and applies it the
// same way as LoadPattern.
func (m *Machine) LoadPatternData(data []byte) ([]Track, error) {
	p, err := pattern.Decode(data)
	if p == nil {
		return nil, err
	}
	return m.store.Apply(p), err
}

// Pattern returns a copy of the current steps keyed by track id.
func (m *Machine) Pattern() map[string][]bool { return m.store.Pattern() }

// PatternData encodes the current steps in the LoadPatternData format.
func (m *Machine) PatternData() ([]byte, error) {
	snap := m.store.Snapshot()
	p := make(map[voice.Track]pattern.Steps, voice.NumTracks)
	for _, tr := range voice.Tracks {
		p[tr] = snap.Steps[tr]
	}
	return pattern.Encode(p)
}

func (m *Machine) ClearPattern() { m.store.Clear() }

func (m *Machine) ClearTrack(track Track) error { return m.store.ClearTrack(track) }

func (m *Machine) SetTrackVelocity(track Track, v float64) error {
	return m.store.SetVelocity(track, v)
}

func (m *Machine) SetTrackEnabled(track Track, enabled bool) error {
	return m.store.SetEnabled(track, enabled)
}

func (m *Machine) TrackSettings(track Track) (Settings, error) {
	return m.store.Settings(track)
}

func (m *Machine) SetHiHatOpen(open bool) {
	_ = m.store.SetOpen(HiHat, open)
}

// SetBassPitch sets the bass fundamental, clamped to [40,200] Hz.
func (m *Machine) SetBassPitch(hz float64) {
	_ = m.store.SetPitch(Bass, hz)
}

// SetMasterVolume sets the built-in synth output level, clamped to [0,1].
func (m *Machine) SetMasterVolume(v float64) {
	if math.IsNaN(v) {
		v = 0
	}
	v = math.Max(0, math.Min(1, v))
	m.volume.Store(math.Float64bits(v))
	if m.synth != nil {
		m.synth.SetMasterGain(v * m.cfg.drums.MasterGain)
	}
}

func (m *Machine) MasterVolume() float64 {
	return math.Float64frombits(m.volume.Load())
}

// AddObserver installs trigger hooks at runtime.
func (m *Machine) AddObserver(o Observer) { m.dispatcher.AddObserver(o) }

// silence feeds the audio device when the built-in synth is off.
type silence struct{}

func (silence) Process(dst []float32) { clear(dst) }

type tapSource struct {
	src audio.SampleSource
	tap func([]float32)
}

func (t tapSource) Process(dst []float32) {
	t.src.Process(dst)
	t.tap(dst)
}
