package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/stepseq-go/internal/logging"
)

type Options struct {
	Retry          RetryPolicy
	HealthInterval time.Duration
	Logger         logrus.FieldLogger
}

func DefaultOptions() Options {
	return Options{
		Retry:          DefaultRetryPolicy(),
		HealthInterval: time.Second,
	}
}

// Manager wraps a Device with the lifecycle rules the scheduler relies on:
// bounded resume, a monotonic Now, and a terminal Close.
type Manager struct {
	dev    Device
	retry  RetryPolicy
	health time.Duration
	log    logrus.FieldLogger

	mu          sync.Mutex
	initialized bool
	closed      bool
	observed    State
	last        float64
	changed     chan struct{}

	resuming atomic.Bool
}

func NewManager(dev Device, opts Options) *Manager {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = time.Second
	}
	m := &Manager{
		dev:      dev,
		retry:    opts.Retry,
		health:   opts.HealthInterval,
		log:      logging.Component(opts.Logger, "clock"),
		observed: dev.State(),
		changed:  make(chan struct{}),
	}
	if n, ok := dev.(Notifier); ok {
		n.SetStateHook(m.observe)
	}
	return m
}

// observe records a device state and wakes everyone waiting on Changed.
func (m *Manager) observe(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		s = Closed
	}
	if s == m.observed {
		return
	}
	m.observed = s
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Manager) refresh() State {
	if m.isClosed() {
		return Closed
	}
	s := m.dev.State()
	m.observe(s)
	return s
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Changed returns a channel that is closed at the next observed state change.
func (m *Manager) Changed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

func (m *Manager) State() State {
	m.mu.Lock()
	closed, initialized := m.closed, m.initialized
	m.mu.Unlock()
	switch {
	case closed:
		return Closed
	case !initialized:
		return Uninitialized
	}
	return m.refresh()
}

// Initialize brings the device to Running. It fails with an *InitError once
// the retry policy is exhausted.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.initialized = true
	m.mu.Unlock()
	if err := m.awaitRunning(ctx); err != nil {
		return err
	}
	m.log.WithField("now", m.dev.Now()).Info("clock running")
	return nil
}

// Resume is Initialize for an already created clock. Calling it while the
// clock is running is a no-op.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.initialized = true
	m.mu.Unlock()
	return m.awaitRunning(ctx)
}

func (m *Manager) awaitRunning(ctx context.Context) error {
	start := time.Now()
	attempts := m.retry.attempts()
	var lastErr error
	for attempt := 1; ; attempt++ {
		changed := m.Changed()
		s := m.refresh()
		switch s {
		case Running:
			return nil
		case Closed:
			return ErrClosed
		}
		if err := m.dev.Resume(); err != nil {
			lastErr = err
			m.log.WithError(err).WithField("attempt", attempt).Debug("resume request failed")
		}
		if s = m.refresh(); s == Running {
			return nil
		}
		if attempt >= attempts {
			return &InitError{Attempts: attempt, Waited: time.Since(start), State: s, Err: lastErr}
		}
		if attempt%5 == 0 {
			m.log.WithFields(logrus.Fields{"attempt": attempt, "state": s}).Info("still waiting for clock")
		}
		timer := time.NewTimer(m.retry.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Suspend pauses the device; Now freezes until the next resume.
func (m *Manager) Suspend() error {
	if m.isClosed() {
		return ErrClosed
	}
	err := m.dev.Suspend()
	m.refresh()
	return err
}

// Now returns the device time in seconds. The result never goes backwards.
func (m *Manager) Now() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if !m.initialized {
		return 0, ErrUninitialized
	}
	if m.dev.State() == Closed {
		return 0, ErrLost
	}
	t := m.dev.Now()
	if t < m.last {
		t = m.last
	}
	m.last = t
	return t, nil
}

// Close tears the device down. It is terminal and safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	err := m.dev.Close()
	m.observe(Closed)
	m.log.Info("clock closed")
	return err
}

// Suspended reports whether an initialized clock has been paused by the host.
func (m *Manager) Suspended() bool { return m.State() == Suspended }

// RequestResume starts a resume in the background unless one is already in
// flight. Failures are logged only.
func (m *Manager) RequestResume(ctx context.Context) {
	if m.isClosed() || !m.resuming.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.resuming.Store(false)
		if err := m.Resume(ctx); err != nil {
			m.log.WithError(err).Warn("background resume failed")
			return
		}
		m.log.Info("clock resumed")
	}()
}

// Watch polls the device every health interval until ctx is done. While
// active reports true, a device found Suspended gets a background resume.
func (m *Manager) Watch(ctx context.Context, active func() bool) {
	ticker := time.NewTicker(m.health)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if active != nil && !active() {
				continue
			}
			if m.refresh() != Suspended {
				continue
			}
			m.log.Warn("clock suspended during playback, requesting resume")
			m.RequestResume(ctx)
		}
	}
}
