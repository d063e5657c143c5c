package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastOptions() Options {
	return Options{
		Retry:          RetryPolicy{MaxAttempts: 5, Interval: 2 * time.Millisecond},
		HealthInterval: 2 * time.Millisecond,
	}
}

func TestInitializeReachesRunning(t *testing.T) {
	dev := NewManual()
	m := NewManager(dev, fastOptions())
	if got := m.State(); got != Uninitialized {
		t.Fatalf("state before init = %v, want uninitialized", got)
	}
	if _, err := m.Now(); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("now before init err = %v, want ErrUninitialized", err)
	}
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if got := m.State(); got != Running {
		t.Fatalf("state = %v, want running", got)
	}
}

func TestInitializeFailsAfterBoundedAttempts(t *testing.T) {
	dev := NewManual()
	dev.HoldSuspended(true)
	m := NewManager(dev, fastOptions())
	err := m.Initialize(context.Background())
	if !errors.Is(err, ErrInitialization) {
		t.Fatalf("err = %v, want ErrInitialization", err)
	}
	var ie *InitError
	if !errors.As(err, &ie) {
		t.Fatalf("err %T is not *InitError", err)
	}
	if ie.Attempts != 5 {
		t.Fatalf("attempts = %d, want 5", ie.Attempts)
	}
	if ie.State != Suspended {
		t.Fatalf("final state = %v, want suspended", ie.State)
	}
	if dev.ResumeCalls() != 5 {
		t.Fatalf("resume calls = %d, want 5", dev.ResumeCalls())
	}
}

func TestInitializeCarriesDeviceError(t *testing.T) {
	boom := errors.New("device busy")
	dev := NewManual()
	dev.FailResume(boom)
	m := NewManager(dev, fastOptions())
	err := m.Initialize(context.Background())
	if !errors.Is(err, boom) || !errors.Is(err, ErrInitialization) {
		t.Fatalf("err = %v, want both ErrInitialization and device error", err)
	}
}

func TestInitializeWakesOnStateSignal(t *testing.T) {
	dev := NewManual()
	dev.HoldSuspended(true)
	m := NewManager(dev, Options{Retry: RetryPolicy{MaxAttempts: 3, Interval: time.Second}})
	go func() {
		time.Sleep(10 * time.Millisecond)
		dev.Force(Running)
	}()
	start := time.Now()
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if waited := time.Since(start); waited > 500*time.Millisecond {
		t.Fatalf("waited %v, state change should have woken the wait", waited)
	}
}

func TestInitializeHonoursContext(t *testing.T) {
	dev := NewManual()
	dev.HoldSuspended(true)
	m := NewManager(dev, Options{Retry: RetryPolicy{MaxAttempts: 100, Interval: time.Second}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Initialize(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNowIsMonotonicAndFrozenWhileSuspended(t *testing.T) {
	dev := NewManual()
	m := NewManager(dev, fastOptions())
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	dev.Advance(0.5)
	a, _ := m.Now()
	if a != 0.5 {
		t.Fatalf("now = %v, want 0.5", a)
	}
	if err := m.Suspend(); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	dev.Advance(1)
	b, _ := m.Now()
	if b != a {
		t.Fatalf("now moved while suspended: %v -> %v", a, b)
	}
	dev.Set(0.1)
	c, _ := m.Now()
	if c < b {
		t.Fatalf("now went backwards: %v -> %v", b, c)
	}
}

func TestResumeIsIdempotent(t *testing.T) {
	dev := NewManual()
	m := NewManager(dev, fastOptions())
	ctx := context.Background()
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	calls := dev.ResumeCalls()
	for i := 0; i < 3; i++ {
		if err := m.Resume(ctx); err != nil {
			t.Fatalf("resume %d: %v", i, err)
		}
	}
	if dev.ResumeCalls() != calls {
		t.Fatalf("resume while running reached the device %d extra times", dev.ResumeCalls()-calls)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	dev := NewManual()
	m := NewManager(dev, fastOptions())
	ctx := context.Background()
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := m.Now(); !errors.Is(err, ErrClosed) {
		t.Fatalf("now after close err = %v, want ErrClosed", err)
	}
	if err := m.Resume(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("resume after close err = %v, want ErrClosed", err)
	}
	if err := m.Initialize(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("initialize after close err = %v, want ErrClosed", err)
	}
	if got := m.State(); got != Closed {
		t.Fatalf("state = %v, want closed", got)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestWatchResumesUnexpectedSuspend(t *testing.T) {
	dev := NewManual()
	m := NewManager(dev, fastOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	go m.Watch(ctx, func() bool { return true })
	dev.Force(Suspended)
	deadline := time.Now().Add(time.Second)
	for dev.State() != Running {
		if time.Now().After(deadline) {
			t.Fatalf("health check never resumed the clock")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWatchIgnoresSuspendWhenInactive(t *testing.T) {
	dev := NewManual()
	m := NewManager(dev, fastOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	calls := dev.ResumeCalls()
	go m.Watch(ctx, func() bool { return false })
	dev.Force(Suspended)
	time.Sleep(20 * time.Millisecond)
	if dev.ResumeCalls() != calls {
		t.Fatalf("resume requested while playback inactive")
	}
	if dev.State() != Suspended {
		t.Fatalf("state = %v, want suspended", dev.State())
	}
}

func TestRetryPolicyBudget(t *testing.T) {
	if got := DefaultRetryPolicy().Budget(); got != 2*time.Second {
		t.Fatalf("default budget = %v, want 2s", got)
	}
	if got := (RetryPolicy{}).Budget(); got != 100*time.Millisecond {
		t.Fatalf("zero policy budget = %v, want 100ms", got)
	}
}

func TestNowReportsLostDevice(t *testing.T) {
	dev := NewManual()
	m := NewManager(dev, fastOptions())
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	dev.Force(Closed)
	if _, err := m.Now(); !errors.Is(err, ErrLost) {
		t.Fatalf("now err = %v, want ErrLost", err)
	}
	if got := m.State(); got != Closed {
		t.Fatalf("state = %v, want closed", got)
	}
	if err := m.Resume(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("resume err = %v, want ErrClosed", err)
	}
}
