package clock

import "sync"

// Manual is a Device whose time only moves when told to. It starts
// Suspended, like an audio output that has not been unlocked yet.
type Manual struct {
	mu          sync.Mutex
	now         float64
	state       State
	hold        bool
	resumeErr   error
	resumeCalls int
	hook        func(State)
}

func NewManual() *Manual {
	return &Manual{state: Suspended}
}

func (c *Manual) SetStateHook(fn func(State)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

func (c *Manual) Resume() error {
	c.mu.Lock()
	c.resumeCalls++
	switch {
	case c.state == Closed:
		c.mu.Unlock()
		return ErrClosed
	case c.resumeErr != nil:
		err := c.resumeErr
		c.mu.Unlock()
		return err
	case c.hold:
		c.mu.Unlock()
		return nil
	}
	return c.transition(Running)
}

func (c *Manual) Suspend() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return ErrClosed
	}
	return c.transition(Suspended)
}

func (c *Manual) Close() error {
	c.mu.Lock()
	return c.transition(Closed)
}

// transition must be called with c.mu held; it releases it before running
// the hook.
func (c *Manual) transition(s State) error {
	changed := c.state != s
	c.state = s
	hook := c.hook
	c.mu.Unlock()
	if changed && hook != nil {
		hook(s)
	}
	return nil
}

func (c *Manual) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Manual) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves time forward by sec. It is ignored unless Running.
func (c *Manual) Advance(sec float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Running && sec > 0 {
		c.now += sec
	}
}

// Set jumps the timeline to t regardless of state.
func (c *Manual) Set(t float64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// HoldSuspended makes Resume accept requests without starting the clock.
func (c *Manual) HoldSuspended(hold bool) {
	c.mu.Lock()
	c.hold = hold
	c.mu.Unlock()
}

// FailResume makes every Resume return err (nil clears it).
func (c *Manual) FailResume(err error) {
	c.mu.Lock()
	c.resumeErr = err
	c.mu.Unlock()
}

// Force changes state as if the host did it, bypassing hold and failures.
func (c *Manual) Force(s State) {
	c.mu.Lock()
	c.transition(s)
}

func (c *Manual) ResumeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeCalls
}
