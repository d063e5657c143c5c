package visual

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/stepseq-go/internal/logging"
)

// DefaultLookahead is how early a step is reported before its due time.
const DefaultLookahead = 0.05

type Clock interface {
	Now() (float64, error)
}

type FollowerOptions struct {
	Lookahead float64
	OnStep    func(step int, at float64)
	Logger    logrus.FieldLogger
}

// Follower is the render-rate consumer of a Queue. Frame never blocks on the
// scheduler and never touches audio state; a frame whose clock read fails is
// skipped.
type Follower struct {
	queue     *Queue
	clock     Clock
	lookahead float64
	log       logrus.FieldLogger

	mu     sync.Mutex
	onStep func(step int, at float64)

	current atomic.Int64
	frames  atomic.Int64
	skipped atomic.Int64
	emitted atomic.Int64
}

func NewFollower(q *Queue, clock Clock, opts FollowerOptions) *Follower {
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	f := &Follower{
		queue:     q,
		clock:     clock,
		lookahead: opts.Lookahead,
		log:       logging.Component(opts.Logger, "visual"),
		onStep:    opts.OnStep,
	}
	f.current.Store(-1)
	return f
}

// OnStep replaces the step notification callback. It runs on whatever
// goroutine calls Frame.
func (f *Follower) OnStep(fn func(step int, at float64)) {
	f.mu.Lock()
	f.onStep = fn
	f.mu.Unlock()
}

// Frame pops every queued step due before now+lookahead and reports each
// one. It returns the number reported.
func (f *Follower) Frame() int {
	f.frames.Add(1)
	now, err := f.clock.Now()
	if err != nil {
		f.skipped.Add(1)
		return 0
	}
	f.mu.Lock()
	cb := f.onStep
	f.mu.Unlock()
	n := f.queue.PopDue(now+f.lookahead, func(e Entry) {
		f.current.Store(int64(e.Step))
		if cb != nil {
			cb(e.Step, e.Time)
		}
	})
	f.emitted.Add(int64(n))
	if n > 1 {
		f.log.WithFields(logrus.Fields{"steps": n, "now": now}).Debug("frame caught up on several steps")
	}
	return n
}

// Current is the last reported step, or false before the first report.
func (f *Follower) Current() (int, bool) {
	s := f.current.Load()
	return int(s), s >= 0
}

// Reset forgets the current step.
func (f *Follower) Reset() { f.current.Store(-1) }

type FollowerStats struct {
	Frames  int64
	Skipped int64
	Emitted int64
}

func (f *Follower) Stats() FollowerStats {
	return FollowerStats{
		Frames:  f.frames.Load(),
		Skipped: f.skipped.Load(),
		Emitted: f.emitted.Load(),
	}
}

// Run calls Frame fps times a second until ctx is done. Hosts with their own
// frame callback call Frame directly instead.
func (f *Follower) Run(ctx context.Context, fps int) {
	if fps <= 0 {
		fps = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Frame()
		}
	}
}
