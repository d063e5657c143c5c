package pattern

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/stepseq-go/internal/logging"
	"github.com/cbegin/stepseq-go/internal/voice"
)

// ErrVoicePanic marks a VoiceError raised by a panicking voice.
var ErrVoicePanic = voice.ErrPanic

// VoiceError is one failed trigger. It never stops playback.
type VoiceError struct {
	Track voice.Track
	Step  int
	Time  float64
	Err   error
}

func (e *VoiceError) Error() string {
	return fmt.Sprintf("voice %s step %d at %.3fs: %v", e.Track, e.Step, e.Time, e.Err)
}

func (e *VoiceError) Unwrap() error { return e.Err }

// TriggerEvent is what the dispatcher is about to send, or has sent, to the
// voice.
type TriggerEvent struct {
	Track    voice.Track
	Step     int
	Time     float64
	Velocity float64
	Params   voice.Params
}

// Observer is called around every trigger on the scheduler goroutine. It
// must return quickly.
type Observer interface {
	BeforeTrigger(ev TriggerEvent)
	AfterTrigger(ev TriggerEvent, err error)
}

// ObserverFuncs adapts a pair of functions to Observer; either may be nil.
type ObserverFuncs struct {
	Before func(TriggerEvent)
	After  func(TriggerEvent, error)
}

func (o ObserverFuncs) BeforeTrigger(ev TriggerEvent) {
	if o.Before != nil {
		o.Before(ev)
	}
}

func (o ObserverFuncs) AfterTrigger(ev TriggerEvent, err error) {
	if o.After != nil {
		o.After(ev, err)
	}
}

// LogObserver traces every trigger at debug level.
func LogObserver(l logrus.FieldLogger) Observer {
	log := logging.Component(l, "trigger")
	return ObserverFuncs{
		After: func(ev TriggerEvent, err error) {
			entry := log.WithFields(logrus.Fields{
				"track":    ev.Track.String(),
				"step":     ev.Step,
				"time":     ev.Time,
				"velocity": ev.Velocity,
			})
			if err != nil {
				entry.WithError(err).Debug("trigger failed")
				return
			}
			entry.Debug("trigger")
		},
	}
}

type DispatcherOptions struct {
	Logger    logrus.FieldLogger
	Observers []Observer
	// OnError receives every *VoiceError. It runs on the scheduler goroutine.
	OnError func(error)
}

// Dispatcher turns a due step into voice triggers.
type Dispatcher struct {
	voice voice.Voice
	log   logrus.FieldLogger

	mu        sync.RWMutex
	observers []Observer
	onError   func(error)

	triggered atomic.Int64
	failed    atomic.Int64
}

func NewDispatcher(v voice.Voice, opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		voice:     v,
		log:       logging.Component(opts.Logger, "dispatch"),
		observers: append([]Observer(nil), opts.Observers...),
		onError:   opts.OnError,
	}
}

func (d *Dispatcher) AddObserver(o Observer) {
	if o == nil {
		return
	}
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

func (d *Dispatcher) SetErrorHandler(fn func(error)) {
	d.mu.Lock()
	d.onError = fn
	d.mu.Unlock()
}

// Dispatch triggers every enabled track whose step is active in snap, once
// each, in track order. Voice failures and panics are reported as
// *VoiceError and do not affect the other tracks. It returns the number of
// successful triggers.
func (d *Dispatcher) Dispatch(snap *Snapshot, step int, at float64) int {
	if snap == nil || step < 0 || step >= NumSteps {
		return 0
	}
	d.mu.RLock()
	observers, onError := d.observers, d.onError
	d.mu.RUnlock()

	n := 0
	for _, tr := range voice.Tracks {
		if !snap.Active(tr, step) {
			continue
		}
		set := snap.Settings[tr]
		ev := TriggerEvent{Track: tr, Step: step, Time: at, Velocity: set.Velocity, Params: set.Params}
		for _, o := range observers {
			o.BeforeTrigger(ev)
		}
		err := d.trigger(ev)
		for _, o := range observers {
			o.AfterTrigger(ev, err)
		}
		if err == nil {
			n++
			continue
		}
		ve := &VoiceError{Track: tr, Step: step, Time: at, Err: err}
		d.failed.Add(1)
		d.log.WithError(err).WithFields(logrus.Fields{"track": tr.String(), "step": step}).Warn("voice trigger failed")
		if onError != nil {
			onError(ve)
		}
	}
	d.triggered.Add(int64(n))
	return n
}

func (d *Dispatcher) trigger(ev TriggerEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrVoicePanic, r)
		}
	}()
	return d.voice.Trigger(ev.Track, ev.Time, ev.Velocity, ev.Params)
}

// Triggered is the number of successful triggers so far.
func (d *Dispatcher) Triggered() int64 { return d.triggered.Load() }

// Failed is the number of VoiceErrors so far.
func (d *Dispatcher) Failed() int64 { return d.failed.Load() }
