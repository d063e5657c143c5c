package pattern

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cbegin/stepseq-go/internal/voice"
)

// Change describes one pattern edit. Step is -1 when a whole track changed;
// All is set when every track changed at once.
type Change struct {
	Track  voice.Track
	Step   int
	Active bool
	All    bool
}

// Store is the mutable pattern. Invalid input is rejected before any state
// is touched. Listeners run after the lock is released.
type Store struct {
	mu       sync.RWMutex
	steps    [voice.NumTracks]Steps
	settings [voice.NumTracks]Settings

	lmu       sync.Mutex
	listeners []func(Change)
}

func NewStore() *Store {
	s := &Store{}
	for _, tr := range voice.Tracks {
		s.settings[tr] = DefaultSettings(tr)
	}
	return s
}

// OnChange registers fn to be called after every successful edit.
func (s *Store) OnChange(fn func(Change)) {
	if fn == nil {
		return
	}
	s.lmu.Lock()
	s.listeners = append(s.listeners, fn)
	s.lmu.Unlock()
}

func (s *Store) notify(c Change) {
	s.lmu.Lock()
	ls := s.listeners
	s.lmu.Unlock()
	for _, fn := range ls {
		fn(c)
	}
}

func (s *Store) SetStep(track voice.Track, step int, active bool) error {
	if err := checkTrack(track); err != nil {
		return err
	}
	if err := checkStep(step); err != nil {
		return err
	}
	s.mu.Lock()
	s.steps[track][step] = active
	s.mu.Unlock()
	s.notify(Change{Track: track, Step: step, Active: active})
	return nil
}

// ToggleStep flips a step and returns its new state.
func (s *Store) ToggleStep(track voice.Track, step int) (bool, error) {
	if err := checkTrack(track); err != nil {
		return false, err
	}
	if err := checkStep(step); err != nil {
		return false, err
	}
	s.mu.Lock()
	v := !s.steps[track][step]
	s.steps[track][step] = v
	s.mu.Unlock()
	s.notify(Change{Track: track, Step: step, Active: v})
	return v, nil
}

func (s *Store) Step(track voice.Track, step int) (bool, error) {
	if err := checkTrack(track); err != nil {
		return false, err
	}
	if err := checkStep(step); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.steps[track][step], nil
}

// Track returns a copy of one track's steps.
func (s *Store) Track(track voice.Track) (Steps, error) {
	if err := checkTrack(track); err != nil {
		return Steps{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.steps[track], nil
}

// Load applies a pattern keyed by track id. Each track is validated on its
// own: valid tracks are applied, invalid ones are left untouched and reported
// in the joined error. Tracks absent from p are not modified.
func (s *Store) Load(p map[string][]bool) ([]voice.Track, error) {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	valid := make(map[voice.Track]Steps, len(p))
	var errs []error
	for _, name := range names {
		tr, err := voice.ParseTrack(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		steps, err := FromBools(p[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("track %s: %w", tr, err))
			continue
		}
		valid[tr] = steps
	}
	return s.Apply(valid), errors.Join(errs...)
}

// Apply replaces the given tracks wholesale and returns them in track order.
func (s *Store) Apply(tracks map[voice.Track]Steps) []voice.Track {
	var applied []voice.Track
	s.mu.Lock()
	for _, tr := range voice.Tracks {
		if steps, ok := tracks[tr]; ok {
			s.steps[tr] = steps
			applied = append(applied, tr)
		}
	}
	s.mu.Unlock()
	for _, tr := range applied {
		s.notify(Change{Track: tr, Step: -1})
	}
	return applied
}

// Clear deactivates every step of every track. Settings are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	s.steps = [voice.NumTracks]Steps{}
	s.mu.Unlock()
	s.notify(Change{Step: -1, All: true})
}

func (s *Store) ClearTrack(track voice.Track) error {
	if err := checkTrack(track); err != nil {
		return err
	}
	s.mu.Lock()
	s.steps[track] = Steps{}
	s.mu.Unlock()
	s.notify(Change{Track: track, Step: -1})
	return nil
}

// SetVelocity clamps v into [0,1]; NaN counts as 0.
func (s *Store) SetVelocity(track voice.Track, v float64) error {
	if err := checkTrack(track); err != nil {
		return err
	}
	if math.IsNaN(v) {
		v = 0
	}
	v = math.Max(0, math.Min(1, v))
	s.mu.Lock()
	s.settings[track].Velocity = v
	s.mu.Unlock()
	return nil
}

func (s *Store) SetEnabled(track voice.Track, enabled bool) error {
	if err := checkTrack(track); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings[track].Enabled = enabled
	s.mu.Unlock()
	return nil
}

// SetOpen switches the track between its open and closed sound. Only the
// hi-hat voice makes use of it.
func (s *Store) SetOpen(track voice.Track, open bool) error {
	if err := checkTrack(track); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings[track].Params.Open = open
	s.mu.Unlock()
	return nil
}

// SetPitch sets the track pitch in Hz, clamped to the bass voice range.
func (s *Store) SetPitch(track voice.Track, hz float64) error {
	if err := checkTrack(track); err != nil {
		return err
	}
	if math.IsNaN(hz) {
		hz = voice.DefaultBassPitch
	}
	hz = math.Max(voice.MinBassPitch, math.Min(voice.MaxBassPitch, hz))
	s.mu.Lock()
	s.settings[track].Params.PitchHz = hz
	s.mu.Unlock()
	return nil
}

func (s *Store) Settings(track voice.Track) (Settings, error) {
	if err := checkTrack(track); err != nil {
		return Settings{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings[track], nil
}

// Snapshot copies steps and settings under one read lock.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{Steps: s.steps, Settings: s.settings}
}

// Pattern returns a copy of the steps keyed by track id.
func (s *Store) Pattern() map[string][]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]bool, voice.NumTracks)
	for _, tr := range voice.Tracks {
		out[tr.String()] = s.steps[tr].Bools()
	}
	return out
}
