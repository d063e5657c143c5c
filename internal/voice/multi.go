package voice

import (
	"errors"
	"fmt"
	"sync"
)

// Multi fans triggers out to several voices. A track with a route goes only
// to the voices registered for it; every other track goes to all defaults.
type Multi struct {
	mu       sync.RWMutex
	defaults []Voice
	routes   map[Track][]Voice
}

func NewMulti(defaults ...Voice) *Multi {
	return &Multi{
		defaults: defaults,
		routes:   make(map[Track][]Voice),
	}
}

// Add registers v for every track that has no explicit route.
func (m *Multi) Add(v Voice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = append(m.defaults, v)
}

// Route sends track exclusively to the given voices.
func (m *Multi) Route(track Track, voices ...Voice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(voices) == 0 {
		delete(m.routes, track)
		return
	}
	m.routes[track] = voices
}

func (m *Multi) targets(track Track) []Voice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if vs, ok := m.routes[track]; ok {
		return vs
	}
	return m.defaults
}

// Trigger calls every target voice even if one fails or panics; errors are
// joined.
func (m *Multi) Trigger(track Track, at, velocity float64, params Params) error {
	var errs []error
	for _, v := range m.targets(track) {
		if err := trigger(v, track, at, velocity, params); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func trigger(v Voice, track Track, at, velocity float64, params Params) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return v.Trigger(track, at, velocity, params)
}

// Len returns the number of registrations, defaults plus routed voices.
func (m *Multi) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.defaults)
	for _, vs := range m.routes {
		n += len(vs)
	}
	return n
}
