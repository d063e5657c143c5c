package pattern

import (
	"errors"
	"math"
	"testing"

	"github.com/cbegin/stepseq-go/internal/voice"
)

func TestToggleTwiceRestores(t *testing.T) {
	s := NewStore()
	for _, tr := range voice.Tracks {
		for step := 0; step < NumSteps; step++ {
			before, _ := s.Step(tr, step)
			if _, err := s.ToggleStep(tr, step); err != nil {
				t.Fatalf("toggle %v/%d: %v", tr, step, err)
			}
			v, _ := s.ToggleStep(tr, step)
			if v != before {
				t.Fatalf("%v/%d after two toggles = %v, want %v", tr, step, v, before)
			}
		}
	}
}

func TestInvalidInputLeavesStateUntouched(t *testing.T) {
	s := NewStore()
	_ = s.SetStep(voice.Kick, 0, true)
	want := s.Snapshot()

	if err := s.SetStep(voice.Track(9), 0, true); !errors.Is(err, ErrInvalidTrack) {
		t.Fatalf("err = %v, want ErrInvalidTrack", err)
	}
	if err := s.SetStep(voice.Kick, 16, true); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("err = %v, want ErrInvalidStep", err)
	}
	if _, err := s.ToggleStep(voice.Kick, -1); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("err = %v, want ErrInvalidStep", err)
	}
	if err := s.ClearTrack(voice.Track(-1)); !errors.Is(err, ErrInvalidTrack) {
		t.Fatalf("err = %v, want ErrInvalidTrack", err)
	}
	if got := s.Snapshot(); *got != *want {
		t.Fatalf("state changed by rejected edits")
	}
}

func TestLoadIsPartialPerTrack(t *testing.T) {
	s := NewStore()
	_ = s.SetStep(voice.Snare, 4, true)
	kick := make([]bool, NumSteps)
	kick[0] = true
	applied, err := s.Load(map[string][]bool{
		"kick":    kick,
		"snare":   {true, false},
		"cowbell": make([]bool, NumSteps),
	})
	if err == nil {
		t.Fatalf("load should report the invalid tracks")
	}
	if !errors.Is(err, ErrInvalidPattern) || !errors.Is(err, ErrInvalidTrack) {
		t.Fatalf("err = %v, want both ErrInvalidPattern and ErrInvalidTrack", err)
	}
	if len(applied) != 1 || applied[0] != voice.Kick {
		t.Fatalf("applied = %v, want [kick]", applied)
	}
	if on, _ := s.Step(voice.Kick, 0); !on {
		t.Fatalf("kick step 0 should be loaded")
	}
	if on, _ := s.Step(voice.Snare, 4); !on {
		t.Fatalf("invalid snare row must leave the old snare untouched")
	}
}

func TestClearKeepsSettings(t *testing.T) {
	s := NewStore()
	_ = s.SetStep(voice.HiHat, 2, true)
	_ = s.SetEnabled(voice.HiHat, false)
	s.Clear()
	snap := s.Snapshot()
	for _, tr := range voice.Tracks {
		if n := snap.Steps[tr].Count(); n != 0 {
			t.Fatalf("%v has %d active steps after clear", tr, n)
		}
	}
	if snap.Settings[voice.HiHat].Enabled {
		t.Fatalf("clear must not reset settings")
	}
}

func TestSettingsClamp(t *testing.T) {
	s := NewStore()
	cases := []struct {
		in, want float64
	}{
		{-1, 0},
		{0.42, 0.42},
		{3, 1},
		{math.NaN(), 0},
	}
	for _, tc := range cases {
		_ = s.SetVelocity(voice.Snare, tc.in)
		got, _ := s.Settings(voice.Snare)
		if got.Velocity != tc.want {
			t.Fatalf("SetVelocity(%v) = %v, want %v", tc.in, got.Velocity, tc.want)
		}
	}
	_ = s.SetPitch(voice.Bass, 10)
	if got, _ := s.Settings(voice.Bass); got.Params.PitchHz != voice.MinBassPitch {
		t.Fatalf("pitch = %v, want %v", got.Params.PitchHz, voice.MinBassPitch)
	}
	_ = s.SetPitch(voice.Bass, 1000)
	if got, _ := s.Settings(voice.Bass); got.Params.PitchHz != voice.MaxBassPitch {
		t.Fatalf("pitch = %v, want %v", got.Params.PitchHz, voice.MaxBassPitch)
	}
	_ = s.SetOpen(voice.HiHat, true)
	if got, _ := s.Settings(voice.HiHat); !got.Params.Open {
		t.Fatalf("hihat should be open")
	}
}

func TestDefaultSettings(t *testing.T) {
	want := map[voice.Track]float64{voice.Kick: 1, voice.Snare: 0.8, voice.HiHat: 0.6, voice.Bass: 0.7}
	s := NewStore()
	for tr, v := range want {
		got, _ := s.Settings(tr)
		if got.Velocity != v || !got.Enabled {
			t.Fatalf("%v default = %+v, want velocity %v enabled", tr, got, v)
		}
	}
	if got, _ := s.Settings(voice.Bass); got.Params.PitchHz != 80 {
		t.Fatalf("bass pitch = %v, want 80", got.Params.PitchHz)
	}
}

func TestChangeNotifications(t *testing.T) {
	s := NewStore()
	var got []Change
	s.OnChange(func(c Change) { got = append(got, c) })
	_ = s.SetStep(voice.Kick, 3, true)
	_, _ = s.ToggleStep(voice.Kick, 3)
	_ = s.ClearTrack(voice.Bass)
	s.Clear()
	_ = s.SetStep(voice.Kick, 99, true)
	want := []Change{
		{Track: voice.Kick, Step: 3, Active: true},
		{Track: voice.Kick, Step: 3, Active: false},
		{Track: voice.Bass, Step: -1},
		{Step: -1, All: true},
	}
	if len(got) != len(want) {
		t.Fatalf("changes = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("change %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPatternIsACopy(t *testing.T) {
	s := NewStore()
	p := s.Pattern()
	p["kick"][0] = true
	if on, _ := s.Step(voice.Kick, 0); on {
		t.Fatalf("mutating the returned pattern changed the store")
	}
	if len(p) != voice.NumTracks {
		t.Fatalf("pattern has %d tracks, want %d", len(p), voice.NumTracks)
	}
}
