// Package config loads the command line settings file, a YAML document at
// ~/.config/stepseq/config.yaml by default. Keys left out keep their
// defaults, and a missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	stepseq "github.com/cbegin/stepseq-go"
)

const fileName = "config.yaml"

type Resume struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

// Track holds per-track overrides; nil fields keep the machine defaults.
type Track struct {
	Velocity *float64 `yaml:"velocity,omitempty"`
	Enabled  *bool    `yaml:"enabled,omitempty"`
	Open     *bool    `yaml:"open,omitempty"`
	Pitch    *float64 `yaml:"pitch,omitempty"`
}

type MIDI struct {
	Port string `yaml:"port,omitempty"`
	// Channel is 1 based as printed on devices.
	Channel int `yaml:"channel"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

type File struct {
	BPM               float64          `yaml:"bpm"`
	StepsPerBeat      int              `yaml:"steps_per_beat"`
	ScheduleAhead     float64          `yaml:"schedule_ahead"`
	LookaheadInterval time.Duration    `yaml:"lookahead_interval"`
	RenderLookahead   float64          `yaml:"render_lookahead"`
	SampleRate        int              `yaml:"sample_rate"`
	MasterVolume      float64          `yaml:"master_volume"`
	ClampPastDue      bool             `yaml:"clamp_past_due"`
	Resume            Resume           `yaml:"resume"`
	HealthInterval    time.Duration    `yaml:"health_interval"`
	Tracks            map[string]Track `yaml:"tracks,omitempty"`
	MIDI              MIDI             `yaml:"midi"`
	Log               Log              `yaml:"log"`
}

func Default() File {
	seq := stepseq.DefaultConfig()
	retry := stepseq.DefaultRetryPolicy()
	return File{
		BPM:               seq.BPM,
		StepsPerBeat:      seq.StepsPerBeat,
		ScheduleAhead:     seq.ScheduleAhead,
		LookaheadInterval: seq.LookaheadInterval,
		RenderLookahead:   0.05,
		SampleRate:        48000,
		MasterVolume:      1,
		ClampPastDue:      seq.ClampPastDue,
		Resume:            Resume{MaxAttempts: retry.MaxAttempts, Interval: retry.Interval},
		HealthInterval:    time.Second,
		MIDI:              MIDI{Channel: 10},
		Log:               Log{Level: "info"},
	}
}

// Path is the default location of the settings file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: locate config dir: %w", err)
	}
	return filepath.Join(dir, "stepseq", fileName), nil
}

// Load reads path over the defaults. An empty path means Path().
func Load(path string) (File, error) {
	f := Default()
	if path == "" {
		p, err := Path()
		if err != nil {
			return f, err
		}
		path = p
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Default(), fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return Default(), fmt.Errorf("config: %s: %w", path, err)
	}
	return f, nil
}

// Save writes f to path, creating the directory if needed.
func Save(path string, f File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (f File) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d: must be positive", f.SampleRate))
	}
	if f.MIDI.Channel < 1 || f.MIDI.Channel > 16 {
		errs = append(errs, fmt.Errorf("midi.channel %d: want 1..16", f.MIDI.Channel))
	}
	if _, err := logrus.ParseLevel(f.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	for name := range f.Tracks {
		if _, err := stepseq.ParseTrack(name); err != nil {
			errs = append(errs, fmt.Errorf("tracks: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Level is the parsed log level, info if it does not parse.
func (f File) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(f.Log.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// SchedulerConfig is the scheduler part of the file.
func (f File) SchedulerConfig() stepseq.Config {
	c := stepseq.DefaultConfig()
	c.BPM = f.BPM
	c.StepsPerBeat = f.StepsPerBeat
	c.ScheduleAhead = f.ScheduleAhead
	c.LookaheadInterval = f.LookaheadInterval
	c.ClampPastDue = f.ClampPastDue
	return c
}

// Options turns the file into machine options.
func (f File) Options() []stepseq.Option {
	return []stepseq.Option{
		stepseq.WithConfig(f.SchedulerConfig()),
		stepseq.WithRetryPolicy(stepseq.RetryPolicy{MaxAttempts: f.Resume.MaxAttempts, Interval: f.Resume.Interval}),
		stepseq.WithHealthInterval(f.HealthInterval),
		stepseq.WithRenderLookahead(f.RenderLookahead),
	}
}

// Apply sets the per-track overrides and master volume on m.
func (f File) Apply(m *stepseq.Machine) error {
	m.SetMasterVolume(f.MasterVolume)
	var errs []error
	for name, t := range f.Tracks {
		tr, err := stepseq.ParseTrack(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if t.Velocity != nil {
			errs = append(errs, m.SetTrackVelocity(tr, *t.Velocity))
		}
		if t.Enabled != nil {
			errs = append(errs, m.SetTrackEnabled(tr, *t.Enabled))
		}
		if t.Open != nil && tr == stepseq.HiHat {
			m.SetHiHatOpen(*t.Open)
		}
		if t.Pitch != nil && tr == stepseq.Bass {
			m.SetBassPitch(*t.Pitch)
		}
	}
	return errors.Join(errs...)
}
