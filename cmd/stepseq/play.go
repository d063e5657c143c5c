package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	stepseq "github.com/cbegin/stepseq-go"
	"github.com/cbegin/stepseq-go/internal/midiout"
	"github.com/cbegin/stepseq-go/internal/tui"
)

var playFlags struct {
	noUI     bool
	noSynth  bool
	duration time.Duration
	midiPort string
	midiCh   int
	volume   float64
	fps      int
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play the pattern in real time",
	Long: `play starts the pattern immediately. With the terminal UI (the default)
the grid can be edited while it plays; --no-ui runs headless until
interrupted or --duration elapses.`,
	RunE: runPlay,
}

func init() {
	f := playCmd.Flags()
	f.BoolVar(&playFlags.noUI, "no-ui", false, "run without the terminal UI")
	f.BoolVar(&playFlags.noSynth, "no-synth", false, "do not use the built-in synth (MIDI only)")
	f.DurationVarP(&playFlags.duration, "duration", "d", 0, "stop after this long (headless only; 0 runs until interrupted)")
	f.StringVarP(&playFlags.midiPort, "midi-port", "m", "", "also send notes to this MIDI output (name or number)")
	f.IntVar(&playFlags.midiCh, "midi-channel", 0, "MIDI channel 1..16")
	f.Float64Var(&playFlags.volume, "volume", 0, "master volume 0..1")
	f.IntVar(&playFlags.fps, "fps", 60, "playhead frame rate")
}

// machineClock hands the machine's clock to voices built before it.
type machineClock struct{ m *stepseq.Machine }

func (c *machineClock) Now() (float64, error) { return c.m.Now() }

func runPlay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("midi-port") {
		cfg.MIDI.Port = playFlags.midiPort
	}
	if cmd.Flags().Changed("midi-channel") {
		cfg.MIDI.Channel = playFlags.midiCh
	}
	if cmd.Flags().Changed("volume") {
		cfg.MasterVolume = playFlags.volume
	}
	if !playFlags.noUI && cfg.Log.File == "" {
		// keep the screen clean under the UI
		if dir, err := os.UserCacheDir(); err == nil {
			cfg.Log.File = filepath.Join(dir, "stepseq", "stepseq.log")
		}
	}
	log, closer, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	opts := append(cfg.Options(), stepseq.WithLogger(log))
	if playFlags.noSynth {
		opts = append(opts, stepseq.WithoutSynth())
	}
	mc := &machineClock{}
	if cfg.MIDI.Port != "" {
		defer gomidi.CloseDriver()
		// the clock counts frames the driver pulled, one buffer ahead of
		// the speakers
		var latency time.Duration
		if !playFlags.noSynth {
			latency = stepseq.DefaultBufferSize
		}
		out, err := midiout.Open(cfg.MIDI.Port, mc, midiout.Options{
			Channel: uint8(cfg.MIDI.Channel - 1),
			Latency: latency,
			Logger:  log,
		})
		if err != nil {
			return err
		}
		defer out.Close()
		opts = append(opts, stepseq.WithVoices(out))
	}
	m, err := stepseq.NewMachine(cfg.SampleRate, opts...)
	if err != nil {
		return err
	}
	mc.m = m
	defer m.Destroy()

	if err := cfg.Apply(m); err != nil {
		log.WithError(err).Warn("some track settings were not applied")
	}
	data, err := readPattern(flags.pattern)
	if err != nil {
		return err
	}
	if _, err := m.LoadPatternData(data); err != nil {
		log.WithError(err).Warn("pattern partly loaded")
	}

	if playFlags.noUI {
		return playHeadless(cmd.Context(), m, log)
	}
	return playUI(m, log)
}

func playHeadless(ctx context.Context, m *stepseq.Machine, log logrus.FieldLogger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if playFlags.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, playFlags.duration)
		defer cancel()
	}
	fatal := make(chan error, 1)
	m.OnError(func(err error) {
		var ce *stepseq.ClockError
		if errors.As(err, &ce) {
			select {
			case fatal <- err:
			default:
			}
			return
		}
		log.WithError(err).Warn("playback error")
	})
	m.OnVisualUpdate(func(step int, at float64) {
		if step%4 == 0 {
			log.WithFields(logrus.Fields{"step": step, "at": fmt.Sprintf("%.3f", at)}).Debug("beat")
		}
	})
	go m.RunVisual(ctx, playFlags.fps)

	if err := m.Start(ctx); err != nil {
		return err
	}
	log.WithField("bpm", m.BPM()).Info("playing, interrupt to stop")
	select {
	case <-ctx.Done():
	case err := <-fatal:
		return err
	}
	m.Stop()
	met := m.Metrics()
	log.WithFields(logrus.Fields{
		"steps":      met.StepsPlayed,
		"notes":      met.NotesTriggered,
		"past_due":   met.PastDue,
		"jitter_avg": met.TickJitterAvg,
		"jitter_max": met.TickJitterMax,
	}).Info("stopped")
	return nil
}

func playUI(m *stepseq.Machine, log logrus.FieldLogger) error {
	model := tui.New(m).WithFPS(playFlags.fps)
	p := tea.NewProgram(model, tea.WithAltScreen())
	m.OnError(func(err error) {
		log.WithError(err).Warn("playback error")
		p.Send(tui.ErrorMsg{Err: err})
	})
	// starting blocks until the audio output runs
	go func() {
		if err := m.Start(context.Background()); err != nil {
			p.Send(tui.ErrorMsg{Err: err})
		}
	}()
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("terminal ui: %w", err)
	}
	return nil
}
