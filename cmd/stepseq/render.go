package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	stepseq "github.com/cbegin/stepseq-go"
)

var renderFlags struct {
	out     string
	seconds float64
	bars    int
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the pattern to a WAV file",
	Long: `render plays the pattern offline through the built-in synth and writes
32-bit float stereo WAV. Length is --seconds, or --bars full passes of
the pattern when given.`,
	RunE: runRender,
}

func init() {
	f := renderCmd.Flags()
	f.StringVarP(&renderFlags.out, "out", "o", "stepseq.wav", "output file")
	f.Float64VarP(&renderFlags.seconds, "seconds", "s", 8, "length in seconds")
	f.IntVar(&renderFlags.bars, "bars", 0, "length in pattern passes (overrides --seconds)")
}

func runRender(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, closer, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	p, err := loadPattern(flags.pattern)
	if err != nil && p == nil {
		return err
	}
	if err != nil {
		log.WithError(err).Warn("pattern partly loaded")
	}
	seconds := renderFlags.seconds
	if renderFlags.bars > 0 {
		sc := cfg.SchedulerConfig()
		seconds = float64(renderFlags.bars*stepseq.NumSteps)*stepseq.StepDuration(sc.BPM, sc.StepsPerBeat) + sc.StartOffset
	}
	samples, err := stepseq.RenderPattern(p, cfg.SampleRate, seconds, append(cfg.Options(), stepseq.WithLogger(log))...)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(renderFlags.out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(renderFlags.out, stepseq.EncodeWAVFloat32LE(samples, cfg.SampleRate, 2), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", renderFlags.out, err)
	}
	log.WithFields(logrus.Fields{"file": renderFlags.out, "seconds": seconds}).Info("rendered")
	return nil
}
