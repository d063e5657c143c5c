// Command stepseq plays, renders and edits four-track drum patterns.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cbegin/stepseq-go/internal/config"
	"github.com/cbegin/stepseq-go/internal/logging"
)

var Version = "dev"

var flags struct {
	config     string
	logLevel   string
	logFile    string
	bpm        float64
	sampleRate int
	pattern    string
}

var rootCmd = &cobra.Command{
	Use:   "stepseq",
	Short: "A four-track, sixteen-step drum machine",
	Long: `stepseq plays a 4x16 drum pattern (kick, snare, hi-hat, bass) with
sample-accurate timing. Steps are scheduled a little ahead on the audio
clock and the grid follows the playhead at screen rate.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "config file (default ~/.config/stepseq/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.StringVarP(&flags.logFile, "log", "l", "", "write logs to this file")
	pf.Float64VarP(&flags.bpm, "bpm", "b", 0, "tempo in beats per minute (20..300)")
	pf.IntVar(&flags.sampleRate, "sample-rate", 0, "output sample rate")
	pf.StringVarP(&flags.pattern, "pattern", "p", "", "pattern file (YAML or JSON); the built-in groove when empty")

	rootCmd.AddCommand(playCmd, renderCmd, portsCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stepseq:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and lays the command line flags over it.
func loadConfig(cmd *cobra.Command) (config.File, error) {
	f, err := config.Load(flags.config)
	if err != nil {
		return f, err
	}
	pf := cmd.Flags()
	if pf.Changed("bpm") {
		f.BPM = flags.bpm
	}
	if pf.Changed("sample-rate") {
		f.SampleRate = flags.sampleRate
	}
	if pf.Changed("log-level") {
		f.Log.Level = flags.logLevel
	}
	if pf.Changed("log") {
		f.Log.File = flags.logFile
	}
	return f, f.Validate()
}

// newLogger logs to the configured file, or to fallback when there is none.
// The closer is never nil.
func newLogger(f config.File, fallback io.Writer) (*logrus.Logger, io.Closer, error) {
	if f.Log.File != "" {
		return logging.NewFile(f.Log.Level, f.Log.File)
	}
	l, err := logging.New(f.Log.Level, fallback)
	return l, io.NopCloser(nil), err
}
