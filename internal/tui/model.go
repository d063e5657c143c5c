// Package tui is the terminal front end: a step grid edited from the
// keyboard, with a playhead driven by the machine's render-rate queue.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	stepseq "github.com/cbegin/stepseq-go"
)

// Controller is the part of *stepseq.Machine the UI drives.
type Controller interface {
	IsPlaying() bool
	Toggle(ctx context.Context) error
	Stop()
	SetBPM(bpm float64)
	BPM() float64
	ToggleStep(track stepseq.Track, step int) (bool, error)
	Step(track stepseq.Track, step int) (bool, error)
	ClearTrack(track stepseq.Track) error
	ClearPattern()
	SetTrackEnabled(track stepseq.Track, enabled bool) error
	TrackSettings(track stepseq.Track) (stepseq.Settings, error)
	SetHiHatOpen(open bool)
	SetBassPitch(hz float64)
	RenderFrame() int
	VisualStep() (int, bool)
	Metrics() stepseq.Metrics
}

const defaultFPS = 60

type frameMsg time.Time

// ErrorMsg carries an asynchronous machine error into the program.
type ErrorMsg struct{ Err error }

type Model struct {
	ctrl     Controller
	keys     keyMap
	help     help.Model
	fps      int
	track    int
	step     int
	lastErr  error
	quitting bool
}

func New(ctrl Controller) Model {
	return Model{ctrl: ctrl, keys: defaultKeyMap(), help: help.New(), fps: defaultFPS}
}

// WithFPS sets the frame rate of the playhead.
func (m Model) WithFPS(fps int) Model {
	if fps > 0 {
		m.fps = fps
	}
	return m
}

func (m Model) frame() tea.Cmd {
	return tea.Tick(time.Second/time.Duration(m.fps), func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m Model) Init() tea.Cmd { return m.frame() }

func (m Model) toggle() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.Toggle(context.Background()); err != nil {
			return ErrorMsg{Err: err}
		}
		return nil
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		m.ctrl.RenderFrame()
		return m, m.frame()
	case ErrorMsg:
		m.lastErr = msg.Err
		return m, nil
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	tr := stepseq.Tracks[m.track]
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.ctrl.Stop()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Play):
		m.lastErr = nil
		return m, m.toggle()
	case key.Matches(msg, m.keys.Up):
		m.track = (m.track + stepseq.NumTracks - 1) % stepseq.NumTracks
	case key.Matches(msg, m.keys.Down):
		m.track = (m.track + 1) % stepseq.NumTracks
	case key.Matches(msg, m.keys.Left):
		m.step = (m.step + stepseq.NumSteps - 1) % stepseq.NumSteps
	case key.Matches(msg, m.keys.Right):
		m.step = (m.step + 1) % stepseq.NumSteps
	case key.Matches(msg, m.keys.Toggle):
		if _, err := m.ctrl.ToggleStep(tr, m.step); err != nil {
			m.lastErr = err
		}
	case key.Matches(msg, m.keys.Faster):
		m.ctrl.SetBPM(m.ctrl.BPM() + 5)
	case key.Matches(msg, m.keys.Slower):
		m.ctrl.SetBPM(m.ctrl.BPM() - 5)
	case key.Matches(msg, m.keys.Mute):
		if s, err := m.ctrl.TrackSettings(tr); err == nil {
			m.ctrl.SetTrackEnabled(tr, !s.Enabled)
		}
	case key.Matches(msg, m.keys.Clear):
		m.ctrl.ClearTrack(tr)
	case key.Matches(msg, m.keys.ClearAll):
		m.ctrl.ClearPattern()
	case key.Matches(msg, m.keys.OpenHat):
		if s, err := m.ctrl.TrackSettings(stepseq.HiHat); err == nil {
			m.ctrl.SetHiHatOpen(!s.Params.Open)
		}
	case key.Matches(msg, m.keys.PitchUp), key.Matches(msg, m.keys.PitchDown):
		if s, err := m.ctrl.TrackSettings(stepseq.Bass); err == nil {
			d := 5.0
			if key.Matches(msg, m.keys.PitchDown) {
				d = -5
			}
			m.ctrl.SetBassPitch(s.Params.PitchHz + d)
		}
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	onStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	headStyle   = lipgloss.NewStyle().Background(lipgloss.Color("237"))
	cursorStyle = lipgloss.NewStyle().Reverse(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	state := "STOP"
	if m.ctrl.IsPlaying() {
		state = "PLAY"
	}
	head, playing := m.ctrl.VisualStep()
	if !m.ctrl.IsPlaying() {
		playing = false
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("stepseq  %s  %5.1f bpm", state, m.ctrl.BPM())))
	b.WriteString("\n\n")
	for i, tr := range stepseq.Tracks {
		b.WriteString(m.row(i, tr, head, playing))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	met := m.ctrl.Metrics()
	b.WriteString(dimStyle.Render(fmt.Sprintf("steps %d  notes %d  late %d  jitter %s",
		met.StepsPlayed, met.NotesTriggered, met.PastDue, met.TickJitterAvg.Round(100*time.Microsecond))))
	b.WriteString("\n")
	if m.lastErr != nil {
		b.WriteString(errStyle.Render("error: " + m.lastErr.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) row(i int, tr stepseq.Track, head int, playing bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s ", tr)
	for s := 0; s < stepseq.NumSteps; s++ {
		on, _ := m.ctrl.Step(tr, s)
		cell := "."
		style := dimStyle
		if on {
			cell = "x"
			style = onStyle
		}
		if playing && s == head {
			style = style.Inherit(headStyle)
		}
		if i == m.track && s == m.step {
			style = style.Inherit(cursorStyle)
		}
		b.WriteString(style.Render(cell))
		if s%4 == 3 && s != stepseq.NumSteps-1 {
			b.WriteString(" ")
		}
	}
	if set, err := m.ctrl.TrackSettings(tr); err == nil {
		b.WriteString("  ")
		b.WriteString(dimStyle.Render(settingsLabel(tr, set)))
	}
	return b.String()
}

func settingsLabel(tr stepseq.Track, s stepseq.Settings) string {
	label := fmt.Sprintf("vel %.2f", s.Velocity)
	if !s.Enabled {
		label += " muted"
	}
	switch tr {
	case stepseq.HiHat:
		if s.Params.Open {
			label += " open"
		}
	case stepseq.Bass:
		label += fmt.Sprintf(" %.0fHz", s.Params.PitchHz)
	}
	return label
}
