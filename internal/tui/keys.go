package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Play      key.Binding
	Up        key.Binding
	Down      key.Binding
	Left      key.Binding
	Right     key.Binding
	Toggle    key.Binding
	Faster    key.Binding
	Slower    key.Binding
	Mute      key.Binding
	Clear     key.Binding
	ClearAll  key.Binding
	OpenHat   key.Binding
	PitchUp   key.Binding
	PitchDown key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func binding(help string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(keys[0], help))
}

func defaultKeyMap() keyMap {
	return keyMap{
		Play:      binding("play/stop", " ", "p"),
		Up:        binding("up", "k", "up"),
		Down:      binding("down", "j", "down"),
		Left:      binding("left", "h", "left"),
		Right:     binding("right", "l", "right"),
		Toggle:    binding("toggle step", "x", "enter"),
		Faster:    binding("bpm +5", "+", "="),
		Slower:    binding("bpm -5", "-", "_"),
		Mute:      binding("mute track", "m"),
		Clear:     binding("clear track", "c"),
		ClearAll:  binding("clear all", "C"),
		OpenHat:   binding("open hat", "o"),
		PitchUp:   binding("bass pitch +", "]"),
		PitchDown: binding("bass pitch -", "["),
		Help:      binding("help", "?"),
		Quit:      binding("quit", "q", "ctrl+c"),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.Toggle, k.Faster, k.Slower, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Play, k.Faster, k.Slower, k.Quit},
		{k.Up, k.Down, k.Left, k.Right, k.Toggle},
		{k.Mute, k.Clear, k.ClearAll},
		{k.OpenHat, k.PitchUp, k.PitchDown, k.Help},
	}
}
