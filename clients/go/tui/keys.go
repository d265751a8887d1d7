package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// KeyMap defines the keyboard bindings of the directory and chat screens.
type KeyMap struct {
	Submit  key.Binding
	Newline key.Binding
	Retry   key.Binding
	Back    key.Binding
	Open    key.Binding
	Search  key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		// Terminals report shift+enter inconsistently, so alt+enter and
		// ctrl+j are accepted too.
		Newline: key.NewBinding(
			key.WithKeys("shift+enter", "alt+enter", "ctrl+j"),
			key.WithHelp("alt+enter", "newline"),
		),
		Retry: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "retry"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Open: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "chat"),
		),
		Search: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "search"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Newline, k.Retry, k.Back, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.Newline, k.Retry},
		{k.Open, k.Search, k.Back, k.Quit},
	}
}

type inputAction int

const (
	actionNone inputAction = iota
	actionSubmit
	actionNewline
)

// composerAction decides what a key press in the composer does. Enter
// submits unless a modifier is held or the key is part of a paste.
func (k KeyMap) composerAction(msg tea.KeyMsg) inputAction {
	if msg.Paste {
		return actionNone
	}
	switch {
	case key.Matches(msg, k.Newline):
		return actionNewline
	case key.Matches(msg, k.Submit):
		return actionSubmit
	}
	return actionNone
}
