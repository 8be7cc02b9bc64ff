package tui

import "github.com/charmbracelet/bubbles/key"

// DashboardKeyMap is shown in the dashboard footer
type DashboardKeyMap struct {
	Up       key.Binding
	Down     key.Binding
	Add      key.Binding
	Tab      key.Binding
	Settings key.Binding
	Copy     key.Binding
	Quit     key.Binding
}

func (k DashboardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Tab, k.Add, k.Copy, k.Settings, k.Quit}
}

func (k DashboardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// InputKeyMap is shown in the add-download popup
type InputKeyMap struct {
	Next   key.Binding
	Prev   key.Binding
	Submit key.Binding
	Cancel key.Binding
}

func (k InputKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Prev, k.Submit, k.Cancel}
}

func (k InputKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var DashboardKeys = DashboardKeyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Add:      key.NewBinding(key.WithKeys("a", "g"), key.WithHelp("a", "add")),
	Tab:      key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "filter")),
	Settings: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "settings")),
	Copy:     key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "copy path")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var InputKeys = InputKeyMap{
	Next:   key.NewBinding(key.WithKeys("down", "tab"), key.WithHelp("↓", "next")),
	Prev:   key.NewBinding(key.WithKeys("up", "shift+tab"), key.WithHelp("↑", "prev")),
	Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "start")),
	Cancel: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
}
