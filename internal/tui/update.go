package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/surge-downloader/surgemirror/internal/engine/events"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// engineMsg wraps one value read from the events channel
type engineMsg struct{ v any }

// errNoFetcher is reported for rows added when the model cannot start downloads
var errNoFetcher = errors.New("no downloader configured")

// Update handles messages and updates the model
func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case enqueueMsg:
		cmd := m.start(msg.id)
		return m, cmd

	case engineMsg:
		m.handleEvent(msg.v)
		return m, listenForEvents(m.events)

	case eventsClosedMsg:
		m.events = nil
		return m, nil

	case FetchDoneMsg:
		m.finish(msg)
		if m.exitWhenDone && m.allDone() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		m.sample()
		return m, tick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case DashboardState:
			return m.updateDashboard(msg)
		case InputState:
			return m.updateInput(msg)
		case SettingsState:
			return m.updateSettings(msg)
		}
	}
	return m, nil
}

func (m RootModel) updateDashboard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, DashboardKeys.Quit):
		m.quitting = true
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, DashboardKeys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, DashboardKeys.Down):
		if m.cursor < len(m.visible())-1 {
			m.cursor++
		}

	case key.Matches(msg, DashboardKeys.Tab):
		m.activeTab = (m.activeTab + 1) % 3
		m.cursor = 0

	case key.Matches(msg, DashboardKeys.Add):
		m.state = InputState
		m.focusedInput = 0
		for i := range m.inputs {
			m.inputs[i].SetValue("")
			m.inputs[i].Blur()
		}
		m.inputs[0].Focus()

	case key.Matches(msg, DashboardKeys.Settings):
		m.state = SettingsState

	case key.Matches(msg, DashboardKeys.Copy):
		d := m.selected()
		if d == nil || d.Dest == "" {
			break
		}
		if err := clipboard.WriteAll(d.Dest); err != nil {
			m.notification = "Clipboard unavailable: " + err.Error()
		} else {
			m.notification = "Copied " + d.Dest
		}
	}
	return m, nil
}

func (m RootModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, InputKeys.Cancel):
		m.state = DashboardState
		return m, nil

	case key.Matches(msg, InputKeys.Submit):
		// Enter walks the fields: repository -> version -> file -> start
		if m.focusedInput < len(m.inputs)-1 {
			m.focus(m.focusedInput + 1)
			return m, nil
		}
		id := types.FileIdentity{
			Repository: strings.TrimSpace(m.inputs[0].Value()),
			Version:    strings.TrimSpace(m.inputs[1].Value()),
			File:       strings.TrimSpace(m.inputs[2].Value()),
		}
		if id.Repository == "" || id.File == "" {
			m.notification = "Repository and file are required"
			if id.Repository == "" {
				m.focus(0)
			} else {
				m.focus(2)
			}
			return m, nil
		}
		m.state = DashboardState
		m.activeTab = TabActive
		m.notification = ""
		cmd := m.start(id)
		return m, cmd

	case key.Matches(msg, InputKeys.Prev):
		if m.focusedInput > 0 {
			m.focus(m.focusedInput - 1)
		}
		return m, nil

	case key.Matches(msg, InputKeys.Next):
		if m.focusedInput < len(m.inputs)-1 {
			m.focus(m.focusedInput + 1)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.inputs[m.focusedInput], cmd = m.inputs[m.focusedInput].Update(msg)
	return m, cmd
}

func (m RootModel) updateSettings(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	n := len(settingsCategories())
	switch msg.String() {
	case "esc", "q", "s":
		m.state = DashboardState
	case "right", "l", "tab":
		m.settingsTab = (m.settingsTab + 1) % n
	case "left", "h", "shift+tab":
		m.settingsTab = (m.settingsTab + n - 1) % n
	case "1", "2", "3", "4":
		if i := int(msg.String()[0] - '1'); i < n {
			m.settingsTab = i
		}
	}
	return m, nil
}

func (m *RootModel) focus(i int) {
	m.inputs[m.focusedInput].Blur()
	m.focusedInput = i
	m.inputs[i].Focus()
}

// start adds a row for id and returns the command that runs the fetch
func (m *RootModel) start(id types.FileIdentity) tea.Cmd {
	m.nextSeq++
	d := &DownloadModel{
		Seq:       m.nextSeq,
		Identity:  id,
		Filename:  id.File,
		StartTime: time.Now(),
		progress:  progress.New(progress.WithDefaultGradient()),
	}
	m.downloads = append(m.downloads, d)

	if m.fetch == nil {
		d.done = true
		d.err = errNoFetcher
		return nil
	}

	utils.Debug("tui: starting %s", id)
	ctx, fetch, seq := m.ctx, m.fetch, d.Seq
	return func() tea.Msg {
		res, err := fetch(ctx, id)
		return FetchDoneMsg{Seq: seq, Result: res, Err: err}
	}
}

func (m *RootModel) handleEvent(v any) {
	switch msg := v.(type) {
	case events.DownloadStartedMsg:
		d := m.bind(msg)
		d.Filename = msg.Filename
		d.Dest = msg.DestPath
		d.Total = msg.Total
		d.Resumed = msg.Resumed
		d.Candidates = msg.Candidates

	case events.ProgressMsg:
		d := m.byID(msg.DownloadID)
		if d == nil || d.done {
			return
		}
		d.Downloaded = msg.Downloaded
		if msg.Total > 0 {
			d.Total = msg.Total
		}
		d.Speed = msg.Speed
		d.Elapsed = msg.Elapsed
		d.URL = msg.URL
		d.Params.Concurrency = msg.Concurrency
		d.Params.ChunkSize = msg.ChunkSize

	case events.MirrorFailedMsg:
		d := m.byID(msg.DownloadID)
		if d == nil {
			return
		}
		d.Failures = append(d.Failures, msg)
		if len(d.Failures) > MaxMirrorLog {
			d.Failures = d.Failures[len(d.Failures)-MaxMirrorLog:]
		}

	case events.ParamsChangedMsg:
		if d := m.byID(msg.DownloadID); d != nil {
			d.Params = msg.New
			d.Retunes++
		}

	case events.DownloadCompleteMsg:
		if d := m.byID(msg.DownloadID); d != nil {
			d.Downloaded = msg.Total
			d.Total = msg.Total
			d.Elapsed = msg.Elapsed
			d.Speed = 0
			// Rows this model did not start never see a FetchDoneMsg
			if d.Identity.File == "" {
				d.done = true
				d.Result = msg.Result
			}
		}

	case events.DownloadErrorMsg:
		if d := m.byID(msg.DownloadID); d != nil {
			d.Speed = 0
			if d.Identity.File == "" {
				d.done = true
				d.err = msg.Err
			}
		}
	}
}

// bind attaches an engine download ID to the row that started it. Rows are
// matched by file name, then by age; an unknown download gets a new row.
func (m *RootModel) bind(msg events.DownloadStartedMsg) *DownloadModel {
	if d := m.byID(msg.DownloadID); d != nil {
		return d
	}
	var fallback *DownloadModel
	for _, d := range m.downloads {
		if d.ID != "" || d.done {
			continue
		}
		if d.Identity.File == msg.Filename || d.Identity.File == filepath.Base(msg.DestPath) {
			d.ID = msg.DownloadID
			return d
		}
		if fallback == nil {
			fallback = d
		}
	}
	if fallback != nil {
		fallback.ID = msg.DownloadID
		return fallback
	}

	m.nextSeq++
	d := &DownloadModel{
		Seq:       m.nextSeq,
		ID:        msg.DownloadID,
		StartTime: time.Now(),
		progress:  progress.New(progress.WithDefaultGradient()),
	}
	m.downloads = append(m.downloads, d)
	return d
}

func (m *RootModel) finish(msg FetchDoneMsg) {
	d := m.bySeq(msg.Seq)
	if d == nil {
		return
	}
	d.done = true
	d.Speed = 0
	d.err = msg.Err
	d.Result = msg.Result
	if res := msg.Result; res != nil {
		d.Dest = res.Path
		d.Filename = filepath.Base(res.Path)
		d.Total = res.Size
		d.Downloaded = res.Size
		d.Elapsed = res.Duration
		d.URL = res.URLUsed
		d.Source = res.SourceName
		m.notification = fmt.Sprintf("%s done in %s", d.Filename, utils.FormatDuration(res.Duration))
	}
	if msg.Err != nil {
		m.notification = fmt.Sprintf("%s failed: %s", d.Identity.File, types.KindOf(msg.Err))
	}
}

// sample appends the combined speed of running downloads to the graph
func (m *RootModel) sample() {
	total := 0.0
	for _, d := range m.downloads {
		if d.done {
			continue
		}
		total += d.Speed
		if d.ID != "" && d.Elapsed == 0 {
			d.Elapsed = time.Since(d.StartTime)
		}
	}
	m.SpeedHistory = append(m.SpeedHistory, total/types.Megabyte)
	if len(m.SpeedHistory) > GraphHistoryPoints {
		m.SpeedHistory = m.SpeedHistory[len(m.SpeedHistory)-GraphHistoryPoints:]
	}
}

func (m RootModel) byID(id string) *DownloadModel {
	if id == "" {
		return nil
	}
	for _, d := range m.downloads {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (m RootModel) bySeq(seq int) *DownloadModel {
	for _, d := range m.downloads {
		if d.Seq == seq {
			return d
		}
	}
	return nil
}

func (m RootModel) allDone() bool {
	if len(m.downloads) == 0 {
		return false
	}
	for _, d := range m.downloads {
		if !d.done {
			return false
		}
	}
	return true
}

// visible returns the rows shown under the active tab
func (m RootModel) visible() []*DownloadModel {
	var out []*DownloadModel
	for _, d := range m.downloads {
		switch m.activeTab {
		case TabActive:
			if !d.done {
				out = append(out, d)
			}
		case TabDone:
			if d.done && d.err == nil {
				out = append(out, d)
			}
		case TabFailed:
			if d.done && d.err != nil {
				out = append(out, d)
			}
		}
	}
	return out
}

func (m RootModel) selected() *DownloadModel {
	rows := m.visible()
	if m.cursor < 0 || m.cursor >= len(rows) {
		return nil
	}
	return rows[m.cursor]
}
