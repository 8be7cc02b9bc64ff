package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/surge-downloader/surgemirror/internal/config"
	"github.com/surge-downloader/surgemirror/internal/engine/events"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
)

type UIState int

const (
	DashboardState UIState = iota
	InputState
	SettingsState
)

// Tabs filter the download list
const (
	TabActive = iota
	TabDone
	TabFailed
)

// FetchFunc runs one download to completion. It is called from a tea.Cmd goroutine.
type FetchFunc func(ctx context.Context, id types.FileIdentity) (*types.DownloadResult, error)

// FetchDoneMsg carries the final outcome of a FetchFunc call
type FetchDoneMsg struct {
	Seq    int
	Result *types.DownloadResult
	Err    error
}

type eventsClosedMsg struct{}

type tickMsg time.Time

// DownloadModel is one row of the dashboard
type DownloadModel struct {
	Seq      int    // UI sequence number
	ID       string // engine download ID, set once the engine starts
	Identity types.FileIdentity
	Filename string
	Dest     string

	Total      int64
	Downloaded int64
	Speed      float64
	URL        string
	Source     string
	Params     types.AdaptiveParams
	Resumed    bool
	Candidates int

	StartTime time.Time
	Elapsed   time.Duration

	Failures []events.MirrorFailedMsg
	Retunes  int

	progress progress.Model

	Result *types.DownloadResult
	done   bool
	err    error
}

// Done reports whether the download has finished, successfully or not
func (d *DownloadModel) Done() bool { return d.done }

// Err is the final error, if any
func (d *DownloadModel) Err() error { return d.err }

// Options configures the root model
type Options struct {
	Context  context.Context
	Events   <-chan any
	Fetch    FetchFunc
	Settings *config.Settings
	// Initial identities are fetched as soon as the program starts
	Initial []types.FileIdentity
	// ExitWhenDone quits once every download has finished
	ExitWhenDone bool
}

type RootModel struct {
	ctx          context.Context
	cancel       context.CancelFunc
	events       <-chan any
	fetch        FetchFunc
	settings     *config.Settings
	exitWhenDone bool
	initial      []types.FileIdentity

	downloads []*DownloadModel
	nextSeq   int

	width, height int
	state         UIState
	activeTab     int
	cursor        int
	settingsTab   int

	inputs       []textinput.Model
	focusedInput int
	help         help.Model

	SpeedHistory []float64 // MB/s samples across all downloads
	notification string
	quitting     bool
}

func newInput(placeholder string) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.Width = InputWidth
	in.Prompt = ""
	return in
}

// NewModel builds the root model
func NewModel(opts Options) RootModel {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	settings := opts.Settings
	if settings == nil {
		settings = config.DefaultSettings()
	}

	repo := newInput("owner/name")
	repo.Focus()
	inputs := []textinput.Model{repo, newInput("latest"), newInput("asset.tar.gz")}

	return RootModel{
		ctx:          ctx,
		cancel:       cancel,
		events:       opts.Events,
		fetch:        opts.Fetch,
		settings:     settings,
		exitWhenDone: opts.ExitWhenDone,
		initial:      opts.Initial,
		inputs:       inputs,
		help:         help.New(),
		SpeedHistory: make([]float64, 0, GraphHistoryPoints),
	}
}

func (m RootModel) Init() tea.Cmd {
	cmds := []tea.Cmd{listenForEvents(m.events), tick()}
	for _, id := range m.initial {
		// Init has a value receiver, so rows are created on the first Update
		cmds = append(cmds, enqueueCmd(id))
	}
	return tea.Batch(cmds...)
}

// enqueueMsg asks the model to add and start a download
type enqueueMsg struct{ id types.FileIdentity }

func enqueueCmd(id types.FileIdentity) tea.Cmd {
	return func() tea.Msg { return enqueueMsg{id: id} }
}

func listenForEvents(ch <-chan any) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return engineMsg{v: v}
	}
}

func tick() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Downloads returns the dashboard rows in creation order
func (m RootModel) Downloads() []*DownloadModel { return m.downloads }

// Failed counts finished downloads that ended in error
func (m RootModel) Failed() int {
	n := 0
	for _, d := range m.downloads {
		if d.done && d.err != nil {
			n++
		}
	}
	return n
}
