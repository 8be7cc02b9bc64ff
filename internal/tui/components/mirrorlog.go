package components

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/surge-downloader/surgemirror/internal/engine/events"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

var (
	retryStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb86c"))
	failoverStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555"))
	sourceStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8be9fd")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272a4"))
)

// MirrorLogModel renders the failed attempts of one download, newest first
type MirrorLogModel struct {
	Failures []events.MirrorFailedMsg
	Width    int
	Height   int // rows available (0 = all)
}

// NewMirrorLogModel creates a mirror failure view
func NewMirrorLogModel(failures []events.MirrorFailedMsg, width, height int) MirrorLogModel {
	return MirrorLogModel{Failures: failures, Width: width, Height: height}
}

// View renders one line per failure
func (m MirrorLogModel) View() string {
	if len(m.Failures) == 0 {
		return dimStyle.Render("No mirror failures")
	}

	rows := m.Height
	if rows <= 0 || rows > len(m.Failures) {
		rows = len(m.Failures)
	}

	lines := make([]string, 0, rows)
	for i := len(m.Failures) - 1; i >= 0 && len(lines) < rows; i-- {
		lines = append(lines, m.line(m.Failures[i]))
	}
	return strings.Join(lines, "\n")
}

func (m MirrorLogModel) line(f events.MirrorFailedMsg) string {
	glyph, style := "✖", failoverStyle
	if f.WillRetry {
		glyph, style = "↻", retryStyle
	}

	detail := f.Kind.String()
	if f.StatusCode != 0 {
		detail = fmt.Sprintf("%s %d", detail, f.StatusCode)
	}
	source := f.SourceName
	if source == "" {
		source = utils.SourceNameFromURL(f.URL)
	}

	text := fmt.Sprintf("%s %s #%d %s", glyph, sourceStyle.Render(source), f.Attempt, style.Render(detail))
	if m.Width > 0 && lipgloss.Width(text) > m.Width {
		// Styled text cannot be cut safely, so fall back to plain
		plain := []rune(fmt.Sprintf("%s %s #%d %s", glyph, source, f.Attempt, detail))
		if len(plain) > m.Width {
			plain = plain[:m.Width]
		}
		return string(plain)
	}
	return text
}

// SourceSummary is the failure count of one source
type SourceSummary struct {
	Source   string
	Failures int
	LastKind types.ErrorKind
}

// Summarize groups failures by source, most failures first
func Summarize(failures []events.MirrorFailedMsg) []SourceSummary {
	idx := map[string]int{}
	var out []SourceSummary
	for _, f := range failures {
		source := f.SourceName
		if source == "" {
			source = utils.SourceNameFromURL(f.URL)
		}
		i, ok := idx[source]
		if !ok {
			i = len(out)
			idx[source] = i
			out = append(out, SourceSummary{Source: source})
		}
		out[i].Failures++
		out[i].LastKind = f.Kind
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Failures > out[b].Failures })
	return out
}
