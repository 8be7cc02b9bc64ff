package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/surge-downloader/surgemirror/internal/tui/components"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

const logoText = `
 ┏━┓╻ ╻┏━┓┏━╸┏━╸   ┏┳┓╻┏━┓┏━┓┏━┓┏━┓
 ┗━┓┃ ┃┣┳┛┃╺┓┣╸    ┃┃┃┃┣┳┛┣┳┛┃ ┃┣┳┛
 ┗━┛┗━┛╹┗╸┗━┛┗━╸   ╹ ╹╹╹┗╸╹┗╸┗━┛╹┗╸`

func (m RootModel) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Loading..."
	}

	switch m.state {
	case InputState:
		return m.viewInput()
	case SettingsState:
		return m.viewSettings()
	}

	availableHeight := m.height - 2
	availableWidth := m.width - 4

	leftWidth := int(float64(availableWidth) * ListWidthRatio)
	rightWidth := availableWidth - leftWidth - 2

	listHeight := availableHeight - HeaderHeight
	if listHeight < 10 {
		listHeight = 10
	}
	graphHeight := availableHeight / 3
	if graphHeight < 9 {
		graphHeight = 9
	}
	detailHeight := availableHeight - graphHeight
	if detailHeight < 12 {
		detailHeight = 12
	}

	// Header
	headerBox := lipgloss.NewStyle().
		Width(leftWidth).
		Height(HeaderHeight).
		Padding(1, 2).
		Render(LogoStyle.Render(logoText))

	// Speed graph
	graphBox := renderBtopBox("Network Activity", m.renderGraph(rightWidth, graphHeight), rightWidth, graphHeight, ColorNeonCyan, false)

	// Download list
	active, done, failed := m.CalculateStats()
	var listContent string
	rows := m.visible()
	if len(rows) == 0 {
		listContent = lipgloss.Place(leftWidth-8, listHeight-6, lipgloss.Center, lipgloss.Center,
			lipgloss.NewStyle().Foreground(ColorNeonCyan).Render("No downloads"))
	} else {
		listContent = m.renderList(rows, leftWidth-8, listHeight-6)
	}
	listInner := lipgloss.NewStyle().Padding(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left,
		renderTabs(m.activeTab, active, done, failed),
		"",
		listContent,
	))
	listBox := renderBtopBox("Downloads", listInner, leftWidth, listHeight, ColorNeonPink, true)

	// Details
	var detailContent string
	if d := m.selected(); d != nil {
		detailContent = renderFocusedDetails(d, rightWidth-4, detailHeight-2)
	} else {
		detailContent = lipgloss.Place(rightWidth-4, detailHeight-4, lipgloss.Center, lipgloss.Center,
			lipgloss.NewStyle().Foreground(ColorNeonCyan).Render("No Download Selected"))
	}
	detailBox := renderBtopBox("Details", detailContent, rightWidth, detailHeight, ColorGray, true)

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.JoinVertical(lipgloss.Left, headerBox, listBox),
		lipgloss.JoinVertical(lipgloss.Left, graphBox, detailBox),
	)

	var footer string
	if m.notification != "" {
		footer = lipgloss.Place(m.width, 1, lipgloss.Center, lipgloss.Center, NotificationStyle.Render(m.notification))
	} else {
		footer = lipgloss.NewStyle().Padding(0, 1).Render(m.help.View(DashboardKeys))
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}

func (m RootModel) viewInput() string {
	label := lipgloss.NewStyle().Width(12).Foreground(ColorLightGray)
	content := lipgloss.JoinVertical(lipgloss.Left,
		"",
		lipgloss.JoinHorizontal(lipgloss.Left, label.Render("Repository:"), m.inputs[0].View()),
		"",
		lipgloss.JoinHorizontal(lipgloss.Left, label.Render("Version:"), m.inputs[1].View()),
		"",
		lipgloss.JoinHorizontal(lipgloss.Left, label.Render("File:"), m.inputs[2].View()),
		"",
		m.help.View(InputKeys),
	)
	if m.notification != "" {
		content = lipgloss.JoinVertical(lipgloss.Left, content, ErrorTextStyle.Render(m.notification))
	}
	box := renderBtopBox("Add Download", lipgloss.NewStyle().Padding(0, 2).Render(content), 80, 13, ColorNeonPink, false)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m RootModel) renderGraph(width, height int) string {
	const axisWidth = 6
	graphWidth := width - axisWidth - 5
	if graphWidth < 10 {
		graphWidth = 10
	}
	graphHeight := height - 4
	if graphHeight < 1 {
		graphHeight = 1
	}

	maxVal := graphScale(m.SpeedHistory)
	row := lipgloss.JoinHorizontal(lipgloss.Top,
		renderGraphAxis(maxVal, graphHeight, axisWidth),
		lipgloss.NewStyle().MarginLeft(1).Render(renderSpeedGraph(m.SpeedHistory, graphWidth, graphHeight, maxVal, ColorNeonPink)),
	)

	current := 0.0
	if n := len(m.SpeedHistory); n > 0 {
		current = m.SpeedHistory[n-1]
	}
	title := lipgloss.NewStyle().
		Width(width - 4).
		Align(lipgloss.Right).
		Foreground(ColorNeonPink).
		Bold(true).
		Render(fmt.Sprintf("Current: %.2f MB/s", current))

	return lipgloss.JoinVertical(lipgloss.Left, title, "", row)
}

func (m RootModel) renderList(rows []*DownloadModel, width, height int) string {
	// Two lines per entry
	maxRows := height / 2
	if maxRows < 1 {
		maxRows = 1
	}
	start := 0
	if m.cursor >= maxRows {
		start = m.cursor - maxRows + 1
	}

	var lines []string
	for i := start; i < len(rows) && i < start+maxRows; i++ {
		d := rows[i]
		style := ItemStyle
		prefix := "  "
		if i == m.cursor {
			style = SelectedItemStyle
			prefix = "▸ "
		}
		name := d.Filename
		if name == "" {
			name = d.Identity.String()
		}
		lines = append(lines, style.Render(prefix+truncateString(name, width-4)))

		pct := 0.0
		if d.Total > 0 {
			pct = float64(d.Downloaded) / float64(d.Total)
		}
		d.progress.Width = width / 2
		status := getDownloadStatus(d)
		if !d.done && d.Speed > 0 {
			status = utils.FormatSpeed(d.Speed)
		}
		lines = append(lines, "  "+d.progress.ViewAs(pct)+" "+status)
	}
	return strings.Join(lines, "\n")
}

// renderFocusedDetails renders the detail pane of one download
func renderFocusedDetails(d *DownloadModel, w, h int) string {
	contentWidth := w - 6
	if contentWidth < 20 {
		contentWidth = 20
	}
	divider := lipgloss.NewStyle().Foreground(ColorGray).Render(strings.Repeat("─", contentWidth))

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Left,
			StatsLabelStyle.Render(label),
			StatsValueStyle.Render(truncateString(value, contentWidth-14)))
	}

	size := utils.ConvertBytesToHumanReadable(d.Downloaded)
	if d.Total > 0 {
		size += " / " + utils.ConvertBytesToHumanReadable(d.Total)
	}

	fileInfo := []string{
		row("File:", d.Filename),
		row("Status:", getDownloadStatus(d)),
		row("Size:", size),
	}
	if d.Identity.Repository != "" {
		fileInfo = append(fileInfo, row("Release:", d.Identity.String()))
	}

	stats := []string{
		row("Speed:", utils.FormatSpeed(d.Speed)),
		row("Elapsed:", utils.FormatDuration(d.Elapsed.Round(time.Second))),
		row("Workers:", fmt.Sprintf("%d", d.Params.Concurrency)),
		row("Chunk:", utils.ConvertBytesToHumanReadable(d.Params.ChunkSize)),
		row("Retunes:", fmt.Sprintf("%d", d.Retunes)),
	}
	if d.Resumed {
		stats = append(stats, row("Resumed:", "yes"))
	}

	source := d.Source
	if source == "" && d.URL != "" {
		source = utils.SourceNameFromURL(d.URL)
	}
	mirror := []string{
		row("Source:", source),
		row("URL:", d.URL),
		row("Candidates:", fmt.Sprintf("%d", d.Candidates)),
	}
	if d.err != nil {
		mirror = append(mirror, ErrorTextStyle.Render(truncateString(d.err.Error(), contentWidth)))
	}

	used := len(fileInfo) + len(stats) + len(mirror) + 8
	logRows := h - used
	if logRows < 1 {
		logRows = 1
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		"",
		strings.Join(fileInfo, "\n"),
		divider,
		strings.Join(stats, "\n"),
		divider,
		strings.Join(mirror, "\n"),
		divider,
		lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true).Render("Mirror failures"),
		components.NewMirrorLogModel(d.Failures, contentWidth, logRows).View(),
	)
	return lipgloss.NewStyle().Padding(0, 2).Render(content)
}

func getDownloadStatus(d *DownloadModel) string {
	style := lipgloss.NewStyle()
	switch {
	case d.err != nil:
		return style.Foreground(ColorStateError).Render("✖ Failed")
	case d.done && d.Result != nil && d.Result.FromCache:
		return style.Foreground(ColorStateDone).Render("✔ Cached")
	case d.done:
		return style.Foreground(ColorStateDone).Render("✔ Completed")
	case d.ID == "":
		return style.Foreground(ColorStateQueued).Render("… Resolving")
	default:
		return style.Foreground(ColorStateDownloading).Render("⬇ Downloading")
	}
}

// CalculateStats counts rows per tab
func (m RootModel) CalculateStats() (active, done, failed int) {
	for _, d := range m.downloads {
		switch {
		case !d.done:
			active++
		case d.err != nil:
			failed++
		default:
			done++
		}
	}
	return
}

func truncateString(s string, i int) string {
	if i < 1 {
		return ""
	}
	runes := []rune(s)
	if len(runes) > i {
		return string(runes[:i]) + "..."
	}
	return s
}

func renderTabs(activeTab, activeCount, doneCount, failedCount int) string {
	tabs := []struct {
		Label string
		Count int
	}{
		{"Active", activeCount},
		{"Done", doneCount},
		{"Failed", failedCount},
	}
	var rendered []string
	for i, t := range tabs {
		style := TabStyle
		if i == activeTab {
			style = ActiveTabStyle
		}
		rendered = append(rendered, style.Render(fmt.Sprintf("%s (%d)", t.Label, t.Count)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

// renderBtopBox draws a rounded box with the title set into the top border:
//
//	╭─ TITLE ──────╮   or   ╭────── TITLE ─╮
func renderBtopBox(title string, content string, width, height int, borderColor lipgloss.Color, titleRight bool) string {
	innerWidth := width - 2
	if innerWidth < 1 {
		innerWidth = 1
	}
	border := lipgloss.NewStyle().Foreground(borderColor)
	titleStyle := lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true)

	label := " " + title + " "
	fill := innerWidth - lipgloss.Width(label) - 1
	if fill < 0 {
		fill = 0
	}

	var top string
	if titleRight {
		top = border.Render("╭"+strings.Repeat("─", fill)) + titleStyle.Render(label) + border.Render("─╮")
	} else {
		top = border.Render("╭─") + titleStyle.Render(label) + border.Render(strings.Repeat("─", fill)+"╮")
	}
	bottom := border.Render("╰" + strings.Repeat("─", innerWidth) + "╯")

	lines := strings.Split(content, "\n")
	body := make([]string, 0, height)
	for i := 0; i < height-2; i++ {
		line := ""
		if i < len(lines) {
			line = lines[i]
		}
		if w := lipgloss.Width(line); w < innerWidth {
			line += strings.Repeat(" ", innerWidth-w)
		} else if w > innerWidth {
			line = lipgloss.NewStyle().MaxWidth(innerWidth).Render(line)
		}
		body = append(body, border.Render("│")+line+border.Render("│"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, top, strings.Join(body, "\n"), bottom)
}
