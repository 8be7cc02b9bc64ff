package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var graphBlocks = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// graphScale returns the axis maximum for data: 10% headroom rounded up to
// a whole number (multiples of 5 above 5). Never below 1.
func graphScale(data []float64) float64 {
	peak := 0.0
	for _, v := range data {
		if v > peak {
			peak = v
		}
	}
	peak *= 1.1
	switch {
	case peak >= 5:
		return float64(int((peak+4.99)/5) * 5)
	case peak >= 1:
		return float64(int(peak + 0.99))
	default:
		return 1
	}
}

// renderSpeedGraph draws data as right-aligned columns over a dashed grid.
// Missing history on the left shows the grid.
func renderSpeedGraph(data []float64, width, height int, maxVal float64, color lipgloss.Color) string {
	if width < 1 || height < 1 {
		return ""
	}
	if maxVal <= 0 {
		maxVal = 1
	}

	grid := lipgloss.NewStyle().Foreground(ColorGray).Render("╌")
	bar := lipgloss.NewStyle().Foreground(color)

	cells := make([][]string, height)
	for y := range cells {
		cells[y] = make([]string, width)
		for x := range cells[y] {
			if y%2 == 0 {
				cells[y][x] = grid
			} else {
				cells[y][x] = " "
			}
		}
	}

	if len(data) > width {
		data = data[len(data)-width:]
	}
	offset := width - len(data)

	for i, v := range data {
		if v <= 0 {
			continue
		}
		pct := v / maxVal
		if pct > 1 {
			pct = 1
		}
		eighths := int(pct * float64(height) * 8)
		for level := 0; level < height && eighths > 0; level++ {
			n := eighths
			if n > 8 {
				n = 8
			}
			cells[height-1-level][offset+i] = bar.Render(graphBlocks[n])
			eighths -= 8
		}
	}

	rows := make([]string, height)
	for y, row := range cells {
		rows[y] = strings.Join(row, "")
	}
	return strings.Join(rows, "\n")
}

// renderGraphAxis builds the label column that sits left of the graph
func renderGraphAxis(maxVal float64, height, width int) string {
	style := lipgloss.NewStyle().Width(width).Foreground(ColorLightGray).Align(lipgloss.Right)
	labels := make([]string, height)
	for i := range labels {
		labels[i] = style.Render("")
	}
	labels[0] = style.Render(fmt.Sprintf("%.0f", maxVal))
	if height >= 5 {
		labels[height/2] = style.Render(fmt.Sprintf("%.1f", maxVal/2))
	}
	if height > 1 {
		labels[height-1] = style.Render("0")
	}
	return strings.Join(labels, "\n")
}
