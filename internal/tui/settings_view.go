package tui

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/surge-downloader/surgemirror/internal/config"
)

func settingsCategories() []string { return config.CategoryOrder() }

// viewSettings renders the effective settings, one category per tab. The
// view is read-only; settings are edited with `surgemirror config`.
func (m RootModel) viewSettings() string {
	width := 78
	if m.width > 0 && m.width-4 < width {
		width = m.width - 4
	}

	categories := settingsCategories()
	var tabs []string
	for i, cat := range categories {
		label := fmt.Sprintf("[%d] %s", i+1, cat)
		if i == m.settingsTab {
			tabs = append(tabs, ActiveTabStyle.Render(label))
		} else {
			tabs = append(tabs, TabStyle.Render(label))
		}
	}

	category := categories[m.settingsTab]
	values := settingsValues(m.settings, category)

	var lines []string
	for _, meta := range config.GetSettingsMetadata()[category] {
		value := formatSettingValue(values[meta.Key], meta.Type)
		if meta.Key == "github_token" && value != "(empty)" {
			value = "********"
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Left,
			lipgloss.NewStyle().Width(24).Foreground(ColorLightGray).Render(meta.Label),
			StatsValueStyle.Render(truncateString(value, width-30)),
		))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Left, tabs...),
		"",
		strings.Join(lines, "\n"),
		"",
		lipgloss.NewStyle().Foreground(ColorLightGray).Render("[←/→] Category  [Esc] Back"),
	)
	box := renderBtopBox("Settings", lipgloss.NewStyle().Padding(0, 2).Render(content), width, len(lines)+7, ColorNeonPurple, false)
	if m.width == 0 {
		return box
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// settingsValues maps the json keys of one category's struct to their values
func settingsValues(s *config.Settings, category string) map[string]any {
	var section any
	switch category {
	case "General":
		section = s.General
	case "Network":
		// The Network tab spans the connection and chunk structs
		out := structValues(s.Connections)
		for k, v := range structValues(s.Chunks) {
			out[k] = v
		}
		return out
	case "Performance":
		section = s.Performance
	case "Sources":
		section = s.Sources
	default:
		return map[string]any{}
	}
	return structValues(section)
}

func structValues(v any) map[string]any {
	out := map[string]any{}
	rv := reflect.ValueOf(v)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		tag := strings.Split(rt.Field(i).Tag.Get("json"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		out[tag] = rv.Field(i).Interface()
	}
	return out
}

func formatSettingValue(value any, typ string) string {
	switch typ {
	case "duration":
		if d, ok := value.(time.Duration); ok {
			if d == 0 {
				return "0"
			}
			return d.String()
		}
	case "bool":
		if b, ok := value.(bool); ok && b {
			return "on"
		}
		return "off"
	case "list":
		if l, ok := value.([]string); ok {
			if len(l) == 0 {
				return "(empty)"
			}
			return strings.Join(l, ", ")
		}
	case "map":
		if mp, ok := value.(map[string][]string); ok {
			if len(mp) == 0 {
				return "(empty)"
			}
			keys := make([]string, 0, len(mp))
			for k := range mp {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, k+"="+strings.Join(mp[k], "/"))
			}
			return strings.Join(parts, "; ")
		}
	case "float64":
		if f, ok := value.(float64); ok {
			return fmt.Sprintf("%g", f)
		}
	}
	if s, ok := value.(string); ok && s == "" {
		return "(empty)"
	}
	return fmt.Sprintf("%v", value)
}
