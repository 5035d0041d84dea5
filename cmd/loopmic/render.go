package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorHealthy = lipgloss.Color("#22c55e")
	colorWarning = lipgloss.Color("#d97706")
	colorDanger  = lipgloss.Color("#dc2626")
	colorDimmed  = lipgloss.Color("#6b7280")
	colorText    = lipgloss.Color("#e5e7eb")
)

type theme struct {
	Label   lipgloss.Style
	Value   lipgloss.Style
	Good    lipgloss.Style
	Warn    lipgloss.Style
	Bad     lipgloss.Style
	Dimmed  lipgloss.Style
	Heading lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		Label:   lipgloss.NewStyle().Foreground(colorDimmed).Width(24),
		Value:   lipgloss.NewStyle().Foreground(colorText),
		Good:    lipgloss.NewStyle().Foreground(colorHealthy).Bold(true),
		Warn:    lipgloss.NewStyle().Foreground(colorWarning),
		Bad:     lipgloss.NewStyle().Foreground(colorDanger).Bold(true),
		Dimmed:  lipgloss.NewStyle().Foreground(colorDimmed),
		Heading: lipgloss.NewStyle().Bold(true).MarginBottom(1),
	}
}

// readingOrder is the display order of the readings map.
var readingOrder = []string{
	"streaming_status",
	"rtsp_url",
	"loopback_device",
	"loopback_device_full",
	"ffmpeg_output",
	"ffmpeg_process_id",
	"last_activity_seconds",
	"restart_count",
}

func renderReadings(readings map[string]any, th theme) string {
	var b strings.Builder
	for _, k := range readingOrder {
		v, ok := readings[k]
		if !ok {
			continue
		}
		b.WriteString(th.Label.Render(k))
		b.WriteString(renderValue(k, v, th))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderValue(key string, v any, th theme) string {
	switch key {
	case "streaming_status":
		if v == true {
			return th.Good.Render("● streaming")
		}
		return th.Bad.Render("○ stopped")
	case "restart_count":
		if n, ok := v.(float64); ok && n > 1 {
			return th.Warn.Render(formatValue(v))
		}
	case "ffmpeg_process_id":
		if v == nil {
			return th.Dimmed.Render("-")
		}
	case "last_activity_seconds":
		return th.Value.Render(formatValue(v) + "s ago")
	}
	return th.Value.Render(formatValue(v))
}

// formatValue prints JSON-decoded values without float noise for whole
// numbers.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	case []any:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = formatValue(p)
		}
		return strings.Join(parts, " | ")
	default:
		return fmt.Sprint(x)
	}
}
