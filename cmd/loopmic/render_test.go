package main

import (
	"strings"
	"testing"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "-"},
		{float64(4242), "4242"},
		{2.5, "2.5"},
		{"hw:5,0,0", "hw:5,0,0"},
		{true, "true"},
		{[]any{"a", "b"}, "a | b"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderReadingsOrder(t *testing.T) {
	readings := map[string]any{
		"restart_count":         float64(1),
		"streaming_status":      true,
		"rtsp_url":              "rtsp://cam/stream",
		"loopback_device":       "5",
		"loopback_device_full":  "hw:5,0,0",
		"ffmpeg_output":         "No output yet",
		"ffmpeg_process_id":     nil,
		"last_activity_seconds": 2.4,
	}

	out := renderReadings(readings, defaultTheme())
	lines := strings.Split(out, "\n")
	if len(lines) != len(readingOrder) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(readingOrder), out)
	}
	for i, k := range readingOrder {
		if !strings.HasPrefix(strings.TrimSpace(lines[i]), k) {
			t.Errorf("line %d = %q, want key %s", i, lines[i], k)
		}
	}
	if !strings.Contains(lines[0], "streaming") {
		t.Errorf("streaming line = %q", lines[0])
	}
	if !strings.Contains(lines[6], "2.4s ago") {
		t.Errorf("activity line = %q", lines[6])
	}
}

func TestRenderReadingsStopped(t *testing.T) {
	out := renderReadings(map[string]any{"streaming_status": false}, defaultTheme())
	if !strings.Contains(out, "stopped") {
		t.Errorf("expected stopped marker, got %q", out)
	}
}
