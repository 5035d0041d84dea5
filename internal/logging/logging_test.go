package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/benaskins/loopmic/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.Logging{Level: "warn", Format: "json"})

	logger.Info("dropped")
	logger.Warn("relay exited", "pid", 42)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "relay exited" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["pid"] != float64(42) {
		t.Errorf("pid = %v", entry["pid"])
	}
}

func TestNewTextByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.Logging{})

	logger.Debug("hidden")
	logger.Info("relay started", "device", "hw:5,0,0")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line logged at default level")
	}
	if !strings.Contains(out, "msg=\"relay started\"") || !strings.Contains(out, "device=hw:5,0,0") {
		t.Errorf("unexpected text output: %q", out)
	}
}
