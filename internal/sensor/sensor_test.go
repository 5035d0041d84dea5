package sensor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benaskins/loopmic/internal/clock"
	"github.com/benaskins/loopmic/internal/config"
	"github.com/benaskins/loopmic/internal/supervisor"
)

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context) (string, error) { return "5", nil }

type fakeTable struct {
	mu    sync.Mutex
	found []int
	kills []string
}

func (f *fakeTable) Find(ctx context.Context, pattern string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.found, nil
}

func (f *fakeTable) Kill(ctx context.Context, pattern string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills = append(f.kills, pattern)
	return 0, nil
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestSensor(t *testing.T) (*Sensor, *clock.FakeClock, *fakeTable) {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	table := &fakeTable{}
	s := New(supervisor.Options{
		Resolver: fakeResolver{},
		Table:    table,
		Clock:    clk,
	})
	t.Cleanup(s.Close)
	return s, clk, table
}

func attrs(script string) map[string]any {
	return map[string]any{
		"rtsp_url":     "rtsp://cam/stream",
		"ffmpeg_path":  script,
		"stop_timeout": "2s",
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConfigureRejectsInvalidAttributes(t *testing.T) {
	s, _, table := newTestSensor(t)

	for _, a := range []map[string]any{
		{},
		{"rtsp_url": ""},
		{"rtsp_url": 42},
	} {
		if err := s.Configure(context.Background(), a); !errors.Is(err, config.ErrInvalidConfig) {
			t.Errorf("Configure(%v): expected ErrInvalidConfig, got %v", a, err)
		}
	}
	if len(table.kills) != 0 {
		t.Error("invalid attributes must not touch processes")
	}
}

func TestReadingsUnconfigured(t *testing.T) {
	s, _, _ := newTestSensor(t)

	r := s.Readings(context.Background())

	want := map[string]any{
		"streaming_status":      false,
		"rtsp_url":              NotConfigured,
		"loopback_device":       NotConfigured,
		"loopback_device_full":  NotConfigured,
		"ffmpeg_output":         NoOutputYet,
		"ffmpeg_process_id":     nil,
		"last_activity_seconds": 0.0,
		"restart_count":         0,
	}
	if len(r) != len(want) {
		t.Errorf("got %d readings, want %d: %v", len(r), len(want), r)
	}
	for k, v := range want {
		if r[k] != v {
			t.Errorf("%s = %v (%T), want %v (%T)", k, r[k], r[k], v, v)
		}
	}
}

func TestConnectionResetScenario(t *testing.T) {
	s, _, _ := newTestSensor(t)
	ctx := context.Background()

	marker := filepath.Join(t.TempDir(), "failed-once")
	script := writeScript(t, `if [ ! -f `+marker+` ]; then
  touch `+marker+`
  sleep 0.3
  echo "Connection reset by peer" >&2
fi
exec sleep 60`)

	if err := s.Configure(ctx, attrs(script)); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	r := s.Readings(ctx)
	if r["streaming_status"] != true {
		t.Errorf("streaming_status = %v, want true", r["streaming_status"])
	}
	if r["rtsp_url"] != "rtsp://cam/stream" {
		t.Errorf("rtsp_url = %v", r["rtsp_url"])
	}
	if r["loopback_device"] != "5" || r["loopback_device_full"] != "hw:5,0,0" {
		t.Errorf("loopback_device = %v, full = %v", r["loopback_device"], r["loopback_device_full"])
	}
	if r["restart_count"] != 1 {
		t.Errorf("restart_count = %v, want 1", r["restart_count"])
	}
	if _, ok := r["ffmpeg_process_id"].(int); !ok {
		t.Errorf("ffmpeg_process_id = %v, want a PID", r["ffmpeg_process_id"])
	}

	waitFor(t, "restart after connection reset", func() bool {
		r := s.Readings(ctx)
		return r["restart_count"] == 2 && r["streaming_status"] == true
	})

	// The replacement run has not written anything yet.
	if got := s.Readings(ctx)["ffmpeg_output"]; got != NoOutputYet {
		t.Errorf("ffmpeg_output = %v", got)
	}
}

func TestLastActivitySeconds(t *testing.T) {
	s, clk, _ := newTestSensor(t)
	ctx := context.Background()
	if err := s.Configure(ctx, attrs(writeScript(t, "exec sleep 60"))); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	clk.Advance(2440 * time.Millisecond)

	if got := s.Readings(ctx)["last_activity_seconds"]; got != 2.4 {
		t.Errorf("last_activity_seconds = %v, want 2.4", got)
	}
}

func TestStopStreamCommand(t *testing.T) {
	s, _, _ := newTestSensor(t)
	ctx := context.Background()
	if err := s.Configure(ctx, attrs(writeScript(t, "exec sleep 60"))); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	res, err := s.DoCommand(ctx, map[string]any{"command": "stop_stream"})
	if err != nil {
		t.Fatalf("stop_stream: %v", err)
	}
	if res["status"] != "stopped" {
		t.Errorf("status = %v", res["status"])
	}

	r := s.Readings(ctx)
	if r["streaming_status"] != false {
		t.Error("expected streaming_status false after stop")
	}
	if r["ffmpeg_process_id"] != nil {
		t.Errorf("ffmpeg_process_id = %v, want nil", r["ffmpeg_process_id"])
	}
	if r["loopback_device"] != NotConfigured {
		t.Errorf("loopback_device = %v", r["loopback_device"])
	}
	if r["rtsp_url"] != "rtsp://cam/stream" {
		t.Errorf("rtsp_url should survive stop, got %v", r["rtsp_url"])
	}

	// Stopping again is harmless.
	if _, err := s.DoCommand(ctx, map[string]any{"command": "stop_stream"}); err != nil {
		t.Errorf("second stop_stream: %v", err)
	}
}

func TestStartStreamRestartsWhenRunning(t *testing.T) {
	s, _, _ := newTestSensor(t)
	ctx := context.Background()
	if err := s.Configure(ctx, attrs(writeScript(t, "exec sleep 60"))); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	res, err := s.DoCommand(ctx, map[string]any{"command": "start_stream"})
	if err != nil {
		t.Fatalf("start_stream: %v", err)
	}
	if res["status"] != "started" {
		t.Errorf("status = %v", res["status"])
	}
	if got := s.Readings(ctx)["restart_count"]; got != 2 {
		t.Errorf("restart_count = %v, want 2", got)
	}
}

func TestCommands(t *testing.T) {
	s, _, table := newTestSensor(t)
	ctx := context.Background()
	if err := s.Configure(ctx, attrs(writeScript(t, "exec sleep 60"))); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	tests := []struct {
		cmd  map[string]any
		want map[string]any
	}{
		{map[string]any{"command": "reset_restart_count"}, map[string]any{"status": "restart_count_reset"}},
		{map[string]any{"command": "cleanup_alsa"}, map[string]any{"status": "alsa_cleanup_completed"}},
		{map[string]any{"command": "cleanup_old"}, map[string]any{"status": "old_processes_cleanup_completed"}},
		{map[string]any{"command": "sync_process"}, map[string]any{"status": "process_synced", "streaming_status": true}},
		{map[string]any{"command": "dance"}, map[string]any{"error": "Unknown command: dance"}},
		{map[string]any{}, map[string]any{"error": "Unknown command: <nil>"}},
	}
	for _, tt := range tests {
		got, err := s.DoCommand(ctx, tt.cmd)
		if err != nil {
			t.Errorf("DoCommand(%v): %v", tt.cmd, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("DoCommand(%v) = %v, want %v", tt.cmd, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("DoCommand(%v)[%s] = %v, want %v", tt.cmd, k, got[k], v)
			}
		}
	}

	if got := s.Readings(ctx)["restart_count"]; got != 0 {
		t.Errorf("restart_count after reset = %v, want 0", got)
	}
	table.mu.Lock()
	defer table.mu.Unlock()
	var sawSink, sawOld bool
	for _, p := range table.kills {
		if p == `ffmpeg.*hw:5,0,0` {
			sawSink = true
		}
		if p == "ffmpeg.*-f alsa.*hw:" {
			sawOld = true
		}
	}
	if !sawSink || !sawOld {
		t.Errorf("expected sink and old-relay cleanups, got %v", table.kills)
	}
}

func TestProcessStatus(t *testing.T) {
	s, _, table := newTestSensor(t)
	ctx := context.Background()
	if err := s.Configure(ctx, attrs(writeScript(t, "echo 'Input #0' >&2\nexec sleep 60"))); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	table.mu.Lock()
	table.found = []int{31337}
	table.mu.Unlock()

	waitFor(t, "first output line", func() bool {
		return s.Snapshot().LastOutputLine == "Input #0"
	})

	res, err := s.DoCommand(ctx, map[string]any{"command": "process_status"})
	if err != nil {
		t.Fatalf("process_status: %v", err)
	}
	if res["status"] != "process_status" {
		t.Errorf("status = %v", res["status"])
	}
	if res["tracked_pid"] != s.Snapshot().PID {
		t.Errorf("tracked_pid = %v, want %d", res["tracked_pid"], s.Snapshot().PID)
	}
	if res["running_pid"] != 31337 {
		t.Errorf("running_pid = %v, want 31337", res["running_pid"])
	}
	if res["streaming_status"] != true || res["process_alive"] != true {
		t.Errorf("streaming_status = %v, process_alive = %v", res["streaming_status"], res["process_alive"])
	}
	if res["run_id"] == "" {
		t.Error("expected run_id")
	}
	if res["approximate"] != false || res["budget_exhausted"] != false {
		t.Errorf("approximate = %v, budget_exhausted = %v", res["approximate"], res["budget_exhausted"])
	}
	recent, ok := res["recent_output"].([]string)
	if !ok || len(recent) != 1 || recent[0] != "Input #0" {
		t.Errorf("recent_output = %v", res["recent_output"])
	}
}

func TestProcessStatusWithoutProcess(t *testing.T) {
	s, _, _ := newTestSensor(t)

	res, err := s.DoCommand(context.Background(), map[string]any{"command": "process_status"})
	if err != nil {
		t.Fatal(err)
	}
	if res["tracked_pid"] != nil || res["running_pid"] != nil {
		t.Errorf("tracked_pid = %v, running_pid = %v, want nil", res["tracked_pid"], res["running_pid"])
	}
	if res["process_alive"] != false {
		t.Errorf("process_alive = %v", res["process_alive"])
	}
}
