// Package sensor is the host-facing surface of loopmic: it accepts
// attributes, produces the readings map and dispatches named commands to
// the supervisor.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/benaskins/loopmic/internal/clock"
	"github.com/benaskins/loopmic/internal/config"
	"github.com/benaskins/loopmic/internal/device"
	"github.com/benaskins/loopmic/internal/proctable"
	"github.com/benaskins/loopmic/internal/supervisor"
)

// Placeholders reported for fields with no value yet.
const (
	NotConfigured = "Not configured"
	NoOutputYet   = "No output yet"
)

// Command names accepted by DoCommand.
const (
	CmdStartStream       = "start_stream"
	CmdStopStream        = "stop_stream"
	CmdRestartStream     = "restart_stream"
	CmdResetRestartCount = "reset_restart_count"
	CmdCleanupALSA       = "cleanup_alsa"
	CmdSyncProcess       = "sync_process"
	CmdProcessStatus     = "process_status"
	CmdCleanupOld        = "cleanup_old"
)

// Commands lists every command DoCommand understands.
var Commands = []string{
	CmdStartStream,
	CmdStopStream,
	CmdRestartStream,
	CmdResetRestartCount,
	CmdCleanupALSA,
	CmdSyncProcess,
	CmdProcessStatus,
	CmdCleanupOld,
}

// Sensor wraps one Supervisor.
type Sensor struct {
	sup    *supervisor.Supervisor
	table  proctable.Table
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Sensor and its Supervisor.
func New(opts supervisor.Options) *Sensor {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Sensor{
		sup:    supervisor.New(opts),
		table:  opts.Table,
		clock:  opts.Clock,
		logger: slog.With("component", "sensor"),
	}
}

// Configure decodes host attributes and reconfigures the stream. Invalid
// attributes fail with config.ErrInvalidConfig before any process action.
func (s *Sensor) Configure(ctx context.Context, attrs map[string]any) error {
	parsed, err := config.FromMap(attrs)
	if err != nil {
		return err
	}
	return s.ConfigureAttributes(ctx, parsed)
}

// ConfigureAttributes reconfigures the stream from already-decoded
// attributes. A start failure is returned, but the component remains
// configured and can be started later.
func (s *Sensor) ConfigureAttributes(ctx context.Context, attrs config.Attributes) error {
	err := s.sup.Configure(ctx, attrs)
	if err != nil && !errors.Is(err, config.ErrInvalidConfig) {
		s.logger.Error("starting stream after configure failed", "error", err)
	}
	return err
}

// Readings reconciles and returns the current readings. It never fails.
func (s *Sensor) Readings(ctx context.Context) map[string]any {
	s.sup.Reconcile(ctx)
	snap := s.sup.Snapshot()

	readings := map[string]any{
		"streaming_status":      snap.BelievedRunning,
		"rtsp_url":              orPlaceholder(snap.SourceURL, NotConfigured),
		"loopback_device":       orPlaceholder(snap.DeviceID, NotConfigured),
		"loopback_device_full":  NotConfigured,
		"ffmpeg_output":         orPlaceholder(snap.LastOutputLine, NoOutputYet),
		"ffmpeg_process_id":     nil,
		"last_activity_seconds": 0.0,
		"restart_count":         snap.RestartCount,
	}
	if snap.DeviceID != "" {
		readings["loopback_device_full"] = device.Sink(snap.DeviceID)
	}
	if snap.PID != 0 {
		readings["ffmpeg_process_id"] = snap.PID
	}
	if !snap.LastActivity.IsZero() {
		elapsed := s.clock.Now().Sub(snap.LastActivity).Seconds()
		readings["last_activity_seconds"] = math.Round(elapsed*10) / 10
	}
	return readings
}

// DoCommand runs the command named by cmd["command"]. Unknown names are
// reported in the result map, not as an error; errors are reserved for
// commands that were attempted and failed.
func (s *Sensor) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	name, _ := cmd["command"].(string)

	switch name {
	case CmdStartStream:
		if err := s.sup.Restart(ctx); err != nil {
			return nil, err
		}
		return status("started"), nil

	case CmdStopStream:
		s.sup.Stop(ctx)
		return status("stopped"), nil

	case CmdRestartStream:
		if err := s.sup.Restart(ctx); err != nil {
			return nil, err
		}
		return status("restarted"), nil

	case CmdResetRestartCount:
		s.sup.ResetRestartCount()
		return status("restart_count_reset"), nil

	case CmdCleanupALSA:
		s.sup.CleanupALSA(ctx)
		return status("alsa_cleanup_completed"), nil

	case CmdSyncProcess:
		running := s.sup.Reconcile(ctx)
		return map[string]any{"status": "process_synced", "streaming_status": running}, nil

	case CmdProcessStatus:
		return s.processStatus(ctx), nil

	case CmdCleanupOld:
		s.sup.CleanupOld(ctx)
		return status("old_processes_cleanup_completed"), nil
	}

	return map[string]any{"error": fmt.Sprintf("Unknown command: %s", commandName(cmd))}, nil
}

func (s *Sensor) processStatus(ctx context.Context) map[string]any {
	snap := s.sup.Snapshot()

	var runningPID any
	if snap.SourceURL != "" {
		pids, err := s.table.Find(ctx, supervisor.RelayPattern(snap.SourceURL))
		if err != nil {
			s.logger.Warn("process table query failed", "error", err)
		} else if len(pids) > 0 {
			runningPID = pids[0]
		}
	}

	var trackedPID any
	if snap.PID != 0 {
		trackedPID = snap.PID
	}

	return map[string]any{
		"status":           "process_status",
		"tracked_pid":      trackedPID,
		"running_pid":      runningPID,
		"streaming_status": snap.BelievedRunning,
		"process_alive":    snap.ProcessAlive,
		"run_id":           snap.RunID,
		"approximate":      snap.Approximate,
		"budget_exhausted": snap.BudgetExhausted,
		"recent_output":    snap.RecentOutput,
	}
}

// Snapshot exposes the supervisor state for health reporting.
func (s *Sensor) Snapshot() supervisor.Snapshot {
	return s.sup.Snapshot()
}

// Close stops the stream and waits for background work.
func (s *Sensor) Close() {
	s.sup.Close()
}

func status(s string) map[string]any {
	return map[string]any{"status": s}
}

func orPlaceholder(v, placeholder string) string {
	if v == "" {
		return placeholder
	}
	return v
}

// commandName renders the requested command for error messages. A
// missing key renders as <nil>.
func commandName(cmd map[string]any) string {
	v, ok := cmd["command"]
	if !ok || v == nil {
		return "<nil>"
	}
	return fmt.Sprint(v)
}
