// Package supervisor keeps one ffmpeg relay running from an RTSP source
// into an ALSA loopback device.
//
// A Supervisor owns the relay process, a monitor goroutine that reads its
// diagnostic output, a periodic reconciler that re-checks the OS process
// table, and the recovery policy that restarts the relay on failure within
// a restart budget.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/benaskins/loopmic/internal/clock"
	"github.com/benaskins/loopmic/internal/config"
	"github.com/benaskins/loopmic/internal/device"
	"github.com/benaskins/loopmic/internal/driver"
	"github.com/benaskins/loopmic/internal/logbuf"
	"github.com/benaskins/loopmic/internal/proctable"
)

var (
	// ErrStartFailed is returned when the relay could not be launched.
	ErrStartFailed = errors.New("start failed")

	// ErrRestartBudgetExhausted is returned when the recovery policy
	// refuses to restart the relay.
	ErrRestartBudgetExhausted = errors.New("restart budget exhausted")

	// ErrAlreadyRunning is returned by Start while a live relay is tracked.
	ErrAlreadyRunning = errors.New("relay already running")
)

const (
	alsaReleaseDelay = time.Second
	oldRelaySettle   = 2 * time.Second
	oldSourceSettle  = time.Second
)

// Options configures a Supervisor.
type Options struct {
	Resolver device.Resolver
	Table    proctable.Table
	Clock    clock.Clock  // defaults to clock.Real()
	Logger   *slog.Logger // defaults to slog.Default() tagged with the component
}

// Supervisor manages the relay for one stream.
type Supervisor struct {
	resolver device.Resolver
	table    proctable.Table
	clock    clock.Clock
	logger   *slog.Logger

	// lifecycle serializes start, stop, restart and recovery.
	lifecycle sync.Mutex

	mu      sync.Mutex
	attrs   config.Attributes
	sess    session
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup // recovery goroutines

	recovering       bool
	refusals         rate.Sometimes
	orphanedOutput   rate.Sometimes
	reconcileFailure rate.Sometimes
}

// run is one launched relay and the goroutines watching it.
type run struct {
	id     string
	proc   *driver.Process
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an unconfigured Supervisor.
func New(opts Options) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.With("component", "supervisor")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		resolver: opts.Resolver,
		table:    opts.Table,
		clock:    opts.Clock,
		logger:   opts.Logger,
		attrs:    config.Attributes{}.WithDefaults(),
		sess: session{
			state:   StateIdle,
			history: logbuf.New(logbuf.DefaultSize),
		},
		ctx:              ctx,
		cancel:           cancel,
		refusals:         rate.Sometimes{Interval: 30 * time.Second},
		orphanedOutput:   rate.Sometimes{Interval: 30 * time.Second},
		reconcileFailure: rate.Sometimes{Interval: time.Minute},
	}
}

// RelayArgs builds the ffmpeg argument list. The reconnect flags are
// input options and must precede -i.
func RelayArgs(sourceURL, deviceID string, reconnectDelayMax int) []string {
	return []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", strconv.Itoa(reconnectDelayMax),
		"-i", sourceURL,
		"-f", "alsa",
		"-y", device.Sink(deviceID),
	}
}

// RelayPattern is the process-table pattern matching any relay pulling
// from sourceURL.
func RelayPattern(sourceURL string) string {
	return "ffmpeg.*" + regexp.QuoteMeta(sourceURL)
}

func sinkPattern(deviceID string) string {
	return "ffmpeg.*" + regexp.QuoteMeta(device.Sink(deviceID))
}

// anySinkPattern matches relays into any ALSA device, ours or not.
const anySinkPattern = "ffmpeg.*-f alsa.*hw:"

// Configure stops any current relay, clears out stale relays, applies the
// new attributes and starts. Start errors are returned but the attributes
// stay applied.
func (s *Supervisor) Configure(ctx context.Context, attrs config.Attributes) error {
	if err := attrs.Validate(); err != nil {
		return err
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stop(ctx)
	s.cleanupOld(ctx)

	s.mu.Lock()
	s.attrs = attrs.WithDefaults()
	if s.sess.sourceURL != attrs.RTSPURL {
		s.sess.history.Reset()
		s.sess.lastOutputLine = ""
	}
	s.sess.sourceURL = attrs.RTSPURL
	s.mu.Unlock()

	s.logger.Info("configured", "rtsp_url", attrs.RTSPURL)
	return s.start(ctx)
}

// Start launches the relay.
func (s *Supervisor) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.start(ctx)
}

// Stop stops the relay. It is safe to call in any state.
func (s *Supervisor) Stop(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stop(ctx)
}

// Restart stops then starts the relay.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stop(ctx)
	return s.start(ctx)
}

func (s *Supervisor) start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: supervisor closed", ErrStartFailed)
	}
	if r := s.sess.run; r != nil && !r.proc.Exited() {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	stale := s.sess.run
	s.sess.run = nil
	sourceURL := s.sess.sourceURL
	attrs := s.attrs
	s.mu.Unlock()

	if stale != nil {
		s.release(stale)
	}

	if sourceURL == "" {
		return fmt.Errorf("%w: rtsp_url not configured", ErrStartFailed)
	}

	s.setState(StateStarting)

	deviceID, err := s.resolver.Resolve(ctx)
	if err != nil {
		s.setState(StateIdle)
		s.logger.Error("resolving loopback device failed", "error", err)
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	args := RelayArgs(sourceURL, deviceID, attrs.ReconnectDelayMax)
	proc, err := driver.Start(driver.Config{Binary: attrs.FFmpegPath, Args: args})
	if err != nil {
		s.setState(StateIdle)
		s.logger.Error("launching relay failed", "error", err)
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	r := &run{
		id:     uuid.NewString(),
		proc:   proc,
		ctx:    runCtx,
		cancel: cancel,
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.sess.run = r
	s.sess.deviceID = deviceID
	s.sess.state = StateRunning
	s.sess.believedRunning = true
	s.sess.lastActivity = now
	s.sess.lastOutputLine = ""
	s.sess.restartCount++
	s.sess.lastRestart = now
	s.sess.runID = r.id
	s.sess.observedPID = 0
	s.sess.approximate = false
	s.sess.budgetExhausted = false
	count := s.sess.restartCount
	interval := attrs.ReconcileInterval.Duration
	s.mu.Unlock()

	s.logger.Info("relay started",
		"run_id", r.id,
		"pid", proc.PID(),
		"device", device.Sink(deviceID),
		"restart_count", count,
	)

	r.wg.Add(2)
	go s.monitor(r)
	go s.reconcileLoop(r, interval)
	return nil
}

func (s *Supervisor) stop(ctx context.Context) {
	s.mu.Lock()
	r := s.sess.run
	deviceID := s.sess.deviceID
	timeout := s.attrs.StopTimeout.Duration
	s.sess.run = nil
	s.sess.believedRunning = false
	s.sess.deviceID = ""
	s.sess.approximate = false
	s.sess.observedPID = 0
	if r != nil {
		s.sess.state = StateStopping
	}
	s.mu.Unlock()

	if r != nil {
		r.cancel()
		err := r.proc.Stop(ctx, timeout)
		switch {
		case errors.Is(err, driver.ErrKilled):
			s.logger.Warn("relay did not exit gracefully, killed", "run_id", r.id, "pid", r.proc.PID())
		case err != nil:
			s.logger.Warn("stopping relay", "run_id", r.id, "pid", r.proc.PID(), "error", err)
		default:
			s.logger.Info("relay stopped", "run_id", r.id, "pid", r.proc.PID())
		}
		s.release(r)
	}

	s.setState(StateIdle)

	if deviceID != "" {
		s.cleanupALSA(ctx, deviceID)
	}
}

// release cancels a run's goroutines and waits for them. The process must
// already have exited or been stopped.
func (s *Supervisor) release(r *run) {
	r.cancel()
	_ = r.proc.CloseStderr()
	r.wg.Wait()
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.sess.state = state
	s.mu.Unlock()
}

// CleanupALSA kills any relay writing into the current loopback device and
// waits for ALSA to release it. It does nothing when no device is known.
func (s *Supervisor) CleanupALSA(ctx context.Context) {
	s.mu.Lock()
	deviceID := s.sess.deviceID
	s.mu.Unlock()

	if deviceID == "" {
		s.logger.Debug("no loopback device to clean up")
		return
	}
	s.cleanupALSA(ctx, deviceID)
}

func (s *Supervisor) cleanupALSA(ctx context.Context, deviceID string) {
	n, err := s.table.Kill(ctx, sinkPattern(deviceID))
	if err != nil {
		s.logger.Warn("ALSA cleanup failed", "device", device.Sink(deviceID), "error", err)
	} else if n > 0 {
		s.logger.Info("killed relays holding loopback device", "device", device.Sink(deviceID), "count", n)
	}
	s.clock.Sleep(alsaReleaseDelay)
}

// CleanupOld kills relays left behind by earlier runs or other instances:
// first any relay into any ALSA device, then any relay pulling from the
// configured source.
func (s *Supervisor) CleanupOld(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.cleanupOld(ctx)
}

func (s *Supervisor) cleanupOld(ctx context.Context) {
	if n, err := s.table.Kill(ctx, anySinkPattern); err != nil {
		s.logger.Warn("cleaning up old relays failed", "error", err)
	} else if n > 0 {
		s.logger.Info("killed old relays", "count", n)
	}
	s.clock.Sleep(oldRelaySettle)

	s.mu.Lock()
	sourceURL := s.sess.sourceURL
	s.mu.Unlock()
	if sourceURL == "" {
		return
	}

	if n, err := s.table.Kill(ctx, RelayPattern(sourceURL)); err != nil {
		s.logger.Warn("cleaning up relays for source failed", "rtsp_url", sourceURL, "error", err)
	} else if n > 0 {
		s.logger.Info("killed old relays for source", "rtsp_url", sourceURL, "count", n)
	}
	s.clock.Sleep(oldSourceSettle)
}

// ResetRestartCount clears the restart budget and the degraded flag.
func (s *Supervisor) ResetRestartCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.restartCount = 0
	s.sess.lastRestart = time.Time{}
	s.sess.budgetExhausted = false
}

// Snapshot returns a copy of the session state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.snapshot()
}

// Close stops the relay and waits for every goroutine the supervisor
// started. The Supervisor cannot be started again.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.pending.Wait()

	s.lifecycle.Lock()
	s.stop(context.Background())
	s.lifecycle.Unlock()

	s.cancel()
}
