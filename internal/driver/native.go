package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Process is a single launched relay. It is never restarted: a restart
// launches a new Process.
type Process struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   string
	stderr    *os.File
	done      chan struct{}
}

// Start launches the process in its own process group with stderr on a
// pipe. The caller owns the read end and must drain or close it.
func Start(cfg Config) (*Process, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("no binary configured")
	}

	cmd := exec.Command(cfg.Binary, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	// Set process group so we can signal the whole tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// A bare os.Pipe rather than StderrPipe: Wait must not close the read
	// end while the monitor is still draining buffered lines.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("starting %s: %w", cfg.Binary, err)
	}
	// The child holds its own copy; ours would keep the pipe open forever.
	w.Close()

	p := &Process{
		cmd:       cmd,
		state:     StateRunning,
		startedAt: time.Now(),
		stderr:    r,
		done:      make(chan struct{}),
	}

	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateStopping {
		p.state = StateStopped
	} else {
		p.state = StateFailed
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.exitCode = exitErr.ExitCode()
		}
		p.exitErr = err.Error()
	} else {
		p.exitCode = 0
	}

	close(p.done)
}

// Stop sends SIGTERM to the process group, waits up to timeout, then
// sends SIGKILL. It returns once the process has been reaped. Calling Stop
// on an exited process is a no-op.
func (p *Process) Stop(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.state = StateStopping
	pid := p.cmd.Process.Pid
	p.mu.Unlock()

	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signalling process group %d: %w", pid, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
		_ = unix.Kill(-pid, unix.SIGKILL)
		<-p.done
		return ErrKilled
	case <-ctx.Done():
		_ = unix.Kill(-pid, unix.SIGKILL)
		<-p.done
		return ctx.Err()
	}
}

// ErrKilled is returned by Stop when the grace period expired and the
// process group had to be killed.
var ErrKilled = errors.New("process did not exit gracefully, killed")

// Stderr returns the read end of the diagnostic stream. It reaches EOF
// once every process in the group has closed its stderr.
func (p *Process) Stderr() io.Reader {
	return p.stderr
}

// CloseStderr closes the read end, unblocking any pending read.
func (p *Process) CloseStderr() error {
	return p.stderr.Close()
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// PID returns the OS process ID.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

func (p *Process) Info() ProcessInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProcessInfo{
		PID:       p.cmd.Process.Pid,
		State:     p.state,
		StartedAt: p.startedAt,
		ExitCode:  p.exitCode,
		Error:     p.exitErr,
	}
}
