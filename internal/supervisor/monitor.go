package supervisor

import (
	"bufio"
	"bytes"
	"strings"
	"time"
)

// exitConfirmWait bounds how long the monitor waits, after the diagnostic
// stream ends, for the process itself to exit.
const exitConfirmWait = 2 * time.Second

const maxLineLength = 1024 * 1024

// monitor reads the relay's diagnostic stream until it ends or the run is
// replaced. Reading continues after a failure line so a refused restart
// never leaves the pipe undrained.
func (s *Supervisor) monitor(r *run) {
	defer r.wg.Done()

	scanner := bufio.NewScanner(r.proc.Stderr())
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	scanner.Split(scanOutputLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !s.recordOutput(r, line) {
			return
		}

		if category, ok := Classify(line); ok {
			s.logger.Warn("relay failure detected",
				"run_id", r.id,
				"category", category,
				"line", line,
			)
			s.triggerRecovery(r, category)
		}
	}

	if r.ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("reading relay output", "run_id", r.id, "error", err)
	}

	timer := time.NewTimer(exitConfirmWait)
	defer timer.Stop()

	select {
	case <-r.proc.Done():
		s.markExited(r)
	case <-r.ctx.Done():
	case <-timer.C:
		s.orphanedOutput.Do(func() {
			s.logger.Warn("relay output closed but process still alive",
				"run_id", r.id,
				"pid", r.proc.PID(),
			)
		})
	}
}

// recordOutput stores a line against the session if r is still the
// current run. It reports false once the run has been replaced.
func (s *Supervisor) recordOutput(r *run, line string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess.run != r {
		return false
	}
	s.sess.lastOutputLine = line
	s.sess.lastActivity = now
	s.sess.history.Add(line)

	s.logger.Debug("relay output", "run_id", r.id, "line", line)
	return true
}

func (s *Supervisor) markExited(r *run) {
	info := r.proc.Info()

	s.mu.Lock()
	current := s.sess.run == r
	if current {
		s.sess.believedRunning = false
		s.sess.state = StateIdle
	}
	s.mu.Unlock()

	if current {
		s.logger.Warn("relay exited",
			"run_id", r.id,
			"pid", info.PID,
			"exit_code", info.ExitCode,
			"error", info.Error,
		)
	}
}

// scanOutputLines splits on \n or \r. ffmpeg redraws its progress line
// with bare carriage returns.
func scanOutputLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
