package supervisor

import (
	"context"
	"time"
)

// Reconcile brings BelievedRunning in line with reality and returns it.
// A live handle wins; otherwise the OS process table is searched for any
// relay pulling from the source. A query error counts as not found.
func (s *Supervisor) Reconcile(ctx context.Context) bool {
	s.mu.Lock()
	r := s.sess.run
	sourceURL := s.sess.sourceURL
	if r != nil && !r.proc.Exited() {
		s.sess.believedRunning = true
		s.sess.approximate = false
		s.sess.observedPID = 0
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	var pids []int
	if sourceURL != "" {
		found, err := s.table.Find(ctx, RelayPattern(sourceURL))
		if err != nil {
			s.reconcileFailure.Do(func() {
				s.logger.Warn("process table query failed", "error", err)
			})
		}
		pids = found
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess.run != r {
		// A start or stop raced with the query; its view is newer.
		return s.sess.believedRunning
	}
	if r != nil && s.sess.state == StateRunning {
		s.sess.state = StateIdle
	}

	if len(pids) > 0 {
		if !s.sess.believedRunning || !s.sess.approximate {
			s.logger.Info("relay found in process table without a live handle", "pid", pids[0])
		}
		s.sess.believedRunning = true
		s.sess.approximate = true
		s.sess.observedPID = pids[0]
		return true
	}

	s.sess.believedRunning = false
	s.sess.approximate = false
	s.sess.observedPID = 0
	return false
}

// reconcileLoop reconciles every interval for the lifetime of r, and ends
// early once the relay is found to be gone.
func (s *Supervisor) reconcileLoop(r *run, interval time.Duration) {
	defer r.wg.Done()

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if !s.Reconcile(r.ctx) {
				s.logger.Info("relay no longer running, periodic check ended", "run_id", r.id)
				return
			}
		}
	}
}
