package supervisor

import (
	"context"
	"time"
)

const (
	deviceBusySettle = 3 * time.Second
	failureSettle    = 2 * time.Second
)

// triggerRecovery runs the restart policy for r in the background. Signals
// arriving while a recovery is already in flight are dropped.
func (s *Supervisor) triggerRecovery(r *run, category Category) {
	s.mu.Lock()
	if s.closed || s.recovering {
		s.mu.Unlock()
		s.logger.Debug("recovery already in progress, dropping failure", "category", category)
		return
	}
	s.recovering = true
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		defer func() {
			s.mu.Lock()
			s.recovering = false
			s.mu.Unlock()
		}()

		if err := s.recoverRun(s.ctx, r, category); err != nil {
			s.logger.Error("recovery failed", "category", category, "error", err)
		}
	}()
}

// recoverRun is OnFailure scoped to the run that reported the failure. If
// that run was stopped or replaced while the recovery waited, nothing
// happens.
func (s *Supervisor) recoverRun(ctx context.Context, r *run, category Category) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	current := s.sess.run
	s.mu.Unlock()
	if current != r {
		s.logger.Debug("relay stopped or replaced, skipping recovery", "run_id", r.id, "category", category)
		return nil
	}
	return s.onFailure(ctx, category)
}

// OnFailure applies the restart policy to a classified failure. Within the
// cooldown window at most MaxRestarts starts are allowed; once the window
// has passed since the last start the count resets. A device_busy failure
// gets an extra ALSA cleanup and a longer settle before the restart.
func (s *Supervisor) OnFailure(ctx context.Context, category Category) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.onFailure(ctx, category)
}

// onFailure expects the lifecycle lock to be held.
func (s *Supervisor) onFailure(ctx context.Context, category Category) error {
	now := s.clock.Now()

	s.mu.Lock()
	maxRestarts := s.attrs.MaxRestarts
	cooldown := s.attrs.RestartCooldown.Duration
	unset := s.sess.lastRestart.IsZero()
	elapsed := now.Sub(s.sess.lastRestart)

	if s.sess.restartCount >= maxRestarts && !unset && elapsed < cooldown {
		s.sess.budgetExhausted = true
		count := s.sess.restartCount
		s.mu.Unlock()

		s.refusals.Do(func() {
			s.logger.Warn("restart budget exhausted, not restarting",
				"category", category,
				"restart_count", count,
				"cooldown", cooldown,
			)
		})
		return ErrRestartBudgetExhausted
	}

	if unset || elapsed > cooldown {
		if s.sess.restartCount > 0 {
			s.logger.Info("restart budget reset after cooldown", "previous_count", s.sess.restartCount)
		}
		s.sess.restartCount = 0
	}

	if s.sess.restartCount >= maxRestarts {
		s.sess.believedRunning = false
		s.sess.budgetExhausted = true
		s.mu.Unlock()
		return ErrRestartBudgetExhausted
	}
	deviceID := s.sess.deviceID
	s.mu.Unlock()

	s.logger.Info("restarting relay", "category", category)

	s.stop(ctx)
	if category == DeviceBusy {
		if deviceID != "" {
			s.cleanupALSA(ctx, deviceID)
		}
		s.clock.Sleep(deviceBusySettle)
	} else {
		s.clock.Sleep(failureSettle)
	}

	return s.start(ctx)
}
