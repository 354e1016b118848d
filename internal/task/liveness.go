package task

import (
	"context"
	"fmt"
	"time"
)

// livenessMonitor periodically sweeps for in_progress tasks that have
// gone silent past the configured timeout and forces them to failed.
// This is the only automatic "retry-adjacent" mechanism in the
// subsystem, and it never retries, only fails: a worker process that
// died without reporting would otherwise leave its task in_progress
// forever. The guarded FailTask transition makes the sweep safe to run
// on every replica concurrently; only one replica wins the edge and
// fires the refund signal.
func (m *Manager) livenessMonitor() {
	defer m.wg.Done()

	if m.config.LivenessTimeout <= 0 {
		m.logger.Warn("liveness monitor disabled, no timeout configured")
		return
	}

	ticker := time.NewTicker(m.config.LivenessCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweepStalledTasks(m.ctx)
		}
	}
}

// sweepStalledTasks fails every in_progress task whose last write is
// older than the liveness timeout.
func (m *Manager) sweepStalledTasks(ctx context.Context) {
	stalled, err := m.store.GetStalledTasks(ctx, m.config.LivenessTimeout)
	if err != nil {
		m.logger.Error("failed to check for stalled tasks", "error", err)
		return
	}
	if len(stalled) == 0 {
		return
	}

	m.logger.Warn("found stalled tasks", "count", len(stalled))

	for _, t := range stalled {
		m.logger.Error("task lost: no progress within liveness timeout",
			"task_id", t.ID,
			"task_type", t.Type,
			"last_update", t.UpdatedAt)

		m.reporter.ReportCompletion(ctx, t.ID, fmt.Errorf(
			"task lost: no progress within %s liveness timeout", m.config.LivenessTimeout))
	}
}
