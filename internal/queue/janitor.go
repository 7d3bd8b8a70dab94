package queue

import (
	"time"
)

// startJanitor periodically removes finished jobs older than CleanupMaxAge.
// A non-positive CleanupInterval disables it.
func (m *Manager) startJanitor() {
	if m.config.CleanupInterval <= 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.CleanupOldJobs(m.ctx, m.config.CleanupMaxAge); err != nil {
					m.logger.Error("Janitor cleanup failed", "error", err)
				}
			}
		}
	}()
}
