package workflow

import (
	"context"
	"errors"

	"triad/internal/logging"
	"triad/internal/queue"
)

// Start launches the worker pool and the stuck-job scanner.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.stages) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	workers := max(1, m.cfg.Queue.Workers)

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers + 1)
	m.mu.Unlock()

	for i := range workers {
		go m.runWorker(runCtx, i)
	}
	go func() {
		defer m.wg.Done()
		m.stuck.Run(runCtx)
	}()

	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_start"),
		logging.Int("workers", workers),
		logging.Int("compression_slots", m.governor.Capacity()),
	)
	return nil
}

// Stop cancels in-flight work and waits for workers to return. Interrupted
// jobs stay running in the store and are re-queued on the next start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", id))

	for {
		entry, err := m.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			logger.Error("failed to dequeue job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check queue state"),
			)
			continue
		}
		if err := m.processJob(ctx, logger, entry); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
		}
	}
}
