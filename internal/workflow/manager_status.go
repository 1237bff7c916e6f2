package workflow

import (
	"context"

	"triad/internal/logging"
	"triad/internal/stage"
	"triad/internal/store"
)

// StatusSummary represents lightweight engine diagnostics.
type StatusSummary struct {
	Running          bool                    `json:"running"`
	Workers          int                     `json:"workers"`
	ActiveJobs       int                     `json:"active_jobs"`
	LastError        string                  `json:"last_error,omitempty"`
	LastJob          *store.MergeJob         `json:"last_job,omitempty"`
	QueueDepths      map[string]int          `json:"queue_depths"`
	JobStats         map[store.JobStatus]int `json:"job_stats"`
	CompressionInUse int                     `json:"compression_in_use"`
	CompressionWait  int                     `json:"compression_waiting"`
	CompressionSlots int                     `json:"compression_slots"`
	StageHealth      map[string]stage.Health `json:"stage_health"`
}

// Status returns the latest engine information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastJob := m.lastJob
	stages := append([]pipelineStage(nil), m.stages...)
	if m.cleanup.handler != nil {
		stages = append(stages, m.cleanup)
	}
	m.mu.RUnlock()

	stats, err := m.store.CountJobsByStatus(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	}

	health := make(map[string]stage.Health, len(stages))
	for _, stg := range stages {
		health[stg.name] = stg.handler.HealthCheck(ctx)
	}

	summary := StatusSummary{
		Running:          running,
		Workers:          max(1, m.cfg.Queue.Workers),
		ActiveJobs:       m.ActiveJobs(),
		QueueDepths:      m.queue.Depths(),
		JobStats:         stats,
		CompressionInUse: m.governor.InUse(),
		CompressionWait:  m.governor.Waiting(),
		CompressionSlots: m.governor.Capacity(),
		StageHealth:      health,
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastJob != nil {
		copy := *lastJob
		summary.LastJob = &copy
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *store.MergeJob) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}
