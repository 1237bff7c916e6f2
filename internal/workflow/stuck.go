package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"triad/internal/config"
	"triad/internal/logging"
	"triad/internal/monitor"
	"triad/internal/services"
	"triad/internal/store"
)

// errStuck is the cancellation cause for jobs failed by the stuck scan.
var errStuck = errors.New("job stuck")

// StuckDetector fails running jobs whose stage has not advanced within the
// stuck threshold. Jobs waiting on a compression slot are exempt.
type StuckDetector struct {
	store     *store.Store
	manager   *Manager
	logger    *slog.Logger
	threshold time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewStuckDetector creates a detector bound to a manager's in-flight jobs.
func NewStuckDetector(cfg *config.Config, st *store.Store, m *Manager, logger *slog.Logger) *StuckDetector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StuckDetector{
		store:     st,
		manager:   m,
		logger:    logging.NewComponentLogger(logger, "workflow-stuck-detector"),
		threshold: cfg.StuckThreshold(),
		interval:  time.Duration(cfg.Queue.StuckScanIntervalSeconds) * time.Second,
		now:       time.Now,
	}
}

// Run scans on every interval until ctx ends.
func (d *StuckDetector) Run(ctx context.Context) {
	if d.threshold <= 0 || d.interval <= 0 {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Scan(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("stuck job scan failed; stalled jobs may remain running",
					logging.Error(err),
					logging.String(logging.FieldEventType, "stuck_scan_failed"),
					logging.String(logging.FieldErrorHint, "check database access"),
				)
			}
		}
	}
}

// Scan fails every stuck job once and returns how many it failed.
func (d *StuckDetector) Scan(ctx context.Context) (int, error) {
	now := d.now()
	jobs, err := d.store.ListStuckJobs(ctx, now.Add(-d.threshold))
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, job := range jobs {
		idle := now.Sub(lastProgress(job)).Truncate(time.Second)
		stuckErr := services.StuckJob(job.ID, job.Stage, idle)
		desc := services.Describe(stuckErr)
		ok, err := d.store.FinishJob(ctx, job.ID, store.JobFailed, &desc)
		if err != nil {
			return failed, err
		}
		if !ok {
			continue
		}
		failed++
		job.Status = store.JobFailed
		job.Error = &desc
		aborted := d.manager.abort(job.ID, errStuck)

		logger := logging.WithContext(withJobContext(ctx, job, ""), d.logger)
		logger.Error("merge job stuck",
			logging.Alert("stuck_job"),
			logging.String(logging.FieldEventType, "stuck_job"),
			logging.String(logging.FieldErrorCode, desc.Code),
			logging.String(logging.FieldErrorHint, services.KindStuckJob.Hint()),
			logging.String("stage", job.Stage),
			logging.Duration("idle", idle),
			logging.Bool("aborted_in_flight", aborted),
		)
		d.manager.setLastError(stuckErr)
		for _, kind := range []monitor.EventKind{monitor.EventStuckJob, monitor.EventJobResult} {
			d.manager.record(monitor.Event{
				Kind:           kind,
				MergeSessionID: job.MergeSessionID,
				JobID:          job.ID,
				Stage:          job.Stage,
				Attempt:        job.Attempt,
				ErrorCode:      desc.Code,
				At:             now,
			})
		}
		_ = d.manager.deliverResult(ctx, logger, job, nil, stuckErr)
	}
	return failed, nil
}

func lastProgress(job *store.MergeJob) time.Time {
	if job.ProgressAt != nil {
		return *job.ProgressAt
	}
	if job.StartedAt != nil {
		return *job.StartedAt
	}
	return job.EnqueuedAt
}
