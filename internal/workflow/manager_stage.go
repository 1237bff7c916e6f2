package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"triad/internal/logging"
	"triad/internal/media"
	"triad/internal/monitor"
	"triad/internal/queue"
	"triad/internal/services"
	"triad/internal/stage"
	"triad/internal/store"
)

// progressInterval throttles stage progress writes.
const progressInterval = time.Second

func (m *Manager) processJob(ctx context.Context, workerLogger *slog.Logger, entry queue.Entry) error {
	job, err := m.store.GetJob(ctx, entry.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", entry.JobID, err)
	}
	if job == nil || job.Status != store.JobQueued {
		return nil
	}
	session, err := m.store.GetMergeSession(ctx, job.MergeSessionID)
	if err != nil {
		return fmt.Errorf("load merge session %s: %w", job.MergeSessionID, err)
	}
	if session == nil {
		return services.NotFound("merge session", job.MergeSessionID)
	}
	inputs, err := m.store.ListUploadsForMerge(ctx, job.MergeSessionID)
	if err != nil {
		return fmt.Errorf("load merge inputs: %w", err)
	}

	workDir := filepath.Join(m.cfg.JobStagingDir(), job.ID)
	claimed, err := m.store.MarkJobRunning(ctx, job.ID, workDir)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	job.Status = store.JobRunning
	job.WorkDir = workDir

	jobCtx, cancel := context.WithCancelCause(withJobContext(ctx, job, uuid.NewString()))
	defer cancel(nil)
	m.track(job.ID, cancel)
	defer m.untrack(job.ID)

	logger := m.jobLogger(jobCtx, workerLogger, job)
	m.setLastJob(job)

	profile := media.ProfileFromConfig(m.cfg)
	if job.Container != "" {
		profile.Container = job.Container
	}
	run := &stage.Run{
		Job:     job,
		Session: session,
		Inputs:  inputs,
		WorkDir: workDir,
		Profile: profile,
	}
	artifact, runErr := m.runStages(jobCtx, logger, run)

	switch {
	case ctx.Err() != nil:
		logger.Info("job interrupted by shutdown",
			logging.String(logging.FieldEventType, "job_interrupted"),
			logging.String("stage", run.Job.Stage),
		)
		return ctx.Err()
	case errors.Is(context.Cause(jobCtx), errStuck):
		// The stuck scan already failed the job and reported it.
		return nil
	}
	return m.finishJob(ctx, logger, job, artifact, runErr)
}

// runStages executes every stage in order, then cleanup. It returns the
// published artifact or the first stage error.
func (m *Manager) runStages(ctx context.Context, logger *slog.Logger, run *stage.Run) (artifact *store.Artifact, err error) {
	m.mu.RLock()
	stages := m.stages
	cleanup := m.cleanup
	m.mu.RUnlock()

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.StageTimeout())
		defer cancel()
		if err == nil {
			if _, advErr := m.store.AdvanceStage(cleanupCtx, run.Job.ID, cleanup.name, cleanup.index); advErr != nil {
				logger.Warn("failed to record cleanup stage", logging.Error(advErr))
			}
		}
		if cleanErr := cleanup.handler.Execute(cleanupCtx, run); cleanErr != nil {
			logging.WarnWithContext(logger, "job cleanup failed", "cleanup_failed",
				logging.String("workdir", run.WorkDir),
				logging.String(logging.FieldErrorHint, "remove the job staging directory manually"),
				logging.String(logging.FieldImpact, "disk space is not reclaimed"),
				logging.Error(cleanErr),
			)
		}
	}()

	for _, stg := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, advErr := m.store.AdvanceStage(ctx, run.Job.ID, stg.name, stg.index)
		if advErr != nil {
			return nil, advErr
		}
		if !ok {
			return nil, services.Wrap(services.KindProcessing, stg.name, "advance", "job no longer running", nil)
		}
		run.Job.Stage = stg.name
		run.Job.StageIndex = stg.index
		if err := m.executeStage(ctx, logger, stg, run); err != nil {
			return nil, err
		}
	}
	if run.Artifact == nil {
		return nil, services.Wrap(services.KindProcessing, stage.StorageUpload, "publish", "no artifact produced", nil)
	}
	return run.Artifact, nil
}

func (m *Manager) executeStage(ctx context.Context, logger *slog.Logger, stg pipelineStage, run *stage.Run) error {
	gateCtx := services.WithStage(ctx, stg.name)
	stageLogger := logging.WithContext(gateCtx, logger)
	run.WaitingForSlot = func(waiting bool) {
		if err := m.store.SetWaitingForSlot(gateCtx, run.Job.ID, waiting); err != nil && gateCtx.Err() == nil {
			stageLogger.Warn("failed to persist governor wait state", logging.Error(err))
		}
	}
	if gated, ok := stg.handler.(stage.Gated); ok {
		release, err := gated.Admit(gateCtx, run)
		if err != nil {
			return err
		}
		defer release()
	}

	// The time box starts once the stage holds whatever it waited for.
	timeout := m.cfg.StageTimeout()
	stageCtx, cancel := context.WithTimeout(gateCtx, timeout)
	defer cancel()

	run.Progress = m.progressReporter(stageCtx, stageLogger, run.Job.ID, stg.index)

	started := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Duration("time_box", timeout),
	)
	m.record(monitor.Event{
		Kind:           monitor.EventStageStart,
		MergeSessionID: run.Job.MergeSessionID,
		JobID:          run.Job.ID,
		Stage:          stg.name,
		Attempt:        run.Job.Attempt,
		At:             started,
	})

	err := stg.handler.Execute(stageCtx, run)
	if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		err = services.Timeout(stg.name, timeout, err)
	}
	elapsed := time.Since(started)

	ev := monitor.Event{
		Kind:           monitor.EventStageEnd,
		MergeSessionID: run.Job.MergeSessionID,
		JobID:          run.Job.ID,
		Stage:          stg.name,
		Attempt:        run.Job.Attempt,
		Duration:       elapsed,
		At:             time.Now(),
	}
	if err != nil {
		desc := services.Describe(err)
		ev.ErrorCode = desc.Code
		ev.Retryable = desc.Retryable
	}
	m.record(ev)

	if err != nil {
		if ctx.Err() != nil {
			stageLogger.Debug("stage interrupted", logging.Error(context.Cause(ctx)))
			return err
		}
		m.logStageFailure(stageLogger, stg.name, err, elapsed)
		return err
	}
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", elapsed),
	)
	return nil
}

// progressReporter persists stage progress at most once per interval, plus
// the final 100%.
func (m *Manager) progressReporter(ctx context.Context, logger *slog.Logger, jobID string, index int) media.ProgressFunc {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(percent float64) {
		mu.Lock()
		now := time.Now()
		if percent < 100 && now.Sub(last) < progressInterval {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()
		if err := m.store.UpdateStageProgress(ctx, jobID, index, percent); err != nil && ctx.Err() == nil {
			logger.Debug("stage progress update failed", logging.Error(err))
		}
	}
}
