package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"triad/internal/logging"
	"triad/internal/services"
	"triad/internal/store"
)

// OnJobResult folds a finished attempt into its merge session: success
// completes it, a retryable error under the ceiling schedules the next
// attempt at high priority, anything else fails it with the error retained.
func (c *Coordinator) OnJobResult(ctx context.Context, job *store.MergeJob, artifact *store.Artifact, jobErr error) error {
	if job == nil {
		return errors.New("job result without job")
	}
	ctx = services.WithJobID(services.WithMergeSessionID(ctx, job.MergeSessionID), job.ID)
	logger := logging.WithContext(ctx, c.logger).With(logging.Int("attempt", job.Attempt))

	if jobErr == nil {
		if artifact == nil {
			jobErr = services.Wrap(services.KindProcessing, "", "job result", "job succeeded without an artifact", nil)
		} else {
			return c.complete(ctx, logger, artifact)
		}
	}

	desc := services.Describe(jobErr)
	if desc.Retryable && job.Attempt <= c.cfg.Merge.MaxRetries {
		next := c.newJob(job.MergeSessionID, job.Attempt+1, "high")
		ok, err := c.store.RetryMerge(ctx, job.MergeSessionID, &desc, next)
		if err != nil {
			return err
		}
		if !ok {
			logger.Debug("retry already scheduled or session no longer merging")
			return nil
		}
		logging.WarnWithContext(logger, "merge attempt failed; retrying", "merge_retry",
			logging.String(logging.FieldErrorCode, desc.Code),
			logging.String("failed_stage", desc.Stage),
			logging.Int("next_attempt", next.Attempt),
			logging.Int("max_retries", c.cfg.Merge.MaxRetries),
			logging.String(logging.FieldErrorHint, desc.Kind.Hint()),
			logging.String(logging.FieldImpact, "merge is delayed; uploads are reused"),
		)
		c.submit(ctx, logger, next)
		return nil
	}

	ok, err := c.store.FailMerge(ctx, job.MergeSessionID, &desc)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debug("merge session no longer merging; failure ignored")
		return nil
	}
	logging.ErrorWithContext(logger, "merge session failed", "merge_failed",
		logging.Alert("merge_failed"),
		logging.String(logging.FieldErrorCode, desc.Code),
		logging.String("failed_stage", desc.Stage),
		logging.Bool("retryable", desc.Retryable),
		logging.String(logging.FieldErrorHint, desc.Kind.Hint()),
		logging.String("error_message", desc.Message),
	)
	c.releaseInputs(ctx, job.MergeSessionID)
	if err := c.notifier.NotifyMergeFailed(ctx, job.MergeSessionID, desc); err != nil {
		logger.Debug("merge failure notification failed", logging.Error(err))
	}
	return nil
}

func (c *Coordinator) complete(ctx context.Context, logger *slog.Logger, artifact *store.Artifact) error {
	ok, err := c.store.CompleteMerge(ctx, artifact)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debug("merge session no longer merging; artifact discarded", logging.String("artifact_id", artifact.ID))
		return nil
	}
	logger.Info("merge session completed",
		logging.String(logging.FieldEventType, "merge_completed"),
		logging.String("artifact_id", artifact.ID),
		logging.Float64("total_duration", artifact.TotalDuration),
		logging.Int64("byte_size", artifact.ByteSize),
	)
	c.releaseInputs(ctx, artifact.MergeSessionID)

	title := ""
	if session, err := c.store.GetMergeSession(ctx, artifact.MergeSessionID); err == nil && session != nil {
		title = session.Title
	}
	if err := c.notifier.NotifyMergeCompleted(ctx, artifact.MergeSessionID, title, artifact.TotalDuration); err != nil {
		logger.Debug("merge completion notification failed", logging.Error(err))
	}
	return nil
}

// RecoverQueued re-submits persisted work after a restart. Jobs left running
// by an unclean shutdown restart from the first stage at high priority.
// Sessions stranded between steps (all children complete but never
// promoted, or a finished job whose outcome was never applied) are repaired.
// It returns the number of jobs submitted.
func (c *Coordinator) RecoverQueued(ctx context.Context) (int, error) {
	interrupted, err := c.store.ListJobsByStatus(ctx, store.JobRunning)
	if err != nil {
		return 0, err
	}
	wasRunning := make(map[string]bool, len(interrupted))
	for _, j := range interrupted {
		wasRunning[j.ID] = true
	}
	if _, err := c.store.RequeueInterrupted(ctx); err != nil {
		return 0, err
	}
	queued, err := c.store.ListJobsByStatus(ctx, store.JobQueued)
	if err != nil {
		return 0, err
	}
	submitted := 0
	for _, job := range queued {
		if wasRunning[job.ID] {
			job.Priority = "high"
		}
		if err := c.engine.Submit(ctx, job); err != nil {
			return submitted, fmt.Errorf("resubmit job %s: %w", job.ID, err)
		}
		submitted++
	}

	n, err := c.repairStranded(ctx)
	submitted += n
	if err != nil {
		return submitted, err
	}
	if submitted > 0 || len(interrupted) > 0 {
		c.logger.Info("recovered merge jobs",
			logging.String(logging.FieldEventType, "jobs_recovered"),
			logging.Int("submitted", submitted),
			logging.Int("interrupted", len(interrupted)),
		)
	}
	return submitted, nil
}

func (c *Coordinator) repairStranded(ctx context.Context) (int, error) {
	submitted := 0
	uploading, err := c.store.ListMergeSessions(ctx, 0, store.MergeUploading)
	if err != nil {
		return 0, err
	}
	for _, m := range uploading {
		ok, err := c.promote(services.WithMergeSessionID(ctx, m.ID), m.ID)
		if err != nil {
			return submitted, err
		}
		if ok {
			submitted++
		}
	}

	merging, err := c.store.ListMergeSessions(ctx, 0, store.MergeMerging)
	if err != nil {
		return submitted, err
	}
	for _, m := range merging {
		job, err := c.store.LatestJobForMerge(ctx, m.ID)
		if err != nil {
			return submitted, err
		}
		if job == nil || job.Status == store.JobQueued || job.Status == store.JobRunning {
			continue
		}
		var jobErr error
		switch {
		case job.Status == store.JobFailed && job.Error != nil:
			jobErr = services.Wrap(job.Error.Kind, job.Error.Stage, "recover", job.Error.Message, nil)
		default:
			// The artifact record was never committed; publishing again is the
			// only way to expose it.
			jobErr = services.Wrap(services.KindProcessing, "", "recover", "job outcome lost during shutdown", nil)
		}
		if err := c.OnJobResult(ctx, job, nil, jobErr); err != nil {
			return submitted, err
		}
		if latest, _ := c.store.LatestJobForMerge(ctx, m.ID); latest != nil && latest.ID != job.ID {
			submitted++
		}
	}
	return submitted, nil
}
