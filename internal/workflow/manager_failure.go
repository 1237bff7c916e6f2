package workflow

import (
	"context"
	"log/slog"
	"time"

	"triad/internal/logging"
	"triad/internal/monitor"
	"triad/internal/services"
	"triad/internal/store"
)

func (m *Manager) logStageFailure(logger *slog.Logger, stageName string, stageErr error, elapsed time.Duration) {
	desc := services.Describe(stageErr)
	attrs := []logging.Attr{
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorKind, string(desc.Kind)),
		logging.String(logging.FieldErrorCode, desc.Code),
		logging.String(logging.FieldErrorHint, desc.Kind.Hint()),
		logging.Bool("retryable", desc.Retryable),
		logging.String("error_message", desc.Message),
		logging.Duration("stage_duration", elapsed),
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "stage_failure"),
	}
	if desc.Stage == "" {
		attrs = append(attrs, logging.String("failed_stage", stageName))
	}
	logger.Error("stage failed", logging.Args(attrs...)...)
}

// finishJob persists the attempt outcome and hands it to the result handler.
func (m *Manager) finishJob(ctx context.Context, logger *slog.Logger, job *store.MergeJob, artifact *store.Artifact, runErr error) error {
	status := store.JobSucceeded
	var desc *services.Descriptor
	if runErr != nil {
		status = store.JobFailed
		d := services.Describe(runErr)
		desc = &d
	}
	ok, err := m.store.FinishJob(ctx, job.ID, status, desc)
	if err != nil {
		logger.Error("failed to persist job result", logging.Error(err))
		return err
	}
	if !ok {
		logger.Debug("job already finished elsewhere")
		return nil
	}
	job.Status = status
	job.Error = desc
	m.setLastJob(job)

	ev := monitor.Event{
		Kind:           monitor.EventJobResult,
		MergeSessionID: job.MergeSessionID,
		JobID:          job.ID,
		Stage:          job.Stage,
		Attempt:        job.Attempt,
		At:             time.Now(),
	}
	if desc != nil {
		ev.ErrorCode = desc.Code
		ev.Retryable = desc.Retryable
		m.setLastError(runErr)
	}
	m.record(ev)

	if desc == nil {
		logger.Info("merge job succeeded",
			logging.String(logging.FieldEventType, "job_succeeded"),
			logging.String("artifact_id", artifact.ID),
		)
	}
	return m.deliverResult(ctx, logger, job, artifact, runErr)
}

func (m *Manager) deliverResult(ctx context.Context, logger *slog.Logger, job *store.MergeJob, artifact *store.Artifact, runErr error) error {
	handler := m.resultHandler()
	if handler == nil {
		return nil
	}
	if err := handler.OnJobResult(ctx, job, artifact, runErr); err != nil {
		logging.ErrorWithContext(logger, "failed to apply job result", "job_result_failed",
			logging.String(logging.FieldErrorHint, "merge session state may need manual repair"),
			logging.Error(err),
		)
		return err
	}
	return nil
}
