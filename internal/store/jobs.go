package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"triad/internal/services"
)

const jobColumns = "id, merge_session_id, attempt, priority, status, stage, stage_index, stage_progress, waiting_for_slot, video_codec, quality, container, workdir, error_json, enqueued_at, started_at, stage_started_at, progress_at, finished_at"

func scanJob(row scanner) (*MergeJob, error) {
	var (
		j           MergeJob
		status      string
		stage       sql.NullString
		waiting     int
		workdir     sql.NullString
		errorJSON   sql.NullString
		enqueuedRaw sql.NullString
		startedRaw  sql.NullString
		stageRaw    sql.NullString
		progressRaw sql.NullString
		finishedRaw sql.NullString
	)
	if err := row.Scan(
		&j.ID,
		&j.MergeSessionID,
		&j.Attempt,
		&j.Priority,
		&status,
		&stage,
		&j.StageIndex,
		&j.StageProgress,
		&waiting,
		&j.VideoCodec,
		&j.Quality,
		&j.Container,
		&workdir,
		&errorJSON,
		&enqueuedRaw,
		&startedRaw,
		&stageRaw,
		&progressRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	j.Stage = stage.String
	j.WaitingForSlot = waiting != 0
	j.WorkDir = workdir.String
	j.Error = decodeDescriptor(errorJSON)
	j.EnqueuedAt = parseTime(enqueuedRaw)
	j.StartedAt = parseTimePtr(startedRaw)
	j.StageStartedAt = parseTimePtr(stageRaw)
	j.ProgressAt = parseTimePtr(progressRaw)
	j.FinishedAt = parseTimePtr(finishedRaw)
	return &j, nil
}

func insertJob(ctx context.Context, db execer, j *MergeJob) error {
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now().UTC()
	}
	if j.Status == "" {
		j.Status = JobQueued
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO merge_jobs (id, merge_session_id, attempt, priority, status, stage_index, video_codec, quality, container, enqueued_at)
         VALUES (?, ?, ?, ?, ?, -1, ?, ?, ?, ?)`,
		j.ID, j.MergeSessionID, j.Attempt, j.Priority, string(j.Status),
		j.VideoCodec, j.Quality, j.Container, formatTime(j.EnqueuedAt),
	)
	j.StageIndex = -1
	return err
}

// GetJob fetches a merge job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*MergeJob, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM merge_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// LatestJobForMerge returns the highest attempt for a merge session.
func (s *Store) LatestJobForMerge(ctx context.Context, mergeSessionID string) (*MergeJob, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM merge_jobs WHERE merge_session_id = ? ORDER BY attempt DESC LIMIT 1`, mergeSessionID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest job: %w", err)
	}
	return j, nil
}

// ListJobsForMerge returns every attempt for a merge session in attempt order.
func (s *Store) ListJobsForMerge(ctx context.Context, mergeSessionID string) ([]*MergeJob, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM merge_jobs WHERE merge_session_id = ? ORDER BY attempt`, mergeSessionID)
}

// ListJobsByStatus returns jobs in any of the statuses, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, statuses ...JobStatus) ([]*MergeJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM merge_jobs WHERE status IN (`+makePlaceholders(len(statuses))+`) ORDER BY enqueued_at`,
		statusArgs(statuses)...)
}

// ListStuckJobs returns running jobs that have not advanced since cutoff.
// Jobs parked waiting for a compression slot are excluded.
func (s *Store) ListStuckJobs(ctx context.Context, cutoff time.Time) ([]*MergeJob, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM merge_jobs
         WHERE status = ? AND waiting_for_slot = 0 AND COALESCE(progress_at, started_at) < ?
         ORDER BY started_at`,
		string(JobRunning), formatTime(cutoff))
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*MergeJob, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	var out []*MergeJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CountJobsByStatus returns job totals per status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM merge_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	counts := make(map[JobStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[JobStatus(status)] = count
	}
	return counts, rows.Err()
}

// MarkJobRunning claims a queued job for execution.
func (s *Store) MarkJobRunning(ctx context.Context, id, workdir string) (bool, error) {
	now := nowString()
	ok, err := s.execAffected(ctx,
		`UPDATE merge_jobs SET status = ?, workdir = ?, started_at = ?, progress_at = ? WHERE id = ? AND status = ?`,
		string(JobRunning), nullableString(workdir), now, now, id, string(JobQueued),
	)
	if err != nil {
		return false, fmt.Errorf("mark job running: %w", err)
	}
	return ok, nil
}

// AdvanceStage moves a running job to a later stage. Stages never move
// backwards within an attempt; ok is false if index is not ahead.
func (s *Store) AdvanceStage(ctx context.Context, id, stage string, index int) (bool, error) {
	now := nowString()
	ok, err := s.execAffected(ctx,
		`UPDATE merge_jobs SET stage = ?, stage_index = ?, stage_progress = 0, waiting_for_slot = 0,
            stage_started_at = ?, progress_at = ?
         WHERE id = ? AND status = ? AND stage_index < ?`,
		stage, index, now, now, id, string(JobRunning), index,
	)
	if err != nil {
		return false, fmt.Errorf("advance stage: %w", err)
	}
	return ok, nil
}

// UpdateStageProgress records progress for the job's current stage. Progress
// only moves forward.
func (s *Store) UpdateStageProgress(ctx context.Context, id string, index int, percent float64) error {
	percent = min(max(percent, 0), 100)
	if _, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET stage_progress = ?, progress_at = ?
         WHERE id = ? AND status = ? AND stage_index = ? AND stage_progress <= ?`,
		percent, nowString(), id, string(JobRunning), index, percent,
	); err != nil {
		return fmt.Errorf("update stage progress: %w", err)
	}
	return nil
}

// SetWaitingForSlot flags a job parked on the compression governor. Clearing
// the flag restarts the stall clock.
func (s *Store) SetWaitingForSlot(ctx context.Context, id string, waiting bool) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET waiting_for_slot = ?, progress_at = ? WHERE id = ? AND status = ?`,
		boolToInt(waiting), nowString(), id, string(JobRunning),
	); err != nil {
		return fmt.Errorf("set waiting for slot: %w", err)
	}
	return nil
}

// FinishJob moves a running job to succeeded or failed. ok is false when the
// job was no longer running (for example, already failed by the stuck scan).
func (s *Store) FinishJob(ctx context.Context, id string, status JobStatus, desc *services.Descriptor) (bool, error) {
	if status != JobSucceeded && status != JobFailed {
		return false, fmt.Errorf("finish job: invalid status %q", status)
	}
	encoded, err := encodeDescriptor(desc)
	if err != nil {
		return false, err
	}
	ok, err := s.execAffected(ctx,
		`UPDATE merge_jobs SET status = ?, error_json = ?, waiting_for_slot = 0, finished_at = ? WHERE id = ? AND status = ?`,
		string(status), encoded, nowString(), id, string(JobRunning),
	)
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	return ok, nil
}

// RequeueInterrupted resets jobs left running by an unclean shutdown so they
// start over from the first stage.
func (s *Store) RequeueInterrupted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET status = ?, stage = NULL, stage_index = -1, stage_progress = 0, waiting_for_slot = 0,
            started_at = NULL, stage_started_at = NULL, progress_at = NULL
         WHERE status = ?`,
		string(JobQueued), string(JobRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}
