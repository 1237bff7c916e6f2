package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"triad/internal/services"
)

const mergeColumns = "id, owner_id, title, status, job_queued, attempts, artifact_id, error_json, inputs_released, created_at, updated_at, finished_at"

func scanMerge(row scanner) (*MergeSession, error) {
	var (
		m           MergeSession
		title       sql.NullString
		status      string
		jobQueued   int
		artifactID  sql.NullString
		errorJSON   sql.NullString
		released    int
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
		finishedRaw sql.NullString
	)
	if err := row.Scan(
		&m.ID,
		&m.OwnerID,
		&title,
		&status,
		&jobQueued,
		&m.Attempts,
		&artifactID,
		&errorJSON,
		&released,
		&createdRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	m.Title = title.String
	m.Status = MergeStatus(status)
	m.JobQueued = jobQueued != 0
	m.ArtifactID = artifactID.String
	m.Error = decodeDescriptor(errorJSON)
	m.InputsReleased = released != 0
	m.CreatedAt = parseTime(createdRaw)
	m.UpdatedAt = parseTime(updatedRaw)
	m.FinishedAt = parseTimePtr(finishedRaw)
	return &m, nil
}

// CreateMergeSession inserts a merge session and its child uploads in one transaction.
func (s *Store) CreateMergeSession(ctx context.Context, m *MergeSession, uploads []*UploadSession) error {
	if m == nil {
		return errors.New("merge session is nil")
	}
	ctx = ensureContext(ctx)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO merge_sessions (`+mergeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID,
			m.OwnerID,
			nullableString(m.Title),
			string(m.Status),
			boolToInt(m.JobQueued),
			m.Attempts,
			nil,
			nil,
			0,
			formatTime(m.CreatedAt),
			formatTime(m.UpdatedAt),
			nil,
		); err != nil {
			return err
		}
		for _, u := range uploads {
			u.MergeSessionID = m.ID
			if err := insertUpload(ctx, tx, u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create merge session: %w", err)
	}
	return nil
}

// GetMergeSession fetches a merge session by id.
func (s *Store) GetMergeSession(ctx context.Context, id string) (*MergeSession, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+mergeColumns+` FROM merge_sessions WHERE id = ?`, id)
	m, err := scanMerge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get merge session: %w", err)
	}
	return m, nil
}

// ListMergeSessions returns the most recent sessions, optionally filtered by status.
func (s *Store) ListMergeSessions(ctx context.Context, limit int, statuses ...MergeStatus) ([]*MergeSession, error) {
	query := `SELECT ` + mergeColumns + ` FROM merge_sessions`
	args := statusArgs(statuses)
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryMerges(ctx, query, args...)
}

// ListStaleUploading returns sessions still collecting uploads that were created before cutoff.
func (s *Store) ListStaleUploading(ctx context.Context, cutoff time.Time) ([]*MergeSession, error) {
	return s.queryMerges(ctx,
		`SELECT `+mergeColumns+` FROM merge_sessions WHERE status = ? AND created_at < ? ORDER BY created_at`,
		string(MergeUploading), formatTime(cutoff),
	)
}

func (s *Store) queryMerges(ctx context.Context, query string, args ...any) ([]*MergeSession, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query merge sessions: %w", err)
	}
	defer rows.Close()
	var out []*MergeSession
	for rows.Next() {
		m, err := scanMerge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merge session: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMergesByStatus returns merge session totals per status.
func (s *Store) CountMergesByStatus(ctx context.Context) (map[MergeStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM merge_sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count merge sessions: %w", err)
	}
	defer rows.Close()
	counts := make(map[MergeStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan merge count: %w", err)
		}
		counts[MergeStatus(status)] = count
	}
	return counts, rows.Err()
}

// TransitionMerge moves a session from one status to another. ok is false
// when the session was not in from.
func (s *Store) TransitionMerge(ctx context.Context, id string, from, to MergeStatus) (bool, error) {
	ok, err := s.execAffected(ctx,
		`UPDATE merge_sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), nowString(), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition merge session: %w", err)
	}
	return ok, nil
}

// StartMerging flips an uploading session to merging, sets the queued flag
// and inserts its first job, all at once. Only the first caller wins; later
// callers get ok=false and nothing is written.
func (s *Store) StartMerging(ctx context.Context, mergeSessionID string, job *MergeJob) (ok bool, err error) {
	ctx = ensureContext(ctx)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE merge_sessions SET status = ?, job_queued = 1, attempts = ?, updated_at = ?
             WHERE id = ? AND status = ? AND job_queued = 0`,
			string(MergeMerging), job.Attempt, nowString(), mergeSessionID, string(MergeUploading),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if ok = n > 0; !ok {
			return nil
		}
		return insertJob(ctx, tx, job)
	})
	if err != nil {
		return false, fmt.Errorf("start merging: %w", err)
	}
	return ok, nil
}

// RetryMerge records the failed attempt's error and inserts the next job.
// The attempt counter acts as the guard: a given attempt is scheduled once.
func (s *Store) RetryMerge(ctx context.Context, mergeSessionID string, lastErr *services.Descriptor, job *MergeJob) (ok bool, err error) {
	ctx = ensureContext(ctx)
	encoded, err := encodeDescriptor(lastErr)
	if err != nil {
		return false, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE merge_sessions SET status = ?, attempts = ?, error_json = ?, updated_at = ?
             WHERE id = ? AND status IN (?, ?) AND attempts = ?`,
			string(MergeMerging), job.Attempt, encoded, nowString(), mergeSessionID,
			string(MergeMerging), string(MergeFailed), job.Attempt-1,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if ok = n > 0; !ok {
			return nil
		}
		return insertJob(ctx, tx, job)
	})
	if err != nil {
		return false, fmt.Errorf("retry merge: %w", err)
	}
	return ok, nil
}

// FailMerge marks a merging session failed with its final error.
func (s *Store) FailMerge(ctx context.Context, mergeSessionID string, desc *services.Descriptor) (bool, error) {
	encoded, err := encodeDescriptor(desc)
	if err != nil {
		return false, err
	}
	now := nowString()
	ok, err := s.execAffected(ctx,
		`UPDATE merge_sessions SET status = ?, error_json = ?, updated_at = ?, finished_at = ?
         WHERE id = ? AND status = ?`,
		string(MergeFailed), encoded, now, now, mergeSessionID, string(MergeMerging),
	)
	if err != nil {
		return false, fmt.Errorf("fail merge: %w", err)
	}
	return ok, nil
}

// CompleteMerge stores the artifact and marks the session completed in one
// transaction so an artifact is never visible for an unfinished session.
func (s *Store) CompleteMerge(ctx context.Context, artifact *Artifact) (ok bool, err error) {
	if artifact == nil {
		return false, errors.New("artifact is nil")
	}
	ctx = ensureContext(ctx)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := nowString()
		res, err := tx.ExecContext(ctx,
			`UPDATE merge_sessions SET status = ?, artifact_id = ?, error_json = NULL, updated_at = ?, finished_at = ?
             WHERE id = ? AND status = ?`,
			string(MergeCompleted), artifact.ID, now, now, artifact.MergeSessionID, string(MergeMerging),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if ok = n > 0; !ok {
			return nil
		}
		return insertArtifact(ctx, tx, artifact)
	})
	if err != nil {
		return false, fmt.Errorf("complete merge: %w", err)
	}
	return ok, nil
}

// MarkInputsReleased records that the staged statement files were removed.
func (s *Store) MarkInputsReleased(ctx context.Context, mergeSessionID string) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE merge_sessions SET inputs_released = 1, updated_at = ? WHERE id = ?`, nowString(), mergeSessionID); err != nil {
		return fmt.Errorf("mark inputs released: %w", err)
	}
	return nil
}

// AbandonMerge fails a session that is still collecting uploads, for example
// when one of its children was cancelled or expired. Sessions already merging
// are left alone.
func (s *Store) AbandonMerge(ctx context.Context, mergeSessionID string, desc *services.Descriptor) (bool, error) {
	encoded, err := encodeDescriptor(desc)
	if err != nil {
		return false, err
	}
	now := nowString()
	ok, err := s.execAffected(ctx,
		`UPDATE merge_sessions SET status = ?, error_json = ?, updated_at = ?, finished_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		string(MergeFailed), encoded, now, now, mergeSessionID, string(MergeInitiated), string(MergeUploading),
	)
	if err != nil {
		return false, fmt.Errorf("abandon merge: %w", err)
	}
	return ok, nil
}
