package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const uploadColumns = "id, owner_id, merge_session_id, statement_index, filename, content_type, total_size, declared_duration, chunk_size, total_chunks, declared_hash, assembled_hash, status, staging_path, error_message, created_at, updated_at, expires_at, completed_at"

func scanUpload(row scanner) (*UploadSession, error) {
	var (
		u              UploadSession
		mergeSessionID sql.NullString
		statementIndex sql.NullInt64
		declaredHash   sql.NullString
		assembledHash  sql.NullString
		status         string
		stagingPath    sql.NullString
		errorMessage   sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
		expiresRaw     sql.NullString
		completedRaw   sql.NullString
	)
	if err := row.Scan(
		&u.ID,
		&u.OwnerID,
		&mergeSessionID,
		&statementIndex,
		&u.Filename,
		&u.ContentType,
		&u.TotalSize,
		&u.DeclaredDuration,
		&u.ChunkSize,
		&u.TotalChunks,
		&declaredHash,
		&assembledHash,
		&status,
		&stagingPath,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&expiresRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	u.MergeSessionID = mergeSessionID.String
	u.StatementIndex = -1
	if statementIndex.Valid {
		u.StatementIndex = int(statementIndex.Int64)
	}
	u.DeclaredHash = declaredHash.String
	u.AssembledHash = assembledHash.String
	u.Status = UploadStatus(status)
	u.StagingPath = stagingPath.String
	u.ErrorMessage = errorMessage.String
	u.CreatedAt = parseTime(createdRaw)
	u.UpdatedAt = parseTime(updatedRaw)
	u.ExpiresAt = parseTime(expiresRaw)
	u.CompletedAt = parseTimePtr(completedRaw)
	return &u, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUpload(ctx context.Context, db execer, u *UploadSession) error {
	var statementIndex any
	if u.StatementIndex >= 0 {
		statementIndex = u.StatementIndex
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO upload_sessions (`+uploadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.OwnerID,
		nullableString(u.MergeSessionID),
		statementIndex,
		u.Filename,
		u.ContentType,
		u.TotalSize,
		u.DeclaredDuration,
		u.ChunkSize,
		u.TotalChunks,
		nullableString(u.DeclaredHash),
		nullableString(u.AssembledHash),
		string(u.Status),
		nullableString(u.StagingPath),
		nullableString(u.ErrorMessage),
		formatTime(u.CreatedAt),
		formatTime(u.UpdatedAt),
		formatTime(u.ExpiresAt),
		nullableTime(u.CompletedAt),
	)
	return err
}

// CreateUploadSession inserts a standalone upload session.
func (s *Store) CreateUploadSession(ctx context.Context, u *UploadSession) error {
	if u == nil {
		return errors.New("upload session is nil")
	}
	ctx = ensureContext(ctx)
	if err := retryOnBusy(ctx, func() error { return insertUpload(ctx, s.db, u) }); err != nil {
		return fmt.Errorf("insert upload session: %w", err)
	}
	return nil
}

// GetUploadSession fetches an upload session by id.
func (s *Store) GetUploadSession(ctx context.Context, id string) (*UploadSession, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+uploadColumns+` FROM upload_sessions WHERE id = ?`, id)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get upload session: %w", err)
	}
	return u, nil
}

// ListUploadsForMerge returns the children of a merge session ordered by statement index.
func (s *Store) ListUploadsForMerge(ctx context.Context, mergeSessionID string) ([]*UploadSession, error) {
	return s.queryUploads(ctx,
		`SELECT `+uploadColumns+` FROM upload_sessions WHERE merge_session_id = ? ORDER BY statement_index`,
		mergeSessionID,
	)
}

// ListExpiredUploads returns open sessions whose expiry has passed.
func (s *Store) ListExpiredUploads(ctx context.Context, now time.Time) ([]*UploadSession, error) {
	return s.queryUploads(ctx,
		`SELECT `+uploadColumns+` FROM upload_sessions WHERE status IN (?, ?) AND expires_at < ? ORDER BY expires_at`,
		string(UploadInitiated), string(UploadInProgress), formatTime(now),
	)
}

// CountUploadsByStatus returns upload totals per status.
func (s *Store) CountUploadsByStatus(ctx context.Context) (map[UploadStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM upload_sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count uploads: %w", err)
	}
	defer rows.Close()
	counts := make(map[UploadStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan upload count: %w", err)
		}
		counts[UploadStatus(status)] = count
	}
	return counts, rows.Err()
}

func (s *Store) queryUploads(ctx context.Context, query string, args ...any) ([]*UploadSession, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()
	var out []*UploadSession
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// RegisterChunk records a received chunk and moves the session from initiated
// to in_progress. Re-registering an index replaces its size and hash. The
// session must still be open; ok is false otherwise.
func (s *Store) RegisterChunk(ctx context.Context, sessionID string, chunk Chunk) (ok bool, err error) {
	ctx = ensureContext(ctx)
	received := chunk.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE upload_sessions SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
			string(UploadInProgress), formatTime(received), sessionID,
			string(UploadInitiated), string(UploadInProgress),
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
		_, err = tx.ExecContext(ctx,
			`INSERT INTO upload_chunks (session_id, chunk_index, size, chunk_hash, received_at)
             VALUES (?, ?, ?, ?, ?)
             ON CONFLICT(session_id, chunk_index) DO UPDATE SET
                size = excluded.size, chunk_hash = excluded.chunk_hash, received_at = excluded.received_at`,
			sessionID, chunk.Index, chunk.Size, nullableString(chunk.Hash), formatTime(received),
		)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("register chunk: %w", err)
	}
	return ok, nil
}

// ReceivedChunks returns the registered chunk indices in ascending order.
func (s *Store) ReceivedChunks(ctx context.Context, sessionID string) ([]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT chunk_index FROM upload_chunks WHERE session_id = ? ORDER BY chunk_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	var indices []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		indices = append(indices, idx)
	}
	return indices, rows.Err()
}

// ListChunks returns full chunk registrations in ascending index order.
func (s *Store) ListChunks(ctx context.Context, sessionID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT chunk_index, size, chunk_hash, received_at FROM upload_chunks WHERE session_id = ? ORDER BY chunk_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	var chunks []Chunk
	for rows.Next() {
		var (
			c        Chunk
			hash     sql.NullString
			received sql.NullString
		)
		if err := rows.Scan(&c.Index, &c.Size, &hash, &received); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Hash = hash.String
		c.ReceivedAt = parseTime(received)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ReceivedBytes sums registered chunk sizes per upload session of a merge session.
func (s *Store) ReceivedBytes(ctx context.Context, mergeSessionID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT u.id, COALESCE(SUM(c.size), 0)
         FROM upload_sessions u LEFT JOIN upload_chunks c ON c.session_id = u.id
         WHERE u.merge_session_id = ? GROUP BY u.id`, mergeSessionID)
	if err != nil {
		return nil, fmt.Errorf("sum received bytes: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			id    string
			total int64
		)
		if err := rows.Scan(&id, &total); err != nil {
			return nil, fmt.Errorf("scan received bytes: %w", err)
		}
		out[id] = total
	}
	return out, rows.Err()
}

// CompleteUpload marks an open session completed. ok is false when the
// session was not open.
func (s *Store) CompleteUpload(ctx context.Context, id, assembledHash string) (bool, error) {
	now := nowString()
	ok, err := s.execAffected(ctx,
		`UPDATE upload_sessions SET status = ?, assembled_hash = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		string(UploadCompleted), nullableString(assembledHash), now, now, id,
		string(UploadInitiated), string(UploadInProgress),
	)
	if err != nil {
		return false, fmt.Errorf("complete upload: %w", err)
	}
	return ok, nil
}

// CloseUpload moves an open session to a terminal status (cancelled, expired
// or failed) and drops its chunk registrations. ok is false when the session
// was not open.
func (s *Store) CloseUpload(ctx context.Context, id string, status UploadStatus, message string) (ok bool, err error) {
	if status.Open() || status == UploadCompleted {
		return false, fmt.Errorf("close upload: invalid target status %q", status)
	}
	ctx = ensureContext(ctx)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE upload_sessions SET status = ?, error_message = ?, updated_at = ?
             WHERE id = ? AND status IN (?, ?)`,
			string(status), nullableString(message), nowString(), id,
			string(UploadInitiated), string(UploadInProgress),
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
		_, err = tx.ExecContext(ctx, `DELETE FROM upload_chunks WHERE session_id = ?`, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("close upload: %w", err)
	}
	return ok, nil
}

// ClearStagingPath records that an upload's staged bytes were removed.
func (s *Store) ClearStagingPath(ctx context.Context, id string) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE upload_sessions SET staging_path = NULL, updated_at = ? WHERE id = ?`, nowString(), id); err != nil {
		return fmt.Errorf("clear staging path: %w", err)
	}
	return nil
}
