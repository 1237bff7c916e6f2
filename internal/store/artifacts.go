package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const artifactColumns = "id, merge_session_id, owner_id, backend, object_key, locator, total_duration, byte_size, container, video_codec, audio_codec, content_type, segments_json, created_at"

func scanArtifact(row scanner) (*Artifact, error) {
	var (
		a            Artifact
		videoCodec   sql.NullString
		audioCodec   sql.NullString
		segmentsJSON string
		createdRaw   sql.NullString
	)
	if err := row.Scan(
		&a.ID,
		&a.MergeSessionID,
		&a.OwnerID,
		&a.Backend,
		&a.ObjectKey,
		&a.Locator,
		&a.TotalDuration,
		&a.ByteSize,
		&a.Container,
		&videoCodec,
		&audioCodec,
		&a.ContentType,
		&segmentsJSON,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	a.VideoCodec = videoCodec.String
	a.AudioCodec = audioCodec.String
	a.CreatedAt = parseTime(createdRaw)
	if err := json.Unmarshal([]byte(segmentsJSON), &a.Segments); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	return &a, nil
}

func insertArtifact(ctx context.Context, db execer, a *Artifact) error {
	segments, err := json.Marshal(a.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO artifacts (`+artifactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.MergeSessionID,
		a.OwnerID,
		a.Backend,
		a.ObjectKey,
		a.Locator,
		a.TotalDuration,
		a.ByteSize,
		a.Container,
		nullableString(a.VideoCodec),
		nullableString(a.AudioCodec),
		a.ContentType,
		string(segments),
		formatTime(a.CreatedAt),
	)
	return err
}

// GetArtifact fetches an artifact by id.
func (s *Store) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	return s.getArtifact(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
}

// GetArtifactForMerge fetches the artifact owned by a merge session.
func (s *Store) GetArtifactForMerge(ctx context.Context, mergeSessionID string) (*Artifact, error) {
	return s.getArtifact(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE merge_session_id = ?`, mergeSessionID)
}

func (s *Store) getArtifact(ctx context.Context, query string, arg any) (*Artifact, error) {
	a, err := scanArtifact(s.db.QueryRowContext(ensureContext(ctx), query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}
