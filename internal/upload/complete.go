package upload

import (
	"context"
	"fmt"

	"triad/internal/fileutil"
	"triad/internal/logging"
	"triad/internal/services"
	"triad/internal/store"
)

// Complete finalizes a session once every chunk is present and the assembled
// bytes match any declared hash. A hash mismatch leaves the session open so
// the client can resend chunks. Completing an already completed session
// returns it unchanged.
func (s *Service) Complete(ctx context.Context, sessionID, finalHash string) (*store.UploadSession, error) {
	done, err := s.complete(ctx, sessionID, finalHash)
	if err != nil {
		return nil, err
	}
	s.notifyCompleted(sessionContext(ctx, done), done)
	return done, nil
}

// complete runs with the session stripe held exclusively; listeners are
// notified after it is released.
func (s *Service) complete(ctx context.Context, sessionID, finalHash string) (*store.UploadSession, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.store.GetUploadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Status == store.UploadCompleted {
		return s.alreadyCompleted(current, finalHash)
	}

	u, err := s.openSession(ctx, sessionID, "complete")
	if err != nil {
		return nil, err
	}
	ctx = sessionContext(ctx, u)
	logger := logging.WithContext(ctx, s.logger)

	received, err := s.store.ReceivedChunks(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if gaps := missing(received, u.TotalChunks); len(gaps) > 0 {
		return nil, services.MissingChunks(u.ID, gaps)
	}

	sum, size, err := fileutil.HashFile(u.StagingPath)
	if err != nil {
		return nil, services.Wrap(services.KindStorage, "", "complete", "read staged file", err)
	}
	if size != u.TotalSize {
		return nil, services.WithFields(
			services.Wrap(services.KindIntegrity, "", "complete", fmt.Sprintf("assembled size %d does not match declared %d", size, u.TotalSize), nil),
			map[string]any{"expected_size": u.TotalSize, "actual_size": size},
		)
	}
	for _, declared := range []string{finalHash, u.DeclaredHash} {
		if !fileutil.HashMatches(declared, sum) {
			logging.WarnWithContext(logger, "upload completion rejected", "upload_integrity_failed",
				logging.String("expected_hash", fileutil.NormalizeHash(declared)),
				logging.String("actual_hash", sum),
				logging.String(logging.FieldErrorHint, "client must resend the corrupted chunks"),
				logging.String(logging.FieldImpact, "session stays in progress"),
			)
			return nil, services.IntegrityMismatch("complete", fileutil.NormalizeHash(declared), sum)
		}
	}

	ok, err := s.store.CompleteUpload(ctx, u.ID, sum)
	if err != nil {
		return nil, err
	}
	done, err := s.Get(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if !ok && done.Status != store.UploadCompleted {
		// closed by cancel or expiry while we were hashing
		return nil, services.NotFound("upload session", u.ID)
	}
	if ok {
		logger.Info("upload completed",
			logging.String(logging.FieldEventType, "upload_completed"),
			logging.Int64("total_size", done.TotalSize),
			logging.String("sha256", sum),
		)
	}
	return done, nil
}

// alreadyCompleted still leads to a notification so a coordinator that missed
// the first event can promote the merge session; the enqueue itself is
// guarded.
func (s *Service) alreadyCompleted(u *store.UploadSession, finalHash string) (*store.UploadSession, error) {
	if u.AssembledHash != "" && !fileutil.HashMatches(finalHash, u.AssembledHash) {
		return nil, services.IntegrityMismatch("complete", fileutil.NormalizeHash(finalHash), u.AssembledHash)
	}
	return u, nil
}

func (s *Service) notifyCompleted(ctx context.Context, u *store.UploadSession) {
	if u.MergeSessionID == "" {
		return
	}
	listener := s.currentListener()
	if listener == nil {
		return
	}
	if err := listener.OnChildCompleted(ctx, u.ID); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "merge coordinator rejected completion", "child_completion_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "repeat complete-upload to retry the hand-off"),
			logging.String(logging.FieldImpact, "merge session may not start until retried"),
		)
	}
}
