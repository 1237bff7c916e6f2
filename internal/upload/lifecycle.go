package upload

import (
	"context"
	"errors"
	"time"

	"triad/internal/logging"
	"triad/internal/services"
	"triad/internal/store"
)

// Cancel closes an open session and frees its staging file immediately.
// Cancelling an already cancelled session is a no-op.
func (s *Service) Cancel(ctx context.Context, sessionID string) (*store.UploadSession, error) {
	u, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch {
	case u.Status == store.UploadCancelled:
		return u, nil
	case u.Status.Terminal():
		return nil, services.WithFields(
			services.Wrap(services.KindValidation, "", "cancel", "upload session is "+string(u.Status), nil),
			map[string]any{"upload_session_id": u.ID, "status": string(u.Status)},
		)
	}
	if err := s.close(ctx, u, store.UploadCancelled, "cancelled by client"); err != nil {
		return nil, err
	}
	return s.Get(ctx, sessionID)
}

// ExpireStale marks sessions past their TTL as expired and releases their
// staging files. It returns the number of sessions expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.store.ListExpiredUploads(ctx, s.now())
	if err != nil {
		return 0, err
	}
	count := 0
	for _, u := range stale {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if s.expire(ctx, u) {
			count++
		}
	}
	if count > 0 {
		s.logger.Info("expired stale upload sessions",
			logging.String(logging.FieldEventType, "uploads_expired"),
			logging.Int("count", count),
		)
	}
	return count, nil
}

func (s *Service) expire(ctx context.Context, u *store.UploadSession) bool {
	err := s.close(ctx, u, store.UploadExpired, "session ttl elapsed")
	if errors.Is(err, errNotOpen) {
		return false
	}
	if err != nil {
		logging.WarnWithContext(logging.WithContext(sessionContext(ctx, u), s.logger), "failed to expire upload session", "upload_expire_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database access"),
			logging.String(logging.FieldImpact, "staging bytes stay on disk until the next sweep"),
		)
		return false
	}
	return true
}

var errNotOpen = errors.New("upload session not open")

func (s *Service) close(ctx context.Context, u *store.UploadSession, status store.UploadStatus, reason string) error {
	ok, err := s.store.CloseUpload(ctx, u.ID, status, reason)
	if err != nil {
		return err
	}
	if !ok {
		return errNotOpen
	}
	ctx = sessionContext(ctx, u)
	s.discard(ctx, u)
	logging.WithContext(ctx, s.logger).Info("upload session closed",
		logging.String(logging.FieldEventType, "upload_closed"),
		logging.String("status", string(status)),
		logging.String("reason", reason),
	)
	if u.MergeSessionID != "" {
		if listener := s.currentListener(); listener != nil {
			if err := listener.OnChildClosed(ctx, u.ID, status); err != nil {
				s.logger.Warn("merge coordinator rejected closure", logging.Error(err))
			}
		}
	}
	return nil
}

// Release deletes the staged bytes of the given sessions. Used once a merge
// session is terminal and its inputs are no longer needed for retries.
func (s *Service) Release(ctx context.Context, sessions []*store.UploadSession) {
	for _, u := range sessions {
		s.discard(sessionContext(ctx, u), u)
	}
}

// RunSweeper calls ExpireStale on the configured interval until ctx ends.
func (s *Service) RunSweeper(ctx context.Context) {
	interval := time.Duration(s.cfg.Upload.SweepIntervalSecs) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.WarnWithContext(s.logger, "upload sweep failed", "upload_sweep_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check database access"),
					logging.String(logging.FieldImpact, "expired sessions keep their staging bytes until the next sweep"),
				)
			}
		}
	}
}
