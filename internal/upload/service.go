package upload

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"triad/internal/config"
	"triad/internal/logging"
	"triad/internal/services"
	"triad/internal/store"
)

// Listener receives lifecycle events for uploads that belong to a merge session.
type Listener interface {
	OnChildCompleted(ctx context.Context, uploadSessionID string) error
	OnChildClosed(ctx context.Context, uploadSessionID string, status store.UploadStatus) error
}

// Service owns upload sessions and their staged bytes.
type Service struct {
	cfg        *config.Config
	store      *store.Store
	logger     *slog.Logger
	stagingDir string
	now        func() time.Time

	mu       sync.RWMutex
	listener Listener

	// Chunk writes hold a session's stripe shared; completion holds it
	// exclusively so the hashed bytes are the committed bytes.
	stripes [sessionStripes]sync.RWMutex
}

const sessionStripes = 64

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source (used by tests for TTL expiry).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs an upload service backed by st.
func NewService(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("upload service requires config and store")
	}
	dir := cfg.UploadStagingDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload staging dir: %w", err)
	}
	s := &Service{
		cfg:        cfg,
		store:      st,
		logger:     logging.NewComponentLogger(logger, "upload"),
		stagingDir: dir,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetListener registers the merge coordinator. It may be called once wiring
// is complete; events before that are dropped.
func (s *Service) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *Service) currentListener() Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id string) (*store.UploadSession, error) {
	u, err := s.store.GetUploadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, services.NotFound("upload session", id)
	}
	return u, nil
}

// Progress returns the fraction of bytes received for a session in [0, 1].
func (s *Service) Progress(ctx context.Context, u *store.UploadSession) (float64, error) {
	if u.Status == store.UploadCompleted {
		return 1, nil
	}
	chunks, err := s.store.ListChunks(ctx, u.ID)
	if err != nil {
		return 0, err
	}
	var received int64
	for _, c := range chunks {
		received += c.Size
	}
	if u.TotalSize <= 0 {
		return 0, nil
	}
	return min(float64(received)/float64(u.TotalSize), 1), nil
}

func (s *Service) sessionLock(id string) *sync.RWMutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.stripes[h.Sum32()%sessionStripes]
}

func (s *Service) stagingPath(id string) string {
	return filepath.Join(s.stagingDir, id+".part")
}

// allocate creates the staging file at its final size so chunks can be
// written at any offset.
func (s *Service) allocate(u *store.UploadSession) error {
	path := s.stagingPath(u.ID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	if err := f.Truncate(u.TotalSize); err != nil {
		f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("size staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	u.StagingPath = path
	return nil
}

func (s *Service) discard(ctx context.Context, u *store.UploadSession) {
	if u == nil || u.StagingPath == "" {
		return
	}
	if err := os.Remove(u.StagingPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "failed to remove staging file", "staging_cleanup_failed",
			logging.String("path", u.StagingPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the file manually; disk usage will not recover until it is gone"),
			logging.String(logging.FieldImpact, "temporary disk space is not reclaimed"),
		)
		return
	}
	if err := s.store.ClearStagingPath(ctx, u.ID); err != nil {
		s.logger.Debug("clear staging path failed", logging.String(logging.FieldUploadSessionID, u.ID), logging.Error(err))
	}
}

func sessionContext(ctx context.Context, u *store.UploadSession) context.Context {
	ctx = services.WithUploadSessionID(ctx, u.ID)
	return services.WithMergeSessionID(ctx, u.MergeSessionID)
}
