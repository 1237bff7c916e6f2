package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"triad/internal/fileutil"
	"triad/internal/logging"
	"triad/internal/services"
	"triad/internal/store"
)

// Request declares one statement video.
type Request struct {
	OwnerID      string
	Filename     string
	ContentType  string
	Size         int64
	Duration     float64
	DeclaredHash string
}

// Plan validates a request and builds an unsaved session for it. It does not
// touch disk or the store.
func (s *Service) Plan(req Request, statementIndex int) (*store.UploadSession, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	chunkSize, total, err := s.planChunks(req.Size)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	return &store.UploadSession{
		ID:               uuid.NewString(),
		OwnerID:          strings.TrimSpace(req.OwnerID),
		StatementIndex:   statementIndex,
		Filename:         CleanFilename(req.Filename),
		ContentType:      strings.ToLower(strings.TrimSpace(req.ContentType)),
		TotalSize:        req.Size,
		DeclaredDuration: req.Duration,
		ChunkSize:        chunkSize,
		TotalChunks:      total,
		DeclaredHash:     fileutil.NormalizeHash(req.DeclaredHash),
		Status:           store.UploadInitiated,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(s.cfg.SessionTTL()),
	}, nil
}

// Initiate creates a standalone upload session.
func (s *Service) Initiate(ctx context.Context, req Request) (*store.UploadSession, error) {
	u, err := s.Plan(req, -1)
	if err != nil {
		return nil, err
	}
	if err := s.allocate(u); err != nil {
		return nil, err
	}
	if err := s.store.CreateUploadSession(ctx, u); err != nil {
		s.discard(ctx, u)
		return nil, err
	}
	logging.WithContext(sessionContext(ctx, u), s.logger).Info("upload session initiated",
		logging.String(logging.FieldEventType, "upload_initiated"),
		logging.String("filename", u.Filename),
		logging.Int64("total_size", u.TotalSize),
		logging.Int("total_chunks", u.TotalChunks),
	)
	return u, nil
}

// Allocate prepares staging files for planned sessions. On error every file
// created so far is removed.
func (s *Service) Allocate(ctx context.Context, sessions []*store.UploadSession) error {
	for i, u := range sessions {
		if err := s.allocate(u); err != nil {
			s.Discard(ctx, sessions[:i])
			return err
		}
	}
	return nil
}

// Discard removes staging files for sessions that were never persisted.
func (s *Service) Discard(ctx context.Context, sessions []*store.UploadSession) {
	for _, u := range sessions {
		s.discard(ctx, u)
	}
}

func (s *Service) validate(req Request) error {
	fail := func(msg string, fields map[string]any) error {
		return services.WithFields(services.Wrap(services.KindValidation, "", "initiate", msg, nil), fields)
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return fail("owner id is required", nil)
	}
	if CleanFilename(req.Filename) == "" {
		return fail("filename is required", nil)
	}
	if req.Size <= 0 {
		return fail("size must be positive", map[string]any{"size": req.Size})
	}
	if limit := s.cfg.MaxFileBytes(); req.Size > limit {
		return fail(fmt.Sprintf("size %d exceeds maximum %d bytes", req.Size, limit), map[string]any{"size": req.Size, "max_size": limit})
	}
	if !(req.Duration > 0) {
		return fail("duration must be positive", map[string]any{"duration": req.Duration})
	}
	if limit := s.cfg.Upload.MaxDurationSeconds; req.Duration > limit {
		return fail(fmt.Sprintf("duration %.2fs exceeds maximum %.2fs", req.Duration, limit), map[string]any{"duration": req.Duration, "max_duration": limit})
	}
	contentType := strings.ToLower(strings.TrimSpace(req.ContentType))
	allowed := false
	for _, candidate := range s.cfg.Upload.AllowedContentTypes {
		if candidate == contentType {
			allowed = true
			break
		}
	}
	if !allowed {
		return fail(fmt.Sprintf("content type %q is not accepted", req.ContentType), map[string]any{"allowed": s.cfg.Upload.AllowedContentTypes})
	}
	return nil
}

// planChunks derives chunk size and count from the declared size. The default
// chunk size grows (up to the configured maximum) when the file would
// otherwise need more than max_chunks chunks.
func (s *Service) planChunks(size int64) (int64, int, error) {
	chunk := int64(s.cfg.Upload.DefaultChunkKiB) << 10
	maxChunk := int64(s.cfg.Upload.MaxChunkKiB) << 10
	maxChunks := int64(s.cfg.Upload.MaxChunks)

	if ceilDiv(size, chunk) > maxChunks {
		chunk = ceilDiv(size, maxChunks)
		// round up to a whole KiB
		chunk = ceilDiv(chunk, 1024) * 1024
	}
	if chunk > maxChunk {
		return 0, 0, services.WithFields(
			services.Wrap(services.KindValidation, "", "initiate", "file needs more chunks than allowed", nil),
			map[string]any{"size": size, "max_chunks": maxChunks},
		)
	}
	return chunk, int(ceilDiv(size, chunk)), nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// CleanFilename strips directories and control characters from a client
// filename and applies NFC normalization.
func CleanFilename(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
}
