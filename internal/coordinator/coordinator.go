package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"triad/internal/config"
	"triad/internal/logging"
	"triad/internal/notifications"
	"triad/internal/services"
	"triad/internal/store"
	"triad/internal/upload"
)

// StatementCount is the number of uploads a merge session waits for.
const StatementCount = 3

// Engine accepts merge jobs for execution.
type Engine interface {
	Submit(ctx context.Context, job *store.MergeJob) error
}

// CreateRequest declares a merge session and its three statements, in
// statement order.
type CreateRequest struct {
	OwnerID    string
	Title      string
	Statements []upload.Request
}

// Created is the result of CreateMergeSession.
type Created struct {
	Session *store.MergeSession
	Uploads []*store.UploadSession
}

// Coordinator owns merge session transitions.
type Coordinator struct {
	cfg      *config.Config
	store    *store.Store
	uploads  *upload.Service
	engine   Engine
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
}

// New wires a coordinator. The caller registers it as the upload service's
// listener and the engine's result handler.
func New(cfg *config.Config, st *store.Store, uploads *upload.Service, engine Engine, notifier notifications.Service, logger *slog.Logger) (*Coordinator, error) {
	if cfg == nil || st == nil || uploads == nil || engine == nil {
		return nil, errors.New("coordinator requires config, store, upload service and engine")
	}
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		store:    st,
		uploads:  uploads,
		engine:   engine,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "coordinator"),
		now:      time.Now,
	}, nil
}

// CreateMergeSession persists a merge session with its three child uploads
// in one transaction. The session is stored as uploading: it accepts chunks
// from the moment it exists, so initiated never outlives the insert.
func (c *Coordinator) CreateMergeSession(ctx context.Context, req CreateRequest) (*Created, error) {
	owner := strings.TrimSpace(req.OwnerID)
	if owner == "" {
		return nil, services.Wrap(services.KindValidation, "", "create merge session", "owner is required", nil)
	}
	if len(req.Statements) != StatementCount {
		return nil, services.WithFields(
			services.Wrap(services.KindValidation, "", "create merge session",
				fmt.Sprintf("exactly %d statements are required", StatementCount), nil),
			map[string]any{"statements": len(req.Statements)},
		)
	}

	children := make([]*store.UploadSession, 0, StatementCount)
	for i, stmt := range req.Statements {
		stmt.OwnerID = owner
		u, err := c.uploads.Plan(stmt, i)
		if err != nil {
			return nil, services.WithFields(err, map[string]any{"statement_index": i})
		}
		children = append(children, u)
	}
	if err := c.uploads.Allocate(ctx, children); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	session := &store.MergeSession{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Title:     cleanTitle(req.Title),
		Status:    store.MergeUploading,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateMergeSession(ctx, session, children); err != nil {
		c.uploads.Discard(ctx, children)
		return nil, err
	}
	logging.WithContext(services.WithMergeSessionID(ctx, session.ID), c.logger).Info("merge session created",
		logging.String(logging.FieldEventType, "merge_session_created"),
		logging.String("owner_id", owner),
		logging.Int("statements", len(children)),
	)
	return &Created{Session: session, Uploads: children}, nil
}

// newJob builds the next attempt for a session with the configured delivery
// profile.
func (c *Coordinator) newJob(mergeSessionID string, attempt int, priority string) *store.MergeJob {
	return &store.MergeJob{
		ID:             uuid.NewString(),
		MergeSessionID: mergeSessionID,
		Attempt:        attempt,
		Priority:       priority,
		VideoCodec:     c.cfg.Merge.VideoCodec,
		Quality:        fmt.Sprintf("crf%d", c.cfg.Merge.CRF),
		Container:      c.cfg.Merge.Container,
		EnqueuedAt:     c.now().UTC(),
	}
}

func (c *Coordinator) submit(ctx context.Context, logger *slog.Logger, job *store.MergeJob) {
	if err := c.engine.Submit(ctx, job); err != nil {
		logging.ErrorWithContext(logger, "failed to enqueue merge job", "job_enqueue_failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldErrorHint, "the job is persisted and is re-queued on daemon restart"),
			logging.Error(err),
		)
	}
}

// releaseInputs drops the staged statement files of a terminal session.
func (c *Coordinator) releaseInputs(ctx context.Context, mergeSessionID string) {
	inputs, err := c.store.ListUploadsForMerge(ctx, mergeSessionID)
	if err != nil {
		c.logger.Warn("failed to list merge inputs for release", logging.Error(err))
		return
	}
	c.uploads.Release(ctx, inputs)
	if err := c.store.MarkInputsReleased(ctx, mergeSessionID); err != nil {
		c.logger.Debug("mark inputs released failed", logging.Error(err))
	}
}

func cleanTitle(title string) string {
	title = norm.NFC.String(strings.TrimSpace(title))
	return strings.Join(strings.Fields(title), " ")
}
