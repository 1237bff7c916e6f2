package workflow

import (
	"context"
	"log/slog"

	"triad/internal/logging"
	"triad/internal/services"
	"triad/internal/store"
)

func withJobContext(ctx context.Context, job *store.MergeJob, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if job != nil {
		ctx = services.WithMergeSessionID(ctx, job.MergeSessionID)
		ctx = services.WithJobID(ctx, job.ID)
	}
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}

func (m *Manager) jobLogger(ctx context.Context, base *slog.Logger, job *store.MergeJob) *slog.Logger {
	if base == nil {
		base = m.logger
	}
	logger := logging.WithContext(ctx, base)
	if job != nil {
		logger = logger.With(logging.Int("attempt", job.Attempt))
	}
	return logger
}
