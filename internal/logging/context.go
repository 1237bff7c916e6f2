package logging

import (
	"context"
	"log/slog"

	"triad/internal/services"
)

// Standardized structured logging keys.
const (
	FieldComponent       = "component"
	FieldMergeSessionID  = "merge_session_id"
	FieldUploadSessionID = "upload_session_id"
	FieldJobID           = "job_id"
	FieldStage           = "stage"
	FieldCorrelationID   = "correlation_id"
	FieldEventType       = "event_type"
	FieldErrorHint       = "error_hint"
	FieldErrorCode       = "error_code"
	FieldErrorKind       = "error_kind"
	// FieldAlert flags records operators should see even when skimming.
	FieldAlert = "alert"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := services.MergeSessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldMergeSessionID, id))
	}
	if id, ok := services.UploadSessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldUploadSessionID, id))
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, f)
	}
	return logger.With(args...)
}
