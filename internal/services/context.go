package services

import "context"

type contextKey string

const (
	mergeSessionIDKey  contextKey = "merge_session_id"
	uploadSessionIDKey contextKey = "upload_session_id"
	jobIDKey           contextKey = "job_id"
	stageKey           contextKey = "stage"
	requestIDKey       contextKey = "request_id"
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithMergeSessionID annotates context with the merge session identifier.
func WithMergeSessionID(ctx context.Context, id string) context.Context {
	return withString(ctx, mergeSessionIDKey, id)
}

// MergeSessionIDFromContext extracts the merge session identifier if present.
func MergeSessionIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, mergeSessionIDKey)
}

// WithUploadSessionID annotates context with the upload session identifier.
func WithUploadSessionID(ctx context.Context, id string) context.Context {
	return withString(ctx, uploadSessionIDKey, id)
}

// UploadSessionIDFromContext extracts the upload session identifier if present.
func UploadSessionIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, uploadSessionIDKey)
}

// WithJobID annotates context with the merge job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	return withString(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the merge job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, jobIDKey)
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}
