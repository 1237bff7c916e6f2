package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind is the closed set of failure categories surfaced by uploads and merge jobs.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindIntegrity         Kind = "integrity"
	KindIncomplete        Kind = "incomplete"
	KindNotFound          Kind = "not_found"
	KindIndex             Kind = "index_out_of_range"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindProcessing        Kind = "processing"
	KindProcessingTimeout Kind = "processing_timeout"
	KindStuckJob          Kind = "stuck_job"
	KindStorage           Kind = "storage"
	KindConfiguration     Kind = "configuration"
)

var kindCodes = map[Kind]string{
	KindValidation:        "E_VALIDATION",
	KindIntegrity:         "E_INTEGRITY",
	KindIncomplete:        "E_INCOMPLETE",
	KindNotFound:          "E_NOT_FOUND",
	KindIndex:             "E_INDEX",
	KindUnsupportedFormat: "E_UNSUPPORTED_FORMAT",
	KindProcessing:        "E_PROCESSING",
	KindProcessingTimeout: "E_PROCESSING_TIMEOUT",
	KindStuckJob:          "E_STUCK_JOB",
	KindStorage:           "E_STORAGE",
	KindConfiguration:     "E_CONFIGURATION",
}

var kindHints = map[Kind]string{
	KindValidation:        "fix the request parameters and resubmit",
	KindIntegrity:         "re-upload the affected chunk or file",
	KindIncomplete:        "upload the missing chunks before completing",
	KindNotFound:          "verify the identifier; the session may have expired",
	KindIndex:             "chunk index must be within the session's chunk range",
	KindUnsupportedFormat: "record the statement again with a supported format",
	KindProcessing:        "check ffmpeg output in the daemon log",
	KindProcessingTimeout: "raise merge.stage_timeout_seconds or reduce input size",
	KindStuckJob:          "inspect worker health; the job stopped advancing",
	KindStorage:           "check object storage connectivity and credentials",
	KindConfiguration:     "check the triad configuration file",
}

// Code returns the stable, client-facing code for the kind.
func (k Kind) Code() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindProcessing]
}

// Hint returns the operator hint logged alongside failures of this kind.
func (k Kind) Hint() string {
	return kindHints[k]
}

// Retryable reports whether a merge job failing with this kind may be retried.
// Upload-level kinds are never retried by the system; the client retries them.
func (k Kind) Retryable() bool {
	switch k {
	case KindProcessing, KindProcessingTimeout, KindStorage:
		return true
	default:
		return false
	}
}

// Valid reports whether k belongs to the closed set.
func (k Kind) Valid() bool {
	_, ok := kindCodes[k]
	return ok
}

// Error is the tagged error carried across upload, coordinator, and engine boundaries.
type Error struct {
	Kind      Kind
	Stage     string
	Operation string
	Message   string
	Fields    map[string]any
	Err       error
}

func (e *Error) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so callers can test with errors.Is(err, services.ErrIntegrity).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Stage == "" && other.Operation == "" && other.Message == ""
}

// Kind markers for errors.Is comparisons.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrIntegrity         = &Error{Kind: KindIntegrity}
	ErrIncomplete        = &Error{Kind: KindIncomplete}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrIndex             = &Error{Kind: KindIndex}
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrProcessing        = &Error{Kind: KindProcessing}
	ErrProcessingTimeout = &Error{Kind: KindProcessingTimeout}
	ErrStuckJob          = &Error{Kind: KindStuckJob}
	ErrStorage           = &Error{Kind: KindStorage}
	ErrConfiguration     = &Error{Kind: KindConfiguration}
)

// Wrap builds a tagged error that includes stage context. An empty kind is
// treated as a processing failure.
func Wrap(kind Kind, stage, operation, message string, err error) error {
	if !kind.Valid() {
		kind = KindProcessing
	}
	return &Error{
		Kind:      kind,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Err:       err,
	}
}

// WithFields attaches structured fields to a tagged error. Non-tagged errors are
// returned unchanged.
func WithFields(err error, fields map[string]any) error {
	var tagged *Error
	if !errors.As(err, &tagged) {
		return err
	}
	clone := *tagged
	clone.Fields = make(map[string]any, len(tagged.Fields)+len(fields))
	for k, v := range tagged.Fields {
		clone.Fields[k] = v
	}
	for k, v := range fields {
		clone.Fields[k] = v
	}
	return &clone
}

// NotFound reports an unknown or expired resource.
func NotFound(resource, id string) error {
	return &Error{
		Kind:      KindNotFound,
		Operation: "lookup",
		Message:   fmt.Sprintf("%s %s not found", resource, id),
		Fields:    map[string]any{"resource": resource, "id": id},
	}
}

// IndexOutOfRange reports a chunk index outside [0, total).
func IndexOutOfRange(sessionID string, index, total int) error {
	return &Error{
		Kind:      KindIndex,
		Operation: "receive_chunk",
		Message:   fmt.Sprintf("chunk index %d outside [0, %d)", index, total),
		Fields:    map[string]any{"upload_session_id": sessionID, "chunk_index": index, "total_chunks": total},
	}
}

// IntegrityMismatch reports a content hash that does not match the received bytes.
func IntegrityMismatch(operation, expected, actual string) error {
	return &Error{
		Kind:      KindIntegrity,
		Operation: operation,
		Message:   "content hash mismatch",
		Fields:    map[string]any{"expected_hash": expected, "actual_hash": actual},
	}
}

// MissingChunks reports a completion request issued before every chunk arrived.
func MissingChunks(sessionID string, missing []int) error {
	sorted := append([]int(nil), missing...)
	sort.Ints(sorted)
	return &Error{
		Kind:      KindIncomplete,
		Operation: "complete",
		Message:   fmt.Sprintf("%d chunk(s) missing", len(sorted)),
		Fields:    map[string]any{"upload_session_id": sessionID, "missing_chunks": sorted},
	}
}

// Timeout reports a stage that exceeded its time box.
func Timeout(stage string, limit fmt.Stringer, err error) error {
	return &Error{
		Kind:      KindProcessingTimeout,
		Stage:     stage,
		Operation: "execute",
		Message:   fmt.Sprintf("stage exceeded %s", limit),
		Fields:    map[string]any{"timeout": limit.String()},
		Err:       err,
	}
}

// StuckJob reports a job whose stage stopped advancing.
func StuckJob(jobID, stage string, idle fmt.Stringer) error {
	return &Error{
		Kind:      KindStuckJob,
		Stage:     stage,
		Operation: "stuck_scan",
		Message:   fmt.Sprintf("stage has not advanced for %s", idle),
		Fields:    map[string]any{"job_id": jobID, "idle": idle.String()},
	}
}

// KindOf classifies an arbitrary error into the closed taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) && tagged.Kind.Valid() {
		return tagged.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindProcessingTimeout
	}
	return KindProcessing
}

// Retryable reports whether a merge job error may be retried.
func Retryable(err error) bool {
	return err != nil && KindOf(err).Retryable()
}

// Descriptor is the stable, user-visible shape of a failure.
type Descriptor struct {
	Code      string         `json:"code"`
	Kind      Kind           `json:"kind"`
	Stage     string         `json:"stage,omitempty"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Describe converts an error into its Descriptor. A nil error yields the zero value.
func Describe(err error) Descriptor {
	if err == nil {
		return Descriptor{}
	}
	kind := KindOf(err)
	desc := Descriptor{
		Code:      kind.Code(),
		Kind:      kind,
		Retryable: kind.Retryable(),
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		desc.Stage = tagged.Stage
		desc.Message = buildDetail("", tagged.Operation, tagged.Message)
		if len(tagged.Fields) > 0 {
			desc.Fields = tagged.Fields
		}
	}
	if desc.Message == "" || desc.Message == "service failure" {
		desc.Message = strings.TrimSpace(err.Error())
	}
	return desc
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
