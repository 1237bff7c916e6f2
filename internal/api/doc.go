// Package api defines the wire-format types, request validation and
// converters for triad's HTTP API. It translates coordinator, upload and
// publisher models into transport-friendly DTOs so clients never couple to
// internal types.
//
// # Key Types
//
// InitiateMergeRequest / MergeSessionCreated: the initiate-merge-session
// exchange, carrying three statement descriptions in and three upload
// sessions (with chunk URL templates) out.
//
// MergeSessionStatus: aggregate progress, job stage and the retained error
// descriptor of a merge session.
//
// ArtifactSegments: the streaming descriptor plus ordered per-statement
// segments for a published artifact.
//
// ErrorResponse: the stable {code, kind, stage, message, retryable} payload
// for every failed request.
//
// Client wraps these exchanges for the triad CLI and surfaces failures as
// *Error with the decoded ErrorBody.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers.
// Timestamps use RFC3339 with milliseconds. Request structs carry validator
// tags; Validate turns tag failures into validation errors so handlers
// answer every bad request with the same error shape.
package api
