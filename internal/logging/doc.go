// Package logging assembles the structured slog loggers used across triad.
//
// It owns the console and JSON handlers, level parsing, and the tee that
// mirrors daemon output into a JSON log file. Context helpers tag records with
// merge session, upload session, job and stage identifiers so a single merge
// can be followed end to end. A no-op logger is provided for tests and for
// wiring code that must not fail.
package logging
