// Package preflight provides readiness checks for the paths and external
// services triad depends on.
//
// The daemon runs RunAll at startup and reports the results on
// GET /api/status; the monitor reuses FreeBytes for its disk alert. Each
// check is gated by its config toggle, so disabled features are skipped.
package preflight
