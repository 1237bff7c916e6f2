// Package daemon coordinates the long-running triad process.
//
// It wires the store, upload service, merge coordinator, workflow manager,
// monitor and publisher into a single lifecycle with flock-based locking to
// prevent multiple instances, and serves the HTTP API: the merge session
// and upload endpoints, status and health reporting, Prometheus metrics,
// and signed object downloads for the filesystem storage backend.
//
// Keep orchestration logic here: upload, merge and publishing behavior live
// in their own packages while the daemon focuses on startup, shutdown, and
// request plumbing.
package daemon
