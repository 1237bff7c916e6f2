// Package main hosts the triad CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon in the foreground, submits
// three statement videos as a merge session (chunked, hashed and uploaded
// in parallel), and renders daemon, merge session and artifact state from
// the HTTP API. Configuration resolution lives here so subcommands can focus
// on output.
package main
