// Package services defines shared utilities consumed by the upload service,
// the merge coordinator, and the pipeline stage handlers.
//
// Key responsibilities:
//   - Context helpers that stamp merge session IDs, job IDs, stage names, and
//     correlation identifiers for logging.
//   - The closed error taxonomy (Error, Kind) plus the Wrap helper so every
//     failure carries a stable code and a retry decision.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
