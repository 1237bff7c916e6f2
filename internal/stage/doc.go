// Package stage defines the contract between the workflow manager and the
// merge pipeline's stage handlers: the ordered stage names, the per-attempt
// Run state handed from stage to stage, and health reporting.
package stage
