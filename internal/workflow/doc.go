// Package workflow is the merge job engine.
//
// The Manager runs a fixed pool of workers that pull jobs from the priority
// queue and drive each one through the registered stages in order: analysis,
// preparation, merging, compression, storage upload, and a cleanup stage that
// always runs. Every stage is time-boxed; exceeding the box cancels the
// stage's context, which terminates any external process, and fails the
// attempt with a processing_timeout error. Outcomes are handed to a
// ResultHandler (the merge coordinator) which decides between completion,
// retry and failure.
//
// The StuckDetector scans persisted job progress and forces jobs whose stage
// stopped advancing into failure, cancelling their in-flight work.
//
// A job interrupted by daemon shutdown is left running in the store and is
// re-queued from the first stage on the next start.
package workflow
