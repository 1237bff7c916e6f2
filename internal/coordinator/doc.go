// Package coordinator runs the merge session state machine.
//
// A merge session groups three statement uploads. The coordinator creates the
// session and its children atomically, promotes the session to merging
// exactly once when the last child completes, folds job outcomes into
// completion, retry or failure, and composes the aggregate progress view
// clients poll. It never blocks on in-flight work: every read comes from the
// store's persisted snapshot.
package coordinator
