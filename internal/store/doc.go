// Package store persists upload sessions, chunk registrations, merge
// sessions, merge jobs and published artifacts in SQLite.
//
// Every state change that other components race on (chunk registration,
// the one-time job enqueue, job completion) is a single conditional
// statement or transaction, so callers get a yes/no answer instead of
// having to hold locks across requests. Lookups return (nil, nil) when a
// record does not exist.
package store
