// Package upload implements the chunked, resumable upload protocol for
// statement videos.
//
// A Service plans a session (chunk size and count derive from the declared
// size), preallocates a staging file, and accepts chunks in any order and in
// parallel: each chunk is hashed, written at its own byte offset, and then
// registered in the store inside a single transaction. Completion is decided
// by set membership alone and is idempotent. A background sweeper expires
// sessions past their TTL and frees their staging bytes.
//
// The package knows nothing about merging; sessions that belong to a merge
// session report completion or closure to a Listener.
package upload
