// Package publisher moves finished merge artifacts into durable object
// storage and hands out range-capable streaming URLs for them.
//
// Two ObjectStore backends exist: S3 (multipart upload with per-part retry
// and presigned GET URLs) and a local filesystem store whose URLs are
// HMAC-signed and served by the daemon with http.ServeContent. Service wraps
// either one with exponential-backoff retry and artifact key derivation.
package publisher
