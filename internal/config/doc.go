// Package config loads, normalizes, and validates triad configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TRIAD_API_TOKEN and TRIAD_S3_BUCKET. Worker and compression slot counts
// left at zero are derived from the host CPU count.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
