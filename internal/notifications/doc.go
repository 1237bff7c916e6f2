// Package notifications delivers merge outcomes and operator alerts to ntfy.
//
// NewService returns a noop implementation when no topic is configured, so
// callers never need to nil-check. Toggles in [notifications] decide which
// events are sent.
package notifications
