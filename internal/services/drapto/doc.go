// Package drapto integrates the Drapto Go library as an alternative
// compression backend for the merge pipeline.
//
// Encoder implements media.Encoder. Drapto always writes Matroska with cues,
// so it is only selectable when the configured container is mkv. A reporter
// adapter turns Drapto's callbacks into percent updates and log lines.
package drapto
