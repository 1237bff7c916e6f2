// Package media defines the narrow contract between the merge pipeline and
// whatever tool actually touches video bytes.
//
// Stages only see Info, Profile and the Processor/Encoder interfaces, so the
// engine can run against ffmpeg, the Drapto library, or a deterministic fake
// in tests.
package media

import (
	"context"
	"fmt"
	"math"
	"strings"

	"triad/internal/config"
	"triad/internal/services"
)

// Info is what analysis learns about one file.
type Info struct {
	Path        string  `json:"path"`
	Duration    float64 `json:"duration"`
	Container   string  `json:"container"`
	VideoCodec  string  `json:"video_codec"`
	AudioCodec  string  `json:"audio_codec,omitempty"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FrameRate   float64 `json:"frame_rate"`
	PixelFormat string  `json:"pixel_format"`
	SizeBytes   int64   `json:"size_bytes"`
}

// HasAudio reports whether an audio stream was found.
func (i Info) HasAudio() bool {
	return i.AudioCodec != ""
}

// Profile is the common encoding target every statement is normalized to.
type Profile struct {
	Width           int
	Height          int
	FrameRate       int
	PixelFormat     string
	VideoCodec      string
	AudioCodec      string
	AudioSampleRate int
	CRF             int
	Preset          string
	Container       string
}

// ProfileFromConfig builds the merge profile from configuration.
func ProfileFromConfig(cfg *config.Config) Profile {
	m := cfg.Merge
	return Profile{
		Width:           m.Width,
		Height:          m.Height,
		FrameRate:       m.FrameRate,
		PixelFormat:     m.PixelFormat,
		VideoCodec:      m.VideoCodec,
		AudioCodec:      m.AudioCodec,
		AudioSampleRate: m.AudioSampleRate,
		CRF:             m.CRF,
		Preset:          m.Preset,
		Container:       m.Container,
	}
}

// Quality renders the rate-control settings for job records.
func (p Profile) Quality() string {
	if p.Preset == "" {
		return fmt.Sprintf("crf=%d", p.CRF)
	}
	return fmt.Sprintf("crf=%d preset=%s", p.CRF, p.Preset)
}

// ContentType returns the MIME type of the profile's container.
func (p Profile) ContentType() string {
	return ContentTypeForContainer(p.Container)
}

// ContentTypeForContainer maps a container name to its MIME type.
func ContentTypeForContainer(container string) string {
	switch strings.ToLower(container) {
	case "mkv", "matroska":
		return "video/x-matroska"
	case "webm":
		return "video/webm"
	case "mov":
		return "video/quicktime"
	default:
		return "video/mp4"
	}
}

// ProgressFunc receives percent complete (0-100) for the current operation.
type ProgressFunc func(percent float64)

// Processor probes, normalizes and concatenates media.
type Processor interface {
	Probe(ctx context.Context, path string) (Info, error)
	Normalize(ctx context.Context, input Info, output string, profile Profile, progress ProgressFunc) error
	Concat(ctx context.Context, inputs []string, output string) error
}

// Encoder performs the final compression pass. The output must be
// range-seekable without re-encoding.
type Encoder interface {
	Compress(ctx context.Context, input Info, output string, profile Profile, progress ProgressFunc) error
}

// Limits constrain what analysis accepts.
type Limits struct {
	MaxDuration float64
}

// Validate rejects inputs the pipeline cannot merge. Failures are
// unsupported_format errors and are never retried.
func Validate(info Info, limits Limits) error {
	reject := func(msg string) error {
		return services.WithFields(
			services.Wrap(services.KindUnsupportedFormat, "analysis", "validate input", msg, nil),
			map[string]any{"path": info.Path},
		)
	}
	switch {
	case info.VideoCodec == "":
		return reject("no video stream")
	case info.Width <= 0 || info.Height <= 0:
		return reject(fmt.Sprintf("invalid resolution %dx%d", info.Width, info.Height))
	case math.IsNaN(info.Duration) || info.Duration <= 0:
		return reject("unknown or zero duration")
	case limits.MaxDuration > 0 && info.Duration > limits.MaxDuration:
		return reject(fmt.Sprintf("duration %.1fs exceeds %.1fs limit", info.Duration, limits.MaxDuration))
	}
	return nil
}
