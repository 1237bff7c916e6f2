// Package ffmpeg implements media.Processor and media.Encoder by running the
// ffmpeg and ffprobe binaries.
//
// Every invocation runs under the caller's context. When the context ends the
// process is killed and Wait is bounded by WaitDelay, so a stage timeout
// never leaves an encoder running.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"triad/internal/media"
	"triad/internal/media/ffprobe"
)

var commandContext = exec.CommandContext

const (
	waitDelay      = 5 * time.Second
	stderrTailSize = 4096
	audioBitrate   = "160k"
)

// Processor runs ffmpeg/ffprobe.
type Processor struct {
	FFmpeg  string
	FFprobe string
}

// New constructs a Processor for the given binaries.
func New(ffmpegBinary, ffprobeBinary string) *Processor {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	return &Processor{FFmpeg: ffmpegBinary, FFprobe: ffprobeBinary}
}

// Probe inspects a file with ffprobe.
func (p *Processor) Probe(ctx context.Context, path string) (media.Info, error) {
	result, err := ffprobe.Inspect(ctx, p.FFprobe, path)
	if err != nil {
		return media.Info{}, err
	}
	return result.Info(path), nil
}

// Normalize scales, pads and retimes one statement to the profile so the
// later concat can stream-copy. Inputs without audio get a silent track.
func (p *Processor) Normalize(ctx context.Context, input media.Info, output string, profile media.Profile, progress media.ProgressFunc) error {
	return p.run(ctx, NormalizeArgs(input, output, profile), input.Duration, progress)
}

// Concat joins normalized files in order without re-encoding.
func (p *Processor) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("concat: no inputs")
	}
	listPath := output + ".txt"
	if err := os.WriteFile(listPath, []byte(ConcatList(inputs)), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	args := []string{
		"-hide_banner", "-nostdin", "-y", "-v", "error",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-c", "copy", output,
	}
	return p.run(ctx, args, 0, nil)
}

// Compress re-encodes the concatenated stream to the delivery profile.
func (p *Processor) Compress(ctx context.Context, input media.Info, output string, profile media.Profile, progress media.ProgressFunc) error {
	return p.run(ctx, CompressArgs(input.Path, output, profile), input.Duration, progress)
}

// NormalizeArgs builds the ffmpeg arguments for the preparation pass.
func NormalizeArgs(input media.Info, output string, profile media.Profile) []string {
	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d,format=%s",
		profile.Width, profile.Height, profile.Width, profile.Height, profile.FrameRate, profile.PixelFormat,
	)
	args := []string{"-hide_banner", "-nostdin", "-y", "-v", "error", "-i", input.Path}
	if !input.HasAudio() {
		args = append(args,
			"-f", "lavfi", "-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", profile.AudioSampleRate),
			"-shortest",
		)
	}
	args = append(args,
		"-map", "0:v:0",
	)
	if input.HasAudio() {
		args = append(args, "-map", "0:a:0")
	} else {
		args = append(args, "-map", "1:a:0")
	}
	args = append(args,
		"-vf", filter,
		"-c:v", profile.VideoCodec, "-preset", "veryfast", "-crf", "18",
		"-c:a", profile.AudioCodec, "-ar", strconv.Itoa(profile.AudioSampleRate), "-ac", "2", "-b:a", audioBitrate,
		"-progress", "pipe:1", "-nostats",
		output,
	)
	return args
}

// CompressArgs builds the ffmpeg arguments for the delivery encode. MP4
// output is written with the index up front so clients can range-seek.
func CompressArgs(input, output string, profile media.Profile) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y", "-v", "error", "-i", input,
		"-c:v", profile.VideoCodec, "-preset", profile.Preset, "-crf", strconv.Itoa(profile.CRF),
		"-pix_fmt", profile.PixelFormat,
		"-c:a", profile.AudioCodec, "-b:a", audioBitrate,
	}
	if strings.EqualFold(profile.Container, "mp4") {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-progress", "pipe:1", "-nostats", output)
	return args
}

// ConcatList renders an ffmpeg concat demuxer script.
func ConcatList(inputs []string) string {
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			abs = in
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

func (p *Processor) run(ctx context.Context, args []string, duration float64, progress media.ProgressFunc) error {
	cmd := commandContext(ctx, p.FFmpeg, args...)
	cmd.WaitDelay = waitDelay
	stderr := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	parseProgress(stdout, duration, progress)

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg terminated: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, stderr.String())
	}
	if progress != nil {
		progress(100)
	}
	return nil
}

// parseProgress reads "-progress pipe:1" key=value blocks and reports
// out_time as a percentage of duration.
func parseProgress(r io.Reader, duration float64, progress media.ProgressFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if progress == nil || duration <= 0 {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// ffmpeg reports out_time_ms in microseconds as well.
			micros, err := strconv.ParseInt(value, 10, 64)
			if err != nil || micros < 0 {
				continue
			}
			pct := float64(micros) / 1e6 / duration * 100
			progress(min(pct, 99.9))
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

var (
	_ media.Processor = (*Processor)(nil)
	_ media.Encoder   = (*Processor)(nil)
)
