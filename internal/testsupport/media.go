package testsupport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"triad/internal/media"
)

const fakeMagic = "TRIADFAKE"

// FakeVideo renders a synthetic video file: a one-line header describing the
// stream followed by padding bytes. FakeProcessor understands this format.
func FakeVideo(info media.Info, padding int) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s duration=%.6f video=%s audio=%s width=%d height=%d fps=%g pix=%s\n",
		fakeMagic, info.Duration, info.VideoCodec, info.AudioCodec, info.Width, info.Height, info.FrameRate, info.PixelFormat)
	b.Write(PatternBytes(padding))
	return b.Bytes()
}

// FakeStatement returns a plausible portrait clip of the given duration.
func FakeStatement(duration float64, padding int) []byte {
	return FakeVideo(media.Info{
		Duration: duration, VideoCodec: "h264", AudioCodec: "aac",
		Width: 720, Height: 1280, FrameRate: 30, PixelFormat: "yuv420p",
	}, padding)
}

// WriteFakeVideo writes a synthetic video to path.
func WriteFakeVideo(t testing.TB, path string, info media.Info, padding int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, FakeVideo(info, padding), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Fake operation names used for fault injection and call counting.
const (
	OpProbe     = "probe"
	OpNormalize = "normalize"
	OpConcat    = "concat"
	OpCompress  = "compress"
)

// FakeProcessor implements media.Processor and media.Encoder on synthetic
// files without running any external tool. Durations flow through
// normalize/concat/compress deterministically.
type FakeProcessor struct {
	mu     sync.Mutex
	calls  map[string]int
	fail   map[string][]error
	block  map[string]bool
	drift  float64
	active int
	peak   int
	gate   chan struct{}
	delay  time.Duration
}

// NewFakeProcessor constructs an empty fake.
func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{calls: map[string]int{}, fail: map[string][]error{}, block: map[string]bool{}}
}

// FailNext queues errors returned by successive calls to op.
func (f *FakeProcessor) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = append(f.fail[op], errs...)
}

// Block makes op wait until its context ends.
func (f *FakeProcessor) Block(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block[op] = true
}

// SetNormalizeDrift adds seconds to every normalized duration, simulating
// retiming during normalization.
func (f *FakeProcessor) SetNormalizeDrift(seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drift = seconds
}

// HoldCompress makes compress calls wait until ReleaseCompress is called.
func (f *FakeProcessor) HoldCompress() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

// ReleaseCompress unblocks held compress calls.
func (f *FakeProcessor) ReleaseCompress() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// SlowCompress makes every compress call take d.
func (f *FakeProcessor) SlowCompress(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls returns how many times op ran.
func (f *FakeProcessor) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// ActiveCompress returns the number of compress calls currently running.
func (f *FakeProcessor) ActiveCompress() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// PeakCompress returns the highest observed compress concurrency.
func (f *FakeProcessor) PeakCompress() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func (f *FakeProcessor) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	var err error
	if queued := f.fail[op]; len(queued) > 0 {
		err = queued[0]
		f.fail[op] = queued[1:]
	}
	blocked := f.block[op]
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if blocked {
		<-ctx.Done()
		return fmt.Errorf("fake %s terminated: %w", op, ctx.Err())
	}
	return ctx.Err()
}

// Probe parses a synthetic header.
func (f *FakeProcessor) Probe(ctx context.Context, path string) (media.Info, error) {
	if err := f.enter(ctx, OpProbe); err != nil {
		return media.Info{}, err
	}
	return ReadFakeVideo(path)
}

// Normalize rewrites the header to the profile.
func (f *FakeProcessor) Normalize(ctx context.Context, input media.Info, output string, profile media.Profile, progress media.ProgressFunc) error {
	if err := f.enter(ctx, OpNormalize); err != nil {
		return err
	}
	f.mu.Lock()
	drift := f.drift
	f.mu.Unlock()
	if progress != nil {
		progress(50)
	}
	return writeFake(output, media.Info{
		Duration:    input.Duration + drift,
		VideoCodec:  profile.VideoCodec,
		AudioCodec:  profile.AudioCodec,
		Width:       profile.Width,
		Height:      profile.Height,
		FrameRate:   float64(profile.FrameRate),
		PixelFormat: profile.PixelFormat,
	})
}

// Concat sums the input durations.
func (f *FakeProcessor) Concat(ctx context.Context, inputs []string, output string) error {
	if err := f.enter(ctx, OpConcat); err != nil {
		return err
	}
	var combined media.Info
	for i, in := range inputs {
		info, err := ReadFakeVideo(in)
		if err != nil {
			return err
		}
		if i == 0 {
			combined = info
			continue
		}
		combined.Duration += info.Duration
	}
	return writeFake(output, combined)
}

// Compress copies the stream description with the delivery codec.
func (f *FakeProcessor) Compress(ctx context.Context, input media.Info, output string, profile media.Profile, progress media.ProgressFunc) error {
	f.mu.Lock()
	f.active++
	f.peak = max(f.peak, f.active)
	gate := f.gate
	delay := f.delay
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if err := f.enter(ctx, OpCompress); err != nil {
		return err
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	if progress != nil {
		progress(25)
		progress(75)
	}
	info, err := ReadFakeVideo(input.Path)
	if err != nil {
		return err
	}
	info.VideoCodec = profile.VideoCodec
	return writeFake(output, info)
}

func writeFake(path string, info media.Info) error {
	return os.WriteFile(path, FakeVideo(info, 64), 0o644)
}

// ReadFakeVideo parses the header written by FakeVideo.
func ReadFakeVideo(path string) (media.Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return media.Info{}, err
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadString('\n')
	if err != nil || !strings.HasPrefix(line, fakeMagic+" ") {
		return media.Info{}, errors.New("invalid data found when processing input")
	}
	info := media.Info{Path: path, Container: "fake"}
	for _, field := range strings.Fields(strings.TrimPrefix(line, fakeMagic)) {
		key, value, _ := strings.Cut(field, "=")
		switch key {
		case "duration":
			info.Duration, _ = strconv.ParseFloat(value, 64)
		case "video":
			info.VideoCodec = value
		case "audio":
			info.AudioCodec = value
		case "width":
			info.Width, _ = strconv.Atoi(value)
		case "height":
			info.Height, _ = strconv.Atoi(value)
		case "fps":
			info.FrameRate, _ = strconv.ParseFloat(value, 64)
		case "pix":
			info.PixelFormat = value
		}
	}
	if stat, err := file.Stat(); err == nil {
		info.SizeBytes = stat.Size()
	}
	return info, nil
}

var (
	_ media.Processor = (*FakeProcessor)(nil)
	_ media.Encoder   = (*FakeProcessor)(nil)
)
