package ffprobe

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

const sampleJSON = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1080, "height": 1920,
     "pix_fmt": "yuv420p", "avg_frame_rate": "30000/1001", "r_frame_rate": "30/1", "duration": "14.98"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "44100", "channels": 2}
  ],
  "format": {"filename": "in.mov", "nb_streams": 2, "duration": "15.000000", "size": "2048000",
             "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestParseInfo(t *testing.T) {
	result, err := Parse([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	info := result.Info("/tmp/in.mov")
	if info.Duration != 15 {
		t.Fatalf("duration = %v, want 15", info.Duration)
	}
	if info.Container != "mov" || info.VideoCodec != "h264" || info.AudioCodec != "aac" {
		t.Fatalf("unexpected codecs %+v", info)
	}
	if info.Width != 1080 || info.Height != 1920 || info.PixelFormat != "yuv420p" {
		t.Fatalf("unexpected geometry %+v", info)
	}
	if info.FrameRate < 29.96 || info.FrameRate > 29.98 {
		t.Fatalf("frame rate = %v", info.FrameRate)
	}
	if info.SizeBytes != 2048000 || !info.HasAudio() {
		t.Fatalf("unexpected size/audio %+v", info)
	}
}

func TestDurationFallsBackToVideoStream(t *testing.T) {
	result := Result{
		Streams: []Stream{{CodecType: "video", Duration: "12.5"}},
		Format:  Format{Duration: "N/A"},
	}
	if got := result.DurationSeconds(); got != 12.5 {
		t.Fatalf("duration = %v, want 12.5", got)
	}
	if got := (Result{}).DurationSeconds(); got != 0 {
		t.Fatalf("expected 0 for empty result, got %v", got)
	}
}

func TestParseFrameRate(t *testing.T) {
	cases := map[string]float64{"30/1": 30, "25": 25, "0/0": 0, "": 0, "abc/1": 0}
	for input, want := range cases {
		if got := ParseFrameRate(input); got != want {
			t.Fatalf("ParseFrameRate(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestInspectRunsBinary(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "ffprobe")
	payload := filepath.Join(dir, "out.json")
	if err := os.WriteFile(payload, []byte(sampleJSON), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	script := "#!/bin/sh\ncat " + payload + "\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	result, err := Inspect(context.Background(), stub, "/tmp/in.mov")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if v, ok := result.VideoStream(); !ok || v.CodecName != "h264" {
		t.Fatalf("unexpected video stream %+v", v)
	}

	if _, err := Inspect(context.Background(), stub, "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
