package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestTeeHandlerCollapses(t *testing.T) {
	if _, ok := TeeHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when all handlers are nil")
	}
	inner := slog.NewJSONHandler(&bytes.Buffer{}, nil)
	if TeeHandler(nil, inner) != inner {
		t.Fatal("expected single handler to be returned unwrapped")
	}
}

func TestTeeHandlerRespectsEachLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	info := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(TeeHandler(info, debug)).With("job_id", "j1").WithGroup("probe")
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected tee to be enabled when any handler is")
	}
	logger.Debug("detail", "codec", "h264")
	logger.Info("summary", "codec", "h264")

	if strings.Contains(infoBuf.String(), "detail") {
		t.Fatalf("info handler received debug record: %q", infoBuf.String())
	}
	if strings.Count(debugBuf.String(), "\n") != 2 {
		t.Fatalf("debug handler expected 2 records, got %q", debugBuf.String())
	}
	if !strings.Contains(infoBuf.String(), `"job_id":"j1"`) || !strings.Contains(infoBuf.String(), `"probe":{"codec":"h264"}`) {
		t.Fatalf("attrs or group not propagated: %q", infoBuf.String())
	}
}
