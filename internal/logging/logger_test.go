package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"triad/internal/config"
	"triad/internal/logging"
	"triad/internal/services"
)

func TestConsoleLoggerLiftsSubject(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger = logging.NewComponentLogger(logger, "workflow")
	logger.Info("stage completed",
		logging.String(logging.FieldMergeSessionID, "ms-1"),
		logging.String(logging.FieldStage, "analysis"),
		logging.Int("attempt", 1),
	)

	line := buf.String()
	for _, want := range []string{"INFO workflow: stage completed", "[ms-1/analysis]", "attempt=1"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "merge_session_id=") {
		t.Fatalf("expected merge session to be lifted into the subject, got %q", line)
	}
}

func TestConsoleLoggerQuotesValues(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("chunk received", logging.String("filename", "my statement.mp4"))
	if !strings.Contains(buf.String(), `filename="my statement.mp4"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestConsoleLoggerSourceOnlyForDebug(t *testing.T) {
	var info bytes.Buffer
	logger, _ := logging.New(logging.Options{Level: "info", Writer: &info})
	logger.Info("no caller")
	if strings.Contains(info.String(), ".go:") {
		t.Fatalf("expected no caller in info logs, got %q", info.String())
	}

	var debug bytes.Buffer
	logger, _ = logging.New(logging.Options{Level: "debug", Writer: &debug})
	logger.Info("with caller")
	if !strings.Contains(debug.String(), ".go:") {
		t.Fatalf("expected caller in debug logs, got %q", debug.String())
	}
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("json message", logging.String("k", "v"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["level"] != "warn" || record["msg"] != "json message" || record["k"] != "v" {
		t.Fatalf("unexpected record: %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "loud", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "json"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("to file", logging.String(logging.FieldJobID, "job-1"))

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"job_id":"job-1"`) {
		t.Fatalf("expected job id in log file, got %q", data)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithMergeSessionID(ctx, "ms-9")
	ctx = services.WithJobID(ctx, "job-3")
	ctx = services.WithStage(ctx, "merging")
	ctx = services.WithRequestID(ctx, "req-xyz")

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	logging.WithContext(ctx, base).Info("contextual log")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	want := map[string]string{
		logging.FieldMergeSessionID: "ms-9",
		logging.FieldJobID:          "job-3",
		logging.FieldStage:          "merging",
		logging.FieldCorrelationID:  "req-xyz",
	}
	for key, value := range want {
		if record[key] != value {
			t.Fatalf("field %s = %v, want %q", key, record[key], value)
		}
	}
	if _, ok := record[logging.FieldUploadSessionID]; ok {
		t.Fatal("did not expect upload session id")
	}
}

func TestErrorAttrsClassifies(t *testing.T) {
	err := services.Wrap(services.KindStorage, "storage_upload", "put", "upload failed", errors.New("boom"))
	attrs := logging.ErrorAttrs(err)
	got := map[string]string{}
	for _, attr := range attrs {
		got[attr.Key] = attr.Value.String()
	}
	if got[logging.FieldErrorCode] != services.KindStorage.Code() {
		t.Fatalf("error_code = %q", got[logging.FieldErrorCode])
	}
	if got[logging.FieldStage] != "storage_upload" {
		t.Fatalf("stage = %q", got[logging.FieldStage])
	}
	if logging.ErrorAttrs(nil) != nil {
		t.Fatal("expected no attrs for nil error")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logging.WarnWithContext(logger, "disk low", "disk_low", logging.String(logging.FieldImpact, "merges may fail"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record[logging.FieldEventType] != "disk_low" {
		t.Fatalf("event_type = %v", record[logging.FieldEventType])
	}
	if record[logging.FieldErrorHint] == nil {
		t.Fatal("expected default error_hint")
	}
	if record[logging.FieldImpact] != "merges may fail" {
		t.Fatalf("impact overridden: %v", record[logging.FieldImpact])
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("expected nop logger to be disabled")
	}
	logging.NewComponentLogger(nil, "x").Info("ignored")
}
