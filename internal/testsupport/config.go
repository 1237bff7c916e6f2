package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"triad/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test
// and small, fast limits. It applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Storage.FilesystemDir = filepath.Join(base, "objects")
	cfgVal.Storage.SigningKey = "test-signing-key"
	cfgVal.Storage.RetryBaseDelayMS = 1
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.API.PublicBaseURL = "http://triad.test"
	cfgVal.Queue.Workers = 2
	cfgVal.Queue.CompressionSlots = 1
	cfgVal.Monitor.MinFreeDiskMiB = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithChunkKiB sets the default chunk size.
func WithChunkKiB(kib int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.DefaultChunkKiB = kib
	}
}

// WithMaxRetries sets the merge retry ceiling.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Merge.MaxRetries = n
	}
}

// WithStageTimeoutSeconds sets the per-stage time box.
func WithStageTimeoutSeconds(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Merge.StageTimeoutSeconds = seconds
	}
}

// WithAPIToken requires a bearer token on the API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(binDir, name), script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
