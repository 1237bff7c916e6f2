package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"triad/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndDerivesWorkers(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("TRIAD_API_TOKEN", "secret-token")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "triad", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	if cfg.API.Token != "secret-token" {
		t.Fatalf("expected token from env, got %q", cfg.API.Token)
	}
	if cfg.API.PublicBaseURL != "http://127.0.0.1:7590" {
		t.Fatalf("unexpected public base url: %q", cfg.API.PublicBaseURL)
	}
	if cfg.Queue.Workers <= 0 || cfg.Queue.CompressionSlots <= 0 {
		t.Fatalf("expected derived worker counts, got %d/%d", cfg.Queue.Workers, cfg.Queue.CompressionSlots)
	}
	if cfg.Queue.CompressionSlots > cfg.Queue.Workers {
		t.Fatalf("compression slots %d exceed workers %d", cfg.Queue.CompressionSlots, cfg.Queue.Workers)
	}
	if cfg.Merge.MaxRetries != 2 {
		t.Fatalf("expected default retry ceiling 2, got %d", cfg.Merge.MaxRetries)
	}
	if cfg.StageTimeout() != 10*time.Minute {
		t.Fatalf("unexpected stage timeout %s", cfg.StageTimeout())
	}
	if cfg.StuckThreshold() != 30*time.Minute {
		t.Fatalf("unexpected stuck threshold %s", cfg.StuckThreshold())
	}
	if cfg.DatabasePath() != filepath.Join(tempHome, ".local", "share", "triad", "state", "triad.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
}

func TestLoadCustomConfigFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "config.toml")
	content := `
[paths]
staging_dir = "~/staging"

[upload]
default_chunk_kb = 512
allowed_content_types = ["VIDEO/MP4", "video/mp4", " "]

[merge]
max_retries = 4
encoder = "DRAPTO"
container = "mkv"

[queue]
workers = 4
compression_slots = 2

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StagingDir != filepath.Join(tempHome, "staging") {
		t.Fatalf("unexpected staging dir %q", cfg.Paths.StagingDir)
	}
	if len(cfg.Upload.AllowedContentTypes) != 1 || cfg.Upload.AllowedContentTypes[0] != "video/mp4" {
		t.Fatalf("expected deduplicated content types, got %v", cfg.Upload.AllowedContentTypes)
	}
	if cfg.Merge.Encoder != config.EncoderDrapto {
		t.Fatalf("expected drapto encoder, got %q", cfg.Merge.Encoder)
	}
	if cfg.Queue.Workers != 4 || cfg.Queue.CompressionSlots != 2 {
		t.Fatalf("unexpected queue settings %+v", cfg.Queue)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging settings %+v", cfg.Logging)
	}
}

func TestValidateRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"chunk larger than max", func(c *config.Config) { c.Upload.DefaultChunkKiB = c.Upload.MaxChunkKiB + 1 }, "default_chunk_kb"},
		{"negative retries", func(c *config.Config) { c.Merge.MaxRetries = -1 }, "max_retries"},
		{"odd width", func(c *config.Config) { c.Merge.Width = 721 }, "even"},
		{"upload weight", func(c *config.Config) { c.Merge.UploadWeight = 1 }, "upload_weight"},
		{"slots exceed workers", func(c *config.Config) { c.Queue.Workers = 1; c.Queue.CompressionSlots = 2 }, "compression_slots"},
		{"s3 without bucket", func(c *config.Config) { c.Storage.Backend = config.StorageS3 }, "s3_bucket"},
		{"drapto needs mkv", func(c *config.Config) { c.Merge.Encoder = config.EncoderDrapto }, "mkv"},
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "tape" }, "storage.backend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Queue.Workers = 4
			cfg.Queue.CompressionSlots = 2
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestSampleConfigParsesAndValidates(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(tempHome, "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}
