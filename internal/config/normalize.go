package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeUpload()
	c.normalizeMerge()
	c.normalizeQueue()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("TRIAD_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	c.API.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.API.PublicBaseURL), "/")
	if c.API.PublicBaseURL == "" && c.API.Bind != "" {
		c.API.PublicBaseURL = "http://" + c.API.Bind
	}
	if c.API.MaxChunkBodyMiB <= 0 {
		c.API.MaxChunkBodyMiB = defaultMaxChunkBodyMiB
	}
}

func (c *Config) normalizeUpload() {
	types := make([]string, 0, len(c.Upload.AllowedContentTypes))
	seen := make(map[string]struct{}, len(c.Upload.AllowedContentTypes))
	for _, value := range c.Upload.AllowedContentTypes {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		types = append(types, normalized)
	}
	if len(types) == 0 {
		types = append(types, defaultAllowedContentTypes...)
	}
	c.Upload.AllowedContentTypes = types
}

func (c *Config) normalizeMerge() {
	c.Merge.Encoder = strings.ToLower(strings.TrimSpace(c.Merge.Encoder))
	if c.Merge.Encoder == "" {
		c.Merge.Encoder = EncoderFFmpeg
	}
	c.Merge.Container = strings.ToLower(strings.TrimSpace(c.Merge.Container))
	if c.Merge.Container == "" {
		c.Merge.Container = defaultContainer
	}
	c.Merge.PixelFormat = strings.TrimSpace(c.Merge.PixelFormat)
	c.Merge.VideoCodec = strings.TrimSpace(c.Merge.VideoCodec)
	c.Merge.AudioCodec = strings.TrimSpace(c.Merge.AudioCodec)
	c.Merge.Preset = strings.TrimSpace(c.Merge.Preset)
	c.Merge.FFmpegBinary = strings.TrimSpace(c.Merge.FFmpegBinary)
	c.Merge.FFprobeBinary = strings.TrimSpace(c.Merge.FFprobeBinary)
}

func (c *Config) normalizeQueue() {
	cpus := runtime.NumCPU()
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = max(2, cpus)
	}
	if c.Queue.CompressionSlots <= 0 {
		c.Queue.CompressionSlots = max(1, cpus/2)
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageFilesystem
	}
	var err error
	if strings.TrimSpace(c.Storage.FilesystemDir) == "" {
		c.Storage.FilesystemDir = defaultObjectDir
	}
	if c.Storage.FilesystemDir, err = expandPath(c.Storage.FilesystemDir); err != nil {
		return fmt.Errorf("storage.filesystem_dir: %w", err)
	}
	if c.Storage.SigningKey == "" {
		if value, ok := os.LookupEnv("TRIAD_SIGNING_KEY"); ok {
			c.Storage.SigningKey = strings.TrimSpace(value)
		}
	}
	if c.Storage.S3Bucket == "" {
		if value, ok := os.LookupEnv("TRIAD_S3_BUCKET"); ok {
			c.Storage.S3Bucket = strings.TrimSpace(value)
		}
	}
	if value, ok := os.LookupEnv("AWS_REGION"); ok && strings.TrimSpace(value) != "" && c.Storage.S3Region == defaultS3Region {
		c.Storage.S3Region = strings.TrimSpace(value)
	}
	c.Storage.S3Prefix = strings.Trim(strings.TrimSpace(c.Storage.S3Prefix), "/")
	c.Storage.S3Endpoint = strings.TrimSpace(c.Storage.S3Endpoint)
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
