package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	StateDir   string `toml:"state_dir"`
}

// API contains HTTP listener configuration.
type API struct {
	Bind            string `toml:"bind"`
	Token           string `toml:"token"`
	PublicBaseURL   string `toml:"public_base_url"`
	MaxChunkBodyMiB int    `toml:"max_chunk_body_mb"`
}

// Upload contains limits for chunked statement uploads.
type Upload struct {
	MaxFileMiB          int      `toml:"max_file_mb"`
	MaxDurationSeconds  float64  `toml:"max_duration_seconds"`
	DefaultChunkKiB     int      `toml:"default_chunk_kb"`
	MaxChunkKiB         int      `toml:"max_chunk_kb"`
	MaxChunks           int      `toml:"max_chunks"`
	SessionTTLSeconds   int      `toml:"session_ttl_seconds"`
	SweepIntervalSecs   int      `toml:"sweep_interval_seconds"`
	AllowedContentTypes []string `toml:"allowed_content_types"`
}

// Merge contains the merge pipeline encoding profile and retry policy.
type Merge struct {
	MaxRetries               int     `toml:"max_retries"`
	StageTimeoutSeconds      int     `toml:"stage_timeout_seconds"`
	UploadWeight             float64 `toml:"upload_weight"`
	Width                    int     `toml:"width"`
	Height                   int     `toml:"height"`
	FrameRate                int     `toml:"frame_rate"`
	PixelFormat              string  `toml:"pixel_format"`
	VideoCodec               string  `toml:"video_codec"`
	AudioCodec               string  `toml:"audio_codec"`
	AudioSampleRate          int     `toml:"audio_sample_rate"`
	CRF                      int     `toml:"crf"`
	Preset                   string  `toml:"preset"`
	Container                string  `toml:"container"`
	Encoder                  string  `toml:"encoder"`
	DurationToleranceSeconds float64 `toml:"duration_tolerance_seconds"`
	FFmpegBinary             string  `toml:"ffmpeg_binary"`
	FFprobeBinary            string  `toml:"ffprobe_binary"`
}

// Queue contains worker pool and governor configuration.
type Queue struct {
	Workers                  int `toml:"workers"`
	CompressionSlots         int `toml:"compression_slots"`
	StuckMultiplier          int `toml:"stuck_multiplier"`
	StuckScanIntervalSeconds int `toml:"stuck_scan_interval_seconds"`
}

// Storage contains artifact object storage configuration.
type Storage struct {
	Backend           string `toml:"backend"`
	FilesystemDir     string `toml:"filesystem_dir"`
	SigningKey        string `toml:"signing_key"`
	S3Bucket          string `toml:"s3_bucket"`
	S3Region          string `toml:"s3_region"`
	S3Endpoint        string `toml:"s3_endpoint"`
	S3Prefix          string `toml:"s3_prefix"`
	S3PathStyle       bool   `toml:"s3_path_style"`
	S3AccessKeyID     string `toml:"s3_access_key_id"`
	S3SecretAccessKey string `toml:"s3_secret_access_key"`
	PartSizeMiB       int    `toml:"part_size_mb"`
	RetryAttempts     int    `toml:"retry_attempts"`
	RetryBaseDelayMS  int    `toml:"retry_base_delay_ms"`
	URLTTLSeconds     int    `toml:"url_ttl_seconds"`
}

// Monitor contains health and alert thresholds.
type Monitor struct {
	IntervalSeconds        int     `toml:"interval_seconds"`
	ErrorRateWindowSeconds int     `toml:"error_rate_window_seconds"`
	ErrorRateThreshold     float64 `toml:"error_rate_threshold"`
	ErrorRateMinEvents     int     `toml:"error_rate_min_events"`
	SlowStageSeconds       int     `toml:"slow_stage_seconds"`
	StuckUploadSeconds     int     `toml:"stuck_upload_seconds"`
	MinFreeDiskMiB         int     `toml:"min_free_disk_mb"`
	AlertDedupSeconds      int     `toml:"alert_dedup_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Alerts         bool   `toml:"alerts"`
	MergeCompleted bool   `toml:"merge_completed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for triad.
//
// Configuration sections by subsystem:
//   - Paths: staging, log, and state directories
//   - API: HTTP bind address and optional bearer token
//   - Upload: chunk sizing, limits, and session TTL
//   - Merge: encoding profile, stage timeout, retry ceiling
//   - Queue: worker count, compression slots, stuck detection
//   - Storage: artifact object storage (filesystem or S3)
//   - Monitor: alert thresholds
//   - Notifications: ntfy alert delivery
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Upload        Upload        `toml:"upload"`
	Merge         Merge         `toml:"merge"`
	Queue         Queue         `toml:"queue"`
	Storage       Storage       `toml:"storage"`
	Monitor       Monitor       `toml:"monitor"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/triad/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("triad.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StagingDir, c.Paths.LogDir, c.Paths.StateDir}
	if c.Storage.Backend == StorageFilesystem {
		dirs = append(dirs, c.Storage.FilesystemDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "triad.db")
}

// UploadStagingDir returns the directory holding partially uploaded statement files.
func (c *Config) UploadStagingDir() string {
	return filepath.Join(c.Paths.StagingDir, "uploads")
}

// JobStagingDir returns the directory holding per-job working files.
func (c *Config) JobStagingDir() string {
	return filepath.Join(c.Paths.StagingDir, "jobs")
}

// StageTimeout returns the per-stage time box.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Merge.StageTimeoutSeconds) * time.Second
}

// StuckThreshold returns how long a stage may go without advancing before the
// job is forced into failure.
func (c *Config) StuckThreshold() time.Duration {
	return time.Duration(c.Queue.StuckMultiplier) * c.StageTimeout()
}

// SessionTTL returns the upload session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Upload.SessionTTLSeconds) * time.Second
}

// MaxFileBytes returns the upload size ceiling in bytes.
func (c *Config) MaxFileBytes() int64 {
	return int64(c.Upload.MaxFileMiB) << 20
}

// FFmpegBinary returns the ffmpeg executable used for merging.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Merge.FFmpegBinary); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable used for media analysis.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.Merge.FFprobeBinary); bin != "" {
		return bin
	}
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
