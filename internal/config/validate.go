package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateMerge(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateMonitor(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUpload() error {
	if err := ensurePositiveMap(map[string]int{
		"upload.max_file_mb":            c.Upload.MaxFileMiB,
		"upload.default_chunk_kb":       c.Upload.DefaultChunkKiB,
		"upload.max_chunk_kb":           c.Upload.MaxChunkKiB,
		"upload.max_chunks":             c.Upload.MaxChunks,
		"upload.session_ttl_seconds":    c.Upload.SessionTTLSeconds,
		"upload.sweep_interval_seconds": c.Upload.SweepIntervalSecs,
		"api.max_chunk_body_mb":         c.API.MaxChunkBodyMiB,
	}); err != nil {
		return err
	}
	if c.Upload.MaxDurationSeconds <= 0 {
		return errors.New("upload.max_duration_seconds must be positive")
	}
	if c.Upload.DefaultChunkKiB > c.Upload.MaxChunkKiB {
		return errors.New("upload.default_chunk_kb must not exceed upload.max_chunk_kb")
	}
	if c.Upload.MaxChunkKiB > c.API.MaxChunkBodyMiB*1024 {
		return errors.New("upload.max_chunk_kb must fit within api.max_chunk_body_mb")
	}
	return nil
}

func (c *Config) validateMerge() error {
	if c.Merge.MaxRetries < 0 {
		return errors.New("merge.max_retries must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"merge.stage_timeout_seconds": c.Merge.StageTimeoutSeconds,
		"merge.width":                 c.Merge.Width,
		"merge.height":                c.Merge.Height,
		"merge.frame_rate":            c.Merge.FrameRate,
		"merge.audio_sample_rate":     c.Merge.AudioSampleRate,
	}); err != nil {
		return err
	}
	if c.Merge.Width%2 != 0 || c.Merge.Height%2 != 0 {
		return errors.New("merge.width and merge.height must be even")
	}
	if c.Merge.UploadWeight <= 0 || c.Merge.UploadWeight >= 1 {
		return errors.New("merge.upload_weight must be between 0 and 1 (exclusive)")
	}
	if c.Merge.CRF < 0 || c.Merge.CRF > 63 {
		return errors.New("merge.crf must be between 0 and 63")
	}
	if c.Merge.DurationToleranceSeconds < 0 {
		return errors.New("merge.duration_tolerance_seconds must be >= 0")
	}
	switch c.Merge.Encoder {
	case EncoderFFmpeg, EncoderDrapto:
	default:
		return fmt.Errorf("merge.encoder: unsupported value %q", c.Merge.Encoder)
	}
	switch c.Merge.Container {
	case "mp4", "mkv":
	default:
		return fmt.Errorf("merge.container: unsupported value %q", c.Merge.Container)
	}
	if c.Merge.Encoder == EncoderDrapto && c.Merge.Container != "mkv" {
		return errors.New("merge.container must be mkv when merge.encoder is drapto")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if err := ensurePositiveMap(map[string]int{
		"queue.workers":                     c.Queue.Workers,
		"queue.compression_slots":           c.Queue.CompressionSlots,
		"queue.stuck_multiplier":            c.Queue.StuckMultiplier,
		"queue.stuck_scan_interval_seconds": c.Queue.StuckScanIntervalSeconds,
	}); err != nil {
		return err
	}
	if c.Queue.CompressionSlots > c.Queue.Workers {
		return errors.New("queue.compression_slots must not exceed queue.workers")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if err := ensurePositiveMap(map[string]int{
		"storage.part_size_mb":        c.Storage.PartSizeMiB,
		"storage.retry_attempts":      c.Storage.RetryAttempts,
		"storage.retry_base_delay_ms": c.Storage.RetryBaseDelayMS,
		"storage.url_ttl_seconds":     c.Storage.URLTTLSeconds,
	}); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case StorageFilesystem:
		if c.Storage.FilesystemDir == "" {
			return errors.New("storage.filesystem_dir must be set when storage.backend is filesystem")
		}
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			return errors.New("storage.s3_bucket must be set when storage.backend is s3 (or set TRIAD_S3_BUCKET)")
		}
		if c.Storage.PartSizeMiB < 5 {
			return errors.New("storage.part_size_mb must be at least 5 for s3 multipart uploads")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateMonitor() error {
	if err := ensurePositiveMap(map[string]int{
		"monitor.interval_seconds":          c.Monitor.IntervalSeconds,
		"monitor.error_rate_window_seconds": c.Monitor.ErrorRateWindowSeconds,
		"monitor.slow_stage_seconds":        c.Monitor.SlowStageSeconds,
		"monitor.stuck_upload_seconds":      c.Monitor.StuckUploadSeconds,
		"monitor.alert_dedup_seconds":       c.Monitor.AlertDedupSeconds,
		"notifications.request_timeout":     c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Monitor.ErrorRateThreshold <= 0 || c.Monitor.ErrorRateThreshold > 1 {
		return errors.New("monitor.error_rate_threshold must be between 0 and 1")
	}
	if c.Monitor.MinFreeDiskMiB < 0 {
		return errors.New("monitor.min_free_disk_mb must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
