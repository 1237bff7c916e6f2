package config

// Storage backends.
const (
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

// Compression encoders.
const (
	EncoderFFmpeg = "ffmpeg"
	EncoderDrapto = "drapto"
)

const (
	defaultStagingDir              = "~/.local/share/triad/staging"
	defaultLogDir                  = "~/.local/share/triad/logs"
	defaultStateDir                = "~/.local/share/triad/state"
	defaultObjectDir               = "~/.local/share/triad/objects"
	defaultAPIBind                 = "127.0.0.1:7590"
	defaultMaxChunkBodyMiB         = 16
	defaultMaxFileMiB              = 512
	defaultMaxDurationSeconds      = 120.0
	defaultChunkKiB                = 1024
	defaultMaxChunkKiB             = 8192
	defaultMaxChunks               = 2000
	defaultSessionTTLSeconds       = 24 * 60 * 60
	defaultSweepIntervalSeconds    = 300
	defaultMaxRetries              = 2
	defaultStageTimeoutSeconds     = 600
	defaultUploadWeight            = 0.7
	defaultWidth                   = 1080
	defaultHeight                  = 1920
	defaultFrameRate               = 30
	defaultPixelFormat             = "yuv420p"
	defaultVideoCodec              = "libx264"
	defaultAudioCodec              = "aac"
	defaultAudioSampleRate         = 48000
	defaultCRF                     = 23
	defaultPreset                  = "medium"
	defaultContainer               = "mp4"
	defaultDurationTolerance       = 0.1
	defaultStuckMultiplier         = 3
	defaultStuckScanSeconds        = 30
	defaultPartSizeMiB             = 8
	defaultRetryAttempts           = 4
	defaultRetryBaseDelayMS        = 500
	defaultURLTTLSeconds           = 3600
	defaultMonitorIntervalSeconds  = 30
	defaultErrorRateWindowSeconds  = 900
	defaultErrorRateThreshold      = 0.25
	defaultErrorRateMinEvents      = 4
	defaultSlowStageSeconds        = 300
	defaultStuckUploadSeconds      = 6 * 60 * 60
	defaultMinFreeDiskMiB          = 2048
	defaultAlertDedupSeconds       = 600
	defaultNotifyRequestTimeout    = 10
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultS3Region                = "us-east-1"
	defaultS3Prefix                = "merges"
	defaultNotificationsAlerts     = true
	defaultNotificationsMergeReady = false
)

var defaultAllowedContentTypes = []string{"video/mp4", "video/quicktime", "video/webm", "video/x-matroska"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			StateDir:   defaultStateDir,
		},
		API: API{
			Bind:            defaultAPIBind,
			MaxChunkBodyMiB: defaultMaxChunkBodyMiB,
		},
		Upload: Upload{
			MaxFileMiB:          defaultMaxFileMiB,
			MaxDurationSeconds:  defaultMaxDurationSeconds,
			DefaultChunkKiB:     defaultChunkKiB,
			MaxChunkKiB:         defaultMaxChunkKiB,
			MaxChunks:           defaultMaxChunks,
			SessionTTLSeconds:   defaultSessionTTLSeconds,
			SweepIntervalSecs:   defaultSweepIntervalSeconds,
			AllowedContentTypes: append([]string(nil), defaultAllowedContentTypes...),
		},
		Merge: Merge{
			MaxRetries:               defaultMaxRetries,
			StageTimeoutSeconds:      defaultStageTimeoutSeconds,
			UploadWeight:             defaultUploadWeight,
			Width:                    defaultWidth,
			Height:                   defaultHeight,
			FrameRate:                defaultFrameRate,
			PixelFormat:              defaultPixelFormat,
			VideoCodec:               defaultVideoCodec,
			AudioCodec:               defaultAudioCodec,
			AudioSampleRate:          defaultAudioSampleRate,
			CRF:                      defaultCRF,
			Preset:                   defaultPreset,
			Container:                defaultContainer,
			Encoder:                  EncoderFFmpeg,
			DurationToleranceSeconds: defaultDurationTolerance,
		},
		Queue: Queue{
			StuckMultiplier:          defaultStuckMultiplier,
			StuckScanIntervalSeconds: defaultStuckScanSeconds,
		},
		Storage: Storage{
			Backend:          StorageFilesystem,
			FilesystemDir:    defaultObjectDir,
			S3Region:         defaultS3Region,
			S3Prefix:         defaultS3Prefix,
			PartSizeMiB:      defaultPartSizeMiB,
			RetryAttempts:    defaultRetryAttempts,
			RetryBaseDelayMS: defaultRetryBaseDelayMS,
			URLTTLSeconds:    defaultURLTTLSeconds,
		},
		Monitor: Monitor{
			IntervalSeconds:        defaultMonitorIntervalSeconds,
			ErrorRateWindowSeconds: defaultErrorRateWindowSeconds,
			ErrorRateThreshold:     defaultErrorRateThreshold,
			ErrorRateMinEvents:     defaultErrorRateMinEvents,
			SlowStageSeconds:       defaultSlowStageSeconds,
			StuckUploadSeconds:     defaultStuckUploadSeconds,
			MinFreeDiskMiB:         defaultMinFreeDiskMiB,
			AlertDedupSeconds:      defaultAlertDedupSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Alerts:         defaultNotificationsAlerts,
			MergeCompleted: defaultNotificationsMergeReady,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
