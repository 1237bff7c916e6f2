package drapto

import (
	"fmt"
	"log/slog"
	"sync"

	draptolib "github.com/five82/drapto"

	"triad/internal/logging"
	"triad/internal/media"
)

// reporter adapts Drapto's Reporter callbacks to a percent callback and
// sampled log lines.
type reporter struct {
	logger   *slog.Logger
	progress media.ProgressFunc
	sampler  *logging.ProgressSampler

	mu      sync.Mutex
	lastErr string
}

func newReporter(logger *slog.Logger, progress media.ProgressFunc) *reporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &reporter{logger: logger, progress: progress, sampler: logging.NewProgressSampler(10)}
}

func (r *reporter) report(stage string, percent float64) {
	if r.progress != nil {
		r.progress(percent)
	}
	if r.sampler.ShouldLog(stage, percent) {
		r.logger.Debug("drapto progress", logging.String("drapto_stage", stage), logging.Float64("percent", percent))
	}
}

func (r *reporter) lastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *reporter) Hardware(s draptolib.HardwareSummary) {
	r.logger.Debug("drapto hardware", logging.Any("hostname", s.Hostname))
}

func (r *reporter) Initialization(s draptolib.InitializationSummary) {
	r.logger.Info("drapto encode initialized",
		logging.Any("input", s.InputFile),
		logging.Any("resolution", s.Resolution),
		logging.Any("dynamic_range", s.DynamicRange),
	)
}

func (r *reporter) StageProgress(s draptolib.StageProgress) {
	r.report(s.Stage, float64(s.Percent))
}

func (r *reporter) CropResult(s draptolib.CropSummary) {
	r.logger.Debug("drapto crop detection", logging.Any("crop", s.Crop), logging.Any("required", s.Required))
}

func (r *reporter) EncodingConfig(s draptolib.EncodingConfigSummary) {
	r.logger.Info("drapto encoding config",
		logging.Any("encoder", s.Encoder),
		logging.Any("preset", s.Preset),
		logging.Any("quality", s.Quality),
		logging.Any("audio_codec", s.AudioCodec),
	)
}

func (r *reporter) EncodingStarted(totalFrames uint64) {
	r.logger.Debug("drapto encoding started", logging.Any("total_frames", totalFrames))
}

func (r *reporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	r.report("encoding", float64(s.Percent))
}

func (r *reporter) ValidationComplete(s draptolib.ValidationSummary) {
	if !s.Passed {
		logging.WarnWithContext(r.logger, "drapto validation failed", "drapto_validation",
			logging.String(logging.FieldImpact, "merged artifact may not match the requested profile"),
		)
	}
}

func (r *reporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.logger.Info("drapto encoding complete",
		logging.Any("output", s.OutputFile),
		logging.Any("encoded_size", s.EncodedSize),
	)
}

func (r *reporter) Warning(message string) {
	logging.WarnWithContext(r.logger, "drapto warning", "drapto_warning", logging.String("detail", message))
}

func (r *reporter) Error(e draptolib.ReporterError) {
	r.mu.Lock()
	r.lastErr = fmt.Sprintf("%v: %v", e.Title, e.Message)
	r.mu.Unlock()
	r.logger.Error("drapto error",
		logging.Any("title", e.Title),
		logging.Any("detail", e.Message),
		logging.Any(logging.FieldErrorHint, e.Suggestion),
	)
}

func (r *reporter) OperationComplete(message string) {
	r.logger.Debug("drapto operation complete", logging.String("detail", message))
}

func (r *reporter) BatchStarted(draptolib.BatchStartInfo) {}

func (r *reporter) FileProgress(draptolib.FileProgressContext) {}

func (r *reporter) BatchComplete(draptolib.BatchSummary) {}

var _ draptolib.Reporter = (*reporter)(nil)
