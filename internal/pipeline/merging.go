package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"triad/internal/config"
	"triad/internal/logging"
	"triad/internal/media"
	"triad/internal/segment"
	"triad/internal/services"
	"triad/internal/stage"
)

// Merger concatenates the normalized statements in statement order and
// computes segment boundaries from their measured durations.
type Merger struct {
	processor media.Processor
	tolerance float64
	logger    *slog.Logger
}

// NewMerger constructs the merging stage.
func NewMerger(cfg *config.Config, processor media.Processor, logger *slog.Logger) *Merger {
	return &Merger{
		processor: processor,
		tolerance: cfg.Merge.DurationToleranceSeconds,
		logger:    logging.NewComponentLogger(orNop(logger), "merger"),
	}
}

// Execute implements stage.Handler.
func (m *Merger) Execute(ctx context.Context, run *stage.Run) error {
	if len(run.Normalized) == 0 {
		return services.Wrap(services.KindProcessing, stage.Merging, "collect inputs", "normalized statements missing", nil)
	}
	segs, err := segment.Compute(run.Durations())
	if err != nil {
		return services.Wrap(services.KindProcessing, stage.Merging, "compute segments", "invalid normalized duration", err)
	}

	inputs := make([]string, len(run.Normalized))
	for i, info := range run.Normalized {
		inputs[i] = info.Path
	}
	out := run.ConcatPath()
	if err := m.processor.Concat(ctx, inputs, out); err != nil {
		return stageError(services.KindProcessing, stage.Merging, "concat", "concatenation failed", err)
	}
	run.ReportProgress(80)

	concat, err := m.processor.Probe(ctx, out)
	if err != nil {
		return stageError(services.KindProcessing, stage.Merging, "probe concat", "concatenated output unreadable", err)
	}
	summed := segment.Total(segs)
	if drift := math.Abs(concat.Duration - summed); drift > m.tolerance {
		return services.WithFields(
			services.Wrap(services.KindProcessing, stage.Merging, "verify duration",
				fmt.Sprintf("concatenated stream is %.3fs, statements sum to %.3fs", concat.Duration, summed), nil),
			map[string]any{"drift_seconds": drift},
		)
	}
	segs = segment.Rescale(segs, concat.Duration)
	if err := segment.Validate(segs, concat.Duration, segment.DefaultEpsilon); err != nil {
		return services.Wrap(services.KindProcessing, stage.Merging, "validate segments", err.Error(), nil)
	}
	run.Concat = concat
	run.Segments = segs

	logging.WithContext(ctx, m.logger).Info("statements concatenated",
		logging.String(logging.FieldEventType, "merge_concatenated"),
		logging.Float64("total_seconds", concat.Duration),
		logging.Any("segments", segs),
	)
	return nil
}

// HealthCheck implements stage.Handler.
func (m *Merger) HealthCheck(context.Context) stage.Health {
	if m.processor == nil {
		return stage.Unhealthy(stage.Merging, "media processor unavailable")
	}
	return stage.Healthy(stage.Merging)
}
