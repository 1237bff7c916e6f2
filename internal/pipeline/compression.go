package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"triad/internal/config"
	"triad/internal/logging"
	"triad/internal/media"
	"triad/internal/segment"
	"triad/internal/services"
	"triad/internal/stage"
)

// Slots limits how many compressions run at once.
type Slots interface {
	Acquire(ctx context.Context) (func(), error)
}

// Compressor re-encodes the concatenated stream to the delivery profile. It
// is the only stage gated by the compression governor.
type Compressor struct {
	encoder   media.Encoder
	prober    media.Processor
	slots     Slots
	tolerance float64
	logger    *slog.Logger
}

// NewCompressor constructs the compression stage.
func NewCompressor(cfg *config.Config, encoder media.Encoder, prober media.Processor, slots Slots, logger *slog.Logger) *Compressor {
	return &Compressor{
		encoder:   encoder,
		prober:    prober,
		slots:     slots,
		tolerance: cfg.Merge.DurationToleranceSeconds,
		logger:    logging.NewComponentLogger(orNop(logger), "compressor"),
	}
}

// Admit implements stage.Gated. It parks the job on the compression governor
// until a slot is free.
func (c *Compressor) Admit(ctx context.Context, run *stage.Run) (func(), error) {
	waitStart := time.Now()
	run.SetWaiting(true)
	release, err := c.slots.Acquire(ctx)
	run.SetWaiting(false)
	if err != nil {
		return nil, err
	}
	if waited := time.Since(waitStart); waited > time.Second {
		logging.WithContext(ctx, c.logger).Info("compression slot acquired",
			logging.String(logging.FieldEventType, "compression_slot_acquired"),
			logging.Duration("waited", waited),
		)
	}
	return release, nil
}

// Execute implements stage.Handler. The caller holds a slot from Admit.
func (c *Compressor) Execute(ctx context.Context, run *stage.Run) error {
	if run.Concat.Path == "" || len(run.Segments) == 0 {
		return services.Wrap(services.KindProcessing, stage.Compression, "collect inputs", "concatenated stream missing", nil)
	}
	logger := logging.WithContext(ctx, c.logger)

	out := run.CompressedPath()
	if err := c.encoder.Compress(ctx, run.Concat, out, run.Profile, run.ReportProgress); err != nil {
		return stageError(services.KindProcessing, stage.Compression, "compress", "compression failed", err)
	}
	info, err := c.prober.Probe(ctx, out)
	if err != nil {
		return stageError(services.KindProcessing, stage.Compression, "probe output", "compressed output unreadable", err)
	}
	total := segment.Total(run.Segments)
	if drift := math.Abs(info.Duration - total); drift > c.tolerance {
		return services.WithFields(
			services.Wrap(services.KindProcessing, stage.Compression, "verify duration",
				fmt.Sprintf("compressed stream is %.3fs, segments end at %.3fs", info.Duration, total), nil),
			map[string]any{"drift_seconds": drift},
		)
	}
	run.Compressed = info

	logger.Info("artifact compressed",
		logging.String(logging.FieldEventType, "merge_compressed"),
		logging.Int64("input_bytes", run.Concat.SizeBytes),
		logging.Int64("output_bytes", info.SizeBytes),
		logging.String("video_codec", info.VideoCodec),
	)
	return nil
}

// HealthCheck implements stage.Handler.
func (c *Compressor) HealthCheck(context.Context) stage.Health {
	switch {
	case c.encoder == nil:
		return stage.Unhealthy(stage.Compression, "encoder unavailable")
	case c.slots == nil:
		return stage.Unhealthy(stage.Compression, "compression governor unavailable")
	}
	return stage.Healthy(stage.Compression)
}
