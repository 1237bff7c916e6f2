package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"triad/internal/config"
	"triad/internal/logging"
	"triad/internal/media"
	"triad/internal/services"
	"triad/internal/stage"
	"triad/internal/store"
)

// Analyzer probes every statement and rejects files the pipeline cannot
// merge.
type Analyzer struct {
	processor media.Processor
	limits    media.Limits
	tolerance float64
	logger    *slog.Logger
}

// NewAnalyzer constructs the analysis stage.
func NewAnalyzer(cfg *config.Config, processor media.Processor, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		processor: processor,
		limits:    media.Limits{MaxDuration: cfg.Upload.MaxDurationSeconds},
		tolerance: cfg.Merge.DurationToleranceSeconds,
		logger:    logging.NewComponentLogger(orNop(logger), "analyzer"),
	}
}

// Execute implements stage.Handler.
func (a *Analyzer) Execute(ctx context.Context, run *stage.Run) error {
	logger := logging.WithContext(ctx, a.logger)
	if len(run.Inputs) == 0 {
		return services.Wrap(services.KindValidation, stage.Analysis, "collect inputs", "merge job has no inputs", nil)
	}
	for _, in := range run.Inputs {
		if in.Status != store.UploadCompleted || strings.TrimSpace(in.StagingPath) == "" {
			return services.WithFields(
				services.Wrap(services.KindValidation, stage.Analysis, "collect inputs",
					fmt.Sprintf("statement %d is not an assembled upload", in.StatementIndex), nil),
				map[string]any{"upload_session_id": in.ID, "status": string(in.Status)},
			)
		}
	}

	probes := make([]media.Info, len(run.Inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i, in := range run.Inputs {
		g.Go(func() error {
			info, err := a.processor.Probe(gctx, in.StagingPath)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				return services.WithFields(
					stageError(services.KindUnsupportedFormat, stage.Analysis, "probe",
						fmt.Sprintf("statement %d is unreadable", in.StatementIndex), err),
					map[string]any{"upload_session_id": in.ID},
				)
			}
			if err := media.Validate(info, a.limits); err != nil {
				return services.WithFields(err, map[string]any{"upload_session_id": in.ID, "statement_index": in.StatementIndex})
			}
			probes[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	run.Probes = probes

	for i, info := range probes {
		declared := run.Inputs[i].DeclaredDuration
		if declared > 0 && math.Abs(declared-info.Duration) > a.tolerance {
			logging.WarnWithContext(logger, "declared duration differs from measured", "duration_mismatch",
				logging.Int("statement_index", i),
				logging.Float64("declared_seconds", declared),
				logging.Float64("measured_seconds", info.Duration),
				logging.String(logging.FieldErrorHint, "client clock or metadata is off"),
				logging.String(logging.FieldImpact, "segment boundaries use the measured duration"),
			)
		}
	}
	logger.Debug("inputs analyzed", logging.Int("inputs", len(probes)))
	return nil
}

// HealthCheck implements stage.Handler.
func (a *Analyzer) HealthCheck(context.Context) stage.Health {
	if a.processor == nil {
		return stage.Unhealthy(stage.Analysis, "media processor unavailable")
	}
	return stage.Healthy(stage.Analysis)
}

func orNop(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return logging.NewNop()
	}
	return logger
}
