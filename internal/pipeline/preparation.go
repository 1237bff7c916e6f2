package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"triad/internal/logging"
	"triad/internal/media"
	"triad/internal/services"
	"triad/internal/stage"
)

// Preparer normalizes every statement to the merge profile so the seams
// concatenate without re-timing.
type Preparer struct {
	processor media.Processor
	logger    *slog.Logger
}

// NewPreparer constructs the preparation stage.
func NewPreparer(processor media.Processor, logger *slog.Logger) *Preparer {
	return &Preparer{processor: processor, logger: logging.NewComponentLogger(orNop(logger), "preparer")}
}

// Execute implements stage.Handler.
func (p *Preparer) Execute(ctx context.Context, run *stage.Run) error {
	if len(run.Probes) != len(run.Inputs) || len(run.Probes) == 0 {
		return services.Wrap(services.KindProcessing, stage.Preparation, "collect probes", "analysis results missing", nil)
	}
	if err := os.MkdirAll(run.WorkDir, 0o755); err != nil {
		return services.Wrap(services.KindProcessing, stage.Preparation, "create work dir", run.WorkDir, err)
	}

	progress := newProgressMeter(len(run.Probes), run.ReportProgress)
	normalized := make([]media.Info, len(run.Probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, probe := range run.Probes {
		g.Go(func() error {
			out := run.NormalizedPath(i)
			if err := p.processor.Normalize(gctx, probe, out, run.Profile, progress.track(i)); err != nil {
				return stageError(services.KindProcessing, stage.Preparation, "normalize",
					fmt.Sprintf("statement %d normalization failed", i), err)
			}
			info, err := p.processor.Probe(gctx, out)
			if err != nil {
				return stageError(services.KindProcessing, stage.Preparation, "probe normalized",
					fmt.Sprintf("statement %d normalized output unreadable", i), err)
			}
			if info.Duration <= 0 {
				return services.Wrap(services.KindProcessing, stage.Preparation, "probe normalized",
					fmt.Sprintf("statement %d normalized to zero duration", i), nil)
			}
			progress.set(i, 100)
			normalized[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	run.Normalized = normalized

	logger := logging.WithContext(ctx, p.logger)
	for i, info := range normalized {
		logger.Debug("statement normalized",
			logging.Int("statement_index", i),
			logging.Float64("source_seconds", run.Probes[i].Duration),
			logging.Float64("normalized_seconds", info.Duration),
		)
	}
	return nil
}

// HealthCheck implements stage.Handler.
func (p *Preparer) HealthCheck(context.Context) stage.Health {
	if p.processor == nil {
		return stage.Unhealthy(stage.Preparation, "media processor unavailable")
	}
	return stage.Healthy(stage.Preparation)
}

// progressMeter folds per-input percentages into one stage percentage.
type progressMeter struct {
	mu      sync.Mutex
	parts   []float64
	publish media.ProgressFunc
}

func newProgressMeter(n int, publish media.ProgressFunc) *progressMeter {
	return &progressMeter{parts: make([]float64, n), publish: publish}
}

func (m *progressMeter) track(i int) media.ProgressFunc {
	return func(percent float64) { m.set(i, percent) }
}

func (m *progressMeter) set(i int, percent float64) {
	m.mu.Lock()
	if percent > m.parts[i] {
		m.parts[i] = min(percent, 100)
	}
	var sum float64
	for _, v := range m.parts {
		sum += v
	}
	avg := sum / float64(len(m.parts))
	m.mu.Unlock()
	if m.publish != nil {
		m.publish(avg)
	}
}
