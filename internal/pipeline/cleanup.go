package pipeline

import (
	"context"
	"log/slog"

	"triad/internal/fileutil"
	"triad/internal/logging"
	"triad/internal/services"
	"triad/internal/stage"
)

// Cleaner removes the job's work directory: normalized statements, the
// concatenated stream and the local compressed copy. Staged uploads are left
// alone so a retry does not need them re-sent.
type Cleaner struct {
	logger *slog.Logger
}

// NewCleaner constructs the cleanup stage.
func NewCleaner(logger *slog.Logger) *Cleaner {
	return &Cleaner{logger: logging.NewComponentLogger(orNop(logger), "cleaner")}
}

// Execute implements stage.Handler.
func (c *Cleaner) Execute(ctx context.Context, run *stage.Run) error {
	if run == nil || run.WorkDir == "" {
		return nil
	}
	if err := fileutil.RemoveIfExists(run.WorkDir); err != nil {
		return services.Wrap(services.KindProcessing, stage.Cleanup, "remove work dir", run.WorkDir, err)
	}
	logging.WithContext(ctx, c.logger).Debug("work dir removed", logging.String("work_dir", run.WorkDir))
	return nil
}

// HealthCheck implements stage.Handler.
func (c *Cleaner) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(stage.Cleanup)
}
