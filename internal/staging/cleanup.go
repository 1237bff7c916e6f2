package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"triad/internal/logging"
)

// Result lists the job directories a sweep removed and those it could not.
type Result struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanOrphaned removes per-job working directories under jobsDir whose name
// is not an active job id. Directories of jobs that finished while the
// daemon was down, or whose cleanup stage never ran, are reclaimed here.
func CleanOrphaned(ctx context.Context, jobsDir string, active map[string]struct{}, logger *slog.Logger) Result {
	var result Result
	jobsDir = strings.TrimSpace(jobsDir)
	if jobsDir == "" {
		return result
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	entries, err := os.ReadDir(jobsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: jobsDir, Error: err})
		}
		return result
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() {
			continue
		}
		if _, ok := active[entry.Name()]; ok {
			continue
		}
		dir := filepath.Join(jobsDir, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
			logging.WarnWithContext(logger, "failed to remove orphaned job directory", "staging_cleanup_failed",
				logging.String("path", dir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dir)
	}

	if len(result.Removed) > 0 {
		logger.Info("removed orphaned job directories",
			logging.String(logging.FieldEventType, "staging_cleanup"),
			logging.Int("removed", len(result.Removed)),
		)
	}
	return result
}
