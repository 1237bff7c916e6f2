package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"triad/internal/logging"
	"triad/internal/store"
)

// Counts holds row counts by status from the last check.
type Counts struct {
	Uploads map[store.UploadStatus]int `json:"uploads"`
	Merges  map[store.MergeStatus]int  `json:"merges"`
	Jobs    map[store.JobStatus]int    `json:"jobs"`
}

// Health is the monitor snapshot served on /api/health.
type Health struct {
	Status         string      `json:"status"`
	CheckedAt      time.Time   `json:"checked_at"`
	ErrorRate      float64     `json:"error_rate"`
	WindowEvents   int         `json:"window_events"`
	WindowFailures int         `json:"window_failures"`
	SlowStages     []SlowStage `json:"slow_stages,omitempty"`
	StaleUploading []string    `json:"stale_uploading,omitempty"`
	DiskFreeBytes  uint64      `json:"disk_free_bytes"`
	DiskError      string      `json:"disk_error,omitempty"`
	Counts         Counts      `json:"counts"`
	Alerts         []Alert     `json:"alerts,omitempty"`
}

// Health statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Check evaluates the state-based conditions once: merge sessions stuck
// collecting uploads, staging disk space, and status counts.
func (m *Monitor) Check(ctx context.Context) error {
	now := m.now()

	stale, err := m.store.ListStaleUploading(ctx, now.Add(-m.staleAfter))
	if err != nil {
		return fmt.Errorf("list stale merge sessions: %w", err)
	}
	ids := make([]string, 0, len(stale))
	for _, s := range stale {
		ids = append(ids, s.ID)
	}
	if m.staleAfter > 0 && len(ids) > 0 {
		m.raise(SeverityWarning, AlertStaleUploads,
			fmt.Sprintf("%d merge sessions have been collecting uploads for over %s", len(ids), m.staleAfter), true,
			logging.Int("stale_sessions", len(ids)),
			logging.String("oldest_merge_session_id", ids[0]),
		)
	} else {
		m.clear(AlertStaleUploads)
	}

	free, diskErr := m.freeBytes(m.cfg.Paths.StagingDir)
	switch {
	case diskErr != nil:
		logging.WarnWithContext(m.logger, "staging disk check failed", "disk_check_failed",
			logging.Error(diskErr),
			logging.String(logging.FieldErrorHint, "verify paths.staging_dir exists"),
		)
	case m.minFree > 0 && free < m.minFree:
		m.raise(SeverityCritical, AlertLowDisk,
			fmt.Sprintf("staging disk has %s free (minimum %s)", humanize.IBytes(free), humanize.IBytes(m.minFree)), true,
			logging.String("path", m.cfg.Paths.StagingDir),
			logging.Int64("free_bytes", int64(free)),
		)
	default:
		m.clear(AlertLowDisk)
	}
	if diskErr == nil {
		m.metrics.diskFree.Set(float64(free))
	}

	counts, err := m.countRows(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.staleIDs = ids
	m.diskFree = free
	m.diskErr = ""
	if diskErr != nil {
		m.diskErr = diskErr.Error()
	}
	m.counts = counts
	m.lastCheck = now
	m.mu.Unlock()
	return nil
}

func (m *Monitor) countRows(ctx context.Context) (Counts, error) {
	uploads, err := m.store.CountUploadsByStatus(ctx)
	if err != nil {
		return Counts{}, err
	}
	merges, err := m.store.CountMergesByStatus(ctx)
	if err != nil {
		return Counts{}, err
	}
	jobs, err := m.store.CountJobsByStatus(ctx)
	if err != nil {
		return Counts{}, err
	}
	m.metrics.uploads.Reset()
	for status, n := range uploads {
		m.metrics.uploads.WithLabelValues(string(status)).Set(float64(n))
	}
	m.metrics.merges.Reset()
	for status, n := range merges {
		m.metrics.merges.WithLabelValues(string(status)).Set(float64(n))
	}
	m.metrics.jobs.Reset()
	for status, n := range jobs {
		m.metrics.jobs.WithLabelValues(string(status)).Set(float64(n))
	}
	return Counts{Uploads: uploads, Merges: merges, Jobs: jobs}, nil
}

// Snapshot returns the current health view. Event alerts older than the
// dedup interval are omitted.
func (m *Monitor) Snapshot() Health {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	total, failed := m.pruneLocked(now)
	h := Health{
		Status:         StatusOK,
		CheckedAt:      m.lastCheck,
		WindowEvents:   total,
		WindowFailures: failed,
		StaleUploading: append([]string(nil), m.staleIDs...),
		DiskFreeBytes:  m.diskFree,
		DiskError:      m.diskErr,
		Counts:         m.counts,
	}
	if total > 0 {
		h.ErrorRate = float64(failed) / float64(total)
	}
	for _, s := range m.slow {
		h.SlowStages = append(h.SlowStages, *s)
	}
	sort.Slice(h.SlowStages, func(i, j int) bool { return h.SlowStages[i].Stage < h.SlowStages[j].Stage })

	horizon := max(m.dedup, time.Minute)
	for _, a := range m.active {
		if !a.Condition && now.Sub(a.LastSeen) > horizon {
			continue
		}
		h.Alerts = append(h.Alerts, *a)
	}
	sort.Slice(h.Alerts, func(i, j int) bool { return h.Alerts[i].Name < h.Alerts[j].Name })
	if len(h.Alerts) > 0 {
		h.Status = StatusDegraded
	}
	return h
}
