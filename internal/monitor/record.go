package monitor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"triad/internal/logging"
)

// Alert is one raised condition as shown in the health snapshot.
type Alert struct {
	Name      string    `json:"name"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raised_at"`
	LastSeen  time.Time `json:"last_seen"`
	Count     int       `json:"count"`
	Condition bool      `json:"condition"`
}

// SlowStage summarizes executions of one stage over the slow threshold.
type SlowStage struct {
	Stage       string        `json:"stage"`
	Count       int           `json:"count"`
	Slowest     time.Duration `json:"slowest"`
	LastJobID   string        `json:"last_job_id"`
	LastSeenAt  time.Time     `json:"last_seen_at"`
	LastElapsed time.Duration `json:"last_elapsed"`
}

// Record ingests one engine event. It never blocks on alert delivery, so
// the workflow manager can call it inline.
func (m *Monitor) Record(e Event) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	switch e.Kind {
	case EventStageEnd:
		m.metrics.stageDuration.WithLabelValues(e.Stage).Observe(e.Duration.Seconds())
		if e.Failed() {
			m.metrics.stageFailures.WithLabelValues(e.Stage, e.ErrorCode).Inc()
		}
		if m.slowStage > 0 && e.Duration > m.slowStage {
			m.recordSlow(e)
		}
	case EventJobResult:
		result := "succeeded"
		if e.Failed() {
			result = "failed"
		}
		m.metrics.jobResults.WithLabelValues(result).Inc()
		m.recordOutcome(e)
	case EventStuckJob:
		m.metrics.stuckJobs.Inc()
		m.raise(SeverityCritical, AlertStuckJob,
			fmt.Sprintf("job %s stalled in %s", e.JobID, e.Stage), false,
			logging.String(logging.FieldJobID, e.JobID),
			logging.String(logging.FieldMergeSessionID, e.MergeSessionID),
			logging.String(logging.FieldStage, e.Stage),
		)
	}
}

func (m *Monitor) recordSlow(e Event) {
	m.mu.Lock()
	s := m.slow[e.Stage]
	if s == nil {
		s = &SlowStage{Stage: e.Stage}
		m.slow[e.Stage] = s
	}
	s.Count++
	s.Slowest = max(s.Slowest, e.Duration)
	s.LastJobID = e.JobID
	s.LastSeenAt = e.At
	s.LastElapsed = e.Duration
	m.mu.Unlock()

	m.raise(SeverityWarning, AlertSlowStage,
		fmt.Sprintf("%s took %s (threshold %s)", e.Stage, e.Duration.Round(time.Second), m.slowStage), false,
		logging.String(logging.FieldJobID, e.JobID),
		logging.String(logging.FieldStage, e.Stage),
		logging.Duration("stage_duration", e.Duration),
	)
}

// recordOutcome appends a job result to the sliding window and re-evaluates
// the error rate.
func (m *Monitor) recordOutcome(e Event) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome{at: e.At, failed: e.Failed()})
	total, failed := m.pruneLocked(e.At)
	m.mu.Unlock()

	errRate := 0.0
	if total > 0 {
		errRate = float64(failed) / float64(total)
	}
	m.metrics.errorRate.Set(errRate)
	if total >= m.minEvents && errRate >= m.threshold {
		m.raise(SeverityCritical, AlertErrorRate,
			fmt.Sprintf("%d of the last %d merge attempts failed (%.0f%%)", failed, total, errRate*100), true,
			logging.Int("window_events", total),
			logging.Int("window_failures", failed),
			logging.Float64("error_rate", errRate),
		)
		return
	}
	m.clear(AlertErrorRate)
}

// pruneLocked drops outcomes older than the window and returns the totals
// of what remains.
func (m *Monitor) pruneLocked(now time.Time) (total, failed int) {
	cutoff := now.Add(-m.window)
	keep := m.outcomes[:0]
	for _, o := range m.outcomes {
		if m.window > 0 && o.at.Before(cutoff) {
			continue
		}
		keep = append(keep, o)
		if o.failed {
			failed++
		}
	}
	m.outcomes = keep
	return len(keep), failed
}

// raise records an alert and, unless the same name fired within the dedup
// interval, logs it and queues a notification. Condition alerts stay active
// until cleared; event alerts age out of the snapshot after the dedup
// interval.
func (m *Monitor) raise(severity, name, message string, condition bool, attrs ...logging.Attr) {
	now := m.now()
	m.metrics.alerts.WithLabelValues(name).Inc()

	m.mu.Lock()
	a := m.active[name]
	if a == nil {
		a = &Alert{Name: name, RaisedAt: now}
		m.active[name] = a
	}
	a.Severity = severity
	a.Message = message
	a.LastSeen = now
	a.Count++
	a.Condition = condition
	occurrences := a.Count

	limiter := m.limiters[name]
	if limiter == nil {
		limiter = rate.NewLimiter(m.dedupLimit(), 1)
		m.limiters[name] = limiter
	}
	allowed := limiter.AllowN(now, 1)
	deliveries := m.deliveries
	var queued bool
	if allowed && deliveries != nil {
		select {
		case deliveries <- delivery{severity: severity, name: name, message: message}:
			queued = true
		default:
		}
	}
	m.mu.Unlock()

	if !allowed {
		m.logger.Debug("alert suppressed",
			logging.String("alert_name", name),
			logging.Int("occurrences", occurrences),
		)
		return
	}

	attrs = append(attrs,
		logging.Alert(name),
		logging.String("severity", severity),
		logging.String("alert_message", message),
		logging.String(logging.FieldErrorHint, hintFor(name)),
	)
	if severity == SeverityCritical {
		logging.ErrorWithContext(m.logger, "health alert raised", "health_alert", attrs...)
	} else {
		logging.WarnWithContext(m.logger, "health alert raised", "health_alert", attrs...)
	}

	if deliveries == nil {
		m.send(context.Background(), delivery{severity: severity, name: name, message: message})
	} else if !queued {
		m.logger.Warn("alert delivery queue full; notification dropped", logging.String("alert_name", name))
	}
}

func (m *Monitor) dedupLimit() rate.Limit {
	if m.dedup <= 0 {
		return rate.Inf
	}
	return rate.Every(m.dedup)
}

// clear resolves a condition alert.
func (m *Monitor) clear(name string) {
	m.mu.Lock()
	a, ok := m.active[name]
	if ok && a.Condition {
		delete(m.active, name)
	}
	m.mu.Unlock()
	if ok && a.Condition {
		m.logger.Info("health alert resolved",
			logging.String(logging.FieldEventType, "health_alert_resolved"),
			logging.String("alert_name", name),
		)
	}
}

func hintFor(name string) string {
	switch name {
	case AlertErrorRate:
		return "inspect recent failed merge sessions for a shared error code"
	case AlertSlowStage:
		return "check host load and merge.stage_timeout_seconds"
	case AlertStuckJob:
		return "check the external media tools for hung processes"
	case AlertStaleUploads:
		return "clients may have abandoned sessions; the upload sweeper expires them at ttl"
	case AlertLowDisk:
		return "free space under paths.staging_dir or lower upload limits"
	default:
		return "see daemon logs"
	}
}
