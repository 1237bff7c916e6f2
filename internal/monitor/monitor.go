package monitor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"triad/internal/config"
	"triad/internal/logging"
	"triad/internal/notifications"
	"triad/internal/preflight"
	"triad/internal/store"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert names.
const (
	AlertErrorRate    = "error_rate"
	AlertSlowStage    = "slow_stage"
	AlertStuckJob     = "stuck_job"
	AlertStaleUploads = "stale_uploads"
	AlertLowDisk      = "low_disk"
)

// Monitor is the health/alert service. Construct it with New, pass it to
// the workflow manager as its Recorder, and Start it for periodic checks.
type Monitor struct {
	cfg       *config.Config
	store     *store.Store
	notifier  notifications.Service
	logger    *slog.Logger
	metrics   *metrics
	now       func() time.Time
	freeBytes func(path string) (uint64, error)

	window     time.Duration
	threshold  float64
	minEvents  int
	slowStage  time.Duration
	staleAfter time.Duration
	minFree    uint64
	dedup      time.Duration

	mu         sync.Mutex
	outcomes   []outcome
	slow       map[string]*SlowStage
	active     map[string]*Alert
	limiters   map[string]*rate.Limiter
	staleIDs   []string
	diskFree   uint64
	diskErr    string
	lastCheck  time.Time
	counts     Counts
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	deliveries chan delivery
}

type outcome struct {
	at     time.Time
	failed bool
}

type delivery struct {
	severity string
	name     string
	message  string
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithFreeSpace overrides how free disk space is measured.
func WithFreeSpace(fn func(path string) (uint64, error)) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.freeBytes = fn
		}
	}
}

// New constructs a stopped monitor.
func New(cfg *config.Config, st *store.Store, notifier notifications.Service, logger *slog.Logger, opts ...Option) *Monitor {
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	mc := cfg.Monitor
	m := &Monitor{
		cfg:        cfg,
		store:      st,
		notifier:   notifier,
		logger:     logging.NewComponentLogger(logger, "monitor"),
		metrics:    newMetrics(),
		now:        time.Now,
		freeBytes:  preflight.FreeBytes,
		window:     time.Duration(mc.ErrorRateWindowSeconds) * time.Second,
		threshold:  mc.ErrorRateThreshold,
		minEvents:  max(1, mc.ErrorRateMinEvents),
		slowStage:  time.Duration(mc.SlowStageSeconds) * time.Second,
		staleAfter: time.Duration(mc.StuckUploadSeconds) * time.Second,
		minFree:    uint64(max(0, mc.MinFreeDiskMiB)) << 20,
		dedup:      time.Duration(mc.AlertDedupSeconds) * time.Second,
		slow:       make(map[string]*SlowStage),
		active:     make(map[string]*Alert),
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler serves the Prometheus exposition for /metrics.
func (m *Monitor) Handler() http.Handler {
	return m.metrics.handler()
}

// Start launches the periodic health check and the alert delivery loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("monitor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.deliveries = make(chan delivery, 32)

	m.wg.Add(2)
	go m.deliver(runCtx, m.deliveries)
	go m.run(runCtx)

	m.logger.Info("monitor started",
		logging.String(logging.FieldEventType, "monitor_start"),
		logging.Duration("interval", m.interval()),
	)
	return nil
}

// Stop halts background work and waits for in-flight alert deliveries.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	deliveries := m.deliveries
	m.running = false
	m.cancel = nil
	m.deliveries = nil
	m.mu.Unlock()

	cancel()
	close(deliveries)
	m.wg.Wait()
}

func (m *Monitor) interval() time.Duration {
	interval := time.Duration(m.cfg.Monitor.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return interval
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()
	for {
		if err := m.Check(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(m.logger, "health check failed", "health_check_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database access"),
				logging.String(logging.FieldImpact, "stale uploads and disk alerts are not evaluated"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// deliver forwards alerts to the notifier off the caller's goroutine.
func (m *Monitor) deliver(ctx context.Context, in <-chan delivery) {
	defer m.wg.Done()
	for d := range in {
		m.send(context.WithoutCancel(ctx), d)
	}
}

func (m *Monitor) send(ctx context.Context, d delivery) {
	timeout := time.Duration(m.cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := m.notifier.NotifyAlert(sendCtx, d.severity, d.name, d.message); err != nil {
		m.logger.Debug("alert notification failed",
			logging.String("alert_name", d.name),
			logging.Error(err),
		)
	}
}
