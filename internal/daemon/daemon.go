package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"triad/internal/config"
	"triad/internal/coordinator"
	"triad/internal/deps"
	"triad/internal/logging"
	"triad/internal/monitor"
	"triad/internal/preflight"
	"triad/internal/publisher"
	"triad/internal/staging"
	"triad/internal/store"
	"triad/internal/upload"
	"triad/internal/workflow"
)

// Services bundles the collaborators a daemon runs.
type Services struct {
	Store       *store.Store
	Uploads     *upload.Service
	Coordinator *coordinator.Coordinator
	Workflow    *workflow.Manager
	Monitor     *monitor.Monitor
	Publisher   *publisher.Service
}

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	svc    Services
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	checks  []preflight.Result
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	Workflow       workflow.StatusSummary
	DatabasePath   string
	LockFilePath   string
	StorageBackend string
	Dependencies   []deps.Status
	Checks         []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, svc Services, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || svc.Store == nil || svc.Uploads == nil || svc.Coordinator == nil ||
		svc.Workflow == nil || svc.Monitor == nil || svc.Publisher == nil {
		return nil, errors.New("daemon requires config, store, uploads, coordinator, workflow, monitor and publisher")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.StateDir, "triadd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		svc:      svc,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Handler exposes the HTTP API without binding a listener.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// Start acquires the daemon lock, re-submits persisted work, then launches
// the workflow manager, monitor, upload sweeper and API listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another triad daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	fail := func(err error) error {
		cancel()
		d.svc.Monitor.Stop()
		d.svc.Workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}

	checks := preflight.RunAll(runCtx, d.cfg)
	for _, failed := range preflight.Failed(checks) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported path or service before submitting merges"),
		)
	}
	d.mu.Lock()
	d.checks = checks
	d.mu.Unlock()

	recovered, err := d.svc.Coordinator.RecoverQueued(runCtx)
	if err != nil {
		return fail(fmt.Errorf("recover queued jobs: %w", err))
	}
	if err := d.reclaimJobDirs(runCtx); err != nil {
		return fail(err)
	}
	if err := d.svc.Workflow.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start workflow: %w", err))
	}
	if err := d.svc.Monitor.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start monitor: %w", err))
	}
	if err := d.api.start(runCtx); err != nil {
		return fail(err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.svc.Uploads.RunSweeper(runCtx)
	}()

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("triad daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.Int("recovered_jobs", recovered),
		logging.String("api_address", d.api.address()),
	)
	return nil
}

// reclaimJobDirs removes working directories of jobs that are neither
// queued nor running.
func (d *Daemon) reclaimJobDirs(ctx context.Context) error {
	jobs, err := d.svc.Store.ListJobsByStatus(ctx, store.JobQueued, store.JobRunning)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}
	active := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		active[job.ID] = struct{}{}
	}
	staging.CleanOrphaned(ctx, d.cfg.JobStagingDir(), active, d.logger)
	return nil
}

// Stop stops background processing and releases the daemon lock. Running
// jobs are interrupted and resume from their first stage on next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.svc.Workflow.Stop()
	d.svc.Monitor.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("triad daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.svc.Store != nil {
		return d.svc.Store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	checks := append([]preflight.Result(nil), d.checks...)
	d.mu.Unlock()
	return Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		Workflow:       d.svc.Workflow.Status(ctx),
		DatabasePath:   d.svc.Store.Path(),
		LockFilePath:   d.lockPath,
		StorageBackend: d.svc.Publisher.Backend(),
		Dependencies:   preflight.CheckSystemDeps(ctx, d.cfg),
		Checks:         checks,
	}
}
