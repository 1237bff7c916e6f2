package workflow

import (
	"context"
	"log/slog"
	"sync"

	"triad/internal/config"
	"triad/internal/logging"
	"triad/internal/monitor"
	"triad/internal/queue"
	"triad/internal/store"
)

// Manager runs merge jobs through the stage pipeline on a fixed worker pool.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	queue    *queue.Queue
	governor *queue.Governor
	logger   *slog.Logger
	stuck    *StuckDetector

	stages   []pipelineStage
	cleanup  pipelineStage
	results  ResultHandler
	recorder Recorder

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *store.MergeJob

	activeMu sync.Mutex
	active   map[string]context.CancelCauseFunc
}

// NewManager constructs the engine. The governor is only reported in status;
// the compression stage acquires it.
func NewManager(cfg *config.Config, st *store.Store, q *queue.Queue, gov *queue.Governor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		store:    st,
		queue:    q,
		governor: gov,
		logger:   logging.NewComponentLogger(logger, "workflow-manager"),
		recorder: nopRecorder{},
		active:   make(map[string]context.CancelCauseFunc),
	}
	m.stuck = NewStuckDetector(cfg, st, m, logger)
	return m
}

// StuckDetector exposes the manager's stuck-job scanner.
func (m *Manager) StuckDetector() *StuckDetector {
	return m.stuck
}

// Submit places a persisted queued job on the in-memory queue.
func (m *Manager) Submit(_ context.Context, job *store.MergeJob) error {
	_, err := m.queue.Enqueue(queue.Entry{
		JobID:          job.ID,
		MergeSessionID: job.MergeSessionID,
		Attempt:        job.Attempt,
		Priority:       queue.ParsePriority(job.Priority),
		EnqueuedAt:     job.EnqueuedAt,
	})
	return err
}

func (m *Manager) resultHandler() ResultHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.results
}

func (m *Manager) record(ev monitor.Event) {
	m.mu.RLock()
	r := m.recorder
	m.mu.RUnlock()
	r.Record(ev)
}

func (m *Manager) track(jobID string, cancel context.CancelCauseFunc) {
	m.activeMu.Lock()
	m.active[jobID] = cancel
	m.activeMu.Unlock()
}

func (m *Manager) untrack(jobID string) {
	m.activeMu.Lock()
	delete(m.active, jobID)
	m.activeMu.Unlock()
}

// abort cancels an in-flight job with cause. It reports whether the job was
// running on this manager.
func (m *Manager) abort(jobID string, cause error) bool {
	m.activeMu.Lock()
	cancel, ok := m.active[jobID]
	m.activeMu.Unlock()
	if ok {
		cancel(cause)
	}
	return ok
}

// ActiveJobs returns how many jobs workers are executing right now.
func (m *Manager) ActiveJobs() int {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return len(m.active)
}
