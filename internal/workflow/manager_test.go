package workflow_test

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"triad/internal/config"
	"triad/internal/monitor"
	"triad/internal/pipeline"
	"triad/internal/publisher"
	"triad/internal/queue"
	"triad/internal/services"
	"triad/internal/stage"
	"triad/internal/store"
	"triad/internal/testsupport"
	"triad/internal/workflow"
)

type jobResult struct {
	job      store.MergeJob
	artifact *store.Artifact
	err      error
}

type resultSink struct {
	ch chan jobResult
}

func (s *resultSink) OnJobResult(_ context.Context, job *store.MergeJob, artifact *store.Artifact, err error) error {
	s.ch <- jobResult{job: *job, artifact: artifact, err: err}
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []monitor.Event
}

func (l *eventLog) Record(ev monitor.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(kind monitor.EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	cfg     *config.Config
	store   *store.Store
	manager *workflow.Manager
	fake    *testsupport.FakeProcessor
	results *resultSink
	events  *eventLog
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeProcessor()
	gov := queue.NewGovernor(cfg.Queue.CompressionSlots)

	objects, err := publisher.NewFilesystemStore(cfg)
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	pub := publisher.NewService(cfg, objects, st, nil)

	mgr := workflow.NewManager(cfg, st, queue.New(), gov, nil)
	set := pipeline.NewStageSet(cfg, pipeline.Deps{Processor: fake, Encoder: fake, Slots: gov, Publisher: pub}, nil)
	if err := mgr.ConfigureStages(set); err != nil {
		t.Fatalf("configure stages: %v", err)
	}
	results := &resultSink{ch: make(chan jobResult, 8)}
	events := &eventLog{}
	mgr.SetResultHandler(results)
	mgr.SetRecorder(events)
	return &harness{cfg: cfg, store: st, manager: mgr, fake: fake, results: results, events: events}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(h.manager.Stop)
}

func (h *harness) await(t *testing.T) jobResult {
	t.Helper()
	select {
	case res := <-h.results.ch:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for job result")
		return jobResult{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManagerRunsJobThroughEveryStage(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	_, job := testsupport.SeedMerge(t, h.cfg, h.store, 15.0, 12.5, 18.2)

	if err := h.manager.Submit(context.Background(), job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := h.await(t)
	if res.err != nil {
		t.Fatalf("job failed: %v", res.err)
	}
	if res.artifact == nil {
		t.Fatal("expected artifact on success")
	}
	if math.Abs(res.artifact.TotalDuration-45.7) > 0.01 {
		t.Fatalf("total duration = %v, want 45.7", res.artifact.TotalDuration)
	}
	wantEnds := []float64{15, 27.5, 45.7}
	if len(res.artifact.Segments) != len(wantEnds) {
		t.Fatalf("segments = %+v", res.artifact.Segments)
	}
	for i, seg := range res.artifact.Segments {
		if seg.StatementIndex != i || math.Abs(seg.End-wantEnds[i]) > 0.01 {
			t.Fatalf("segment %d = %+v, want end %v", i, seg, wantEnds[i])
		}
	}

	stored, err := h.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != store.JobSucceeded || stored.Stage != stage.Cleanup {
		t.Fatalf("job status=%s stage=%s, want succeeded/cleanup", stored.Status, stored.Stage)
	}
	if _, err := os.Stat(stored.WorkDir); !os.IsNotExist(err) {
		t.Fatalf("expected work dir removed, stat err=%v", err)
	}
	if got := h.events.count(monitor.EventStageEnd); got != 5 {
		t.Fatalf("stage_end events = %d, want 5", got)
	}
	if got := h.events.count(monitor.EventJobResult); got != 1 {
		t.Fatalf("job_result events = %d, want 1", got)
	}
}

func TestStageTimeBoxFailsWithProcessingTimeout(t *testing.T) {
	h := newHarness(t, testsupport.WithStageTimeoutSeconds(1))
	h.fake.Block(testsupport.OpCompress)
	h.start(t)
	_, job := testsupport.SeedMerge(t, h.cfg, h.store, 2, 3, 4)

	if err := h.manager.Submit(context.Background(), job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := h.await(t)
	if services.KindOf(res.err) != services.KindProcessingTimeout {
		t.Fatalf("expected processing timeout, got %v (%s)", res.err, services.KindOf(res.err))
	}
	if !services.Retryable(res.err) {
		t.Fatal("processing timeout must be retryable")
	}
	stored, err := h.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != store.JobFailed || stored.Error == nil || stored.Error.Code != services.KindProcessingTimeout.Code() {
		t.Fatalf("unexpected stored job %+v", stored)
	}
	if stored.Error.Stage != stage.Compression {
		t.Fatalf("failed stage = %q, want compression", stored.Error.Stage)
	}
	if _, err := os.Stat(stored.WorkDir); !os.IsNotExist(err) {
		t.Fatalf("cleanup should run after failure, stat err=%v", err)
	}
}

func TestAnalysisRejectsUnreadableStatement(t *testing.T) {
	h := newHarness(t)
	h.fake.FailNext(testsupport.OpProbe, errors.New("moov atom not found"))
	h.start(t)
	_, job := testsupport.SeedMerge(t, h.cfg, h.store, 5, 5, 5)

	if err := h.manager.Submit(context.Background(), job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := h.await(t)
	if services.KindOf(res.err) != services.KindUnsupportedFormat {
		t.Fatalf("expected unsupported format, got %v", res.err)
	}
	if services.Retryable(res.err) {
		t.Fatal("unsupported format must not be retryable")
	}
	if h.fake.Calls(testsupport.OpNormalize) != 0 {
		t.Fatal("preparation should not run after analysis failure")
	}
}

func TestShutdownLeavesJobRunningForRecovery(t *testing.T) {
	h := newHarness(t)
	h.fake.Block(testsupport.OpNormalize)
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, job := testsupport.SeedMerge(t, h.cfg, h.store, 4, 4, 4)
	if err := h.manager.Submit(context.Background(), job); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx := context.Background()
	waitFor(t, "preparation stage", func() bool {
		j, err := h.store.GetJob(ctx, job.ID)
		return err == nil && j != nil && j.Stage == stage.Preparation
	})
	h.manager.Stop()

	select {
	case res := <-h.results.ch:
		t.Fatalf("shutdown must not report a result, got %+v", res)
	default:
	}
	stored, err := h.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != store.JobRunning {
		t.Fatalf("job status = %s, want running", stored.Status)
	}

	n, err := h.store.RequeueInterrupted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("requeue interrupted: n=%d err=%v", n, err)
	}
	stored, _ = h.store.GetJob(ctx, job.ID)
	if stored.Status != store.JobQueued || stored.StageIndex != -1 {
		t.Fatalf("requeued job = %s/%d", stored.Status, stored.StageIndex)
	}
}

func TestCompressionGovernorBoundsConcurrency(t *testing.T) {
	h := newHarness(t)
	h.fake.HoldCompress()
	h.start(t)

	ctx := context.Background()
	_, first := testsupport.SeedMerge(t, h.cfg, h.store, 3, 3, 3)
	_, second := testsupport.SeedMerge(t, h.cfg, h.store, 3, 3, 3)
	for _, job := range []*store.MergeJob{first, second} {
		if err := h.manager.Submit(ctx, job); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	waitFor(t, "one job parked on the governor", func() bool {
		jobs, err := h.store.ListJobsByStatus(ctx, store.JobRunning)
		if err != nil {
			return false
		}
		waiting := 0
		for _, j := range jobs {
			if j.WaitingForSlot {
				waiting++
			}
		}
		return waiting == 1 && h.fake.ActiveCompress() == 1
	})
	status := h.manager.Status(ctx)
	if status.CompressionInUse != 1 || status.CompressionWait != 1 || status.ActiveJobs != 2 {
		t.Fatalf("unexpected status %+v", status)
	}

	h.fake.ReleaseCompress()
	for range 2 {
		if res := h.await(t); res.err != nil {
			t.Fatalf("job failed: %v", res.err)
		}
	}
	if peak := h.fake.PeakCompress(); peak != 1 {
		t.Fatalf("peak compress concurrency = %d, want 1", peak)
	}
}

func TestSlotWaitDoesNotCountAgainstStageTimeBox(t *testing.T) {
	h := newHarness(t, testsupport.WithStageTimeoutSeconds(1))
	h.fake.SlowCompress(700 * time.Millisecond)
	h.start(t)

	ctx := context.Background()
	_, first := testsupport.SeedMerge(t, h.cfg, h.store, 3, 3, 3)
	_, second := testsupport.SeedMerge(t, h.cfg, h.store, 3, 3, 3)
	for _, job := range []*store.MergeJob{first, second} {
		if err := h.manager.Submit(ctx, job); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	// The second job waits about 700ms for the slot and then compresses for
	// 700ms; only the compression itself is time boxed.
	for range 2 {
		if res := h.await(t); res.err != nil {
			t.Fatalf("job failed: %v (%s)", res.err, services.KindOf(res.err))
		}
	}
	if peak := h.fake.PeakCompress(); peak != 1 {
		t.Fatalf("peak compress concurrency = %d, want 1", peak)
	}
}

func TestStatusReportsStageHealth(t *testing.T) {
	h := newHarness(t)
	status := h.manager.Status(context.Background())
	if status.Running {
		t.Fatal("manager should not be running before Start")
	}
	for _, name := range stage.Order {
		health, ok := status.StageHealth[name]
		if !ok {
			t.Fatalf("missing health for %s", name)
		}
		if health.Name != name {
			t.Fatalf("health name %q for stage %q", health.Name, name)
		}
	}
	if status.CompressionSlots != h.cfg.Queue.CompressionSlots {
		t.Fatalf("compression slots = %d", status.CompressionSlots)
	}
}
