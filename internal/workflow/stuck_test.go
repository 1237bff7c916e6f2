package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"triad/internal/monitor"
	"triad/internal/queue"
	"triad/internal/services"
	"triad/internal/stage"
	"triad/internal/store"
	"triad/internal/testsupport"
)

type capturedResult struct {
	job *store.MergeJob
	err error
}

type captureHandler struct {
	results []capturedResult
}

func (c *captureHandler) OnJobResult(_ context.Context, job *store.MergeJob, _ *store.Artifact, err error) error {
	c.results = append(c.results, capturedResult{job: job, err: err})
	return nil
}

type capturedEvents struct {
	events []monitor.Event
}

func (c *capturedEvents) Record(ev monitor.Event) {
	c.events = append(c.events, ev)
}

func TestStuckDetectorFailsStalledJobOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	m := NewManager(cfg, st, queue.New(), queue.NewGovernor(1), nil)
	handler := &captureHandler{}
	m.SetResultHandler(handler)
	recorder := &capturedEvents{}
	m.SetRecorder(recorder)

	_, stalled := testsupport.SeedMerge(t, cfg, st, 3, 3, 3)
	_, parked := testsupport.SeedMerge(t, cfg, st, 3, 3, 3)
	for _, job := range []*store.MergeJob{stalled, parked} {
		if ok, err := st.MarkJobRunning(ctx, job.ID, t.TempDir()); err != nil || !ok {
			t.Fatalf("mark running: ok=%v err=%v", ok, err)
		}
		if ok, err := st.AdvanceStage(ctx, job.ID, stage.Merging, stage.Index(stage.Merging)); err != nil || !ok {
			t.Fatalf("advance: ok=%v err=%v", ok, err)
		}
	}
	if err := st.SetWaitingForSlot(ctx, parked.ID, true); err != nil {
		t.Fatalf("set waiting: %v", err)
	}

	var cause error
	m.track(stalled.ID, func(err error) { cause = err })

	detector := m.StuckDetector()
	detector.now = func() time.Time { return time.Now().Add(2 * cfg.StuckThreshold()) }

	n, err := detector.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 1 {
		t.Fatalf("scan failed %d jobs, want 1", n)
	}
	if !errors.Is(cause, errStuck) {
		t.Fatalf("in-flight job cancel cause = %v", cause)
	}
	if len(handler.results) != 1 || services.KindOf(handler.results[0].err) != services.KindStuckJob {
		t.Fatalf("unexpected results %+v", handler.results)
	}

	var outcomes int
	for _, ev := range recorder.events {
		if ev.Kind == monitor.EventJobResult {
			outcomes++
			if !ev.Failed() || ev.ErrorCode != services.KindStuckJob.Code() || ev.JobID != stalled.ID {
				t.Fatalf("unexpected job result event %+v", ev)
			}
		}
	}
	if outcomes != 1 {
		t.Fatalf("stuck job produced %d job result events, want 1", outcomes)
	}

	got, err := st.GetJob(ctx, stalled.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != store.JobFailed || got.Error == nil || got.Error.Code != services.KindStuckJob.Code() {
		t.Fatalf("stalled job = %+v", got)
	}
	if got.Error.Retryable {
		t.Fatal("stuck job must not be retryable")
	}
	other, _ := st.GetJob(ctx, parked.ID)
	if other.Status != store.JobRunning {
		t.Fatalf("job waiting for a slot must not be failed, got %s", other.Status)
	}

	n, err = detector.Scan(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second scan: n=%d err=%v", n, err)
	}
	if len(handler.results) != 1 {
		t.Fatalf("stuck job reported %d times", len(handler.results))
	}
}

func TestStuckDetectorIgnoresProgressingJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	m := NewManager(cfg, st, queue.New(), queue.NewGovernor(1), nil)

	_, job := testsupport.SeedMerge(t, cfg, st, 3, 3, 3)
	if _, err := st.MarkJobRunning(ctx, job.ID, t.TempDir()); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	n, err := m.StuckDetector().Scan(ctx)
	if err != nil || n != 0 {
		t.Fatalf("scan: n=%d err=%v", n, err)
	}
}

func TestConfigureStagesRequiresEveryHandler(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	m := NewManager(cfg, st, queue.New(), queue.NewGovernor(1), nil)

	if err := m.ConfigureStages(StageSet{}); err == nil {
		t.Fatal("expected error for empty stage set")
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("start without stages should fail")
	}
}
