package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"triad/internal/segment"
	"triad/internal/services"
	"triad/internal/store"
	"triad/internal/testsupport"
)

func newUpload(id string, index int) *store.UploadSession {
	now := time.Now().UTC()
	return &store.UploadSession{
		ID:               id,
		OwnerID:          "owner-1",
		StatementIndex:   index,
		Filename:         fmt.Sprintf("statement-%d.mp4", index),
		ContentType:      "video/mp4",
		TotalSize:        3000,
		DeclaredDuration: 10,
		ChunkSize:        1000,
		TotalChunks:      3,
		Status:           store.UploadInitiated,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(time.Hour),
	}
}

func newMerge(t *testing.T, st *store.Store, id string) []*store.UploadSession {
	t.Helper()
	now := time.Now().UTC()
	uploads := []*store.UploadSession{newUpload(id+"-u0", 0), newUpload(id+"-u1", 1), newUpload(id+"-u2", 2)}
	ms := &store.MergeSession{ID: id, OwnerID: "owner-1", Title: "three truths", Status: store.MergeInitiated, CreatedAt: now, UpdatedAt: now}
	if err := st.CreateMergeSession(context.Background(), ms, uploads); err != nil {
		t.Fatalf("CreateMergeSession: %v", err)
	}
	return uploads
}

func newJob(msID string, attempt int) *store.MergeJob {
	return &store.MergeJob{
		ID:             fmt.Sprintf("%s-job-%d", msID, attempt),
		MergeSessionID: msID,
		Attempt:        attempt,
		Priority:       "normal",
		VideoCodec:     "libx264",
		Quality:        "crf=23",
		Container:      "mp4",
	}
}

func TestCreateMergeSessionPersistsChildren(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	newMerge(t, st, "ms-1")

	ms, err := st.GetMergeSession(ctx, "ms-1")
	if err != nil || ms == nil {
		t.Fatalf("GetMergeSession: %v %v", ms, err)
	}
	if ms.Status != store.MergeInitiated || ms.Title != "three truths" {
		t.Fatalf("unexpected merge session %+v", ms)
	}
	children, err := st.ListUploadsForMerge(ctx, "ms-1")
	if err != nil {
		t.Fatalf("ListUploadsForMerge: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(children))
	}
	for i, child := range children {
		if child.StatementIndex != i || child.MergeSessionID != "ms-1" {
			t.Fatalf("child %d: %+v", i, child)
		}
	}

	missing, err := st.GetMergeSession(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing session, got %v %v", missing, err)
	}
}

func TestCreateMergeSessionIsAtomic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	newMerge(t, st, "ms-1")

	// Reusing an upload id violates the primary key, so nothing may persist.
	now := time.Now().UTC()
	dup := []*store.UploadSession{newUpload("fresh", 0), newUpload("ms-1-u0", 1), newUpload("fresh-2", 2)}
	ms := &store.MergeSession{ID: "ms-2", OwnerID: "o", Status: store.MergeInitiated, CreatedAt: now, UpdatedAt: now}
	if err := st.CreateMergeSession(ctx, ms, dup); err == nil {
		t.Fatal("expected duplicate upload id to fail")
	}
	if got, _ := st.GetMergeSession(ctx, "ms-2"); got != nil {
		t.Fatal("merge session persisted despite failed transaction")
	}
	if got, _ := st.GetUploadSession(ctx, "fresh"); got != nil {
		t.Fatal("upload persisted despite failed transaction")
	}
}

func TestRegisterChunkConcurrent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	u := newUpload("u-1", -1)
	u.TotalChunks = 50
	if err := st.CreateUploadSession(ctx, u); err != nil {
		t.Fatalf("CreateUploadSession: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for worker := 0; worker < 10; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for idx := worker; idx < 50; idx += 10 {
				// register twice to exercise the overwrite path
				for range 2 {
					if _, err := st.RegisterChunk(ctx, "u-1", store.Chunk{Index: idx, Size: 100}); err != nil {
						errs <- err
					}
				}
			}
		}(worker)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("RegisterChunk: %v", err)
	}

	indices, err := st.ReceivedChunks(ctx, "u-1")
	if err != nil {
		t.Fatalf("ReceivedChunks: %v", err)
	}
	if len(indices) != 50 {
		t.Fatalf("expected 50 registrations, got %d", len(indices))
	}
	for i, idx := range indices {
		if idx != i {
			t.Fatalf("index %d = %d", i, idx)
		}
	}
	got, _ := st.GetUploadSession(ctx, "u-1")
	if got.Status != store.UploadInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
}

func TestUploadTerminalTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := st.CreateUploadSession(ctx, newUpload("u-1", -1)); err != nil {
		t.Fatalf("CreateUploadSession: %v", err)
	}
	if _, err := st.RegisterChunk(ctx, "u-1", store.Chunk{Index: 0, Size: 1000, Hash: "abc"}); err != nil {
		t.Fatalf("RegisterChunk: %v", err)
	}

	ok, err := st.CloseUpload(ctx, "u-1", store.UploadCancelled, "client cancelled")
	if err != nil || !ok {
		t.Fatalf("CloseUpload: %v %v", ok, err)
	}
	if ok, _ := st.CompleteUpload(ctx, "u-1", "hash"); ok {
		t.Fatal("cancelled upload must not complete")
	}
	if ok, _ := st.RegisterChunk(ctx, "u-1", store.Chunk{Index: 1, Size: 1000}); ok {
		t.Fatal("cancelled upload must not accept chunks")
	}
	chunks, _ := st.ListChunks(ctx, "u-1")
	if len(chunks) != 0 {
		t.Fatalf("expected chunk registrations dropped, got %d", len(chunks))
	}
	if _, err := st.CloseUpload(ctx, "u-1", store.UploadCompleted, ""); err == nil {
		t.Fatal("expected completed to be rejected as a close status")
	}
}

func TestListExpiredUploads(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	stale := newUpload("stale", -1)
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	fresh := newUpload("fresh", -1)
	done := newUpload("done", -1)
	done.ExpiresAt = time.Now().Add(-time.Minute)
	done.Status = store.UploadCompleted
	for _, u := range []*store.UploadSession{stale, fresh, done} {
		if err := st.CreateUploadSession(ctx, u); err != nil {
			t.Fatalf("CreateUploadSession: %v", err)
		}
	}
	expired, err := st.ListExpiredUploads(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListExpiredUploads: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "stale" {
		t.Fatalf("unexpected expired set %+v", expired)
	}
}

func TestStartMergingOnlyOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	newMerge(t, st, "ms-1")
	if ok, _ := st.TransitionMerge(ctx, "ms-1", store.MergeInitiated, store.MergeUploading); !ok {
		t.Fatal("expected initiated -> uploading")
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := newJob("ms-1", 1)
			job.ID = fmt.Sprintf("job-%d", i)
			ok, err := st.StartMerging(ctx, "ms-1", job)
			if err != nil {
				t.Errorf("StartMerging: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one enqueue, got %d", wins)
	}
	jobs, _ := st.ListJobsForMerge(ctx, "ms-1")
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	ms, _ := st.GetMergeSession(ctx, "ms-1")
	if ms.Status != store.MergeMerging || !ms.JobQueued || ms.Attempts != 1 {
		t.Fatalf("unexpected session %+v", ms)
	}
}

func TestJobLifecycleAndRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	newMerge(t, st, "ms-1")
	st.TransitionMerge(ctx, "ms-1", store.MergeInitiated, store.MergeUploading)
	first := newJob("ms-1", 1)
	if ok, err := st.StartMerging(ctx, "ms-1", first); !ok || err != nil {
		t.Fatalf("StartMerging: %v %v", ok, err)
	}

	if ok, _ := st.MarkJobRunning(ctx, first.ID, "/tmp/work"); !ok {
		t.Fatal("expected job to start")
	}
	if ok, _ := st.MarkJobRunning(ctx, first.ID, "/tmp/work"); ok {
		t.Fatal("job must not be claimed twice")
	}
	if ok, _ := st.AdvanceStage(ctx, first.ID, "analysis", 0); !ok {
		t.Fatal("expected stage advance")
	}
	if ok, _ := st.AdvanceStage(ctx, first.ID, "merging", 2); !ok {
		t.Fatal("expected stage advance")
	}
	if ok, _ := st.AdvanceStage(ctx, first.ID, "preparation", 1); ok {
		t.Fatal("stage must not move backwards")
	}
	if err := st.UpdateStageProgress(ctx, first.ID, 2, 60); err != nil {
		t.Fatalf("UpdateStageProgress: %v", err)
	}
	if err := st.UpdateStageProgress(ctx, first.ID, 2, 30); err != nil {
		t.Fatalf("UpdateStageProgress: %v", err)
	}
	job, _ := st.GetJob(ctx, first.ID)
	if job.Stage != "merging" || job.StageProgress != 60 {
		t.Fatalf("unexpected job progress %+v", job)
	}

	desc := services.Describe(services.Wrap(services.KindProcessing, "merging", "concat", "concat failed", nil))
	if ok, _ := st.FinishJob(ctx, first.ID, store.JobFailed, &desc); !ok {
		t.Fatal("expected finish")
	}
	if ok, _ := st.FinishJob(ctx, first.ID, store.JobSucceeded, nil); ok {
		t.Fatal("finished job must not finish again")
	}

	second := newJob("ms-1", 2)
	second.Priority = "high"
	if ok, err := st.RetryMerge(ctx, "ms-1", &desc, second); !ok || err != nil {
		t.Fatalf("RetryMerge: %v %v", ok, err)
	}
	if ok, _ := st.RetryMerge(ctx, "ms-1", &desc, newJob("ms-1", 2)); ok {
		t.Fatal("attempt 2 must only be scheduled once")
	}
	ms, _ := st.GetMergeSession(ctx, "ms-1")
	if ms.Attempts != 2 || ms.Error == nil || ms.Error.Code != services.KindProcessing.Code() {
		t.Fatalf("unexpected session after retry %+v", ms)
	}
	latest, _ := st.LatestJobForMerge(ctx, "ms-1")
	if latest.ID != second.ID || latest.Status != store.JobQueued || latest.StageIndex != -1 {
		t.Fatalf("unexpected latest job %+v", latest)
	}
}

func TestCompleteMergeStoresArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	newMerge(t, st, "ms-1")
	segments, _ := segment.Compute([]float64{15, 12.5, 18.2})
	artifact := &store.Artifact{
		ID: "art-1", MergeSessionID: "ms-1", OwnerID: "owner-1", Backend: "filesystem",
		ObjectKey: "owner-1/ms-1/art-1.mp4", Locator: "file:///objects/owner-1/ms-1/art-1.mp4",
		TotalDuration: 45.7, ByteSize: 1234, Container: "mp4", VideoCodec: "h264", AudioCodec: "aac",
		ContentType: "video/mp4", Segments: segments, CreatedAt: time.Now().UTC(),
	}

	if ok, _ := st.CompleteMerge(ctx, artifact); ok {
		t.Fatal("session still uploading must not complete")
	}
	if got, _ := st.GetArtifact(ctx, "art-1"); got != nil {
		t.Fatal("artifact visible before completion")
	}

	st.TransitionMerge(ctx, "ms-1", store.MergeInitiated, store.MergeUploading)
	st.StartMerging(ctx, "ms-1", newJob("ms-1", 1))
	if ok, err := st.CompleteMerge(ctx, artifact); !ok || err != nil {
		t.Fatalf("CompleteMerge: %v %v", ok, err)
	}
	got, err := st.GetArtifactForMerge(ctx, "ms-1")
	if err != nil || got == nil {
		t.Fatalf("GetArtifactForMerge: %v %v", got, err)
	}
	if len(got.Segments) != 3 || got.Segments[2].End != segments[2].End {
		t.Fatalf("segments not round-tripped: %+v", got.Segments)
	}
	ms, _ := st.GetMergeSession(ctx, "ms-1")
	if ms.Status != store.MergeCompleted || ms.ArtifactID != "art-1" || ms.FinishedAt == nil {
		t.Fatalf("unexpected session %+v", ms)
	}
	if ok, _ := st.FailMerge(ctx, "ms-1", nil); ok {
		t.Fatal("completed session must be immutable")
	}
}

func TestStuckAndInterruptedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	newMerge(t, st, "ms-1")
	st.TransitionMerge(ctx, "ms-1", store.MergeInitiated, store.MergeUploading)
	job := newJob("ms-1", 1)
	st.StartMerging(ctx, "ms-1", job)
	st.MarkJobRunning(ctx, job.ID, "")
	st.AdvanceStage(ctx, job.ID, "compression", 3)

	stuck, err := st.ListStuckJobs(ctx, time.Now().Add(time.Minute))
	if err != nil || len(stuck) != 1 {
		t.Fatalf("expected stuck job, got %v %v", stuck, err)
	}
	if err := st.SetWaitingForSlot(ctx, job.ID, true); err != nil {
		t.Fatalf("SetWaitingForSlot: %v", err)
	}
	if stuck, _ := st.ListStuckJobs(ctx, time.Now().Add(time.Minute)); len(stuck) != 0 {
		t.Fatal("jobs waiting for a slot are not stuck")
	}

	n, err := st.RequeueInterrupted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RequeueInterrupted: %d %v", n, err)
	}
	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != store.JobQueued || got.Stage != "" || got.StageIndex != -1 || got.WaitingForSlot {
		t.Fatalf("unexpected requeued job %+v", got)
	}
	counts, _ := st.CountJobsByStatus(ctx)
	if counts[store.JobQueued] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestReopenChecksSchemaVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st.Close()

	again, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if err := again.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
