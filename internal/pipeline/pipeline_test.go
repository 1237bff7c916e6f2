package pipeline_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"triad/internal/config"
	"triad/internal/media"
	"triad/internal/pipeline"
	"triad/internal/publisher"
	"triad/internal/queue"
	"triad/internal/services"
	"triad/internal/stage"
	"triad/internal/store"
	"triad/internal/testsupport"
)

func newRun(t *testing.T, cfg *config.Config, durations ...float64) *stage.Run {
	t.Helper()
	inputs := make([]*store.UploadSession, 0, len(durations))
	for i, d := range durations {
		path := filepath.Join(cfg.UploadStagingDir(), "statement", string(rune('a'+i))+".part")
		testsupport.WriteFakeVideo(t, path, media.Info{
			Duration: d, VideoCodec: "h264", AudioCodec: "aac",
			Width: 720, Height: 1280, FrameRate: 30, PixelFormat: "yuv420p",
		}, 128)
		inputs = append(inputs, &store.UploadSession{
			ID:               "upload-" + string(rune('a'+i)),
			StatementIndex:   i,
			DeclaredDuration: d,
			Status:           store.UploadCompleted,
			StagingPath:      path,
		})
	}
	return &stage.Run{
		Job:     &store.MergeJob{ID: "job-1", MergeSessionID: "merge-1", Attempt: 1},
		Session: &store.MergeSession{ID: "merge-1", OwnerID: "owner-1"},
		Inputs:  inputs,
		WorkDir: filepath.Join(cfg.JobStagingDir(), "job-1"),
		Profile: media.ProfileFromConfig(cfg),
	}
}

func TestStagesProduceSegmentedArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fake := testsupport.NewFakeProcessor()
	fake.SetNormalizeDrift(0.02)
	gov := queue.NewGovernor(1)
	objects, err := publisher.NewFilesystemStore(cfg)
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	pub := publisher.NewService(cfg, objects, nil, nil)
	set := pipeline.NewStageSet(cfg, pipeline.Deps{Processor: fake, Encoder: fake, Slots: gov, Publisher: pub}, nil)

	run := newRun(t, cfg, 15.0, 12.5, 18.2)
	var (
		mu       sync.Mutex
		progress []float64
		waits    []bool
	)
	run.Progress = func(p float64) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	}
	run.WaitingForSlot = func(w bool) { waits = append(waits, w) }

	ctx := context.Background()
	for _, h := range []stage.Handler{set.Analysis, set.Preparation, set.Merging, set.Compression, set.StorageUpload} {
		if err := h.Execute(ctx, run); err != nil {
			t.Fatalf("stage %T: %v", h, err)
		}
	}

	wantEnds := []float64{15.02, 27.54, 45.76}
	if len(run.Segments) != 3 {
		t.Fatalf("segments = %+v", run.Segments)
	}
	for i, seg := range run.Segments {
		if math.Abs(seg.End-wantEnds[i]) > 1e-3 {
			t.Fatalf("segment %d ends at %v, want %v", i, seg.End, wantEnds[i])
		}
		if i > 0 && seg.Start != run.Segments[i-1].End {
			t.Fatalf("segment %d does not start where %d ends", i, i-1)
		}
	}
	if run.Artifact == nil || run.Artifact.Backend != config.StorageFilesystem {
		t.Fatalf("artifact = %+v", run.Artifact)
	}
	if math.Abs(run.Artifact.TotalDuration-45.76) > 1e-3 {
		t.Fatalf("artifact duration = %v", run.Artifact.TotalDuration)
	}
	if len(waits) != 2 || !waits[0] || waits[1] {
		t.Fatalf("waiting hook calls = %v", waits)
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Fatalf("progress = %v", progress)
	}
	if gov.InUse() != 0 {
		t.Fatal("compression slot not released")
	}

	if err := set.Cleanup.Execute(ctx, run); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(run.WorkDir); !os.IsNotExist(err) {
		t.Fatalf("work dir still present: %v", err)
	}
}

func TestAnalyzerRejectsUnassembledInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := newRun(t, cfg, 3, 3, 3)
	run.Inputs[1].Status = store.UploadInProgress

	err := pipeline.NewAnalyzer(cfg, testsupport.NewFakeProcessor(), nil).Execute(context.Background(), run)
	if services.KindOf(err) != services.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAnalyzerRejectsOverlongStatement(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Upload.MaxDurationSeconds = 10
	run := newRun(t, cfg, 3, 25, 3)

	err := pipeline.NewAnalyzer(cfg, testsupport.NewFakeProcessor(), nil).Execute(context.Background(), run)
	if services.KindOf(err) != services.KindUnsupportedFormat {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if services.Describe(err).Fields["statement_index"] != 1 {
		t.Fatalf("expected offending statement index, got %+v", services.Describe(err).Fields)
	}
}

// skewedConcat lengthens every concatenation by extra seconds.
type skewedConcat struct {
	*testsupport.FakeProcessor
	extra float64
}

func (s skewedConcat) Concat(ctx context.Context, inputs []string, output string) error {
	if err := s.FakeProcessor.Concat(ctx, inputs, output); err != nil {
		return err
	}
	info, err := testsupport.ReadFakeVideo(output)
	if err != nil {
		return err
	}
	info.Duration += s.extra
	return os.WriteFile(output, testsupport.FakeVideo(info, 64), 0o644)
}

func TestMergerRejectsDurationDrift(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	proc := skewedConcat{FakeProcessor: testsupport.NewFakeProcessor(), extra: 5}
	run := newRun(t, cfg, 4, 4, 4)
	ctx := context.Background()

	if err := pipeline.NewAnalyzer(cfg, proc, nil).Execute(ctx, run); err != nil {
		t.Fatalf("analysis: %v", err)
	}
	if err := pipeline.NewPreparer(proc, nil).Execute(ctx, run); err != nil {
		t.Fatalf("preparation: %v", err)
	}
	err := pipeline.NewMerger(cfg, proc, nil).Execute(ctx, run)
	if services.KindOf(err) != services.KindProcessing {
		t.Fatalf("expected processing error, got %v", err)
	}
	if run.Segments != nil {
		t.Fatal("segments must not be recorded after a failed merge")
	}
}

func TestCompressorReleasesSlotOnFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fake := testsupport.NewFakeProcessor()
	gov := queue.NewGovernor(1)
	run := newRun(t, cfg, 2, 2, 2)
	ctx := context.Background()

	for _, h := range []stage.Handler{
		pipeline.NewAnalyzer(cfg, fake, nil),
		pipeline.NewPreparer(fake, nil),
		pipeline.NewMerger(cfg, fake, nil),
	} {
		if err := h.Execute(ctx, run); err != nil {
			t.Fatalf("%T: %v", h, err)
		}
	}
	fake.FailNext(testsupport.OpCompress, errors.New("encoder crashed"))
	compressor := pipeline.NewCompressor(cfg, fake, fake, gov, nil)
	var waits []bool
	run.WaitingForSlot = func(waiting bool) { waits = append(waits, waiting) }
	release, err := compressor.Admit(ctx, run)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if gov.InUse() != 1 || len(waits) != 2 || !waits[0] || waits[1] {
		t.Fatalf("admission: in use %d, wait flags %v", gov.InUse(), waits)
	}
	err = compressor.Execute(ctx, run)
	release()
	if services.KindOf(err) != services.KindProcessing {
		t.Fatalf("expected processing error, got %v", err)
	}
	if services.Describe(err).Stage != stage.Compression {
		t.Fatalf("stage = %q", services.Describe(err).Stage)
	}
	if gov.InUse() != 0 {
		t.Fatal("slot leaked after failure")
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, publisher.Request) (publisher.Object, error) {
	return publisher.Object{}, errors.New("connection reset")
}

func (failingPublisher) Backend() string { return config.StorageS3 }

func TestStorageUploaderTagsPublishFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := newRun(t, cfg, 2)
	run.Compressed = media.Info{Path: run.Inputs[0].StagingPath}

	err := pipeline.NewStorageUploader(failingPublisher{}, nil).Execute(context.Background(), run)
	desc := services.Describe(err)
	if desc.Kind != services.KindStorage || desc.Stage != stage.StorageUpload || !desc.Retryable {
		t.Fatalf("unexpected descriptor %+v", desc)
	}
	if run.Artifact != nil {
		t.Fatal("artifact must not be set on failure")
	}
}
