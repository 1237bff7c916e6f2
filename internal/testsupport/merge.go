package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"triad/internal/config"
	"triad/internal/store"
)

// SeedMerge stores a merge session whose statement uploads are already
// assembled, one per duration, and a queued first merge job for it.
func SeedMerge(t testing.TB, cfg *config.Config, st *store.Store, durations ...float64) (*store.MergeSession, *store.MergeJob) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	merge := &store.MergeSession{
		ID:        uuid.NewString(),
		OwnerID:   "owner-1",
		Title:     "seeded",
		Status:    store.MergeUploading,
		CreatedAt: now,
		UpdatedAt: now,
	}
	uploads := make([]*store.UploadSession, 0, len(durations))
	for i, d := range durations {
		id := uuid.NewString()
		data := FakeStatement(d, 256)
		path := filepath.Join(cfg.UploadStagingDir(), id+".part")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir upload staging: %v", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("write statement %d: %v", i, err)
		}
		completed := now
		uploads = append(uploads, &store.UploadSession{
			ID:               id,
			OwnerID:          merge.OwnerID,
			StatementIndex:   i,
			Filename:         fmt.Sprintf("statement-%d.mp4", i),
			ContentType:      "video/mp4",
			TotalSize:        int64(len(data)),
			DeclaredDuration: d,
			ChunkSize:        int64(len(data)),
			TotalChunks:      1,
			AssembledHash:    SHA256Hex(data),
			Status:           store.UploadCompleted,
			StagingPath:      path,
			CreatedAt:        now,
			UpdatedAt:        now,
			ExpiresAt:        now.Add(time.Hour),
			CompletedAt:      &completed,
		})
	}
	if err := st.CreateMergeSession(ctx, merge, uploads); err != nil {
		t.Fatalf("create merge session: %v", err)
	}
	job := &store.MergeJob{
		ID:             uuid.NewString(),
		MergeSessionID: merge.ID,
		Attempt:        1,
		Priority:       "normal",
		VideoCodec:     cfg.Merge.VideoCodec,
		Quality:        fmt.Sprintf("crf%d", cfg.Merge.CRF),
		Container:      cfg.Merge.Container,
	}
	ok, err := st.StartMerging(ctx, merge.ID, job)
	if err != nil || !ok {
		t.Fatalf("start merging: ok=%v err=%v", ok, err)
	}
	merge.Status = store.MergeMerging
	merge.JobQueued = true
	merge.Attempts = 1
	return merge, job
}
