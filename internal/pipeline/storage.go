package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"triad/internal/logging"
	"triad/internal/publisher"
	"triad/internal/segment"
	"triad/internal/services"
	"triad/internal/stage"
	"triad/internal/store"
)

// Publisher is the slice of publisher.Service the storage stage uses.
type Publisher interface {
	Publish(ctx context.Context, req publisher.Request) (publisher.Object, error)
	Backend() string
}

// StorageUploader hands the compressed artifact to object storage and builds
// the artifact record. Nothing is visible to clients until the workflow
// commits that record.
type StorageUploader struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewStorageUploader constructs the storage upload stage.
func NewStorageUploader(p Publisher, logger *slog.Logger) *StorageUploader {
	return &StorageUploader{
		publisher: p,
		logger:    logging.NewComponentLogger(orNop(logger), "storage-uploader"),
		now:       time.Now,
	}
}

// Execute implements stage.Handler.
func (s *StorageUploader) Execute(ctx context.Context, run *stage.Run) error {
	if run.Compressed.Path == "" || run.Session == nil {
		return services.Wrap(services.KindProcessing, stage.StorageUpload, "collect inputs", "compressed artifact missing", nil)
	}
	artifactID := uuid.NewString()
	obj, err := s.publisher.Publish(ctx, publisher.Request{
		ArtifactID:     artifactID,
		MergeSessionID: run.Session.ID,
		OwnerID:        run.Session.OwnerID,
		LocalPath:      run.Compressed.Path,
		Container:      run.Profile.Container,
		ContentType:    run.Profile.ContentType(),
	})
	if err != nil {
		return stageError(services.KindStorage, stage.StorageUpload, "publish", "artifact upload failed", err)
	}
	run.ReportProgress(100)

	run.Artifact = &store.Artifact{
		ID:             artifactID,
		MergeSessionID: run.Session.ID,
		OwnerID:        run.Session.OwnerID,
		Backend:        s.publisher.Backend(),
		ObjectKey:      obj.Key,
		Locator:        obj.Locator,
		TotalDuration:  segment.Total(run.Segments),
		ByteSize:       obj.Size,
		Container:      run.Profile.Container,
		VideoCodec:     run.Compressed.VideoCodec,
		AudioCodec:     run.Compressed.AudioCodec,
		ContentType:    run.Profile.ContentType(),
		Segments:       run.Segments,
		CreatedAt:      s.now().UTC(),
	}
	logging.WithContext(ctx, s.logger).Debug("artifact record prepared",
		logging.String("artifact_id", artifactID),
		logging.String("locator", obj.Locator),
	)
	return nil
}

// HealthCheck implements stage.Handler.
func (s *StorageUploader) HealthCheck(context.Context) stage.Health {
	if s.publisher == nil {
		return stage.Unhealthy(stage.StorageUpload, "publisher unavailable")
	}
	return stage.Healthy(stage.StorageUpload)
}
