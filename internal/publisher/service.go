package publisher

import (
	"context"
	"log/slog"
	"time"

	"triad/internal/config"
	"triad/internal/logging"
	"triad/internal/segment"
	"triad/internal/services"
	"triad/internal/store"
)

// Request describes one artifact to publish.
type Request struct {
	ArtifactID     string
	MergeSessionID string
	OwnerID        string
	LocalPath      string
	Container      string
	ContentType    string
}

// StreamingDescriptor is what a client needs to play an artifact and seek to
// a segment.
type StreamingDescriptor struct {
	ArtifactID    string            `json:"artifact_id"`
	URL           string            `json:"url"`
	SupportsRange bool              `json:"supports_range"`
	ExpiresAt     time.Time         `json:"expires_at"`
	ContentType   string            `json:"content_type"`
	ByteSize      int64             `json:"byte_size"`
	TotalDuration float64           `json:"total_duration"`
	Segments      []segment.Segment `json:"segments"`
}

// ClientHint lets a caller ask for a shorter URL lifetime than the default.
type ClientHint struct {
	TTL time.Duration
}

// Service publishes artifacts with retry and resolves streaming descriptors.
type Service struct {
	objects   ObjectStore
	store     *store.Store
	logger    *slog.Logger
	prefix    string
	attempts  int
	baseDelay time.Duration
	urlTTL    time.Duration
}

// NewService wires the publisher to an object store.
func NewService(cfg *config.Config, objects ObjectStore, st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	prefix := ""
	if objects.Backend() == config.StorageS3 {
		prefix = cfg.Storage.S3Prefix
	}
	return &Service{
		objects:   objects,
		store:     st,
		logger:    logging.NewComponentLogger(logger, "publisher"),
		prefix:    prefix,
		attempts:  max(1, cfg.Storage.RetryAttempts),
		baseDelay: time.Duration(cfg.Storage.RetryBaseDelayMS) * time.Millisecond,
		urlTTL:    time.Duration(cfg.Storage.URLTTLSeconds) * time.Second,
	}
}

// Backend names the underlying object store.
func (s *Service) Backend() string {
	return s.objects.Backend()
}

// Objects exposes the underlying store, for the daemon's object route.
func (s *Service) Objects() ObjectStore {
	return s.objects
}

// Publish uploads the artifact under its owner/merge-session key. Storage
// errors are retried with exponential backoff; anything else fails at once.
func (s *Service) Publish(ctx context.Context, req Request) (Object, error) {
	key := ArtifactKey(s.prefix, req.OwnerID, req.MergeSessionID, req.ArtifactID, req.Container)
	logger := logging.WithContext(ctx, s.logger)

	var obj Object
	attempt := 0
	err := retry(ctx, s.attempts, s.baseDelay, func() error {
		attempt++
		var err error
		obj, err = s.objects.Put(ctx, key, req.LocalPath, req.ContentType)
		if err != nil && attempt < s.attempts && services.KindOf(err) == services.KindStorage {
			logging.WarnWithContext(logger, "artifact upload attempt failed", "publish_retry",
				logging.String("object_key", key),
				logging.Int("attempt", attempt),
				logging.String(logging.FieldErrorHint, "retrying with backoff"),
				logging.Error(err),
			)
		}
		return err
	})
	if err != nil {
		return Object{}, err
	}
	logger.Info("artifact published",
		logging.String(logging.FieldEventType, "artifact_published"),
		logging.String("backend", s.objects.Backend()),
		logging.String("object_key", obj.Key),
		logging.Int64("byte_size", obj.Size),
		logging.Int("attempts", attempt),
	)
	return obj, nil
}

// GetStreamingDescriptor resolves a signed, range-capable URL for an artifact.
func (s *Service) GetStreamingDescriptor(ctx context.Context, artifactID string, hint ClientHint) (*StreamingDescriptor, error) {
	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return nil, services.NotFound("artifact", artifactID)
	}
	ttl := s.urlTTL
	if hint.TTL > 0 && hint.TTL < ttl {
		ttl = hint.TTL
	}
	url, expires, err := s.objects.SignedURL(ctx, artifact.ObjectKey, ttl)
	if err != nil {
		return nil, err
	}
	return &StreamingDescriptor{
		ArtifactID:    artifact.ID,
		URL:           url,
		SupportsRange: true,
		ExpiresAt:     expires,
		ContentType:   artifact.ContentType,
		ByteSize:      artifact.ByteSize,
		TotalDuration: artifact.TotalDuration,
		Segments:      artifact.Segments,
	}, nil
}

// retry runs op up to attempts times, sleeping base, 2*base, 4*base... between
// storage failures. Other error kinds return immediately.
func retry(ctx context.Context, attempts int, base time.Duration, op func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if services.KindOf(err) != services.KindStorage || attempt == attempts {
			return err
		}
		delay := base << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
