package publisher

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"triad/internal/config"
)

// Object describes a stored artifact.
type Object struct {
	Key     string
	Locator string
	Size    int64
	Hash    string
}

// ObjectStore is the outbound storage collaborator.
type ObjectStore interface {
	// Put uploads localPath under key and returns its canonical locator.
	Put(ctx context.Context, key, localPath, contentType string) (Object, error)
	// SignedURL returns a time-limited GET URL for key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
	// Backend names the store for artifact records.
	Backend() string
}

// NewObjectStore builds the backend selected by storage.backend.
func NewObjectStore(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageS3:
		return NewS3Store(ctx, cfg)
	case config.StorageFilesystem, "":
		return NewFilesystemStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// ArtifactKey derives the object key for an artifact from its owner and merge
// session.
func ArtifactKey(prefix, ownerID, mergeSessionID, artifactID, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "mp4"
	}
	parts := make([]string, 0, 4)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts,
		keySegment(ownerID),
		keySegment(mergeSessionID),
		keySegment(artifactID)+"."+ext,
	)
	return path.Join(parts...)
}

func keySegment(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return "_"
	}
	return out
}

// validKey rejects keys that would escape a storage root.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
