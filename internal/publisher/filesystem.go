package publisher

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"triad/internal/config"
	"triad/internal/fileutil"
	"triad/internal/services"
)

// ErrSignature marks a filesystem object URL that is expired or tampered with.
var ErrSignature = errors.New("invalid or expired object signature")

// FilesystemStore keeps artifacts under a local directory. Its URLs point at
// the daemon's /objects/ route and carry an HMAC over key and expiry.
type FilesystemStore struct {
	root    string
	baseURL string
	key     []byte
	now     func() time.Time
}

// NewFilesystemStore creates the store rooted at storage.filesystem_dir.
// Without a signing key a random one is generated, so URLs do not survive a
// daemon restart.
func NewFilesystemStore(cfg *config.Config) (*FilesystemStore, error) {
	root := strings.TrimSpace(cfg.Storage.FilesystemDir)
	if root == "" {
		return nil, services.Wrap(services.KindConfiguration, "", "filesystem store", "storage.filesystem_dir is empty", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	key := []byte(cfg.Storage.SigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	return &FilesystemStore{
		root:    root,
		baseURL: strings.TrimRight(cfg.API.PublicBaseURL, "/"),
		key:     key,
		now:     time.Now,
	}, nil
}

// Backend implements ObjectStore.
func (f *FilesystemStore) Backend() string { return config.StorageFilesystem }

// Put copies localPath into the store with hash verification.
func (f *FilesystemStore) Put(_ context.Context, key, localPath, _ string) (Object, error) {
	dst, err := f.path(key)
	if err != nil {
		return Object{}, err
	}
	hash, size, err := fileutil.CopyFileVerified(localPath, dst)
	if err != nil {
		return Object{}, services.Wrap(services.KindStorage, "", "put object", key, err)
	}
	return Object{
		Key:     key,
		Locator: "file://" + filepath.ToSlash(dst),
		Size:    size,
		Hash:    hash,
	}, nil
}

// SignedURL implements ObjectStore.
func (f *FilesystemStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	if !validKey(key) {
		return "", time.Time{}, services.Wrap(services.KindValidation, "", "signed url", "invalid object key", nil)
	}
	expires := f.now().Add(ttl).Truncate(time.Second)
	exp := strconv.FormatInt(expires.Unix(), 10)
	q := url.Values{}
	q.Set("expires", exp)
	q.Set("sig", f.sign(key, exp))
	return f.baseURL + "/objects/" + escapeKey(key) + "?" + q.Encode(), expires, nil
}

// Verify checks a URL's expiry and signature for key.
func (f *FilesystemStore) Verify(key, expires, sig string) error {
	if !validKey(key) {
		return ErrSignature
	}
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrSignature
	}
	if f.now().After(time.Unix(unix, 0)) {
		return ErrSignature
	}
	expected := f.sign(key, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrSignature
	}
	return nil
}

// Open returns the stored object for serving. The caller closes the file.
func (f *FilesystemStore) Open(key string) (*os.File, os.FileInfo, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, services.NotFound("object", key)
		}
		return nil, nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, info, nil
}

func (f *FilesystemStore) path(key string) (string, error) {
	if !validKey(key) {
		return "", services.Wrap(services.KindValidation, "", "object path", "invalid object key", nil)
	}
	return filepath.Join(f.root, filepath.FromSlash(key)), nil
}

func (f *FilesystemStore) sign(key, expires string) string {
	mac := hmac.New(sha256.New, f.key)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
