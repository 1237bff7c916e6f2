package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// HashBytes returns the lowercase hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile streams path through SHA-256 and returns the hex digest and size.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// NormalizeHash lowercases a client-supplied digest and strips an optional
// "sha256:" prefix.
func NormalizeHash(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.TrimPrefix(value, "sha256:")
}

// HashMatches compares a declared digest against a computed one. An empty
// declared digest always matches.
func HashMatches(declared, actual string) bool {
	declared = NormalizeHash(declared)
	if declared == "" {
		return true
	}
	return declared == NormalizeHash(actual)
}

// CopyFileVerified streams src to dst with SHA-256 and size verification and
// returns the digest. The copy lands in a temporary sibling first and is
// renamed into place, so dst never holds a partial file.
func CopyFileVerified(src, dst string) (string, int64, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return "", 0, fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, fmt.Errorf("create destination dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.partial")
	if err != nil {
		return "", 0, err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, dstHasher), io.TeeReader(in, srcHasher))
	if err != nil {
		return "", 0, err
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		return "", 0, err
	}

	if written != srcInfo.Size() {
		return "", 0, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	srcSum := hex.EncodeToString(srcHasher.Sum(nil))
	if dstSum := hex.EncodeToString(dstHasher.Sum(nil)); srcSum != dstSum {
		return "", 0, fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", 0, fmt.Errorf("finalize copy: %w", err)
	}
	return srcSum, written, nil
}

// RemoveIfExists deletes path and ignores a missing file.
func RemoveIfExists(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
