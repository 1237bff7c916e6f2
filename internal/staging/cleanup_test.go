package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"triad/internal/logging"
)

func TestCleanOrphanedMissingDir(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanOrphaned(context.Background(), dir, nil, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Fatalf("expected empty result for path %q, got %+v", dir, result)
		}
	}
}

func TestCleanOrphanedKeepsActiveJobs(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"job-active", "job-done", "job-crashed"} {
		if err := os.MkdirAll(filepath.Join(root, name, "normalized"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	stray := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(stray, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result := CleanOrphaned(context.Background(), root, map[string]struct{}{"job-active": {}}, nil)
	if len(result.Removed) != 2 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := os.Stat(filepath.Join(root, "job-active")); err != nil {
		t.Fatalf("active job dir removed: %v", err)
	}
	for _, name := range []string{"job-done", "job-crashed"} {
		if _, err := os.Stat(filepath.Join(root, name)); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed, stat err %v", name, err)
		}
	}
	if _, err := os.Stat(stray); err != nil {
		t.Fatalf("plain files are left alone: %v", err)
	}
}
