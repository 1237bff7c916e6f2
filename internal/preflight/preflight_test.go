package preflight

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"triad/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()
	free, err := FreeBytes(dir)
	if err != nil {
		t.Fatalf("free bytes: %v", err)
	}
	if free == 0 {
		t.Fatal("expected some free space on the temp filesystem")
	}
	if result := CheckDiskSpace("disk", dir, 0); !result.Passed {
		t.Fatalf("expected pass with no minimum, got: %s", result.Detail)
	}
	if result := CheckDiskSpace("disk", dir, math.MaxUint64); result.Passed {
		t.Fatal("expected failure for an impossible minimum")
	}
	if result := CheckDiskSpace("disk", filepath.Join(dir, "missing"), 0); result.Passed {
		t.Fatal("expected failure for a missing path")
	}
}

func TestCheckNtfy_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := CheckNtfy(context.Background(), srv.URL+"/triad")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckNtfy_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	result := CheckNtfy(context.Background(), srv.URL+"/triad")
	if result.Passed {
		t.Fatal("expected failure for a protected topic")
	}
}

func TestCheckNtfy_MissingURL(t *testing.T) {
	if result := CheckNtfy(context.Background(), " "); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_TestConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	results := RunAll(context.Background(), cfg)
	// staging, state, disk, object directory
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_IncludesNtfyWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = srv.URL + "/triad"

	found := false
	for _, r := range RunAll(context.Background(), cfg) {
		if r.Name == "ntfy" {
			found = true
			if !r.Passed {
				t.Errorf("ntfy check failed: %s", r.Detail)
			}
		}
	}
	if !found {
		t.Fatal("expected ntfy check in results")
	}
}
