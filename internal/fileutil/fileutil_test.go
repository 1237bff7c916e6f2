package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashFileMatchesHashBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.bin")
	content := []byte("two truths and a lie")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	sum, size, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(content)) {
		t.Fatalf("size = %d", size)
	}
	if sum != HashBytes(content) {
		t.Fatalf("hash mismatch: %s vs %s", sum, HashBytes(content))
	}
}

func TestHashMatches(t *testing.T) {
	sum := HashBytes([]byte("x"))
	cases := []struct {
		declared string
		want     bool
	}{
		{"", true},
		{sum, true},
		{"SHA256:" + sum, true},
		{"  " + sum + " ", true},
		{HashBytes([]byte("y")), false},
	}
	for _, tc := range cases {
		if got := HashMatches(tc.declared, sum); got != tc.want {
			t.Fatalf("HashMatches(%q) = %v, want %v", tc.declared, got, tc.want)
		}
	}
}

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "nested", "dst.bin")

	content := []byte("verified copy content")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	sum, size, err := CopyFileVerified(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if sum != HashBytes(content) || size != int64(len(content)) {
		t.Fatalf("unexpected digest %s size %d", sum, size)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Fatalf("expected no temp files left, found %d entries", len(entries))
	}
}

func TestCopyFileVerified_MissingSource(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := CopyFileVerified(filepath.Join(dir, "nonexistent"), filepath.Join(dir, "dst.bin")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestRemoveIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone")
	if err := RemoveIfExists(path); err != nil {
		t.Fatalf("missing path: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RemoveIfExists(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err %v", err)
	}
	if err := RemoveIfExists(""); err != nil {
		t.Fatalf("empty path: %v", err)
	}
}
