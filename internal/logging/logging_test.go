package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileLogging(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sct.log")

	logs := New(Config{File: path, Quiet: true})
	logs.Logger("sync").Println("Sync complete: pushed=2")
	logs.Logger("daemon").Printf("WARNING: %s", "probe failed")
	if err := logs.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	content := string(data)
	for _, want := range []string{"[sync] ", "Sync complete: pushed=2", "[daemon] ", "WARNING: probe failed"} {
		if !strings.Contains(content, want) {
			t.Errorf("log file missing %q:\n%s", want, content)
		}
	}
}

func TestQuietWithoutFile(t *testing.T) {
	logs := New(Config{Quiet: true})
	if logs.Writer() != io.Discard {
		t.Error("quiet logging without a file should discard output")
	}
	if err := logs.Rotate(); err != nil {
		t.Errorf("Rotate() without file failed: %v", err)
	}
	if err := logs.Close(); err != nil {
		t.Errorf("Close() without file failed: %v", err)
	}
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sct.log")

	logs := New(Config{File: path, Quiet: true})
	defer logs.Close()

	logs.Logger("sync").Println("before rotation")
	if err := logs.Rotate(); err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}
	logs.Logger("sync").Println("after rotation")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d files after rotation, want 2", len(entries))
	}
}
