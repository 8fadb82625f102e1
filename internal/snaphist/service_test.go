package snaphist

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestRecordAndHistory(t *testing.T) {
	svc := New(t.TempDir())

	if err := svc.Record("notes", "doc-1", []byte("v1"), "First"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := svc.Record("notes", "doc-1", []byte("v2-longer"), "Second"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	history, err := svc.History("notes", "doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Title != "Second" || history[0].Size != len("v2-longer") {
		t.Errorf("head version = %+v", history[0])
	}
	if history[1].Title != "First" {
		t.Errorf("oldest version = %+v", history[1])
	}

	snap, err := svc.SnapshotAt("notes", "doc-1", history[1].Hash)
	if err != nil {
		t.Fatalf("SnapshotAt() error = %v", err)
	}
	if !bytes.Equal(snap, []byte("v1")) {
		t.Errorf("snapshot at oldest = %q, want v1", snap)
	}
}

func TestRecordIdenticalSnapshotIsSkipped(t *testing.T) {
	svc := New(t.TempDir())

	if err := svc.Record("notes", "doc-1", []byte("same"), "Title"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := svc.Record("notes", "doc-1", []byte("same"), "Title"); err != nil {
		t.Fatalf("second Record() error = %v", err)
	}

	history, err := svc.History("notes", "doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1 for identical re-save", len(history))
	}
}

func TestHistoryForUnknownDocument(t *testing.T) {
	svc := New(t.TempDir())

	history, err := svc.History("notes", "never-saved", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history = %v, want empty", history)
	}
}

func TestKindsAreIsolated(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)

	if err := svc.Record("notes", "x", []byte("note"), ""); err != nil {
		t.Fatalf("Record(notes) error = %v", err)
	}
	if err := svc.Record("templates", "x", []byte("template"), ""); err != nil {
		t.Fatalf("Record(templates) error = %v", err)
	}

	for _, kind := range []string{"notes", "templates"} {
		if _, err := os.Stat(filepath.Join(dir, kind, "x")); err != nil {
			t.Errorf("repo for %s missing: %v", kind, err)
		}
	}
}

func TestConcurrentRecords(t *testing.T) {
	svc := New(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := []byte(fmt.Sprintf("snapshot-%d", i))
			if err := svc.Record("notes", "shared", snap, fmt.Sprintf("v%d", i)); err != nil {
				t.Errorf("Record(%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	history, err := svc.History("notes", "shared", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) == 0 || len(history) > 8 {
		t.Errorf("history length = %d, want between 1 and 8", len(history))
	}
}
