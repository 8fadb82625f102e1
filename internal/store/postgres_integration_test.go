package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres integration test")
	}
	return url
}

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t), 4)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM documents WHERE id LIKE 'it-%'`); err != nil {
		t.Fatalf("clean test rows: %v", err)
	}
	return NewPostgresStore(db)
}

func TestDocumentLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateDocument(ctx, Document{
		Kind:            "notes",
		ID:              "it-doc1",
		Title:           "First",
		FallbackContent: "<p>legacy</p>",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Title != "First" {
		t.Errorf("title = %q", created.Title)
	}

	// Create is idempotent: a second create returns the existing row.
	again, err := s.CreateDocument(ctx, Document{Kind: "notes", ID: "it-doc1", Title: "Other"})
	if err != nil {
		t.Fatalf("re-create: %v", err)
	}
	if again.Title != "First" {
		t.Errorf("re-create title = %q, want First", again.Title)
	}

	snap := []byte{0x01, 0x02, 0xff}
	if err := s.UpdateSnapshot(ctx, "notes", "it-doc1", snap); err != nil {
		t.Fatalf("update snapshot: %v", err)
	}
	if err := s.UpdateTitle(ctx, "notes", "it-doc1", "Renamed"); err != nil {
		t.Fatalf("update title: %v", err)
	}

	doc, err := s.GetDocument(ctx, "notes", "it-doc1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Title != "Renamed" || !bytes.Equal(doc.YjsUpdate, snap) {
		t.Errorf("doc = %+v", doc)
	}
	if doc.FallbackContent != "<p>legacy</p>" {
		t.Errorf("fallback = %q", doc.FallbackContent)
	}
}

func TestDocumentNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetDocument(ctx, "notes", "it-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing = %v, want ErrNotFound", err)
	}
	if err := s.UpdateSnapshot(ctx, "notes", "it-missing", []byte{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing snapshot = %v, want ErrNotFound", err)
	}
	if err := s.UpdateTitle(ctx, "notes", "it-missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing title = %v, want ErrNotFound", err)
	}
}

func TestSearchTitles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, doc := range []Document{
		{Kind: "notes", ID: "it-s1", Title: "Grocery list"},
		{Kind: "notes", ID: "it-s2", Title: "Meeting notes"},
		{Kind: "templates", ID: "it-s3", Title: "Grocery template"},
	} {
		if _, err := s.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("create %s: %v", doc.ID, err)
		}
	}

	docs, err := s.SearchTitles(ctx, "notes", "grocery", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "it-s1" {
		t.Errorf("search result = %+v, want only it-s1", docs)
	}
}
