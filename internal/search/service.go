package search

import (
	"context"
	"log"

	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/store"
)

// titleStore is the slice of the document store the fallback path needs.
type titleStore interface {
	SearchTitles(ctx context.Context, kind, query string, limit int) ([]store.Document, error)
}

// Service tries Meilisearch first and falls back to the store's title
// search when the index is missing or unhealthy.
type Service struct {
	meili *Meili
	store titleStore
}

// NewService creates a search service. meili may be nil when Meilisearch
// is not configured.
func NewService(meili *Meili, st titleStore) *Service {
	return &Service{meili: meili, store: st}
}

// Search executes a title search with fallback.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to store: %v", err)
	}

	docs, err := s.store.SearchTitles(ctx, q.Kind, q.Text, q.Limit)
	if err != nil {
		log.Printf("search: store fallback error: %v", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	results := make([]Result, 0, len(docs))
	for _, doc := range docs {
		results = append(results, Result{Kind: doc.Kind, ID: doc.ID, Title: doc.Title})
	}
	return Response{Results: results, Total: len(results), Query: q.Text}
}

// IndexDocument pushes a title record to Meilisearch, fire-and-forget.
func (s *Service) IndexDocument(kind, id, title string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	rec := Record{ID: kind + "-" + id, Kind: kind, DocID: id, Title: title}
	go func() {
		if err := s.meili.IndexDocument(rec); err != nil {
			log.Printf("search: index document %s: %v", rec.ID, err)
		}
	}()
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
