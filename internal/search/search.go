// Package search indexes document titles for the listing and quick-open
// surfaces. Meilisearch is the primary engine; when it is absent or
// unhealthy the store's title search serves as fallback.
package search

import "context"

// Record is the data indexed per document. ID is "kind-id" so notes and
// templates cannot collide in the shared index.
type Record struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	DocID string `json:"docId"`
	Title string `json:"title"`
}

// Result is a single title hit.
type Result struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Query describes a title search. Kind empty means all kinds.
type Query struct {
	Text  string
	Kind  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Indexer pushes title records into an index.
type Indexer interface {
	IndexDocument(rec Record) error
	DeleteDocument(id string) error
}

// Searcher executes a title search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}
