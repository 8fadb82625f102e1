// Package backend implements the REST API that stores document metadata,
// canonical snapshots, and fallback content, and answers the snapshot
// persistence contract used by editing sessions.
package backend

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"

	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/crdt"
	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/search"
	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/snaphist"
	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/store"

	"github.com/google/uuid"
)

// Entity is the REST representation of a document. YjsUpdate is base64.
type Entity struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	Title           string `json:"title"`
	YjsUpdate       string `json:"yjsUpdate,omitempty"`
	FallbackContent string `json:"fallbackContent,omitempty"`
}

// CreateEntityInput is the body accepted when creating a document.
type CreateEntityInput struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	FallbackContent string `json:"fallbackContent"`
}

type dataStore interface {
	GetDocument(ctx context.Context, kind, id string) (store.Document, error)
	CreateDocument(ctx context.Context, doc store.Document) (store.Document, error)
	UpdateSnapshot(ctx context.Context, kind, id string, update []byte) error
	UpdateTitle(ctx context.Context, kind, id, title string) error
	ListDocuments(ctx context.Context, kind string, limit int) ([]store.Document, error)
}

type snapshotHistory interface {
	Record(kind, id string, snapshot []byte, title string) error
	History(kind, id string, limit int) ([]snaphist.Version, error)
	SnapshotAt(kind, id, hash string) ([]byte, error)
}

// Service holds the backend's domain logic. search and history are
// optional; a nil history disables the audit trail.
type Service struct {
	store   dataStore
	search  *search.Service
	history snapshotHistory
	pinger  interface{ PingContext(context.Context) error }
}

func NewService(st dataStore, searchSvc *search.Service, history snapshotHistory) *Service {
	return &Service{store: st, search: searchSvc, history: history}
}

// WithPinger attaches a connectivity probe used by the readiness endpoint.
func (s *Service) WithPinger(p interface{ PingContext(context.Context) error }) *Service {
	s.pinger = p
	return s
}

// Ping checks backend dependencies for readiness.
func (s *Service) Ping(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	return s.pinger.PingContext(ctx)
}

func validCollection(collection string) bool {
	return collection == "notes" || collection == "templates"
}

func (s *Service) GetEntity(ctx context.Context, collection, id string) (Entity, error) {
	if !validCollection(collection) {
		return Entity{}, domainError(http.StatusBadRequest, "INVALID_COLLECTION", "Unknown collection", collection)
	}
	doc, err := s.store.GetDocument(ctx, collection, id)
	if err != nil {
		return Entity{}, err
	}
	return toEntity(doc), nil
}

func (s *Service) CreateEntity(ctx context.Context, collection string, input CreateEntityInput) (Entity, error) {
	if !validCollection(collection) {
		return Entity{}, domainError(http.StatusBadRequest, "INVALID_COLLECTION", "Unknown collection", collection)
	}
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	doc, err := s.store.CreateDocument(ctx, store.Document{
		Kind:            collection,
		ID:              input.ID,
		Title:           input.Title,
		FallbackContent: input.FallbackContent,
	})
	if err != nil {
		return Entity{}, err
	}
	if s.search != nil {
		s.search.IndexDocument(doc.Kind, doc.ID, doc.Title)
	}
	return toEntity(doc), nil
}

func (s *Service) ListEntities(ctx context.Context, collection string, limit int) ([]Entity, error) {
	if !validCollection(collection) {
		return nil, domainError(http.StatusBadRequest, "INVALID_COLLECTION", "Unknown collection", collection)
	}
	docs, err := s.store.ListDocuments(ctx, collection, limit)
	if err != nil {
		return nil, err
	}
	entities := make([]Entity, 0, len(docs))
	for _, doc := range docs {
		entities = append(entities, toEntity(doc))
	}
	return entities, nil
}

// SaveSnapshot validates and persists a canonical snapshot. The snapshot
// must decode as an update; corrupt payloads are rejected so a client bug
// cannot poison the stored state every later session loads from.
func (s *Service) SaveSnapshot(ctx context.Context, collection, id, encoded string) error {
	if !validCollection(collection) {
		return domainError(http.StatusBadRequest, "INVALID_COLLECTION", "Unknown collection", collection)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return domainError(http.StatusBadRequest, "INVALID_SNAPSHOT", "Snapshot is not valid base64", nil)
	}
	if err := crdt.NewDoc().ApplySnapshot(raw); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_SNAPSHOT", "Snapshot does not decode", nil)
	}
	if err := s.store.UpdateSnapshot(ctx, collection, id, raw); err != nil {
		return err
	}
	if s.history != nil {
		doc, err := s.store.GetDocument(ctx, collection, id)
		title := ""
		if err == nil {
			title = doc.Title
		}
		go func() {
			if err := s.history.Record(collection, id, raw, title); err != nil {
				log.Printf("backend: record snapshot history %s/%s: %v", collection, id, err)
			}
		}()
	}
	return nil
}

func (s *Service) SaveTitle(ctx context.Context, collection, id, title string) error {
	if !validCollection(collection) {
		return domainError(http.StatusBadRequest, "INVALID_COLLECTION", "Unknown collection", collection)
	}
	if err := s.store.UpdateTitle(ctx, collection, id, title); err != nil {
		return err
	}
	if s.search != nil {
		s.search.IndexDocument(collection, id, title)
	}
	return nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) History(ctx context.Context, collection, id string, limit int) ([]snaphist.Version, error) {
	if !validCollection(collection) {
		return nil, domainError(http.StatusBadRequest, "INVALID_COLLECTION", "Unknown collection", collection)
	}
	if s.history == nil {
		return []snaphist.Version{}, nil
	}
	return s.history.History(collection, id, limit)
}

func (s *Service) SnapshotAt(ctx context.Context, collection, id, hash string) (string, error) {
	if !validCollection(collection) {
		return "", domainError(http.StatusBadRequest, "INVALID_COLLECTION", "Unknown collection", collection)
	}
	if s.history == nil {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "History is not enabled", nil)
	}
	raw, err := s.history.SnapshotAt(collection, id, hash)
	if err != nil {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "No snapshot at that version", nil)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func toEntity(doc store.Document) Entity {
	entity := Entity{
		ID:              doc.ID,
		Kind:            doc.Kind,
		Title:           doc.Title,
		FallbackContent: doc.FallbackContent,
	}
	if len(doc.YjsUpdate) > 0 {
		entity.YjsUpdate = base64.StdEncoding.EncodeToString(doc.YjsUpdate)
	}
	return entity
}
