package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound reports a document that does not exist in the store.
var ErrNotFound = errors.New("document not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetDocument(ctx context.Context, kind, id string) (Document, error) {
	const query = `
		SELECT kind, id, title, fallback_content, yjs_update, created_at, updated_at
		FROM documents WHERE kind=$1 AND id=$2
	`
	var doc Document
	var update sql.Null[[]byte]
	err := s.db.QueryRowContext(ctx, query, kind, id).Scan(
		&doc.Kind, &doc.ID, &doc.Title, &doc.FallbackContent, &update, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	if update.Valid {
		doc.YjsUpdate = update.V
	}
	return doc, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	const query = `
		INSERT INTO documents (kind, id, title, fallback_content, yjs_update)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, id) DO NOTHING
		RETURNING kind, id, title, fallback_content, created_at, updated_at
	`
	var created Document
	err := s.db.QueryRowContext(ctx, query,
		doc.Kind, doc.ID, doc.Title, doc.FallbackContent, nullableBytes(doc.YjsUpdate),
	).Scan(&created.Kind, &created.ID, &created.Title, &created.FallbackContent, &created.CreatedAt, &created.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Row already existed; creation is idempotent.
		return s.GetDocument(ctx, doc.Kind, doc.ID)
	}
	if err != nil {
		return Document{}, fmt.Errorf("create document: %w", err)
	}
	created.YjsUpdate = doc.YjsUpdate
	return created, nil
}

func (s *PostgresStore) UpdateSnapshot(ctx context.Context, kind, id string, update []byte) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET yjs_update=$3, updated_at=NOW() WHERE kind=$1 AND id=$2
	`, kind, id, update)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	return checkUpdated(result)
}

func (s *PostgresStore) UpdateTitle(ctx context.Context, kind, id, title string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title=$3, updated_at=NOW() WHERE kind=$1 AND id=$2
	`, kind, id, title)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return checkUpdated(result)
}

// ListDocuments returns titles for a kind, newest first, for listing views.
func (s *PostgresStore) ListDocuments(ctx context.Context, kind string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, id, title, created_at, updated_at
		FROM documents WHERE kind=$1
		ORDER BY updated_at DESC
		LIMIT $2
	`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.Kind, &doc.ID, &doc.Title, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SearchTitles is the store-backed fallback when no external search index
// is configured.
func (s *PostgresStore) SearchTitles(ctx context.Context, kind, query string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, id, title, created_at, updated_at
		FROM documents
		WHERE ($1 = '' OR kind=$1) AND title ILIKE '%' || $2 || '%'
		ORDER BY updated_at DESC
		LIMIT $3
	`, kind, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search titles: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.Kind, &doc.ID, &doc.Title, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func checkUpdated(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
