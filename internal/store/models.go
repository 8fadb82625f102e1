package store

import "time"

// Document is one persisted entity. YjsUpdate is the raw canonical
// snapshot (the REST layer base64-encodes it); FallbackContent is the
// legacy HTML body kept for documents that predate collaborative editing.
type Document struct {
	Kind            string
	ID              string
	Title           string
	FallbackContent string
	YjsUpdate       []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
