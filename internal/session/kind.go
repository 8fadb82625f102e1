// Package session drives the lifecycle of one collaborative document: load
// the canonical snapshot (or reconcile from fallback HTML), connect the
// document to the relay, and persist snapshot and title as the user edits.
package session

import "fmt"

// DocumentKind identifies which collection a document belongs to.
type DocumentKind int

const (
	KindNote DocumentKind = iota
	KindTemplate
)

// Collection returns the REST collection segment for the kind.
func (k DocumentKind) Collection() string {
	switch k {
	case KindNote:
		return "notes"
	case KindTemplate:
		return "templates"
	default:
		return "unknown"
	}
}

func (k DocumentKind) String() string {
	switch k {
	case KindNote:
		return "note"
	case KindTemplate:
		return "template"
	default:
		return "unknown"
	}
}

// Identity names a single document by kind and backend id.
type Identity struct {
	Kind DocumentKind
	ID   string
}

// Room returns the relay room name for the document, e.g. "note-abc123".
func (id Identity) Room() string {
	return fmt.Sprintf("%s-%s", id.Kind, id.ID)
}

func (id Identity) String() string {
	return id.Room()
}
