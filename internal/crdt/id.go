// Package crdt implements the replicated document shared between
// collaborating editor sessions. A document holds two fragments: the
// structured content body (a sequence of blocks) and the title (a sequence
// of runes). Both are RGA sequences with tombstoned deletes; block payload
// edits resolve last-writer-wins. The whole document state is a set of
// element records whose merge is a commutative, idempotent union, so
// replicas converge regardless of delivery order or duplication.
package crdt

// ID identifies an element or an edit: a Lamport clock paired with the
// replica that produced it.
type ID struct {
	Site  string `json:"s"`
	Clock uint64 `json:"c"`
}

// IsZero reports whether the id is the zero value, used as the sequence
// head origin and as the "never updated" stamp.
func (id ID) IsZero() bool {
	return id.Site == "" && id.Clock == 0
}

// Less orders ids by clock, then site, giving every pair of distinct ids a
// deterministic order across replicas.
func (id ID) Less(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.Site < other.Site
}

// BlockID identifies a content block within a document.
type BlockID = ID
