package crdt

import "sort"

// element is one entry in an RGA sequence. Deleted elements remain as
// tombstones so concurrent inserts anchored on them keep their position.
type element struct {
	id      ID
	origin  ID // element to the left at insert time; zero means sequence head
	payload []byte
	deleted bool
	stamp   ID // last-writer stamp for payload updates; zero until first update
}

type sequence struct {
	elems map[ID]*element
}

func newSequence() sequence {
	return sequence{elems: make(map[ID]*element)}
}

// merge incorporates one record into the sequence and reports whether the
// state changed. Records always carry the full element, so merging is safe
// in any order: an update arriving before its insert still materializes the
// element, and replays are no-ops.
func (s *sequence) merge(rec record) bool {
	el, ok := s.elems[rec.ID]
	if !ok {
		s.elems[rec.ID] = &element{
			id:      rec.ID,
			origin:  rec.Origin,
			payload: rec.Payload,
			deleted: rec.Deleted,
			stamp:   rec.Stamp,
		}
		return true
	}

	changed := false
	if rec.Deleted && !el.deleted {
		el.deleted = true
		changed = true
	}
	if el.stamp.Less(rec.Stamp) {
		el.payload = rec.Payload
		el.stamp = rec.Stamp
		changed = true
	}
	return changed
}

// order returns all elements, tombstones included, in document order.
// Elements anchored on the same origin sort newest-first, the RGA rule that
// makes the resulting total order independent of delivery order.
func (s *sequence) order() []*element {
	children := make(map[ID][]*element, len(s.elems))
	for _, el := range s.elems {
		children[el.origin] = append(children[el.origin], el)
	}
	for _, list := range children {
		sort.Slice(list, func(i, j int) bool {
			return list[j].id.Less(list[i].id)
		})
	}

	out := make([]*element, 0, len(s.elems))
	var walk func(ID)
	walk = func(id ID) {
		for _, child := range children[id] {
			out = append(out, child)
			walk(child.id)
		}
	}
	walk(ID{})
	return out
}

// visible returns the live elements in document order.
func (s *sequence) visible() []*element {
	ordered := s.order()
	out := make([]*element, 0, len(ordered))
	for _, el := range ordered {
		if !el.deleted {
			out = append(out, el)
		}
	}
	return out
}

// records encodes the full sequence state for the given fragment.
func (s *sequence) records(fragment string) []record {
	out := make([]record, 0, len(s.elems))
	for _, el := range s.order() {
		out = append(out, record{
			Fragment: fragment,
			ID:       el.id,
			Origin:   el.origin,
			Payload:  el.payload,
			Deleted:  el.deleted,
			Stamp:    el.stamp,
		})
	}
	return out
}

// recordFor returns the current full record of one element.
func (s *sequence) recordFor(fragment string, id ID) (record, bool) {
	el, ok := s.elems[id]
	if !ok {
		return record{}, false
	}
	return record{
		Fragment: fragment,
		ID:       el.id,
		Origin:   el.origin,
		Payload:  el.payload,
		Deleted:  el.deleted,
		Stamp:    el.stamp,
	}, true
}
