package crdt

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/content"
)

// Origin classifies where a change came from, so observers can tell user
// edits apart from peer updates and snapshot loads.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
	OriginSnapshot
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	case OriginSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Doc is one replica of a collaborative document. A Doc is exclusively
// owned by one session and must not be shared; cross-replica sharing
// happens only through encoded updates.
type Doc struct {
	mu      sync.Mutex
	site    string
	clock   uint64
	content sequence
	title   sequence
	closed  bool

	nextSub     int
	updateSubs  map[int]func(delta []byte, origin Origin)
	contentSubs map[int]func(Origin)
	titleSubs   map[int]func(Origin)
}

// NewDoc allocates a fresh, empty replica with a random site id.
func NewDoc() *Doc {
	return NewDocWithSite(uuid.NewString())
}

// NewDocWithSite allocates a replica with a fixed site id. Site ids must be
// unique among live replicas of the same document.
func NewDocWithSite(site string) *Doc {
	return &Doc{
		site:        site,
		content:     newSequence(),
		title:       newSequence(),
		updateSubs:  make(map[int]func([]byte, Origin)),
		contentSubs: make(map[int]func(Origin)),
		titleSubs:   make(map[int]func(Origin)),
	}
}

// Site returns the replica's site id.
func (d *Doc) Site() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.site
}

// tick advances the Lamport clock and stamps a new id. Callers hold d.mu.
func (d *Doc) tick() ID {
	d.clock++
	return ID{Site: d.site, Clock: d.clock}
}

// observe advances the clock past a foreign id so later local edits win
// last-writer-wins comparisons against everything already seen.
func (d *Doc) observe(id ID) {
	if id.Clock > d.clock {
		d.clock = id.Clock
	}
}

// AppendBlock inserts a block after the current last block.
func (d *Doc) AppendBlock(node content.Node) BlockID {
	d.mu.Lock()
	last := ID{}
	if vis := d.content.visible(); len(vis) > 0 {
		last = vis[len(vis)-1].id
	}
	return d.insertBlockLocked(last, node)
}

// InsertBlock inserts a block after the given block; a zero after inserts
// at the front. Returns the new block's id, or a zero id on a destroyed doc.
func (d *Doc) InsertBlock(after BlockID, node content.Node) BlockID {
	d.mu.Lock()
	return d.insertBlockLocked(after, node)
}

// insertBlockLocked consumes d.mu and releases it before notifying.
func (d *Doc) insertBlockLocked(after BlockID, node content.Node) BlockID {
	if d.closed {
		d.mu.Unlock()
		return ID{}
	}
	payload, err := json.Marshal(node)
	if err != nil {
		d.mu.Unlock()
		log.Printf("crdt: marshal block: %v", err)
		return ID{}
	}
	id := d.tick()
	rec := record{Fragment: FragmentContent, ID: id, Origin: after, Payload: payload}
	d.content.merge(rec)
	delta := encodeUpdate([]record{rec})
	d.mu.Unlock()

	d.notify(delta, OriginLocal, true, false)
	return id
}

// UpdateBlock replaces a block's payload, resolving concurrent updates
// last-writer-wins.
func (d *Doc) UpdateBlock(id BlockID, node content.Node) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	el, ok := d.content.elems[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	payload, err := json.Marshal(node)
	if err != nil {
		d.mu.Unlock()
		log.Printf("crdt: marshal block: %v", err)
		return
	}
	el.payload = payload
	el.stamp = d.tick()
	rec, _ := d.content.recordFor(FragmentContent, id)
	delta := encodeUpdate([]record{rec})
	d.mu.Unlock()

	d.notify(delta, OriginLocal, true, false)
}

// DeleteBlock tombstones a block. Deleting an unknown or already deleted
// block is a no-op.
func (d *Doc) DeleteBlock(id BlockID) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	el, ok := d.content.elems[id]
	if !ok || el.deleted {
		d.mu.Unlock()
		return
	}
	el.deleted = true
	rec, _ := d.content.recordFor(FragmentContent, id)
	delta := encodeUpdate([]record{rec})
	d.mu.Unlock()

	d.notify(delta, OriginLocal, true, false)
}

// Blocks materializes the structured content fragment. Blocks whose payload
// no longer decodes are skipped rather than failing the whole document.
func (d *Doc) Blocks() []content.Node {
	d.mu.Lock()
	defer d.mu.Unlock()

	vis := d.content.visible()
	out := make([]content.Node, 0, len(vis))
	for _, el := range vis {
		var node content.Node
		if err := json.Unmarshal(el.payload, &node); err != nil {
			log.Printf("crdt: skipping undecodable block %v: %v", el.id, err)
			continue
		}
		out = append(out, node)
	}
	return out
}

// BlockIDs returns the ids of the live blocks in document order.
func (d *Doc) BlockIDs() []BlockID {
	d.mu.Lock()
	defer d.mu.Unlock()

	vis := d.content.visible()
	out := make([]BlockID, 0, len(vis))
	for _, el := range vis {
		out = append(out, el.id)
	}
	return out
}

// InsertTitle inserts text into the title fragment at the given rune
// position; positions past the end append.
func (d *Doc) InsertTitle(pos int, text string) {
	d.mu.Lock()
	if d.closed || text == "" {
		d.mu.Unlock()
		return
	}
	recs := d.insertTitleLocked(pos, text)
	delta := encodeUpdate(recs)
	d.mu.Unlock()

	d.notify(delta, OriginLocal, false, true)
}

// insertTitleLocked builds and merges the insert records. Callers hold d.mu.
func (d *Doc) insertTitleLocked(pos int, text string) []record {
	vis := d.title.visible()
	origin := ID{}
	if pos < 0 {
		pos = 0
	}
	if pos > len(vis) {
		pos = len(vis)
	}
	if pos > 0 {
		origin = vis[pos-1].id
	}

	var recs []record
	for _, r := range text {
		id := d.tick()
		rec := record{Fragment: FragmentTitle, ID: id, Origin: origin, Payload: []byte(string(r))}
		d.title.merge(rec)
		recs = append(recs, rec)
		origin = id
	}
	return recs
}

// DeleteTitle tombstones n runes starting at the given position.
func (d *Doc) DeleteTitle(pos, n int) {
	d.mu.Lock()
	if d.closed || n <= 0 {
		d.mu.Unlock()
		return
	}
	recs := d.deleteTitleLocked(pos, n)
	if len(recs) == 0 {
		d.mu.Unlock()
		return
	}
	delta := encodeUpdate(recs)
	d.mu.Unlock()

	d.notify(delta, OriginLocal, false, true)
}

func (d *Doc) deleteTitleLocked(pos, n int) []record {
	vis := d.title.visible()
	if pos < 0 {
		n += pos
		pos = 0
	}
	if n <= 0 {
		return nil
	}
	var recs []record
	for i := pos; i < pos+n && i < len(vis); i++ {
		vis[i].deleted = true
		rec, _ := d.title.recordFor(FragmentTitle, vis[i].id)
		recs = append(recs, rec)
	}
	return recs
}

// SetTitle replaces the whole title in one transaction.
func (d *Doc) SetTitle(text string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	recs := d.deleteTitleLocked(0, len(d.title.visible()))
	recs = append(recs, d.insertTitleLocked(0, text)...)
	if len(recs) == 0 {
		d.mu.Unlock()
		return
	}
	delta := encodeUpdate(recs)
	d.mu.Unlock()

	d.notify(delta, OriginLocal, false, true)
}

// Title materializes the title fragment.
func (d *Doc) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b []byte
	for _, el := range d.title.visible() {
		b = append(b, el.payload...)
	}
	return string(b)
}

// EncodeState serializes the full document state. Applying it to any other
// replica of the same document merges the two states.
func (d *Doc) EncodeState() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	recs := d.content.records(FragmentContent)
	recs = append(recs, d.title.records(FragmentTitle)...)
	return encodeUpdate(recs)
}

// ApplyUpdate merges a peer-delivered update into the document. Malformed
// input returns an error without mutating anything; applying to a destroyed
// doc is a no-op.
func (d *Doc) ApplyUpdate(data []byte) error {
	return d.apply(data, OriginRemote)
}

// ApplySnapshot merges a persisted canonical snapshot (or a seed built by
// BuildSeedUpdate). Identical to ApplyUpdate except for the origin reported
// to observers.
func (d *Doc) ApplySnapshot(data []byte) error {
	return d.apply(data, OriginSnapshot)
}

func (d *Doc) apply(data []byte, origin Origin) error {
	recs, err := decodeUpdate(data)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	var contentChanged, titleChanged bool
	for _, rec := range recs {
		d.observe(rec.ID)
		d.observe(rec.Stamp)
		switch rec.Fragment {
		case FragmentContent:
			if d.content.merge(rec) {
				contentChanged = true
			}
		case FragmentTitle:
			if d.title.merge(rec) {
				titleChanged = true
			}
		}
	}
	d.mu.Unlock()

	if contentChanged || titleChanged {
		d.notify(nil, origin, contentChanged, titleChanged)
	}
	return nil
}

// OnUpdate registers a callback for locally generated deltas, the hook the
// transport uses to broadcast edits. Returns an unsubscribe func.
func (d *Doc) OnUpdate(fn func(delta []byte, origin Origin)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return func() {}
	}
	key := d.nextSub
	d.nextSub++
	d.updateSubs[key] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.updateSubs, key)
	}
}

// ObserveContent registers a callback fired after any transaction that
// changed the content fragment, local or not.
func (d *Doc) ObserveContent(fn func(Origin)) func() {
	return d.subscribe(d.contentSubs, fn)
}

// ObserveTitle registers a callback fired after any transaction that
// changed the title fragment.
func (d *Doc) ObserveTitle(fn func(Origin)) func() {
	return d.subscribe(d.titleSubs, fn)
}

func (d *Doc) subscribe(subs map[int]func(Origin), fn func(Origin)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return func() {}
	}
	key := d.nextSub
	d.nextSub++
	subs[key] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(subs, key)
	}
}

// notify fires observers outside the document lock so callbacks may call
// back into the doc.
func (d *Doc) notify(delta []byte, origin Origin, contentChanged, titleChanged bool) {
	d.mu.Lock()
	var updateFns []func([]byte, Origin)
	if delta != nil && origin == OriginLocal {
		updateFns = make([]func([]byte, Origin), 0, len(d.updateSubs))
		for _, fn := range d.updateSubs {
			updateFns = append(updateFns, fn)
		}
	}
	var contentFns, titleFns []func(Origin)
	if contentChanged {
		for _, fn := range d.contentSubs {
			contentFns = append(contentFns, fn)
		}
	}
	if titleChanged {
		for _, fn := range d.titleSubs {
			titleFns = append(titleFns, fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range updateFns {
		fn(delta, origin)
	}
	for _, fn := range contentFns {
		fn(origin)
	}
	for _, fn := range titleFns {
		fn(origin)
	}
}

// Destroy detaches all observers and marks the doc closed. Every further
// mutation and apply is a no-op; calling Destroy again is safe.
func (d *Doc) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.updateSubs = make(map[int]func([]byte, Origin))
	d.contentSubs = make(map[int]func(Origin))
	d.titleSubs = make(map[int]func(Origin))
}
