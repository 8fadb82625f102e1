package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/content"
	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/crdt"
	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/gateway"
	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/transport"
)

// State is the lifecycle phase of a Session. Transitions are linear:
// Uninitialized -> Loading -> (Reconciling ->) Ready -> Closed.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReconciling
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReconciling:
		return "reconciling"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// DefaultSaveDebounce is the quiet period after the last content edit
	// before a snapshot is persisted.
	DefaultSaveDebounce = 2000 * time.Millisecond
	// DefaultPeriodicSave is the safety-net save interval while a session
	// is ready.
	DefaultPeriodicSave = 30 * time.Second
)

// Gateway is the persistence surface a Session needs. *gateway.Client
// satisfies it; tests substitute fakes.
type Gateway interface {
	FetchEntity(ctx context.Context, collection, id string) (gateway.Entity, error)
	SaveSnapshot(ctx context.Context, collection, id string, update []byte) error
	SaveTitle(ctx context.Context, collection, id, title string) error
}

// Options configures a Session. Gateway is required. An empty RelayURL
// opens the session offline: edits stay local and persistence still runs.
type Options struct {
	Gateway  Gateway
	RelayURL string

	SaveDebounce time.Duration
	PeriodicSave time.Duration

	// Notify, when set, receives advisory messages for non-fatal failures
	// such as a backend rejecting a save. Editing is never blocked on it.
	Notify func(msg string)
}

// Session owns one open document: its replicated state, its relay
// connection, and the policies that persist snapshot and title. A Session
// is created by Open and released by Close; it is never shared between
// documents, and a new Open for the same identity requires the old
// Session to be closed first.
type Session struct {
	identity Identity
	gw       Gateway
	notify   func(string)

	doc     *crdt.Doc
	channel *transport.Channel

	debounce time.Duration
	periodic time.Duration

	mu        sync.Mutex
	state     State
	saveTimer *time.Timer
	unsubs    []func()
	title     string

	// fallbackPresent and reconciled implement the empty-save guard: an
	// empty document is never persisted while non-empty fallback content
	// exists that has not yet been reconciled.
	fallbackPresent bool
	reconciled      bool

	done chan struct{}
}

// Open creates the document, connects it to the relay room, loads the
// canonical snapshot (or reconciles from fallback HTML when no snapshot
// exists), and starts the persistence loops. The returned Session is in
// StateReady. Every call allocates a fresh document, even for an identity
// that was open moments ago.
func Open(ctx context.Context, identity Identity, opts Options) (*Session, error) {
	if opts.Gateway == nil {
		return nil, errors.New("session: gateway is required")
	}
	if identity.ID == "" {
		return nil, errors.New("session: empty document id")
	}
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = DefaultSaveDebounce
	}
	if opts.PeriodicSave <= 0 {
		opts.PeriodicSave = DefaultPeriodicSave
	}

	s := &Session{
		identity: identity,
		gw:       opts.Gateway,
		notify:   opts.Notify,
		doc:      crdt.NewDoc(),
		debounce: opts.SaveDebounce,
		periodic: opts.PeriodicSave,
		state:    StateLoading,
		done:     make(chan struct{}),
	}

	if opts.RelayURL != "" {
		ch, err := transport.Connect(ctx, opts.RelayURL, identity.Room(), s.doc)
		if err != nil {
			s.doc.Destroy()
			return nil, fmt.Errorf("session: connect relay: %w", err)
		}
		s.channel = ch
	}

	entity, err := s.gw.FetchEntity(ctx, identity.Kind.Collection(), identity.ID)
	if err != nil {
		s.teardown()
		return nil, fmt.Errorf("session: fetch entity: %w", err)
	}
	s.title = entity.Title
	s.fallbackPresent = entity.FallbackContent != ""

	// Observers attach before readiness so no mutation is missed; their
	// side effects are gated on StateReady, so the snapshot and fallback
	// application below cannot masquerade as user edits.
	s.unsubs = append(s.unsubs,
		s.doc.ObserveTitle(func(crdt.Origin) { s.onTitleChange() }),
		s.doc.ObserveContent(func(crdt.Origin) { s.onContentChange() }),
	)

	snapshotApplied := false
	if entity.YjsUpdate != "" {
		if err := s.applySnapshot(entity.YjsUpdate); err != nil {
			// Corrupt snapshots degrade to the fallback path rather than
			// aborting the session.
			log.Printf("session: %s: discarding corrupt snapshot: %v", identity, err)
		} else {
			snapshotApplied = true
		}
	}

	if !snapshotApplied && s.fallbackPresent && content.IsEmpty(s.doc.Blocks()) {
		s.setState(StateReconciling)
		s.reconcile(entity)
	}

	s.setState(StateReady)

	go s.periodicSaveLoop()
	return s, nil
}

// Identity returns the document identity the session was opened for.
func (s *Session) Identity() Identity { return s.identity }

// Doc returns the session's replicated document.
func (s *Session) Doc() *crdt.Doc { return s.doc }

// Channel returns the relay connection, or nil when offline.
func (s *Session) Channel() *transport.Channel { return s.channel }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Title returns the last title mirrored to the backend.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) applySnapshot(encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode base64: %w", err)
	}
	if err := s.doc.ApplySnapshot(raw); err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}
	return nil
}

// reconcile seeds the empty document from the entity's fallback HTML and
// immediately persists the result, so other replicas observe a non-empty
// document instead of redundantly reconciling. The seed update is
// deterministic per room, so a replica that raced us merges to the same
// state rather than duplicating content.
func (s *Session) reconcile(entity gateway.Entity) {
	blocks := content.FromHTML(entity.FallbackContent)
	if len(blocks) == 0 && entity.Title == "" {
		return
	}
	seed := crdt.BuildSeedUpdate(s.identity.Room(), entity.Title, blocks)
	if err := s.doc.ApplySnapshot(seed); err != nil {
		log.Printf("session: %s: reconcile seed rejected: %v", s.identity, err)
		return
	}
	s.mu.Lock()
	s.reconciled = true
	s.mu.Unlock()
	if s.channel != nil {
		s.channel.SendState()
	}
	// Best effort: a failure here leaves the in-memory document usable and
	// the periodic save will retry.
	go s.saveSnapshot(context.Background())
}

func (s *Session) onTitleChange() {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}
	title := s.doc.Title()
	if title == s.title {
		s.mu.Unlock()
		return
	}
	s.title = title
	s.mu.Unlock()

	go func() {
		err := s.gw.SaveTitle(context.Background(), s.identity.Kind.Collection(), s.identity.ID, title)
		if err != nil {
			s.reportSaveFailure("title", err)
		}
	}()
}

func (s *Session) onContentChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return
	}
	s.scheduleSaveLocked()
}

// scheduleSaveLocked restarts the debounce timer. Each edit in a burst
// cancels the previous timer, so the burst produces one save, fired one
// debounce interval after the last edit. Caller holds s.mu.
func (s *Session) scheduleSaveLocked() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.debounce, func() {
		s.saveSnapshot(context.Background())
	})
}

// saveSnapshot serializes the document and submits it to the gateway.
// Failures are logged and surfaced as advisory notices only; the next
// debounced or periodic save is the retry.
func (s *Session) saveSnapshot(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.fallbackPresent && !s.reconciled && content.IsEmpty(s.doc.Blocks()) {
		// An early empty save would clobber a slower replica's
		// reconciliation result.
		s.mu.Unlock()
		return
	}
	state := s.doc.EncodeState()
	s.mu.Unlock()

	err := s.gw.SaveSnapshot(ctx, s.identity.Kind.Collection(), s.identity.ID, state)
	if err != nil {
		s.reportSaveFailure("snapshot", err)
	}
}

func (s *Session) reportSaveFailure(what string, err error) {
	log.Printf("session: %s: %s save failed: %v", s.identity, what, err)
	var se *gateway.StatusError
	if errors.As(err, &se) && s.notify != nil {
		s.notify(fmt.Sprintf("saving the %s was rejected by the server (%d); your edits remain local", what, se.StatusCode))
	}
}

func (s *Session) periodicSaveLoop() {
	ticker := time.NewTicker(s.periodic)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.saveSnapshot(context.Background())
		}
	}
}

// Flush performs one synchronous save, for use when the hosting surface is
// about to go away. Any pending debounced save is absorbed into it.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return nil
	}
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	if s.fallbackPresent && !s.reconciled && content.IsEmpty(s.doc.Blocks()) {
		s.mu.Unlock()
		return nil
	}
	state := s.doc.EncodeState()
	s.mu.Unlock()

	if err := s.gw.SaveSnapshot(ctx, s.identity.Kind.Collection(), s.identity.ID, state); err != nil {
		return fmt.Errorf("session: flush: %w", err)
	}
	return nil
}

// Close cancels the pending save timer, detaches the observers, closes the
// relay connection, and destroys the document. Safe to call repeatedly.
// A delta arriving after Close is dropped by the destroyed document, not
// an error.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	close(s.done)
	for _, unsub := range unsubs {
		unsub()
	}
	s.teardown()
}

func (s *Session) teardown() {
	if s.channel != nil {
		s.channel.Destroy()
	}
	s.doc.Destroy()
}
