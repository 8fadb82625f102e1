// Package relay implements the WebSocket room relay that fans CRDT deltas
// out to every session editing the same document. Each room retains a
// merged replica of the document so late joiners and reconnecting clients
// catch up immediately, and an optional Redis fan-out bridges rooms across
// relay instances.
package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/crdt"
)

// DefaultRoomRetention is how long an empty room keeps its retained state
// before being pruned. Long enough for a page reload to rejoin, short
// enough that abandoned documents do not accumulate forever.
const DefaultRoomRetention = 5 * time.Minute

// delivery pairs a delta with its room and sender for broadcast routing.
type delivery struct {
	room   string
	data   []byte
	sender *Client
}

type room struct {
	clients map[*Client]bool
	// doc retains the merged room state. It outlives the clients, for the
	// retention window, so a reconnecting session catches up without a
	// backend round trip.
	doc *crdt.Doc
	// gen increments each time the room empties; a pending prune timer
	// only fires for the generation that armed it.
	gen int
}

// Hub coordinates WebSocket connections and routes deltas between clients
// editing the same document.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*room
	register   chan *Client
	unregister chan *Client
	broadcast  chan *delivery
	quit       chan struct{}

	instanceID string
	fanout     *Fanout // nil without Redis
	retention  time.Duration
}

// NewHub creates a hub. fanout may be nil when cross-instance delivery is
// not configured.
func NewHub(fanout *Fanout) *Hub {
	return &Hub{
		rooms:      make(map[string]*room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *delivery, 64),
		quit:       make(chan struct{}),
		instanceID: uuid.NewString(),
		fanout:     fanout,
		retention:  DefaultRoomRetention,
	}
}

// Run processes registration, unregistration, and delta broadcasting. It
// blocks and should be run in a goroutine.
func (h *Hub) Run() {
	if h.fanout != nil {
		go h.fanout.Subscribe(h.instanceID, h.applyRemote)
	}

	for {
		select {
		case <-h.quit:
			h.closeAllClients()
			return

		case client := <-h.register:
			state := h.addClient(client)
			// Join handshake: answer with the room's retained state.
			select {
			case client.send <- state:
			default:
			}
			log.Printf("relay: client joined room %s", client.room)

		case client := <-h.unregister:
			h.removeClient(client)

		case d := <-h.broadcast:
			h.handleDelta(d)
		}
	}
}

// Register adds a client to the hub. After Shutdown it is a no-op so pump
// goroutines unwinding mid-shutdown do not block on a stopped hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Unregister removes a client from the hub. No-op after Shutdown.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Broadcast routes a delta from a client to its room. No-op after Shutdown.
func (h *Hub) Broadcast(roomName string, data []byte, sender *Client) {
	select {
	case h.broadcast <- &delivery{room: roomName, data: data, sender: sender}:
	case <-h.quit:
	}
}

// ClientCount returns the number of clients in a room.
func (h *Hub) ClientCount(roomName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rm, ok := h.rooms[roomName]; ok {
		return len(rm.clients)
	}
	return 0
}

// RoomState returns the retained full state for a room, or nil when the
// room has never been opened on this instance.
func (h *Hub) RoomState(roomName string) []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rm, ok := h.rooms[roomName]; ok {
		return rm.doc.EncodeState()
	}
	return nil
}

// Shutdown stops the hub and closes all client connections.
func (h *Hub) Shutdown() {
	close(h.quit)
}

// addClient ensures the room exists, adds the client, and returns the
// room's current state for the join handshake.
func (h *Hub) addClient(client *Client) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.rooms[client.room]
	if !ok {
		rm = &room{clients: make(map[*Client]bool), doc: crdt.NewDoc()}
		h.rooms[client.room] = rm
		log.Printf("relay: opened room %s", client.room)
	}
	rm.clients[client] = true
	return rm.doc.EncodeState()
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.rooms[client.room]
	if !ok {
		return
	}
	if _, member := rm.clients[client]; member {
		delete(rm.clients, client)
		close(client.send)
		log.Printf("relay: client left room %s, %d remaining", client.room, len(rm.clients))
	}
	if len(rm.clients) == 0 {
		rm.gen++
		gen := rm.gen
		name := client.room
		time.AfterFunc(h.retention, func() { h.pruneRoom(name, gen) })
	}
}

// pruneRoom drops a room that has stayed empty for the whole retention
// window. A rejoin-and-leave in the meantime bumps the generation and
// arms a fresh timer, so a stale timer does nothing.
func (h *Hub) pruneRoom(name string, gen int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.rooms[name]
	if !ok || len(rm.clients) > 0 || rm.gen != gen {
		return
	}
	rm.doc.Destroy()
	delete(h.rooms, name)
	log.Printf("relay: pruned empty room %s", name)
}

func (h *Hub) handleDelta(d *delivery) {
	h.mu.RLock()
	rm, ok := h.rooms[d.room]
	h.mu.RUnlock()
	if !ok {
		return
	}

	if err := rm.doc.ApplyUpdate(d.data); err != nil {
		log.Printf("relay: rejecting bad update in room %s: %v", d.room, err)
		return
	}

	h.fanToRoom(rm, d.data, d.sender)

	if h.fanout != nil {
		h.fanout.Publish(context.Background(), h.instanceID, d.room, d.data)
	}
}

// applyRemote delivers a delta published by another relay instance to the
// local members of the room.
func (h *Hub) applyRemote(roomName string, data []byte) {
	h.mu.RLock()
	rm, ok := h.rooms[roomName]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := rm.doc.ApplyUpdate(data); err != nil {
		log.Printf("relay: bad cross-instance update in room %s: %v", roomName, err)
		return
	}
	h.fanToRoom(rm, data, nil)
}

// fanToRoom sends a delta to every room member except the sender. Clients
// with a full send buffer are scheduled for removal rather than blocking
// the hub.
func (h *Hub) fanToRoom(rm *room, data []byte, exclude *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range rm.clients {
		if exclude != nil && client == exclude {
			continue
		}
		select {
		case client.send <- data:
		default:
			go h.Unregister(client)
			log.Printf("relay: client in room %s marked for removal, send buffer full", client.room)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, rm := range h.rooms {
		for client := range rm.clients {
			close(client.send)
			if err := client.conn.Close(); err != nil {
				log.Printf("relay: closing client connection: %v", err)
			}
		}
		rm.doc.Destroy()
		delete(h.rooms, name)
	}
	log.Printf("relay: all clients closed")
}
