// Package transport maintains the duplex relay connection for one open
// document: local CRDT deltas broadcast to the room, inbound room deltas
// merge into the document. The channel owns reconnection; sessions only
// observe status.
package transport

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/crdt"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be < pongWait
	maxMessageSize = 4 * 1024 * 1024
	dialTimeout    = 10 * time.Second
	sendBuffer     = 64
)

// Status describes the relay connection state.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RoomName derives the relay room for a document identity.
func RoomName(kind, id string) string {
	return kind + "-" + id
}

// Channel is the live relay connection for one document. It is exclusively
// owned by one session and destroyed with it.
type Channel struct {
	endpoint string
	room     string
	doc      *crdt.Doc

	mu         sync.Mutex
	status     Status
	statusSubs map[int]func(Status)
	syncSubs   map[int]func()
	nextSub    int
	synced     bool
	closed     bool

	outbound chan []byte
	done     chan struct{}
	unsubDoc func()
}

// Connect opens a channel for the given room. The returned channel dials in
// the background and keeps reconnecting until destroyed; Connect fails only
// on an unusable relay URL. ctx bounds the first dial attempt.
func Connect(ctx context.Context, relayURL, room string, doc *crdt.Doc) (*Channel, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relay url scheme must be ws or wss, got %q", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"room": {room}}.Encode()

	c := &Channel{
		endpoint:   u.String(),
		room:       room,
		doc:        doc,
		status:     StatusConnecting,
		statusSubs: make(map[int]func(Status)),
		syncSubs:   make(map[int]func()),
		outbound:   make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
	}

	c.unsubDoc = doc.OnUpdate(func(delta []byte, origin crdt.Origin) {
		if origin != crdt.OriginLocal {
			return
		}
		c.enqueue(delta)
	})

	go c.run(ctx)
	return c, nil
}

// Room returns the room this channel joined.
func (c *Channel) Room() string {
	return c.room
}

// Status returns the current connection status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Synced reports whether the post-join state exchange completed for the
// current connection.
func (c *Channel) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}

// OnStatus registers a status observer; returns an unsubscribe func.
func (c *Channel) OnStatus(fn func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	key := c.nextSub
	c.nextSub++
	c.statusSubs[key] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statusSubs, key)
	}
}

// OnSyncComplete registers an observer fired each time the post-join state
// exchange with the relay finishes.
func (c *Channel) OnSyncComplete(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	key := c.nextSub
	c.nextSub++
	c.syncSubs[key] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.syncSubs, key)
	}
}

// SendState enqueues the document's full state for broadcast. Used after
// fallback reconciliation so peers that joined earlier see the seeded
// content without waiting for a snapshot fetch.
func (c *Channel) SendState() {
	c.enqueue(c.doc.EncodeState())
}

// Destroy stops the reconnect loop, unhooks the document, and closes the
// socket. Safe to call more than once.
func (c *Channel) Destroy() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.status = StatusClosed
	c.mu.Unlock()

	close(c.done)
	c.unsubDoc()
}

func (c *Channel) enqueue(msg []byte) {
	select {
	case <-c.done:
	case c.outbound <- msg:
	default:
		log.Printf("transport: dropping message for room %s, send buffer full", c.room)
	}
}

// run is the connection supervisor: dial, pump, and on failure back off and
// redial until the channel is destroyed.
func (c *Channel) run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry forever; MaxInterval caps the delay
	firstDial := true

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.setStatus(StatusConnecting)

		dialCtx := context.Background()
		if firstDial && ctx != nil {
			dialCtx = ctx
		}
		firstDial = false
		dialCtx, cancel := context.WithTimeout(dialCtx, dialTimeout)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.endpoint, nil)
		cancel()
		if err != nil {
			log.Printf("transport: dial %s: %v", c.room, err)
			c.setStatus(StatusDisconnected)
			select {
			case <-c.done:
				return
			case <-time.After(policy.NextBackOff()):
			}
			continue
		}

		policy.Reset()
		c.setStatus(StatusConnected)

		// Join handshake: announce our full state; the relay answers with
		// the room's retained state.
		c.enqueue(c.doc.EncodeState())

		connDone := make(chan struct{})
		go c.writeLoop(conn, connDone)
		c.readLoop(conn)
		close(connDone)
		conn.Close()

		c.mu.Lock()
		c.synced = false
		c.mu.Unlock()

		select {
		case <-c.done:
			return
		default:
			c.setStatus(StatusDisconnected)
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("transport: read %s: %v", c.room, err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if err := c.doc.ApplyUpdate(msg); err != nil {
			log.Printf("transport: bad update in room %s: %v", c.room, err)
			continue
		}
		c.markSynced()
	}
}

func (c *Channel) writeLoop(conn *websocket.Conn, connDone chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-connDone:
			return
		case <-c.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.outbound:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Channel) setStatus(status Status) {
	c.mu.Lock()
	if c.closed || c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	fns := make([]func(Status), 0, len(c.statusSubs))
	for _, fn := range c.statusSubs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}

// markSynced fires sync observers once per connection, on the first frame
// delivered after the join handshake (the relay always answers a join with
// the room state, so the first frame completes the exchange).
func (c *Channel) markSynced() {
	c.mu.Lock()
	if c.synced || c.closed {
		c.mu.Unlock()
		return
	}
	c.synced = true
	fns := make([]func(), 0, len(c.syncSubs))
	for _, fn := range c.syncSubs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
