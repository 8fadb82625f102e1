package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/content"
	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/crdt"
)

func startRelay(t *testing.T, fanout *Fanout) *httptest.Server {
	t.Helper()
	hub := NewHub(fanout)
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	srv := httptest.NewServer(Handler(hub))
	t.Cleanup(srv.Close)
	return srv
}

func dialRoom(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room=" + room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// makeDelta produces a real local-edit delta carrying one paragraph.
func makeDelta(t *testing.T, text string) []byte {
	t.Helper()
	doc := crdt.NewDoc()
	defer doc.Destroy()
	var delta []byte
	unsub := doc.OnUpdate(func(d []byte, origin crdt.Origin) {
		if origin == crdt.OriginLocal {
			delta = d
		}
	})
	defer unsub()
	doc.AppendBlock(content.ParagraphText(text))
	if delta == nil {
		t.Fatal("no local delta produced")
	}
	return delta
}

func readBinary(t *testing.T, conn *websocket.Conn, timeout time.Duration) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msgType == websocket.BinaryMessage {
			return data
		}
	}
}

func applyTo(t *testing.T, doc *crdt.Doc, data []byte) {
	t.Helper()
	if err := doc.ApplyUpdate(data); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestDeltaReachesOtherRoomMembers(t *testing.T) {
	srv := startRelay(t, nil)

	a := dialRoom(t, srv, "note-x")
	b := dialRoom(t, srv, "note-x")

	// Both receive the (empty) room state on join.
	readBinary(t, a, 2*time.Second)
	readBinary(t, b, 2*time.Second)

	delta := makeDelta(t, "hello from a")
	if err := a.WriteMessage(websocket.BinaryMessage, delta); err != nil {
		t.Fatalf("write: %v", err)
	}

	replica := crdt.NewDoc()
	defer replica.Destroy()
	applyTo(t, replica, readBinary(t, b, 2*time.Second))
	blocks := replica.Blocks()
	if len(blocks) != 1 || blocks[0].PlainText() != "hello from a" {
		t.Fatalf("blocks = %+v", blocks)
	}
}

func TestLateJoinerCatchesUpFromRoomState(t *testing.T) {
	srv := startRelay(t, nil)

	a := dialRoom(t, srv, "note-y")
	readBinary(t, a, 2*time.Second)
	if err := a.WriteMessage(websocket.BinaryMessage, makeDelta(t, "early edit")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Give the hub a moment to merge before the late join.
	time.Sleep(100 * time.Millisecond)

	c := dialRoom(t, srv, "note-y")
	replica := crdt.NewDoc()
	defer replica.Destroy()
	applyTo(t, replica, readBinary(t, c, 2*time.Second))
	blocks := replica.Blocks()
	if len(blocks) != 1 || blocks[0].PlainText() != "early edit" {
		t.Fatalf("late joiner state = %+v", blocks)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	srv := startRelay(t, nil)

	a := dialRoom(t, srv, "note-a")
	b := dialRoom(t, srv, "note-b")
	readBinary(t, a, 2*time.Second)
	readBinary(t, b, 2*time.Second)

	if err := a.WriteMessage(websocket.BinaryMessage, makeDelta(t, "private")); err != nil {
		t.Fatalf("write: %v", err)
	}

	b.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := b.ReadMessage(); err == nil {
		t.Fatal("client in another room received the delta")
	}
}

func TestMalformedDeltaIsDropped(t *testing.T) {
	srv := startRelay(t, nil)

	a := dialRoom(t, srv, "note-z")
	b := dialRoom(t, srv, "note-z")
	readBinary(t, a, 2*time.Second)
	readBinary(t, b, 2*time.Second)

	if err := a.WriteMessage(websocket.BinaryMessage, []byte("garbage")); err != nil {
		t.Fatalf("write: %v", err)
	}

	b.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := b.ReadMessage(); err == nil {
		t.Fatal("malformed delta was broadcast")
	}
}

func TestServeWSRequiresRoom(t *testing.T) {
	srv := startRelay(t, nil)

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestFanoutBridgesTwoInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	newClient := func() *redis.Client {
		return redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}
	srv1 := startRelay(t, NewFanoutWithClient(newClient()))
	srv2 := startRelay(t, NewFanoutWithClient(newClient()))

	a := dialRoom(t, srv1, "note-shared")
	b := dialRoom(t, srv2, "note-shared")
	readBinary(t, a, 2*time.Second)
	readBinary(t, b, 2*time.Second)

	// Let both subscriptions establish before publishing.
	time.Sleep(100 * time.Millisecond)

	if err := a.WriteMessage(websocket.BinaryMessage, makeDelta(t, "cross instance")); err != nil {
		t.Fatalf("write: %v", err)
	}

	replica := crdt.NewDoc()
	defer replica.Destroy()
	applyTo(t, replica, readBinary(t, b, 3*time.Second))
	blocks := replica.Blocks()
	if len(blocks) != 1 || blocks[0].PlainText() != "cross instance" {
		t.Fatalf("cross-instance blocks = %+v", blocks)
	}
}

func TestHubCallsReturnAfterShutdown(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	hub.Shutdown()

	delta := makeDelta(t, "late")
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Unregister(&Client{room: "note-x"})
		hub.Register(&Client{room: "note-x", send: make(chan []byte, 1)})
		hub.Broadcast("note-x", delta, nil)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub calls blocked after shutdown")
	}
}

func TestEmptyRoomIsPruned(t *testing.T) {
	hub := NewHub(nil)
	hub.retention = 50 * time.Millisecond
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	srv := httptest.NewServer(Handler(hub))
	t.Cleanup(srv.Close)

	conn := dialRoom(t, srv, "note-ephemeral")
	readBinary(t, conn, 2*time.Second)
	if hub.RoomState("note-ephemeral") == nil {
		t.Fatal("room missing while a client is connected")
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.RoomState("note-ephemeral") == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("empty room still retained after the retention window")
}

func TestRoomStateSurvivesBriefDisconnect(t *testing.T) {
	hub := NewHub(nil)
	hub.retention = time.Second
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	srv := httptest.NewServer(Handler(hub))
	t.Cleanup(srv.Close)

	conn := dialRoom(t, srv, "note-flaky")
	readBinary(t, conn, 2*time.Second)
	if err := conn.WriteMessage(websocket.BinaryMessage, makeDelta(t, "kept")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Wait until the hub has merged the delta into the room replica.
	deadline := time.Now().Add(2 * time.Second)
	for {
		replica := crdt.NewDoc()
		applyTo(t, replica, hub.RoomState("note-flaky"))
		if len(replica.Blocks()) == 1 {
			replica.Destroy()
			break
		}
		replica.Destroy()
		if time.Now().After(deadline) {
			t.Fatal("delta never reached the room replica")
		}
		time.Sleep(10 * time.Millisecond)
	}
	conn.Close()

	// A reconnect inside the retention window still catches up.
	again := dialRoom(t, srv, "note-flaky")
	replica := crdt.NewDoc()
	defer replica.Destroy()
	applyTo(t, replica, readBinary(t, again, 2*time.Second))
	blocks := replica.Blocks()
	if len(blocks) != 1 || blocks[0].PlainText() != "kept" {
		t.Fatalf("rejoin blocks = %+v, want [kept]", blocks)
	}
}
