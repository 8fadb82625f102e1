package relay

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The relay fronts browser sessions from the app origin; origin policy
	// is enforced upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler returns the relay's HTTP surface: the /ws upgrade endpoint and a
// health check.
func Handler(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	return mux
}

// ServeWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. The room is named by the `room` query parameter.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	roomName := r.URL.Query().Get("room")
	if roomName == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: upgrade failed: %v", err)
		return
	}

	client := NewClient(hub, conn, roomName)
	hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
}
