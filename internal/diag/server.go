// Package diag exposes operator-facing diagnostics over HTTP: a room
// listing and a live websocket feed of room lifecycle events. It is
// read-only and optional; the relay runs fine without it.
package diag

import (
	"encoding/json"
	"log"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/methatron/worldsync/internal/relay"
)

// NewHandler builds the diagnostics mux for a hub.
func NewHandler(hub *relay.Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(hub.RoomCounts()); err != nil {
			log.Printf("diag: encode rooms: %v", err)
		}
	})
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		serveEvents(hub, w, r)
	})
	return mux
}

// serveEvents upgrades to websocket and streams hub events as JSON
// until the client goes away.
func serveEvents(hub *relay.Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("diag: accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "feed closed")

	events, cancel := hub.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
