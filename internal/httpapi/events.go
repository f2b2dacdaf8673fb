package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/treasurio/internal/race"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// EventSnapshot is the type of race snapshot events
const EventSnapshot = "snapshot"

// Event is one message of the race event stream
type Event struct {
	Type    string        `json:"type"`
	Payload race.Snapshot `json:"payload"`
}

// A nil CheckOrigin refuses browser requests whose Origin host differs
// from the request host
var upgrader = websocket.Upgrader{}

// handleEvents streams the current race snapshot, then every change, until
// the client goes away or the controller closes
func (h *Handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	snaps, cancel := h.Race.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go readPump(conn, gone)

	writePump(conn, snaps, gone)
}

// readPump discards client messages and closes gone once the connection
// fails or the client closes it
func readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("WebSocket read failed")
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, snaps <-chan race.Snapshot, gone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return

		case snap, ok := <-snaps:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "race closed"))
				return
			}
			if err := conn.WriteJSON(Event{Type: EventSnapshot, Payload: snap}); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
