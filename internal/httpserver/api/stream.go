package api

import (
	"github.com/gofiber/contrib/websocket"
)

// statsStream pushes aggregate updates to a websocket client as they land on
// the redis stats channel. The subscription drops updates rather than block
// the broker, so a slow client sees gaps, never stale order.
func (h *apiHandler) statsStream(conn *websocket.Conn) {
	updates := h.container.Stats.Subscribe()
	defer h.container.Stats.Unsubscribe(updates)

	// Reads are discarded; the socket exists so writes fail fast when the
	// client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		}
	}
}
