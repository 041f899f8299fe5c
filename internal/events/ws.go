package events

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// HandleWebSocket serves the same event stream over a WebSocket for older
// clients. Write-only: inbound frames are read solely to detect the peer
// closing.
func (h *Hub) HandleWebSocket(c *websocket.Conn) {
	userID, err := uuid.Parse(c.Locals("userID").(string))
	if err != nil {
		c.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
		c.Close()
		return
	}

	cl := h.subscribe(userID)
	defer h.unsubscribe(cl)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, ev := range h.drainOffline(context.Background(), userID) {
		if err := c.WriteJSON(ev); err != nil {
			return
		}
	}

	for {
		select {
		case ev, ok := <-cl.events:
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
