package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const keepAliveInterval = 15 * time.Second

// SSEHandler streams the user's events as server-sent events. Buffered
// offline events are replayed first so a reconnecting client catches up
// before live delivery resumes.
func (h *Hub) SSEHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := uuid.Parse(c.Locals("userID").(string))
		if err != nil {
			return fiber.ErrUnauthorized
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		cl := h.subscribe(userID)
		replay := h.drainOffline(context.Background(), userID)

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer h.unsubscribe(cl)

			for _, ev := range replay {
				if writeSSE(w, ev) != nil {
					return
				}
			}

			keepAlive := time.NewTicker(keepAliveInterval)
			defer keepAlive.Stop()

			for {
				select {
				case ev, ok := <-cl.events:
					if !ok {
						return
					}
					if writeSSE(w, ev) != nil {
						return
					}
				case <-keepAlive.C:
					// comment frame; also surfaces dead connections
					if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
						return
					}
					if w.Flush() != nil {
						return
					}
				}
			}
		})

		return nil
	}
}

func writeSSE(w *bufio.Writer, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}

	return w.Flush()
}
