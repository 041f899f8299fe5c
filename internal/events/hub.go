package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"huddle/pkg/logger"
)

// Hub fans typed events out to every live connection a user holds (SSE or
// WebSocket). Users with no connection get the event parked in the offline
// store; polling endpoints are the backstop beyond that. No ordering is
// guaranteed across users and consumers must tolerate duplicates.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*client]struct{}
	offline OfflineStore
	log     *logger.Logger
}

type client struct {
	userID uuid.UUID
	events chan *Event
}

func NewHub(offline OfflineStore, log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*client]struct{}),
		offline: offline,
		log:     log,
	}
}

func (h *Hub) subscribe(userID uuid.UUID) *client {
	cl := &client{
		userID: userID,
		events: make(chan *Event, 16),
	}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][cl] = struct{}{}
	h.mu.Unlock()

	h.log.Debugf("events: client connected user=%s", userID)
	return cl
}

func (h *Hub) unsubscribe(cl *client) {
	h.mu.Lock()
	if conns, ok := h.clients[cl.userID]; ok {
		if _, ok := conns[cl]; ok {
			delete(conns, cl)
			close(cl.events)
			if len(conns) == 0 {
				delete(h.clients, cl.userID)
			}
		}
	}
	h.mu.Unlock()

	h.log.Debugf("events: client disconnected user=%s", cl.userID)
}

// Publish delivers the event to all of the user's live connections, or
// buffers it offline when there are none. Best effort: a slow consumer whose
// buffer is full loses the event and falls back to polling.
func (h *Hub) Publish(ctx context.Context, userID uuid.UUID, event *Event) {
	// Sends happen under the read lock: unsubscribe closes the channel under
	// the write lock, so a send can never race a close.
	h.mu.RLock()
	conns := h.clients[userID]
	for cl := range conns {
		select {
		case cl.events <- event:
		default:
			h.log.Warn("events: dropping event for slow consumer user=", userID, " type=", event.Type)
		}
	}
	delivered := len(conns) > 0
	h.mu.RUnlock()

	if !delivered {
		if err := h.offline.Push(ctx, userID, event); err != nil {
			h.log.Errorf("events: offline buffer failed user=%s type=%s: %v", userID, event.Type, err)
		}
	}
}

// HasClient reports whether the user has at least one live connection.
// Used to decide whether a push notification is needed as well.
func (h *Hub) HasClient(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) drainOffline(ctx context.Context, userID uuid.UUID) []*Event {
	evs, err := h.offline.Drain(ctx, userID)
	if err != nil {
		h.log.Errorf("events: offline drain failed user=%s: %v", userID, err)
		return nil
	}
	return evs
}
