package realtime

import (
	"context"
	"log/slog"
	"sync"

	v1 "inbox/contracts/realtime/v1"
)

// HubObserver receives hub activity (metrics).
type HubObserver interface {
	ViewersChanged(n int)
	EventDelivered()
	EventDropped()
}

// Hub is the set of connected viewer sessions and fans events out to all of them.
//
// Concurrency guarantees:
//   - OnConnect/OnDisconnect are safe under concurrent Publish.
//   - Publish never blocks on a session: a full or closing queue drops the event for
//     that session only.
//   - Sequential Publish calls reach each session's queue in call order.
type Hub struct {
	log      *slog.Logger
	observer HubObserver

	mu      sync.RWMutex
	clients map[string]*Client
}

// HubOption configures optional Hub behavior.
type HubOption func(*Hub)

// WithHubObserver attaches a HubObserver.
func WithHubObserver(o HubObserver) HubOption {
	return func(h *Hub) {
		if o != nil {
			h.observer = o
		}
	}
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:      log,
		observer: nopHubObserver{},
		clients:  make(map[string]*Client),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// OnConnect registers a viewer session.
func (h *Hub) OnConnect(c *Client) {
	if c == nil || c.SessionID == "" {
		return
	}

	h.mu.Lock()
	h.clients[c.SessionID] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.observer.ViewersChanged(n)
	h.log.Info("hub.viewer.join", "session_id", c.SessionID, "viewers", n)
}

// OnDisconnect removes a viewer session and signals it to stop.
// Unknown or already removed sessions are ignored.
func (h *Hub) OnDisconnect(sessionID string) {
	if sessionID == "" {
		return
	}

	h.mu.Lock()
	c, ok := h.clients[sessionID]
	delete(h.clients, sessionID)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}

	// Removed from the set before Close so no publisher still targets it.
	c.Close()

	h.observer.ViewersChanged(n)
	h.log.Info("hub.viewer.leave", "session_id", sessionID, "viewers", n)
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues ev for every connected session. It always returns nil.
func (h *Hub) Publish(_ context.Context, ev v1.Event) error {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- ev:
			h.observer.EventDelivered()
		default:
			h.observer.EventDropped()
			h.log.Debug("hub.event.drop", "session_id", c.SessionID, "type", ev.Type)
		}
	}
	return nil
}

type nopHubObserver struct{}

func (nopHubObserver) ViewersChanged(int) {}
func (nopHubObserver) EventDelivered()    {}
func (nopHubObserver) EventDropped()      {}
