package ws

import (
	"encoding/json"
	"sync"

	"classchat-service/internal/models"
)

// Hub tracks connected clients and per-group subscriber sets. Subscription
// is per connection: joining the same group twice is a no-op, so every event
// is delivered exactly once per subscriber.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	byUser  map[string]map[*Client]struct{}
	groups  map[string]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		byUser:  make(map[string]map[*Client]struct{}),
		groups:  make(map[string]map[*Client]struct{}),
	}
}

// Register adds a connected client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if _, ok := h.byUser[c.Identity.UserID]; !ok {
		h.byUser[c.Identity.UserID] = make(map[*Client]struct{})
	}
	h.byUser[c.Identity.UserID][c] = struct{}{}
}

// Unregister removes a client and drops all of its group subscriptions.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if conns, ok := h.byUser[c.Identity.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.byUser, c.Identity.UserID)
		}
	}
	for groupID, subs := range h.groups {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.groups, groupID)
		}
	}
}

// Subscribe adds the client to a group's fan-out set. Idempotent.
func (h *Hub) Subscribe(groupID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.groups[groupID]; !ok {
		h.groups[groupID] = make(map[*Client]struct{})
	}
	h.groups[groupID][c] = struct{}{}
}

// Unsubscribe removes the client from a group's fan-out set.
func (h *Hub) Unsubscribe(groupID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.groups[groupID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.groups, groupID)
		}
	}
}

// Subscriptions returns the group ids the client currently receives.
func (h *Hub) Subscriptions(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ids []string
	for groupID, subs := range h.groups {
		if _, ok := subs[c]; ok {
			ids = append(ids, groupID)
		}
	}
	return ids
}

// BroadcastToGroup delivers a frame to every current subscriber of a group,
// the sender included if subscribed.
func (h *Hub) BroadcastToGroup(groupID string, frame models.Frame) {
	payload, _ := json.Marshal(frame)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.groups[groupID]))
	for c := range h.groups[groupID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
}

// BroadcastToUsers delivers a frame to every connection of the given users.
// Used for groupCreated, which targets members rather than subscribers.
func (h *Hub) BroadcastToUsers(userIDs []string, frame models.Frame) {
	payload, _ := json.Marshal(frame)

	h.mu.RLock()
	var targets []*Client
	for _, userID := range userIDs {
		for c := range h.byUser[userID] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
}
