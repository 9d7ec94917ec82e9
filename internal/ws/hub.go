package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/codesync/backend/internal/config"
	"github.com/codesync/backend/internal/metrics"
	"github.com/codesync/backend/internal/session"
)

// Hub routes events between connected clients. All state mutation flows
// through the Run loop, so concurrent events against the same session are
// applied one at a time in arrival order (last writer wins).
type Hub struct {
	registry *session.Registry
	cfg      config.WebSocketConfig

	// Live members by session, mirrored from the registry for delivery
	rooms map[string]map[*Client]bool

	// All connected clients, joined or not
	clients map[*Client]bool

	// Inbound events from clients
	inbound chan *inboundEvent

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu sync.RWMutex
}

type inboundEvent struct {
	sender *Client
	event  *Event
	err    error
}

func NewHub(registry *session.Registry, cfg config.WebSocketConfig) *Hub {
	return &Hub{
		registry:   registry,
		cfg:        cfg,
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		inbound:    make(chan *inboundEvent),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

			metrics.ActiveConnections.Inc()
			metrics.TotalConnections.Inc()
			log.Printf("Client %s connected (total: %d)", client.id, h.GetClientCount())

		case client := <-h.unregister:
			h.dropClient(client)

		case in := <-h.inbound:
			// Events can arrive after the sender was dropped for being slow
			if !h.isConnected(in.sender) {
				continue
			}
			if in.err != nil {
				h.sendError(in.sender, "invalid event")
				continue
			}
			metrics.EventsTotal.WithLabelValues(string(in.event.Type)).Inc()
			h.route(in.sender, in.event)
		}
	}
}

// dropClient removes a client from the hub and from every room it joined,
// emitting one presence update per affected room. Idempotent: a client
// already dropped (slow consumer, then read error) is ignored.
func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)

	departures := h.registry.LeaveAll(client.id)
	for _, dep := range departures {
		if members, ok := h.rooms[dep.SessionID]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, dep.SessionID)
			}
		}
	}
	close(client.send)
	h.mu.Unlock()

	metrics.ActiveConnections.Dec()

	for _, dep := range departures {
		h.broadcast(dep.SessionID, nil, EventUserLeft, PresencePayload{
			UserID: client.id,
			Count:  dep.Count,
		})
		log.Printf("Client %s left session %s (remaining: %d)", client.id, dep.SessionID, dep.Count)
	}
}

func (h *Hub) route(sender *Client, ev *Event) {
	switch ev.Type {
	case EventJoin:
		h.handleJoin(sender, ev.Payload)
	case EventCodeChange:
		h.handleCodeChange(sender, ev.Payload)
	case EventLanguageChange:
		h.handleLanguageChange(sender, ev.Payload)
	case EventOutputChange:
		h.handleOutputChange(sender, ev.Payload)
	default:
		h.sendError(sender, "unknown event type: "+string(ev.Type))
		metrics.EventsDropped.WithLabelValues(metrics.ReasonInvalidPayload).Inc()
	}
}

func (h *Hub) handleJoin(sender *Client, payload json.RawMessage) {
	var p JoinPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" {
		h.sendError(sender, "invalid join payload")
		metrics.EventsDropped.WithLabelValues(metrics.ReasonInvalidPayload).Inc()
		return
	}

	// One room per connection
	if current := sender.sessionID; current != "" && current != p.SessionID {
		h.sendError(sender, "already joined to another session")
		return
	}

	snap, err := h.registry.Get(p.SessionID)
	if err != nil {
		h.sendError(sender, "Session not found")
		metrics.EventsDropped.WithLabelValues(metrics.ReasonUnknownSession).Inc()
		return
	}

	count, err := h.registry.Join(p.SessionID, sender.id)
	if err != nil {
		h.sendError(sender, "Session not found")
		metrics.EventsDropped.WithLabelValues(metrics.ReasonUnknownSession).Inc()
		return
	}

	h.mu.Lock()
	if _, ok := h.rooms[p.SessionID]; !ok {
		h.rooms[p.SessionID] = make(map[*Client]bool)
	}
	h.rooms[p.SessionID][sender] = true
	sender.sessionID = p.SessionID
	h.mu.Unlock()

	// Current state to the joiner first, presence to the whole room after
	h.unicast(sender, EventInit, InitPayload{Code: snap.Code, Language: snap.Language})
	h.broadcast(p.SessionID, nil, EventUserJoined, PresencePayload{
		UserID: sender.id,
		Count:  count,
	})

	log.Printf("Client %s joined session %s (total: %d)", sender.id, p.SessionID, count)
}

func (h *Hub) handleCodeChange(sender *Client, payload json.RawMessage) {
	var p CodeChangePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" {
		h.sendError(sender, "invalid code-change payload")
		metrics.EventsDropped.WithLabelValues(metrics.ReasonInvalidPayload).Inc()
		return
	}
	if h.cfg.MaxCodeBytes > 0 && len(p.Code) > h.cfg.MaxCodeBytes {
		h.sendError(sender, "code payload too large")
		metrics.EventsDropped.WithLabelValues(metrics.ReasonInvalidPayload).Inc()
		return
	}
	if !h.requireMember(sender, p.SessionID) {
		return
	}

	if err := h.registry.SetCode(p.SessionID, p.Code); err != nil {
		metrics.EventsDropped.WithLabelValues(metrics.ReasonUnknownSession).Inc()
		return
	}

	h.broadcast(p.SessionID, sender, EventCodeUpdate, CodeUpdatePayload{Code: p.Code})
}

func (h *Hub) handleLanguageChange(sender *Client, payload json.RawMessage) {
	var p LanguageChangePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" {
		h.sendError(sender, "invalid language-change payload")
		metrics.EventsDropped.WithLabelValues(metrics.ReasonInvalidPayload).Inc()
		return
	}
	if !h.requireMember(sender, p.SessionID) {
		return
	}

	if err := h.registry.SetLanguage(p.SessionID, p.Language); err != nil {
		metrics.EventsDropped.WithLabelValues(metrics.ReasonUnknownSession).Inc()
		return
	}

	// The whole room, sender included: every view tracks the stored value
	h.broadcast(p.SessionID, nil, EventLanguageUpdate, LanguageUpdatePayload{Language: p.Language})
}

func (h *Hub) handleOutputChange(sender *Client, payload json.RawMessage) {
	var p OutputChangePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" {
		h.sendError(sender, "invalid output-change payload")
		metrics.EventsDropped.WithLabelValues(metrics.ReasonInvalidPayload).Inc()
		return
	}
	if h.cfg.MaxOutputBytes > 0 && len(p.Output) > h.cfg.MaxOutputBytes {
		h.sendError(sender, "output payload too large")
		metrics.EventsDropped.WithLabelValues(metrics.ReasonInvalidPayload).Inc()
		return
	}
	if !h.requireMember(sender, p.SessionID) {
		return
	}

	// Ephemeral: never stored, only relayed
	h.broadcast(p.SessionID, sender, EventOutputUpdate, OutputUpdatePayload{Output: p.Output})
}

// requireMember gates mutating events on a prior successful join. Events
// from non-members are dropped without a response.
func (h *Hub) requireMember(sender *Client, sessionID string) bool {
	if h.registry.IsMember(sessionID, sender.id) {
		return true
	}
	metrics.EventsDropped.WithLabelValues(metrics.ReasonNotMember).Inc()
	return false
}

// broadcast delivers an event to every member of a session, skipping except
// when non-nil. Delivery is fire-and-forget: clients that cannot keep up
// are dropped.
func (h *Hub) broadcast(sessionID string, except *Client, eventType EventType, payload interface{}) {
	data, err := EncodeEvent(eventType, payload)
	if err != nil {
		log.Printf("Failed to encode %s event: %v", eventType, err)
		return
	}

	h.mu.RLock()
	var slow []*Client
	if members, ok := h.rooms[sessionID]; ok {
		for client := range members {
			if client == except {
				continue
			}
			select {
			case client.send <- data:
				metrics.BroadcastsSent.Inc()
			default:
				slow = append(slow, client)
			}
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		metrics.EventsDropped.WithLabelValues(metrics.ReasonSlowConsumer).Inc()
		log.Printf("Client %s too slow, dropping", client.id)
		h.dropClient(client)
	}
}

func (h *Hub) unicast(client *Client, eventType EventType, payload interface{}) {
	if !h.isConnected(client) {
		return
	}

	data, err := EncodeEvent(eventType, payload)
	if err != nil {
		log.Printf("Failed to encode %s event: %v", eventType, err)
		return
	}

	select {
	case client.send <- data:
		metrics.BroadcastsSent.Inc()
	default:
		metrics.EventsDropped.WithLabelValues(metrics.ReasonSlowConsumer).Inc()
		h.dropClient(client)
	}
}

func (h *Hub) isConnected(client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[client]
}

func (h *Hub) sendError(client *Client, message string) {
	h.unicast(client, EventError, ErrorPayload{Message: message})
}

// Read-only accessors for the API layer

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// GetActiveRooms returns the live member count per session.
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make(map[string]int, len(h.rooms))
	for sessionID, members := range h.rooms {
		active[sessionID] = len(members)
	}
	return active
}
