package ws

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/codesync/backend/internal/config"
	"github.com/codesync/backend/internal/session"
)

func newTestHub() (*Hub, *session.Registry) {
	registry := session.NewRegistry(nil)
	hub := NewHub(registry, config.Default().WebSocket)
	go hub.Run()
	return hub, registry
}

var testClientSeq int

func connect(t *testing.T, hub *Hub) *Client {
	t.Helper()
	testClientSeq++
	c := &Client{
		hub:  hub,
		send: make(chan []byte, 64),
		id:   fmt.Sprintf("conn-%d", testClientSeq),
	}
	hub.register <- c
	return c
}

func send(hub *Hub, c *Client, eventType EventType, payload interface{}) {
	raw, _ := json.Marshal(payload)
	hub.inbound <- &inboundEvent{sender: c, event: &Event{Type: eventType, Payload: raw}}
}

func join(t *testing.T, hub *Hub, c *Client, sessionID string) {
	t.Helper()
	send(hub, c, EventJoin, JoinPayload{SessionID: sessionID})
}

func recvEvent(t *testing.T, c *Client) *Event {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("Send channel closed unexpectedly")
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			t.Fatalf("Failed to decode outbound event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return nil
}

func expectEvent(t *testing.T, c *Client, eventType EventType) *Event {
	t.Helper()
	ev := recvEvent(t, c)
	if ev.Type != eventType {
		t.Fatalf("Expected %s event, got %s", eventType, ev.Type)
	}
	return ev
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if ok {
			ev, _ := DecodeEvent(data)
			t.Fatalf("Expected no event, got %s", ev.Type)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func decodePayload(t *testing.T, ev *Event, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(ev.Payload, into); err != nil {
		t.Fatalf("Failed to decode %s payload: %v", ev.Type, err)
	}
}

func TestJoinReceivesCurrentState(t *testing.T) {
	hub, registry := newTestHub()
	snap := registry.Create()

	a := connect(t, hub)
	join(t, hub, a, snap.ID)

	init := expectEvent(t, a, EventInit)
	var p InitPayload
	decodePayload(t, init, &p)
	if p.Code != session.DefaultCode {
		t.Errorf("Init code = %q, want default buffer", p.Code)
	}
	if p.Language != session.DefaultLanguage {
		t.Errorf("Init language = %q, want %q", p.Language, session.DefaultLanguage)
	}

	joined := expectEvent(t, a, EventUserJoined)
	var presence PresencePayload
	decodePayload(t, joined, &presence)
	if presence.Count != 1 {
		t.Errorf("Presence count = %d, want 1", presence.Count)
	}
	if presence.UserID != a.id {
		t.Errorf("Presence userId = %q, want %q", presence.UserID, a.id)
	}
}

func TestJoinUnknownSession(t *testing.T) {
	hub, registry := newTestHub()

	a := connect(t, hub)
	join(t, hub, a, "no-such-session")

	ev := expectEvent(t, a, EventError)
	var p ErrorPayload
	decodePayload(t, ev, &p)
	if p.Message == "" {
		t.Error("Error payload should carry a message")
	}

	if registry.Len() != 0 {
		t.Error("Failed join must not create a session")
	}
	expectNoEvent(t, a)
}

func TestJoinIdempotent(t *testing.T) {
	hub, registry := newTestHub()
	snap := registry.Create()

	a := connect(t, hub)
	join(t, hub, a, snap.ID)
	expectEvent(t, a, EventInit)
	expectEvent(t, a, EventUserJoined)

	// Second join: membership unchanged, state unicast still delivered
	join(t, hub, a, snap.ID)
	expectEvent(t, a, EventInit)
	joined := expectEvent(t, a, EventUserJoined)
	var presence PresencePayload
	decodePayload(t, joined, &presence)
	if presence.Count != 1 {
		t.Errorf("Count after duplicate join = %d, want 1", presence.Count)
	}
	if registry.Count(snap.ID) != 1 {
		t.Errorf("Member count = %d, want 1", registry.Count(snap.ID))
	}
}

func TestJoinSecondSessionRejected(t *testing.T) {
	hub, registry := newTestHub()
	first := registry.Create()
	second := registry.Create()

	a := connect(t, hub)
	join(t, hub, a, first.ID)
	expectEvent(t, a, EventInit)
	expectEvent(t, a, EventUserJoined)

	join(t, hub, a, second.ID)
	expectEvent(t, a, EventError)

	if registry.Count(second.ID) != 0 {
		t.Error("Rejected join must not add membership")
	}
}

func TestCodeChangeExcludesSender(t *testing.T) {
	hub, registry := newTestHub()
	snap := registry.Create()

	a := connect(t, hub)
	join(t, hub, a, snap.ID)
	expectEvent(t, a, EventInit)
	expectEvent(t, a, EventUserJoined)

	b := connect(t, hub)
	join(t, hub, b, snap.ID)
	expectEvent(t, b, EventInit)
	expectEvent(t, b, EventUserJoined)
	expectEvent(t, a, EventUserJoined) // B's arrival

	send(hub, a, EventCodeChange, CodeChangePayload{SessionID: snap.ID, Code: "x=1"})

	update := expectEvent(t, b, EventCodeUpdate)
	var p CodeUpdatePayload
	decodePayload(t, update, &p)
	if p.Code != "x=1" {
		t.Errorf("Code update = %q, want %q", p.Code, "x=1")
	}

	// The sender already has the authoritative local value
	expectNoEvent(t, a)

	// A late joiner observes the last write
	c := connect(t, hub)
	join(t, hub, c, snap.ID)
	init := expectEvent(t, c, EventInit)
	var initPayload InitPayload
	decodePayload(t, init, &initPayload)
	if initPayload.Code != "x=1" {
		t.Errorf("Late joiner code = %q, want %q", initPayload.Code, "x=1")
	}
}

func TestLanguageChangeIncludesSender(t *testing.T) {
	hub, registry := newTestHub()
	snap := registry.Create()

	a := connect(t, hub)
	join(t, hub, a, snap.ID)
	expectEvent(t, a, EventInit)
	expectEvent(t, a, EventUserJoined)

	b := connect(t, hub)
	join(t, hub, b, snap.ID)
	expectEvent(t, b, EventInit)
	expectEvent(t, b, EventUserJoined)
	expectEvent(t, a, EventUserJoined)

	send(hub, a, EventLanguageChange, LanguageChangePayload{SessionID: snap.ID, Language: "python"})

	for _, client := range []*Client{a, b} {
		update := expectEvent(t, client, EventLanguageUpdate)
		var p LanguageUpdatePayload
		decodePayload(t, update, &p)
		if p.Language != "python" {
			t.Errorf("Language update = %q, want %q", p.Language, "python")
		}
	}

	got, err := registry.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Language != "python" {
		t.Errorf("Stored language = %q, want %q", got.Language, "python")
	}
}

func TestOutputChangeExcludesSenderAndIsEphemeral(t *testing.T) {
	hub, registry := newTestHub()
	snap := registry.Create()

	a := connect(t, hub)
	join(t, hub, a, snap.ID)
	expectEvent(t, a, EventInit)
	expectEvent(t, a, EventUserJoined)

	b := connect(t, hub)
	join(t, hub, b, snap.ID)
	expectEvent(t, b, EventInit)
	expectEvent(t, b, EventUserJoined)
	expectEvent(t, a, EventUserJoined)

	output := json.RawMessage(`{"type":"log","content":"hello"}`)
	send(hub, a, EventOutputChange, OutputChangePayload{SessionID: snap.ID, Output: output})

	update := expectEvent(t, b, EventOutputUpdate)
	var p OutputUpdatePayload
	decodePayload(t, update, &p)
	if string(p.Output) != string(output) {
		t.Errorf("Output update = %s, want %s", p.Output, output)
	}
	expectNoEvent(t, a)

	// Output is never folded into session state
	got, err := registry.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Code != session.DefaultCode {
		t.Error("Output event must not mutate the code buffer")
	}
}

func TestUnknownSessionEventsIgnored(t *testing.T) {
	hub, registry := newTestHub()
	snap := registry.Create()

	a := connect(t, hub)
	join(t, hub, a, snap.ID)
	expectEvent(t, a, EventInit)
	expectEvent(t, a, EventUserJoined)

	send(hub, a, EventCodeChange, CodeChangePayload{SessionID: "never-created", Code: "x"})

	// Silently dropped: no broadcast, no error, no session side effect
	expectNoEvent(t, a)
	if _, err := registry.Get("never-created"); err != session.ErrSessionNotFound {
		t.Error("Unknown-session event must not create a session")
	}
}

func TestNonMemberMutationDropped(t *testing.T) {
	hub, registry := newTestHub()
	snap := registry.Create()

	a := connect(t, hub)
	join(t, hub, a, snap.ID)
	expectEvent(t, a, EventInit)
	expectEvent(t, a, EventUserJoined)

	// Connected but never joined
	outsider := connect(t, hub)
	send(hub, outsider, EventCodeChange, CodeChangePayload{SessionID: snap.ID, Code: "hijack"})

	expectNoEvent(t, a)
	expectNoEvent(t, outsider)

	got, err := registry.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Code != session.DefaultCode {
		t.Errorf("Non-member write mutated state: %q", got.Code)
	}
}

func TestDisconnectBroadcastsUserLeft(t *testing.T) {
	hub, registry := newTestHub()
	snap := registry.Create()

	a := connect(t, hub)
	join(t, hub, a, snap.ID)
	expectEvent(t, a, EventInit)
	expectEvent(t, a, EventUserJoined)

	b := connect(t, hub)
	join(t, hub, b, snap.ID)
	expectEvent(t, b, EventInit)
	expectEvent(t, b, EventUserJoined)
	expectEvent(t, a, EventUserJoined)

	hub.unregister <- a

	left := expectEvent(t, b, EventUserLeft)
	var presence PresencePayload
	decodePayload(t, left, &presence)
	if presence.Count != 1 {
		t.Errorf("user-left count = %d, want 1", presence.Count)
	}
	if presence.UserID != a.id {
		t.Errorf("user-left userId = %q, want %q", presence.UserID, a.id)
	}

	if registry.Count(snap.ID) != 1 {
		t.Errorf("Member count after disconnect = %d, want 1", registry.Count(snap.ID))
	}
}

func TestOversizedCodeRejected(t *testing.T) {
	registry := session.NewRegistry(nil)
	cfg := config.Default().WebSocket
	cfg.MaxCodeBytes = 8
	hub := NewHub(registry, cfg)
	go hub.Run()

	snap := registry.Create()

	a := connect(t, hub)
	join(t, hub, a, snap.ID)
	expectEvent(t, a, EventInit)
	expectEvent(t, a, EventUserJoined)

	send(hub, a, EventCodeChange, CodeChangePayload{SessionID: snap.ID, Code: "this is far too long"})
	expectEvent(t, a, EventError)

	got, err := registry.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Code != session.DefaultCode {
		t.Error("Oversized payload must not mutate state")
	}
}

func TestMalformedEventGetsErrorReply(t *testing.T) {
	hub, _ := newTestHub()

	a := connect(t, hub)
	hub.inbound <- &inboundEvent{sender: a, err: fmt.Errorf("malformed event")}

	expectEvent(t, a, EventError)
}

func TestHubAccessors(t *testing.T) {
	hub, registry := newTestHub()
	snap := registry.Create()

	if hub.GetClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.GetClientCount())
	}
	if hub.GetRoomCount() != 0 {
		t.Errorf("Expected 0 rooms, got %d", hub.GetRoomCount())
	}

	a := connect(t, hub)
	join(t, hub, a, snap.ID)
	expectEvent(t, a, EventInit)
	expectEvent(t, a, EventUserJoined)

	if hub.GetClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.GetClientCount())
	}
	if hub.GetRoomCount() != 1 {
		t.Errorf("Expected 1 room, got %d", hub.GetRoomCount())
	}

	active := hub.GetActiveRooms()
	if active[snap.ID] != 1 {
		t.Errorf("Active rooms = %v, want %s:1", active, snap.ID)
	}
}
