package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kbuck1/navilink/internal/navilink"
)

// dialWS requests a ticket and opens a WebSocket against a live test server.
func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ws-ticket status = %d, want 200", rec.Code)
	}
	var ticket struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	decodeBody(t, rec, &ticket)
	if ticket.Ticket == "" || ticket.ExpiresIn != int(ticketTTL.Seconds()) {
		t.Fatalf("ticket response = %+v", ticket)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket.Ticket
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

// snapshotPayload re-decodes an event payload as a snapshot.
func snapshotPayload(t *testing.T, msg WSMessage) navilink.Snapshot {
	t.Helper()
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	var snap navilink.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("payload is not a snapshot: %v", err)
	}
	return snap
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	})
	if err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	resp := readWS(t, conn)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// =============================================================================
// Tickets
// =============================================================================

func TestWebSocket_RequiresTicket(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/v1/ws", "/api/v1/ws?ticket=unknown"} {
		rec := env.doWithToken(t, http.MethodGet, path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, rec.Code)
		}
	}
}

func TestTicketStore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newTicketStore()
	ts.now = func() time.Time { return now }

	ticket := ts.issue("admin")
	entry, ok := ts.consume(ticket)
	if !ok || entry.subject != "admin" {
		t.Fatalf("consume() = %+v, %v", entry, ok)
	}
	if _, ok := ts.consume(ticket); ok {
		t.Error("ticket accepted twice")
	}

	expired := ts.issue("admin")
	now = now.Add(ticketTTL + time.Second)
	if _, ok := ts.consume(expired); ok {
		t.Error("expired ticket accepted")
	}

	ts.issue("admin")
	ts.issue("admin")
	now = now.Add(ticketTTL + time.Second)
	ts.issue("admin")
	ts.cleanExpired()
	if got := ts.len(); got != 1 {
		t.Errorf("tickets after cleanup = %d, want 1", got)
	}
}

// =============================================================================
// Hub
// =============================================================================

func TestWebSocket_SubscribeReplaysAndBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)
	waitForClients(t, env.srv.hub, 1)

	subscribe(t, conn, ChannelStateChanged)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg := readWS(t, conn)
		if msg.Type != WSTypeEvent || msg.EventType != ChannelStateChanged {
			t.Fatalf("replay message = %+v", msg)
		}
		seen[snapshotPayload(t, msg).ID] = true
	}
	if !seen["aabbccddeeff_1"] || !seen["001122334455"] {
		t.Errorf("replayed devices = %v", seen)
	}

	env.srv.hub.Broadcast(ChannelStateChanged, navilink.Snapshot{ID: "aabbccddeeff_1", TargetTemperature: 130})
	msg := readWS(t, conn)
	if snap := snapshotPayload(t, msg); snap.TargetTemperature != 130 {
		t.Errorf("broadcast snapshot = %+v", snap)
	}
}

func TestWebSocket_OnlySubscribedChannels(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)
	waitForClients(t, env.srv.hub, 1)

	subscribe(t, conn, "link.status")

	env.srv.hub.Broadcast(ChannelStateChanged, navilink.Snapshot{ID: "aabbccddeeff_1"})
	env.srv.hub.Broadcast("link.status", map[string]bool{"connected": true})

	msg := readWS(t, conn)
	if msg.EventType != "link.status" {
		t.Errorf("event type = %q, want link.status", msg.EventType)
	}
}

func TestWebSocket_PingAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %+v", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "reboot", ID: "x"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeError {
		t.Errorf("unknown type reply = %+v", msg)
	}
}

func TestHub_CloseAll(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)
	waitForClients(t, env.srv.hub, 1)

	env.srv.hub.closeAll()
	if got := env.srv.hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() after closeAll = %d", got)
	}

	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after closeAll")
	}
}

func TestHub_DropsWhenClientBufferFull(t *testing.T) {
	env := newTestEnv(t)
	hub := env.srv.hub

	c := &WSClient{hub: hub, send: make(chan []byte, 1), channels: map[string]struct{}{}}
	c.subscribe([]string{ChannelStateChanged})
	hub.Register(c)

	hub.Broadcast(ChannelStateChanged, navilink.Snapshot{ID: "aabbccddeeff_1"})
	hub.Broadcast(ChannelStateChanged, navilink.Snapshot{ID: "aabbccddeeff_1"})
	if got := hub.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}

	hub.Unregister(c)
	// A late broadcast must not panic on the closed queue.
	c.enqueue([]byte("{}"))
}

func TestDecodeChannels(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    int
		wantErr bool
	}{
		{"channels", map[string]any{"channels": []string{"a", "b"}}, 2, false},
		{"empty list", map[string]any{"channels": []string{}}, 0, true},
		{"missing", nil, 0, true},
		{"wrong type", map[string]any{"channels": "a"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeChannels(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeChannels() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("decodeChannels() = %v", got)
			}
		})
	}
}
