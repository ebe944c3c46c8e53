package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/btlesniffer/internal/auth"
	"github.com/nerrad567/btlesniffer/internal/sink"
	"github.com/nerrad567/btlesniffer/internal/sniffer"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

// attachSubscribed adds a connectionless client subscribed to channels.
func attachSubscribed(t *testing.T, hub *Hub, channels ...string) *streamClient {
	t.Helper()
	set, unknown := parseChannels(channels)
	if len(unknown) > 0 {
		t.Fatalf("unknown channels %v", unknown)
	}
	c := hub.attach(nil)
	c.update(set, true)
	return c
}

func TestHubPublishToSubscribed(t *testing.T) {
	hub := newTestHub(t)
	client := attachSubscribed(t, hub, ChannelSighting)

	s := sink.Sighting{ID: "s-1", Identifier: "AA:BB:CC:DD:EE:FF", RSSI: -60}
	if err := hub.Publish(context.Background(), s); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-client.out:
		var wsMsg struct {
			Type      string        `json:"type"`
			EventType string        `json:"event_type"`
			Payload   sink.Sighting `json:"payload"`
		}
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != ChannelSighting || wsMsg.Payload.ID != "s-1" {
			t.Errorf("message = %+v", wsMsg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sighting event")
	}
}

func TestHubSkipsUnsubscribed(t *testing.T) {
	hub := newTestHub(t)
	client := attachSubscribed(t, hub, ChannelHealth)

	hub.Publish(context.Background(), sink.Sighting{ID: "s-1"}) //nolint:errcheck // Hub publish never fails
	if len(client.out) != 0 {
		t.Error("unsubscribed client received a sighting")
	}

	if err := hub.ReportHealth(context.Background(), sniffer.Health{Status: sniffer.HealthRunning}); err != nil {
		t.Fatalf("ReportHealth() error = %v", err)
	}
	if len(client.out) != 1 {
		t.Errorf("health subscriber queued %d messages, want 1", len(client.out))
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := newTestHub(t)
	client := attachSubscribed(t, hub, ChannelSighting, ChannelHealth)

	client.update(chanSighting, false)
	if client.subscribed(chanSighting) || !client.subscribed(chanHealth) {
		t.Fatalf("subs = %b, want health only", client.subs)
	}
	hub.Publish(context.Background(), sink.Sighting{ID: "s-1"}) //nolint:errcheck // Hub publish never fails
	if len(client.out) != 0 {
		t.Error("client received a sighting after unsubscribing")
	}
}

func TestParseChannels(t *testing.T) {
	tests := []struct {
		name        string
		channels    []string
		want        channelSet
		wantUnknown []string
	}{
		{name: "none", channels: nil, want: 0},
		{name: "sighting", channels: []string{"sighting"}, want: chanSighting},
		{name: "both", channels: []string{"health", "sighting"}, want: chanSighting | chanHealth},
		{name: "unknown", channels: []string{"sighting", "state"}, want: chanSighting, wantUnknown: []string{"state"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unknown := parseChannels(tt.channels)
			if got != tt.want {
				t.Errorf("set = %b, want %b", got, tt.want)
			}
			if strings.Join(unknown, ",") != strings.Join(tt.wantUnknown, ",") {
				t.Errorf("unknown = %v, want %v", unknown, tt.wantUnknown)
			}
		})
	}
}

func TestHubClientCount(t *testing.T) {
	hub := newTestHub(t)
	client := hub.attach(nil)

	if hub.ClientCount() != 1 {
		t.Errorf("after attach count = %d, want 1", hub.ClientCount())
	}
	hub.detach(client)
	hub.detach(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after detach count = %d, want 0", hub.ClientCount())
	}

	// Late replies and events after detaching are dropped.
	client.enqueue([]byte("late"))
	client.update(chanSighting, true)
	client.deliver(chanSighting, []byte("late"))
	if _, ok := <-client.out; ok {
		t.Error("stopped client queue still open")
	}
}

func TestHubShutdown(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := attachSubscribed(t, hub, ChannelSighting)
	cancel()
	<-done

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() after shutdown = %d", hub.ClientCount())
	}
	if _, ok := <-client.out; ok {
		t.Error("client queue not closed on shutdown")
	}

	late := hub.attach(nil)
	if _, ok := <-late.out; ok || hub.ClientCount() != 0 {
		t.Error("attach after shutdown registered a live client")
	}
}

func dialWS(t *testing.T, srv *Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocketSubscribeAndReceive(t *testing.T) {
	srv, _ := testServer(t, "", nil)
	ws, _, err := dialWS(t, srv, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelSighting}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	resp := readWS(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	srv.hub.Publish(context.Background(), sink.Sighting{ID: "s-9", Identifier: "AA:BB:CC:DD:EE:FF"}) //nolint:errcheck // Hub publish never fails

	event := readWS(t, ws)
	if event.Type != WSTypeEvent || event.EventType != ChannelSighting {
		t.Errorf("event = %+v", event)
	}
	payload, _ := event.Payload.(map[string]any)
	if payload["id"] != "s-9" {
		t.Errorf("payload = %v", event.Payload)
	}
}

func TestWebSocketPingAndErrors(t *testing.T) {
	srv, _ := testServer(t, "", nil)
	ws, _, err := dialWS(t, srv, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p-1"}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypePong || msg.ID != "p-1" {
		t.Errorf("ping reply = %+v", msg)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypeError {
		t.Errorf("invalid JSON reply = %+v", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: "launch", ID: "x-1"}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypeError || msg.ID != "x-1" {
		t.Errorf("unknown type reply = %+v", msg)
	}
}

func TestWebSocketUnknownChannel(t *testing.T) {
	srv, _ := testServer(t, "", nil)
	ws, _, err := dialWS(t, srv, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-2",
		Payload: WSSubscribePayload{Channels: []string{ChannelSighting, "state"}},
	}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypeError || msg.ID != "sub-2" {
		t.Fatalf("reply = %+v, want error", msg)
	}

	// Nothing was subscribed, so a sighting is not streamed; the pong
	// arrives first.
	srv.hub.Publish(context.Background(), sink.Sighting{ID: "s-1"}) //nolint:errcheck // Hub publish never fails
	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p-2"}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypePong {
		t.Errorf("next message = %+v, want pong", msg)
	}
}

func TestWebSocketAuth(t *testing.T) {
	srv, _ := testServer(t, testSecret, nil)
	token, err := auth.GenerateToken("dashboard", testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{name: "no token", query: "", wantErr: true},
		{name: "bad token", query: "?token=nope", wantErr: true},
		{name: "query token", query: "?token=" + token, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, resp, err := dialWS(t, srv, tt.query)
			if tt.wantErr {
				if err == nil {
					ws.Close()
					t.Fatal("expected dial error")
				}
				if resp == nil || resp.StatusCode != http.StatusUnauthorized {
					t.Errorf("response = %v, want 401", resp)
				}
				return
			}
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			ws.Close()
		})
	}
}
