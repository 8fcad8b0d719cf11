package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type staticStatus struct{}

func (staticStatus) Snapshot() any { return map[string]string{"state": "ready"} }

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHubWelcomeAndBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.SetMachineStatusProvider(staticStatus{})
	go hub.Run()
	defer hub.Stop()

	conn := dialHub(t, hub)

	welcome := readMessage(t, conn)
	if welcome["type"] != string(MessageTypeWelcome) {
		t.Fatalf("first message = %v", welcome)
	}
	data := welcome["data"].(map[string]any)
	if data["client_id"] == "" || data["machine"].(map[string]any)["state"] != "ready" {
		t.Fatalf("welcome data = %v", data)
	}

	hub.Broadcast(NewMachineStateMessage("homing", "stopped", ""))
	msg := readMessage(t, conn)
	if msg["type"] != string(MessageTypeMachineState) {
		t.Fatalf("type = %v", msg["type"])
	}
	state := msg["data"].(map[string]any)
	if state["state"] != "homing" || state["previous_state"] != "stopped" {
		t.Fatalf("data = %v", state)
	}

	if n := hub.GetClientCount(); n != 1 {
		t.Fatalf("clients = %d", n)
	}
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	stopped := make(chan struct{})
	go func() {
		hub.Run()
		close(stopped)
	}()

	conn := dialHub(t, hub)
	readMessage(t, conn)

	hub.Stop()
	<-stopped

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if n := hub.GetClientCount(); n != 0 {
		t.Fatalf("clients = %d after stop", n)
	}
}

func TestHubSubscriptionFilter(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Stop()

	conn := dialHub(t, hub)
	readMessage(t, conn)

	if err := conn.WriteJSON(ClientRequest{Subscribe: []MessageType{MessageTypeDeviceError}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !filtered(hub) {
		if time.Now().After(deadline) {
			t.Fatal("subscription never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(NewMachineStateMessage("homing", "stopped", ""))
	hub.Broadcast(NewDeviceErrorMessage("read angles", errors.New("timeout")))

	msg := readMessage(t, conn)
	if msg["type"] != string(MessageTypeDeviceError) {
		t.Fatalf("type = %v, want device_error", msg["type"])
	}
}

func filtered(hub *Hub) bool {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for client := range hub.clients {
		if !client.wants(MessageTypeMachineState) {
			return true
		}
	}
	return false
}
