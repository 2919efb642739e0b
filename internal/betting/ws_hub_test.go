package betting

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsPair upgrades one connection through a test server and returns both
// ends.
func wsPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server conn not upgraded")
	}
	return server, client
}

func clientCount(h *Hub) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for clientCount(h) != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", clientCount(h), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastDropsFailedClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	healthy, healthyClient := wsPair(t)
	dead, _ := wsPair(t)

	hub.register <- healthy
	hub.register <- dead
	waitForClients(t, hub, 2)

	// A concurrent reader holding the read lock, like the per-connection
	// ping goroutines, while the broadcast sweep removes dead clients.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				clientCount(hub)
			}
		}
	}()

	// Writes to this conn now fail, so the sweep must drop it.
	dead.Close()

	deadline := time.Now().Add(2 * time.Second)
	for clientCount(hub) != 1 {
		hub.Broadcast(Message{Type: "bet_placed", MarketID: "m1", Side: "YES"})
		if time.Now().After(deadline) {
			t.Fatalf("dead client not removed, count = %d", clientCount(hub))
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The healthy client keeps receiving broadcasts.
	healthyClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := healthyClient.ReadMessage()
	if err != nil {
		t.Fatalf("healthy client read: %v", err)
	}
	if !strings.Contains(string(data), `"bet_placed"`) {
		t.Errorf("unexpected broadcast payload: %s", data)
	}
}

func TestHub_UnregisterRemovesClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	server, _ := wsPair(t)
	hub.register <- server
	waitForClients(t, hub, 1)

	hub.unregister <- server
	waitForClients(t, hub, 0)
}
