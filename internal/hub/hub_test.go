package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsPair dials a client connection against a throwaway upgrade endpoint and
// hands the server side to the caller.
func wsPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConns := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-serverConns:
	case <-time.After(2 * time.Second):
		t.Fatal("server connection never arrived")
	}
	return server, client
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return msg
}

func TestNotifyReachesOnlyOwner(t *testing.T) {
	t.Parallel()
	h := New(discard())

	alice, bob := uuid.New(), uuid.New()
	aliceSrv, aliceClient := wsPair(t)
	bobSrv, bobClient := wsPair(t)
	h.Attach(alice, aliceSrv)
	h.Attach(bob, bobSrv)

	h.Notify(alice, EventSignalReceived, map[string]any{"symbol": "EURUSD"})

	msg := readEvent(t, aliceClient)
	if msg["type"] != EventSignalReceived {
		t.Errorf("type = %v, want %s", msg["type"], EventSignalReceived)
	}
	if msg["symbol"] != "EURUSD" {
		t.Errorf("symbol = %v, want EURUSD", msg["symbol"])
	}

	// Bob must see nothing; a short deadline proves the silence.
	_ = bobClient.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := bobClient.ReadMessage(); err == nil {
		t.Error("event for alice leaked to bob")
	}
}

func TestBroadcastReachesEveryone(t *testing.T) {
	t.Parallel()
	h := New(discard())

	aliceSrv, aliceClient := wsPair(t)
	h.Attach(uuid.New(), aliceSrv)
	bobSrv, bobClient := wsPair(t)
	h.Attach(uuid.New(), bobSrv)

	h.Broadcast(EventPing, map[string]any{"time": "now"})

	for _, client := range []*websocket.Conn{aliceClient, bobClient} {
		msg := readEvent(t, client)
		if msg["type"] != EventPing {
			t.Errorf("type = %v, want %s", msg["type"], EventPing)
		}
	}
}

func TestDetachRemovesSession(t *testing.T) {
	t.Parallel()
	h := New(discard())

	srv, _ := wsPair(t)
	s := h.Attach(uuid.New(), srv)
	if n := h.SessionCount(); n != 1 {
		t.Fatalf("session count = %d, want 1", n)
	}

	h.Detach(s)
	if n := h.SessionCount(); n != 0 {
		t.Errorf("session count = %d, want 0 after detach", n)
	}

	// A second detach must be a harmless no-op.
	h.Detach(s)
}

func TestEnqueueAfterDetachIsNoop(t *testing.T) {
	t.Parallel()
	h := New(discard())

	srv, _ := wsPair(t)
	user := uuid.New()
	s := h.Attach(user, srv)
	h.Detach(s)

	// The send channel is closed; a late delivery attempt must be
	// swallowed by the closed flag, not panic on the channel.
	s.enqueue([]byte(`{"type":"ping"}`))
	h.Notify(user, EventPing, nil)
	h.Broadcast(EventPing, nil)
}

func TestClientDisconnectDetaches(t *testing.T) {
	t.Parallel()
	h := New(discard())

	srv, client := wsPair(t)
	h.Attach(uuid.New(), srv)
	_ = client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.SessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not detached after client disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
