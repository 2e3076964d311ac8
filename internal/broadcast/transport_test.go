package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn, timeout time.Duration) protocol.Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

func TestServeSubscriptionFiltersDelivery(t *testing.T) {
	b := New(hvstate.NewEngine(t.TempDir()))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.Serve(w, r, nil, nil)
	}))
	defer server.Close()

	ws := dial(t, server)
	defer ws.Close()

	subEnv := protocol.New(protocol.WSSubscribe, protocol.WSSubscribePayload{ProjectSlug: "demo"})
	data, _ := json.Marshal(subEnv)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// Give the read pump time to process the subscription before publishing.
	time.Sleep(50 * time.Millisecond)

	b.Publish(protocol.New(protocol.SessionStart, protocol.SessionStartPayload{
		SessionID: "other", ProjectSlug: "not-demo",
	}))
	b.Publish(protocol.New(protocol.SessionStart, protocol.SessionStartPayload{
		SessionID: "s1", ProjectSlug: "demo",
	}))

	env := readEnvelope(t, ws, 2*time.Second)
	var p protocol.SessionStartPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ProjectSlug != "demo" {
		t.Fatalf("delivered envelope for project %q, want demo", p.ProjectSlug)
	}
}

func TestServeDispatchesInboundMessagesToHandler(t *testing.T) {
	b := New(hvstate.NewEngine(t.TempDir()))

	received := make(chan protocol.Envelope, 1)
	handler := func(c *Connection, env protocol.Envelope) {
		received <- env
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.Serve(w, r, handler, nil)
	}))
	defer server.Close()

	ws := dial(t, server)
	defer ws.Close()

	chatEnv := protocol.New(protocol.ChatMessage, struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}{SessionID: "s1", Message: "hello"})
	data, _ := json.Marshal(chatEnv)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case env := <-received:
		if env.Type != protocol.ChatMessage {
			t.Fatalf("handler saw type %v, want CHAT_MESSAGE", env.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound handler was not invoked")
	}
}

func TestServeRegistersAndUnregistersOnClose(t *testing.T) {
	b := New(hvstate.NewEngine(t.TempDir()))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.Serve(w, r, nil, nil)
	}))
	defer server.Close()

	ws := dial(t, server)

	time.Sleep(50 * time.Millisecond)
	if got := len(b.Observers()); got != 1 {
		t.Fatalf("Observers() = %d, want 1 while connected", got)
	}

	ws.Close()
	time.Sleep(100 * time.Millisecond)
	if got := len(b.Observers()); got != 0 {
		t.Fatalf("Observers() = %d, want 0 after close", got)
	}
}
