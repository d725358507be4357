package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server. The handler runs after a
// successful upgrade.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// sendAck writes the handshake ack frame.
func sendAck(t *testing.T, conn *websocket.Conn, sessionID string) {
	t.Helper()
	frame := map[string]any{
		"type": "connected",
		"msg":  map[string]any{"session_id": sessionID},
	}
	data, _ := json.Marshal(frame)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Logf("send ack: %v", err)
	}
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:          url,
		Token:        "test-token",
		AckTimeout:   time.Second,
		PingTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		sendAck(t, conn, "sess-1")
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}
	if got := client.SessionID(); got != "sess-1" {
		t.Errorf("SessionID = %q, want %q", got, "sess-1")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}
}

func TestClient_BearerHeader(t *testing.T) {
	var gotAuth string
	var mu sync.Mutex

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		sendAck(t, conn, "sess-1")
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-token")
	}
}

func TestClient_AuthRejectedOnUpgrade(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrAuthRejected) {
		t.Errorf("Connect error = %v, want ErrAuthRejected", err)
	}
}

func TestClient_AuthErrorFrame(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		frame := map[string]any{
			"type": "auth_error",
			"msg":  map[string]any{"code": "token_expired", "message": "token expired"},
		}
		data, _ := json.Marshal(frame)
		conn.WriteMessage(websocket.TextMessage, data)
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrAuthRejected) {
		t.Errorf("Connect error = %v, want ErrAuthRejected", err)
	}
}

func TestClient_HandshakeTimeout(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Never send the ack.
		time.Sleep(2 * time.Second)
	})
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.AckTimeout = 200 * time.Millisecond
	client := NewClient(cfg, nil)

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Errorf("Connect error = %v, want ErrHandshakeTimeout", err)
	}
}

func TestClient_TransportUnavailable(t *testing.T) {
	cfg := testClientConfig("ws://127.0.0.1:1")
	client := NewClient(cfg, nil)

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("Connect error = %v, want ErrTransportUnavailable", err)
	}
}

func TestClient_SecondConnectRejected(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		sendAck(t, conn, "sess-1")
		time.Sleep(time.Second)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnecting) {
		t.Errorf("second Connect error = %v, want ErrAlreadyConnecting", err)
	}
}

func TestClient_Messages(t *testing.T) {
	testFrames := []string{
		`{"type":"userTyping","msg":{"thread_id":"p1","user_id":"u1","user_name":"Ana"}}`,
		`{"type":"dashboard_update","msg":{"project_id":"p1"}}`,
		`{"type":"notification","msg":{"project_id":"p1","message":"hi","type":"info"}}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		sendAck(t, conn, "sess-1")
		for _, msg := range testFrames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	var received []string
	timeout := time.After(500 * time.Millisecond)

	for i := 0; i < len(testFrames); i++ {
		select {
		case msg := <-client.Messages():
			received = append(received, string(msg.Data))
			if msg.ReceivedAt.IsZero() {
				t.Error("ReceivedAt should not be zero")
			}
		case <-timeout:
			t.Fatalf("timeout waiting for messages, received %d of %d", len(received), len(testFrames))
		}
	}

	for i, want := range testFrames {
		if received[i] != want {
			t.Errorf("message %d: got %q, want %q", i, received[i], want)
		}
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	client := NewClient(testClientConfig("ws://localhost:12345"), nil)

	if err := client.Send([]byte("test")); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		sendAck(t, conn, "sess-1")
		time.Sleep(time.Second)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestIntent_Marshal(t *testing.T) {
	intent := NewIntent(IntentJoinRoom, JoinRoomMsg{RoomID: "p1"})

	data, err := marshalIntent(intent)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var parsed struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Msg  struct {
			RoomID string `json:"room_id"`
		} `json:"msg"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if parsed.ID == "" {
		t.Error("intent ID should not be empty")
	}
	if parsed.Type != IntentJoinRoom {
		t.Errorf("Type = %q, want %q", parsed.Type, IntentJoinRoom)
	}
	if parsed.Msg.RoomID != "p1" {
		t.Errorf("RoomID = %q, want %q", parsed.Msg.RoomID, "p1")
	}
}

func TestDefaultConfigs(t *testing.T) {
	clientCfg := DefaultClientConfig()
	if clientCfg.AckTimeout != 5*time.Second {
		t.Errorf("AckTimeout = %v, want 5s", clientCfg.AckTimeout)
	}
	if clientCfg.BufferSize != 1000 {
		t.Errorf("BufferSize = %d, want 1000", clientCfg.BufferSize)
	}

	mgrCfg := DefaultManagerConfig()
	if mgrCfg.ReconnectBaseWait != time.Second {
		t.Errorf("ReconnectBaseWait = %v, want 1s", mgrCfg.ReconnectBaseWait)
	}
	if mgrCfg.ReconnectMaxWait != 30*time.Second {
		t.Errorf("ReconnectMaxWait = %v, want 30s", mgrCfg.ReconnectMaxWait)
	}
}
