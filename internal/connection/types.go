package connection

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	// ErrAuthRejected is terminal: the bearer token was rejected and a fresh
	// credential is required before connecting again.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrHandshakeTimeout means the server accepted the socket but never
	// sent the handshake ack within the configured window.
	ErrHandshakeTimeout = errors.New("handshake ack timeout")

	// ErrTransportUnavailable wraps lower-level network failures. Retryable.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrAlreadyConnecting is returned when a connect is requested while a
	// handshake is pending or a connection is already live.
	ErrAlreadyConnecting = errors.New("connect already in progress")

	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Status is the connection lifecycle state owned by the Manager.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusReconnecting
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// StatusChange is delivered synchronously to registered status listeners on
// every transition.
type StatusChange struct {
	Old       Status
	New       Status
	SessionID string    // Set while connected
	Attempts  int       // Consecutive failed attempts at the time of the change
	Err       error     // Cause, for Disconnected/Reconnecting/Failed
	At        time.Time // Local transition time
}

// ConnState is a read-only snapshot of the connection record.
type ConnState struct {
	Status            Status
	SessionID         string
	ReconnectAttempts int       // Reset to 0 on every successful connect
	LastConnected     time.Time // Zero until the first successful handshake
	LastError         string    // Last connect/transport error message
}

// RawMessage wraps raw inbound bytes with the local receive timestamp.
type RawMessage struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when the read returned
}

// -----------------------------------------------------------------------------
// Wire frames
// -----------------------------------------------------------------------------

// Frame is the envelope for every inbound server frame.
type Frame struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

// ConnectedMsg is the handshake ack payload.
type ConnectedMsg struct {
	SessionID string `json:"session_id"`
}

// AuthErrorMsg is the payload of an auth_error frame.
type AuthErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Intent is an outbound client message. The server echoes the effect back
// as a broadcast; the client never assumes an intent succeeded until that
// echo arrives.
type Intent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Msg  any    `json:"msg"`
}

// NewIntent builds an Intent with a fresh id.
func NewIntent(intentType string, msg any) Intent {
	return Intent{
		ID:   uuid.NewString(),
		Type: intentType,
		Msg:  msg,
	}
}

func marshalIntent(i Intent) ([]byte, error) {
	return json.Marshal(i)
}

// Outbound intent types.
const (
	IntentJoinRoom         = "join_room"
	IntentLeaveRoom        = "leave_room"
	IntentTypingStart      = "typing_start"
	IntentTypingStop       = "typing_stop"
	IntentUpdateTaskStatus = "update_task_status"
)

// JoinRoomMsg / LeaveRoomMsg are the payloads for room membership intents.
type JoinRoomMsg struct {
	RoomID string `json:"room_id"`
}

type LeaveRoomMsg struct {
	RoomID string `json:"room_id"`
}

// TypingMsg is the payload for typing_start / typing_stop intents.
type TypingMsg struct {
	ThreadID string `json:"thread_id"`
	RoomID   string `json:"room_id"`
}

// UpdateTaskStatusMsg is a pass-through domain action. The server is
// expected to echo it back as a task_status_changed broadcast.
type UpdateTaskStatusMsg struct {
	ProjectID string `json:"project_id"`
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// ClientConfig configures a single WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL
	Token        string        // Opaque bearer token presented at connect time
	AckTimeout   time.Duration // Max wait for the handshake ack
	PingTimeout  time.Duration // Max silence before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Inbound message channel capacity
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		AckTimeout:   5 * time.Second,
		PingTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// ManagerConfig configures the connection Manager.
type ManagerConfig struct {
	URL               string        // WebSocket URL
	Token             string        // Opaque bearer token
	AckTimeout        time.Duration // Handshake ack window
	PingTimeout       time.Duration // Staleness window
	WriteTimeout      time.Duration // Write deadline
	ReconnectBaseWait time.Duration // First retry delay
	ReconnectMaxWait  time.Duration // Retry delay cap
	MessageBufferSize int           // Output channel capacity
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		AckTimeout:        5 * time.Second,
		PingTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		MessageBufferSize: 1000,
	}
}

func (c ManagerConfig) clientConfig() ClientConfig {
	return ClientConfig{
		URL:          c.URL,
		Token:        c.Token,
		AckTimeout:   c.AckTimeout,
		PingTimeout:  c.PingTimeout,
		WriteTimeout: c.WriteTimeout,
		BufferSize:   c.MessageBufferSize,
	}
}
