// Package rooms tracks which project rooms the client wants to be in and
// keeps server-side membership converged with that intent across
// disconnects. Joins are optimistic: local state flips immediately and
// the server ack only confirms it.
package rooms

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/taskroom/realtime/internal/connection"
	"github.com/taskroom/realtime/internal/events"
)

// Sender sends outbound intents. Satisfied by *connection.Manager.
type Sender interface {
	SendIntent(connection.Intent) error
}

// JoinState is the local membership state for one room.
type JoinState int

const (
	// StateQueued: the client wants in, but no join intent has reached the
	// server yet (offline, or awaiting reconnect).
	StateQueued JoinState = iota
	// StatePending: a join intent was sent; the ack has not arrived.
	StatePending
	// StateConfirmed: the server acked the join.
	StateConfirmed
)

func (s JoinState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	}
	return "unknown"
}

// Membership is a read-only snapshot of one room's state.
type Membership struct {
	RoomID   string
	State    JoinState
	JoinedAt time.Time // When Join was first called
}

// Manager owns the desired room set. Join and Leave may be called in any
// connection state; the manager queues and replays intents as needed so
// the server converges on the desired set after every reconnect.
type Manager struct {
	logger *slog.Logger
	sender Sender

	mu        sync.Mutex
	rooms     map[string]*roomRecord
	connected bool
}

type roomRecord struct {
	state    JoinState
	joinedAt time.Time
}

// NewManager creates a room manager that sends intents through sender.
func NewManager(sender Sender, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger,
		sender: sender,
		rooms:  make(map[string]*roomRecord),
	}
}

// Join adds roomID to the desired set. Idempotent: joining a room that is
// already queued, pending, or confirmed is a no-op. When offline the join
// is queued and flushed on the next connect.
func (m *Manager) Join(roomID string) {
	m.mu.Lock()
	if _, ok := m.rooms[roomID]; ok {
		m.mu.Unlock()
		return
	}
	rec := &roomRecord{state: StateQueued, joinedAt: time.Now()}
	m.rooms[roomID] = rec

	send := m.connected
	if send {
		rec.state = StatePending
	}
	m.mu.Unlock()

	if send {
		m.sendJoin(roomID)
	} else {
		m.logger.Debug("join queued while offline", "room", roomID)
	}
}

// Leave removes roomID from the desired set. Local state drops
// immediately; the leave intent is sent only when online. A queued join
// that never reached the server is simply discarded.
func (m *Manager) Leave(roomID string) {
	m.mu.Lock()
	rec, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, roomID)
	send := m.connected && rec.state != StateQueued
	m.mu.Unlock()

	if !send {
		return
	}
	intent := connection.NewIntent(connection.IntentLeaveRoom, connection.LeaveRoomMsg{RoomID: roomID})
	if err := m.sender.SendIntent(intent); err != nil {
		// Server-side membership dies with the connection anyway.
		m.logger.Warn("leave_room send failed", "room", roomID, "error", err)
	}
}

// IsJoined reports whether roomID is in the desired set, in any state.
func (m *Manager) IsJoined(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[roomID]
	return ok
}

// State returns the join state for roomID.
func (m *Manager) State(roomID string) (JoinState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rooms[roomID]
	if !ok {
		return 0, false
	}
	return rec.state, true
}

// Rooms returns a snapshot of the desired set, ordered by first join time.
func (m *Manager) Rooms() []Membership {
	m.mu.Lock()
	out := make([]Membership, 0, len(m.rooms))
	for id, rec := range m.rooms {
		out = append(out, Membership{RoomID: id, State: rec.state, JoinedAt: rec.joinedAt})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// HandleStatus reacts to connection transitions. On connect, every room in
// the desired set is (re)joined; rejoining an already-joined room is
// harmless server-side. On disconnect, all rooms demote to queued.
func (m *Manager) HandleStatus(change connection.StatusChange) {
	switch change.New {
	case connection.StatusConnected:
		m.flush()
	case connection.StatusDisconnected, connection.StatusReconnecting, connection.StatusFailed, connection.StatusIdle:
		m.mu.Lock()
		m.connected = false
		for _, rec := range m.rooms {
			rec.state = StateQueued
		}
		m.mu.Unlock()
	}
}

// HandleEvent consumes room acks from the event router.
func (m *Manager) HandleEvent(evt events.Event) {
	switch evt.Type {
	case events.TypeRoomJoined:
		m.mu.Lock()
		if rec, ok := m.rooms[evt.RoomID]; ok {
			rec.state = StateConfirmed
		}
		m.mu.Unlock()
		m.logger.Debug("room join confirmed", "room", evt.RoomID)

	case events.TypeRoomLeft:
		// Server-initiated removal (e.g. access revoked).
		m.mu.Lock()
		_, wanted := m.rooms[evt.RoomID]
		delete(m.rooms, evt.RoomID)
		m.mu.Unlock()
		if wanted {
			m.logger.Info("removed from room by server", "room", evt.RoomID)
		}
	}
}

// Register wires the manager to a router's room ack events.
func (m *Manager) Register(router *events.Router) {
	router.On(events.TypeRoomJoined, m.HandleEvent)
	router.On(events.TypeRoomLeft, m.HandleEvent)
}

// flush sends a join for every desired room.
func (m *Manager) flush() {
	m.mu.Lock()
	m.connected = true
	pending := make([]string, 0, len(m.rooms))
	for id, rec := range m.rooms {
		rec.state = StatePending
		pending = append(pending, id)
	}
	m.mu.Unlock()

	sort.Strings(pending)
	for _, id := range pending {
		m.sendJoin(id)
	}
	if len(pending) > 0 {
		m.logger.Info("rejoining rooms", "count", len(pending))
	}
}

func (m *Manager) sendJoin(roomID string) {
	intent := connection.NewIntent(connection.IntentJoinRoom, connection.JoinRoomMsg{RoomID: roomID})
	if err := m.sender.SendIntent(intent); err != nil {
		m.logger.Warn("join_room send failed", "room", roomID, "error", err)
		m.mu.Lock()
		if rec, ok := m.rooms[roomID]; ok && rec.state == StatePending {
			rec.state = StateQueued
		}
		m.mu.Unlock()
	}
}
