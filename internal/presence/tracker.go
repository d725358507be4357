// Package presence maintains the ephemeral view of who is online in each
// room and who is typing in each thread. Everything here is derived from
// broadcasts and is rebuilt from scratch after a reconnect; nothing is
// persisted.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/taskroom/realtime/internal/connection"
	"github.com/taskroom/realtime/internal/events"
	"github.com/taskroom/realtime/internal/model"
)

// Config controls typing indicator lifetime.
type Config struct {
	TypingTTL     time.Duration // How long a typing indicator lives without a refresh
	SweepInterval time.Duration // How often expired indicators are collected
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TypingTTL:     4 * time.Second,
		SweepInterval: 500 * time.Millisecond,
	}
}

// Tracker holds presence and typing state. All methods are safe for
// concurrent use.
type Tracker struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	rooms   map[string]map[string]model.PresenceEntry // room -> user -> entry
	typing  map[string]map[string]model.TypingEntry   // thread -> user -> entry
	stale   bool
	changed func() // Optional notification hook, called outside the lock
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithChangeHook registers a callback invoked after every state change.
func WithChangeHook(fn func()) Option {
	return func(t *Tracker) { t.changed = fn }
}

// NewTracker creates an empty tracker.
func NewTracker(cfg Config, logger *slog.Logger, opts ...Option) *Tracker {
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = DefaultConfig().TypingTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		rooms:  make(map[string]map[string]model.PresenceEntry),
		typing: make(map[string]map[string]model.TypingEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the expiry sweep loop.
func (t *Tracker) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go t.sweepLoop()

	t.logger.Info("presence tracker started",
		"typing_ttl", t.cfg.TypingTTL,
		"sweep_interval", t.cfg.SweepInterval,
	)
	return nil
}

// Stop halts the sweep loop.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

// Register wires the tracker to a router's presence and typing events.
func (t *Tracker) Register(router *events.Router) {
	router.On(events.TypeUserJoined, t.HandleEvent)
	router.On(events.TypeUserLeft, t.HandleEvent)
	router.On(events.TypeUserTyping, t.HandleEvent)
	router.On(events.TypeUserStoppedTyping, t.HandleEvent)
}

// HandleEvent applies one presence or typing broadcast.
func (t *Tracker) HandleEvent(evt events.Event) {
	switch evt.Type {
	case events.TypeUserJoined:
		p, ok := evt.Payload.(events.PresencePayload)
		if !ok {
			return
		}
		t.userJoined(p, evt.ReceivedAt)

	case events.TypeUserLeft:
		p, ok := evt.Payload.(events.PresencePayload)
		if !ok {
			return
		}
		t.userLeft(p)

	case events.TypeUserTyping:
		p, ok := evt.Payload.(events.TypingPayload)
		if !ok {
			return
		}
		t.typingStarted(p, evt.ReceivedAt)

	case events.TypeUserStoppedTyping:
		p, ok := evt.Payload.(events.TypingPayload)
		if !ok {
			return
		}
		t.typingStopped(p)
	}
}

// HandleStatus clears all ephemeral state when the connection drops; the
// server rebroadcasts presence after the reconnect and the reconcile
// layer refetches the authoritative sets.
func (t *Tracker) HandleStatus(change connection.StatusChange) {
	if change.New != connection.StatusReconnecting && change.New != connection.StatusFailed {
		return
	}
	t.mu.Lock()
	t.rooms = make(map[string]map[string]model.PresenceEntry)
	t.typing = make(map[string]map[string]model.TypingEntry)
	t.stale = true
	t.mu.Unlock()

	t.notify()
	t.logger.Debug("presence state cleared", "reason", change.New.String())
}

// IsStale reports whether the state was cleared by a disconnect and no
// snapshot has been applied since.
func (t *Tracker) IsStale() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stale
}

// ApplySnapshot replaces one room's presence set with an authoritative
// fetch and clears the stale flag.
func (t *Tracker) ApplySnapshot(roomID string, entries []model.PresenceEntry) {
	t.mu.Lock()
	users := make(map[string]model.PresenceEntry, len(entries))
	for _, e := range entries {
		e.RoomID = roomID
		if e.JoinedAt.IsZero() {
			e.JoinedAt = t.now()
		}
		users[e.UserID] = e
	}
	t.rooms[roomID] = users
	t.stale = false
	t.mu.Unlock()

	t.notify()
	t.logger.Debug("presence snapshot applied", "room", roomID, "users", len(entries))
}

// OnlineUsers returns the presence set for a room, ordered by join time.
func (t *Tracker) OnlineUsers(roomID string) []model.PresenceEntry {
	t.mu.RLock()
	users := t.rooms[roomID]
	out := make([]model.PresenceEntry, 0, len(users))
	for _, e := range users {
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// IsOnline reports whether userID is present in roomID.
func (t *Tracker) IsOnline(roomID, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rooms[roomID][userID]
	return ok
}

// TypingUsers returns the live typing set for a thread, ordered by when
// each user started typing. Ties break by user ID so the order is stable.
func (t *Tracker) TypingUsers(threadID string) []model.TypingEntry {
	now := t.now()

	t.mu.RLock()
	entries := t.typing[threadID]
	out := make([]model.TypingEntry, 0, len(entries))
	for _, e := range entries {
		if now.Before(e.ExpiresAt) {
			out = append(out, e)
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// TypingText renders the typing banner for a thread. Empty when nobody is
// typing.
func (t *Tracker) TypingText(threadID string) string {
	users := t.TypingUsers(threadID)
	switch len(users) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing...", users[0].UserName)
	case 2:
		return fmt.Sprintf("%s and %s are typing...", users[0].UserName, users[1].UserName)
	default:
		return fmt.Sprintf("%s and %d others are typing...", users[0].UserName, len(users)-1)
	}
}

func (t *Tracker) userJoined(p events.PresencePayload, at time.Time) {
	if at.IsZero() {
		at = t.now()
	}

	t.mu.Lock()
	users, ok := t.rooms[p.ProjectID]
	if !ok {
		users = make(map[string]model.PresenceEntry)
		t.rooms[p.ProjectID] = users
	}
	if existing, ok := users[p.UserID]; ok {
		// Duplicate join: keep the original join time, refresh the name.
		existing.UserName = p.UserName
		users[p.UserID] = existing
		t.mu.Unlock()
		t.notify()
		return
	}
	users[p.UserID] = model.PresenceEntry{
		RoomID:   p.ProjectID,
		UserID:   p.UserID,
		UserName: p.UserName,
		JoinedAt: at,
	}
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) userLeft(p events.PresencePayload) {
	t.mu.Lock()
	delete(t.rooms[p.ProjectID], p.UserID)

	// A user who left the room cannot still be typing in its threads.
	for threadID, entries := range t.typing {
		if e, ok := entries[p.UserID]; ok && e.RoomID == p.ProjectID {
			delete(entries, p.UserID)
			if len(entries) == 0 {
				delete(t.typing, threadID)
			}
		}
	}
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) typingStarted(p events.TypingPayload, at time.Time) {
	if at.IsZero() {
		at = t.now()
	}

	t.mu.Lock()
	entries, ok := t.typing[p.ThreadID]
	if !ok {
		entries = make(map[string]model.TypingEntry)
		t.typing[p.ThreadID] = entries
	}
	if existing, ok := entries[p.UserID]; ok {
		// Refresh pushes the deadline but preserves the start, so banner
		// ordering stays stable while someone keeps typing.
		existing.ExpiresAt = at.Add(t.cfg.TypingTTL)
		entries[p.UserID] = existing
	} else {
		entries[p.UserID] = model.TypingEntry{
			ThreadID:  p.ThreadID,
			RoomID:    p.ProjectID,
			UserID:    p.UserID,
			UserName:  p.UserName,
			StartedAt: at,
			ExpiresAt: at.Add(t.cfg.TypingTTL),
		}
	}
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) typingStopped(p events.TypingPayload) {
	t.mu.Lock()
	entries := t.typing[p.ThreadID]
	delete(entries, p.UserID)
	if len(entries) == 0 {
		delete(t.typing, p.ThreadID)
	}
	t.mu.Unlock()
	t.notify()
}

// sweepLoop removes expired typing indicators. The stop broadcast is the
// fast path; the sweep catches users whose stop never arrived.
func (t *Tracker) sweepLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *Tracker) sweep() {
	now := t.now()
	removed := 0

	t.mu.Lock()
	for threadID, entries := range t.typing {
		for userID, e := range entries {
			if !now.Before(e.ExpiresAt) {
				delete(entries, userID)
				removed++
			}
		}
		if len(entries) == 0 {
			delete(t.typing, threadID)
		}
	}
	t.mu.Unlock()

	if removed > 0 {
		t.notify()
		t.logger.Debug("expired typing indicators", "count", removed)
	}
}

func (t *Tracker) notify() {
	if t.changed != nil {
		t.changed()
	}
}
