package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/taskroom/realtime/internal/connection"
	"github.com/taskroom/realtime/internal/metrics"
)

// Handler consumes a normalized event. Handlers run synchronously on the
// dispatch goroutine, in registration order; a panicking handler is
// isolated and does not abort the fan-out.
type Handler func(Event)

type subscription struct {
	id   int64
	room string // Empty = all rooms
	fn   Handler
}

// Router validates raw inbound frames, normalizes them into Events, and
// fans them out to local subscribers. Malformed or unknown frames are
// counted, logged, and dropped; they never reach a consumer and never
// panic the dispatch loop.
type Router struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	bus     *Bus

	input <-chan connection.RawMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID int64

	received      int64
	dispatched    int64
	malformed     int64
	unknown       int64
	handlerPanics int64
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithBus republishes every normalized event on a process-wide bus for
// consumers without a direct router reference.
func WithBus(b *Bus) RouterOption {
	return func(r *Router) { r.bus = b }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates a new event router reading from input.
func NewRouter(input <-chan connection.RawMessage, logger *slog.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		logger: logger,
		input:  input,
		subs:   make(map[EventType][]subscription),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start begins dispatching messages from the input channel.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.dispatchLoop()

	r.logger.Info("event router started")
	return nil
}

// Stop gracefully shuts down the router.
func (r *Router) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("event router stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// On subscribes a handler to an event type across all rooms. The returned
// function unsubscribes.
func (r *Router) On(t EventType, fn Handler) func() {
	return r.subscribe(t, "", fn)
}

// OnRoom subscribes a handler to an event type for one room only.
func (r *Router) OnRoom(t EventType, roomID string, fn Handler) func() {
	return r.subscribe(t, roomID, fn)
}

func (r *Router) subscribe(t EventType, room string, fn Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[t] = append(r.subs[t], subscription{id: id, room: room, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.subs[t]
		for i, sub := range list {
			if sub.id == id {
				r.subs[t] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Stats returns current counters.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		Received:      r.received,
		Dispatched:    r.dispatched,
		Malformed:     r.malformed,
		Unknown:       r.unknown,
		HandlerPanics: r.handlerPanics,
	}
}

// dispatchLoop is the single dispatch goroutine; it preserves receipt
// order.
func (r *Router) dispatchLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.Dispatch(raw)
		}
	}
}

// Dispatch validates, normalizes, and fans out a single raw frame.
// Exported so the transport layer (or a test) can feed frames directly.
func (r *Router) Dispatch(raw connection.RawMessage) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	evt, err := parseFrame(raw)
	if err != nil {
		r.drop(err, raw)
		return
	}

	r.mu.RLock()
	list := r.subs[evt.Type]
	subs := make([]subscription, len(list))
	copy(subs, list)
	r.mu.RUnlock()

	for _, sub := range subs {
		if sub.room != "" && sub.room != evt.RoomID {
			continue
		}
		r.callHandler(sub, evt)
	}

	if r.bus != nil {
		r.bus.Publish(evt)
	}

	r.mu.Lock()
	r.dispatched++
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.EventsDispatched.WithLabelValues(string(evt.Type)).Inc()
	}
}

// callHandler isolates one handler invocation so a faulty consumer cannot
// block the rest of the fan-out.
func (r *Router) callHandler(sub subscription, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.mu.Lock()
			r.handlerPanics++
			r.mu.Unlock()

			if r.metrics != nil {
				r.metrics.HandlerPanics.Inc()
			}
			r.logger.Error("event handler panicked",
				"type", evt.Type,
				"room", evt.RoomID,
				"panic", rec,
			)
		}
	}()

	sub.fn(evt)
}

func (r *Router) drop(err error, raw connection.RawMessage) {
	switch {
	case isUnknownType(err):
		r.mu.Lock()
		r.unknown++
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.EventsDropped.WithLabelValues("unknown").Inc()
		}
		r.logger.Debug("dropping unknown event type", "error", err)

	default:
		r.mu.Lock()
		r.malformed++
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.EventsDropped.WithLabelValues("malformed").Inc()
		}
		r.logger.Warn("dropping malformed event", "error", err, "len", len(raw.Data))
	}
}

// parseFrame validates a raw frame and builds the normalized Event.
func parseFrame(raw connection.RawMessage) (Event, error) {
	var frame connection.Frame
	if err := json.Unmarshal(raw.Data, &frame); err != nil {
		return Event{}, fmt.Errorf("%w: %s", ErrMalformedEvent, err)
	}
	if frame.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	t := EventType(frame.Type)
	evt := Event{Type: t, ReceivedAt: raw.ReceivedAt}

	switch t {
	case TypeTaskStatusChanged:
		var p TaskStatusPayload
		if err := unmarshalPayload(frame.Msg, &p); err != nil {
			return Event{}, err
		}
		if p.ProjectID == "" || p.TaskID == "" || p.Status == "" {
			return Event{}, fmt.Errorf("%w: %s missing fields", ErrMalformedEvent, t)
		}
		evt.RoomID = p.ProjectID
		evt.Payload = p

	case TypeNewTaskComment:
		var p TaskCommentPayload
		if err := unmarshalPayload(frame.Msg, &p); err != nil {
			return Event{}, err
		}
		if p.ProjectID == "" || p.TaskID == "" {
			return Event{}, fmt.Errorf("%w: %s missing fields", ErrMalformedEvent, t)
		}
		evt.RoomID = p.ProjectID
		evt.Payload = p

	case TypeMemberUpdate, TypeMemberAdded, TypeMemberRemoved, TypeRoleChanged:
		var p MemberPayload
		if err := unmarshalPayload(frame.Msg, &p); err != nil {
			return Event{}, err
		}
		if p.ProjectID == "" || p.Member.UserID == "" {
			return Event{}, fmt.Errorf("%w: %s missing fields", ErrMalformedEvent, t)
		}
		evt.RoomID = p.ProjectID
		evt.Payload = p

	case TypeProjectNotification, TypeNotification:
		var p NotificationPayload
		if err := unmarshalPayload(frame.Msg, &p); err != nil {
			return Event{}, err
		}
		if p.ProjectID == "" || p.Message == "" {
			return Event{}, fmt.Errorf("%w: %s missing fields", ErrMalformedEvent, t)
		}
		evt.RoomID = p.ProjectID
		evt.Payload = p

	case TypeMilestoneUpdate:
		var p MilestonePayload
		if err := unmarshalPayload(frame.Msg, &p); err != nil {
			return Event{}, err
		}
		if p.ProjectID == "" || p.MilestoneID == "" {
			return Event{}, fmt.Errorf("%w: %s missing fields", ErrMalformedEvent, t)
		}
		evt.RoomID = p.ProjectID
		evt.Payload = p

	case TypeDashboardUpdate:
		var p DashboardPayload
		if err := unmarshalPayload(frame.Msg, &p); err != nil {
			return Event{}, err
		}
		if p.ProjectID == "" {
			return Event{}, fmt.Errorf("%w: %s missing project", ErrMalformedEvent, t)
		}
		evt.RoomID = p.ProjectID
		evt.Payload = p

	case TypeUserJoined, TypeUserLeft:
		var p PresencePayload
		if err := unmarshalPayload(frame.Msg, &p); err != nil {
			return Event{}, err
		}
		if p.ProjectID == "" || p.UserID == "" {
			return Event{}, fmt.Errorf("%w: %s missing fields", ErrMalformedEvent, t)
		}
		evt.RoomID = p.ProjectID
		evt.Payload = p

	case TypeUserTyping, TypeUserStoppedTyping:
		var p TypingPayload
		if err := unmarshalPayload(frame.Msg, &p); err != nil {
			return Event{}, err
		}
		if p.UserID == "" || (p.ThreadID == "" && p.ProjectID == "") {
			return Event{}, fmt.Errorf("%w: %s missing fields", ErrMalformedEvent, t)
		}
		if p.ThreadID == "" {
			p.ThreadID = p.ProjectID
		}
		evt.RoomID = p.ProjectID
		evt.ThreadID = p.ThreadID
		evt.Payload = p

	case TypeRoomJoined, TypeRoomLeft:
		var p RoomAckPayload
		if err := unmarshalPayload(frame.Msg, &p); err != nil {
			return Event{}, err
		}
		if p.RoomID == "" {
			return Event{}, fmt.Errorf("%w: %s missing room", ErrMalformedEvent, t)
		}
		evt.RoomID = p.RoomID
		evt.Payload = p

	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, frame.Type)
	}

	return evt, nil
}

func unmarshalPayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedEvent, err)
	}
	return nil
}

func isUnknownType(err error) bool {
	return errors.Is(err, ErrUnknownType)
}
