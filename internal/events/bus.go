package events

import (
	"sync"
)

// defaultSubCapacity is the initial queue size for a new subscriber.
const defaultSubCapacity = 64

// Bus is a process-wide publish/subscribe fan-out over normalized events.
// Every subscriber gets its own queue, so a slow consumer delays only
// itself. Topics are event types; TopicAll receives everything.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*BusSub
	nextID int64
	closed bool
}

// TopicAll subscribes to every event regardless of type.
const TopicAll = "*"

// BusSub is one subscriber's view of the bus.
type BusSub struct {
	bus   *Bus
	id    int64
	topic string
	queue *Queue[Event]
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*BusSub)}
}

// Subscribe registers a subscriber for one event type, or for everything
// with TopicAll. Returns nil if the bus is closed.
func (b *Bus) Subscribe(topic string) *BusSub {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.nextID++
	sub := &BusSub{
		bus:   b,
		id:    b.nextID,
		topic: topic,
		queue: NewQueue[Event](defaultSubCapacity),
	}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// Publish delivers evt to every matching subscriber. Never blocks.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs[string(evt.Type)] {
		sub.queue.Push(evt)
	}
	for _, sub := range b.subs[TopicAll] {
		sub.queue.Push(evt)
	}
}

// Close shuts the bus down and closes every subscriber queue. Queued
// events remain receivable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, list := range b.subs {
		for _, sub := range list {
			sub.queue.Close()
		}
	}
	b.subs = make(map[string][]*BusSub)
}

// Receive blocks until an event arrives or the subscription ends.
func (s *BusSub) Receive() (Event, bool) {
	return s.queue.Pop()
}

// TryReceive is the non-blocking variant of Receive.
func (s *BusSub) TryReceive() (Event, bool) {
	return s.queue.TryPop()
}

// Pending returns the number of undelivered events.
func (s *BusSub) Pending() int {
	return s.queue.Len()
}

// Cancel removes the subscription and closes its queue.
func (s *BusSub) Cancel() {
	b := s.bus
	b.mu.Lock()
	list := b.subs[s.topic]
	for i, sub := range list {
		if sub.id == s.id {
			b.subs[s.topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	s.queue.Close()
}
