package events

import (
	"testing"
	"time"
)

func busEvent(t EventType, room string) Event {
	return Event{Type: t, RoomID: room, ReceivedAt: time.Now()}
}

func TestBus_TopicDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	notif := bus.Subscribe(string(TypeNotification))
	tasks := bus.Subscribe(string(TypeTaskStatusChanged))

	bus.Publish(busEvent(TypeNotification, "p1"))

	if evt, ok := notif.TryReceive(); !ok || evt.Type != TypeNotification {
		t.Errorf("notification subscriber: got %+v, ok=%v", evt, ok)
	}
	if _, ok := tasks.TryReceive(); ok {
		t.Error("task subscriber should not receive notification events")
	}
}

func TestBus_TopicAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.Subscribe(TopicAll)

	bus.Publish(busEvent(TypeNotification, "p1"))
	bus.Publish(busEvent(TypeTaskStatusChanged, "p2"))

	if all.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", all.Pending())
	}
	first, _ := all.TryReceive()
	second, _ := all.TryReceive()
	if first.Type != TypeNotification || second.Type != TypeTaskStatusChanged {
		t.Errorf("order: %q then %q", first.Type, second.Type)
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	slow := bus.Subscribe(TopicAll)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(busEvent(TypeDashboardUpdate, "p1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a consumer that never reads")
	}

	if slow.Pending() != 1000 {
		t.Errorf("Pending = %d, want 1000", slow.Pending())
	}
}

func TestBus_Cancel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(string(TypeNotification))
	sub.Cancel()

	bus.Publish(busEvent(TypeNotification, "p1"))

	if _, ok := sub.TryReceive(); ok {
		t.Error("cancelled subscriber should not receive")
	}
}

func TestBus_CloseWakesReceivers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(TopicAll)

	done := make(chan bool, 1)
	go func() {
		_, ok := sub.Receive()
		done <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	bus.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Receive should report closed")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Receive not woken by Close")
	}

	if bus.Subscribe(TopicAll) != nil {
		t.Error("Subscribe after Close should return nil")
	}
}
