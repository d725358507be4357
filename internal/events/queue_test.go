package events

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int](4)

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	for i := 0; i < 10; i++ {
		got, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop %d: empty", i)
		}
		if got != i {
			t.Errorf("item %d = %d, want %d", i, got, i)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Error("expected empty queue")
	}
}

func TestQueue_GrowsUnderLoad(t *testing.T) {
	q := NewQueue[int](2)

	for i := 0; i < 100; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Len != 100 {
		t.Errorf("Len = %d, want 100", stats.Len)
	}
	if stats.Cap < 100 {
		t.Errorf("Cap = %d, want >= 100", stats.Cap)
	}
	if stats.Grows == 0 {
		t.Error("expected at least one grow")
	}

	// Order survives the resizes.
	for i := 0; i < 100; i++ {
		got, _ := q.TryPop()
		if got != i {
			t.Fatalf("item %d = %d after grow", i, got)
		}
	}
}

func TestQueue_GrowWhileWrapped(t *testing.T) {
	q := NewQueue[int](8)

	// Advance head so the ring wraps before growing.
	for i := 0; i < 4; i++ {
		q.Push(i)
	}
	for i := 0; i < 4; i++ {
		q.TryPop()
	}
	for i := 10; i < 30; i++ {
		q.Push(i)
	}

	for i := 10; i < 30; i++ {
		got, ok := q.TryPop()
		if !ok || got != i {
			t.Fatalf("got %d (ok=%v), want %d", got, ok, i)
		}
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string](4)

	got := make(chan string, 1)
	go func() {
		v, _ := q.Pop()
		got <- v
	}()

	time.Sleep(50 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("got %q, want hello", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestQueue_CloseDrainsThenEnds(t *testing.T) {
	q := NewQueue[int](4)
	q.Push(1)
	q.Push(2)
	q.Close()

	if q.Push(3) {
		t.Error("Push after Close should return false")
	}

	if v, ok := q.Pop(); !ok || v != 1 {
		t.Errorf("first Pop = %d, %v", v, ok)
	}
	if v, ok := q.Pop(); !ok || v != 2 {
		t.Errorf("second Pop = %d, %v", v, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop on closed empty queue should return false")
	}
}

func TestQueue_CloseWakesBlockedPop(t *testing.T) {
	q := NewQueue[int](4)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop should report closed")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Pop not woken by Close")
	}
}

func TestQueue_Drain(t *testing.T) {
	q := NewQueue[int](4)
	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	first := q.Drain(3)
	if len(first) != 3 || first[0] != 0 || first[2] != 2 {
		t.Errorf("Drain(3) = %v", first)
	}

	rest := q.Drain(0)
	if len(rest) != 2 || rest[0] != 3 || rest[1] != 4 {
		t.Errorf("Drain(0) = %v", rest)
	}

	if q.Drain(10) != nil {
		t.Error("Drain on empty queue should return nil")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue[int](8)

	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	stats := q.Stats()
	if stats.Pushed != producers*perProducer {
		t.Errorf("Pushed = %d, want %d", stats.Pushed, producers*perProducer)
	}
	if stats.Len != producers*perProducer {
		t.Errorf("Len = %d, want %d", stats.Len, producers*perProducer)
	}
}
