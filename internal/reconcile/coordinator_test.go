package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskroom/realtime/internal/connection"
)

// countingFetcher fails the first failN calls, then succeeds.
type countingFetcher struct {
	mu    sync.Mutex
	calls int
	failN int
}

func (f *countingFetcher) Fetch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return errors.New("refetch failed")
	}
	return nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() Config {
	return Config{
		RetryBaseWait: 10 * time.Millisecond,
		RetryMaxWait:  50 * time.Millisecond,
	}
}

func TestCoordinator_MarkAndReconcile(t *testing.T) {
	c := NewCoordinator(testConfig(), nil)
	fetcher := &countingFetcher{}
	c.Register(DomainTasks, fetcher)

	c.MarkStale(DomainTasks)
	if !c.IsStale(DomainTasks) {
		t.Fatal("domain should be stale after MarkStale")
	}

	if err := c.Reconcile(context.Background(), DomainTasks); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if c.IsStale(DomainTasks) {
		t.Error("domain should be fresh after a successful reconcile")
	}
	if fetcher.count() != 1 {
		t.Errorf("fetch calls = %d, want 1", fetcher.count())
	}
	if c.LastReconciled(DomainTasks).IsZero() {
		t.Error("LastReconciled should be set")
	}
}

func TestCoordinator_UnregisteredDomain(t *testing.T) {
	c := NewCoordinator(testConfig(), nil)

	if err := c.Reconcile(context.Background(), DomainPresence); err == nil {
		t.Error("expected error for unregistered domain")
	}
}

func TestCoordinator_FailureKeepsStaleAndRetries(t *testing.T) {
	c := NewCoordinator(testConfig(), nil)
	fetcher := &countingFetcher{failN: 2}
	c.Register(DomainMembers, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	c.MarkStale(DomainMembers)
	if err := c.Reconcile(ctx, DomainMembers); err == nil {
		t.Fatal("first reconcile should fail")
	}
	if !c.IsStale(DomainMembers) {
		t.Error("domain should stay stale after a failed reconcile")
	}

	// The retry loop runs until the third call succeeds.
	deadline := time.After(2 * time.Second)
	for c.IsStale(DomainMembers) {
		select {
		case <-deadline:
			t.Fatalf("retry never converged, %d calls", fetcher.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if fetcher.count() != 3 {
		t.Errorf("fetch calls = %d, want 3", fetcher.count())
	}
}

func TestCoordinator_ConcurrentReconcileCollapses(t *testing.T) {
	c := NewCoordinator(testConfig(), nil)

	var inFlight, maxInFlight atomic.Int32
	c.Register(DomainTasks, FetcherFunc(func(ctx context.Context) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Reconcile(context.Background(), DomainTasks)
		}()
	}
	wg.Wait()

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent fetches = %d, want 1", got)
	}
}

func TestCoordinator_StatusDrivenReconcile(t *testing.T) {
	c := NewCoordinator(testConfig(), nil)
	presence := &countingFetcher{}
	tasks := &countingFetcher{}
	c.Register(DomainPresence, presence)
	c.Register(DomainTasks, tasks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	// Drop: everything goes stale.
	c.HandleStatus(connection.StatusChange{
		Old: connection.StatusDisconnected,
		New: connection.StatusReconnecting,
	})
	if got := c.StaleDomains(); len(got) != 2 {
		t.Fatalf("stale domains = %v, want both", got)
	}

	// Recovery: each stale domain refetches once.
	c.HandleStatus(connection.StatusChange{
		Old: connection.StatusReconnecting,
		New: connection.StatusConnected,
	})

	deadline := time.After(2 * time.Second)
	for len(c.StaleDomains()) > 0 {
		select {
		case <-deadline:
			t.Fatalf("domains never reconciled: %v", c.StaleDomains())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if presence.count() != 1 || tasks.count() != 1 {
		t.Errorf("fetch calls = %d/%d, want 1/1", presence.count(), tasks.count())
	}
}

func TestCoordinator_FreshDomainNotReconciled(t *testing.T) {
	c := NewCoordinator(testConfig(), nil)
	fetcher := &countingFetcher{}
	c.Register(DomainTasks, fetcher)

	// Connected without a preceding drop: nothing stale, nothing fetched.
	c.HandleStatus(connection.StatusChange{
		Old: connection.StatusConnecting,
		New: connection.StatusConnected,
	})

	time.Sleep(50 * time.Millisecond)
	if fetcher.count() != 0 {
		t.Errorf("fetch calls = %d, want 0", fetcher.count())
	}
}

func TestRetryDelay(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := retryDelay(base, max, tc.attempt); got != tc.want {
			t.Errorf("retryDelay(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestWithJitter(t *testing.T) {
	d := time.Second
	for i := 0; i < 100; i++ {
		got := withJitter(d)
		if got < d/2 || got >= d/2+d {
			t.Fatalf("withJitter(%v) = %v, out of [%v, %v)", d, got, d/2, d/2+d)
		}
	}
	if withJitter(0) != 0 {
		t.Error("withJitter(0) should be 0")
	}
}
