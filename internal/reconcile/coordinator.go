// Package reconcile converges locally cached domain data with the server
// after a connection gap. While the socket is down, events are missed and
// cached state may silently diverge; the coordinator marks each domain
// stale on disconnect and refetches it once the connection is back.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/taskroom/realtime/internal/connection"
	"github.com/taskroom/realtime/internal/metrics"
)

// Domain names one independently reconcilable data set.
type Domain string

const (
	DomainPresence Domain = "presence"
	DomainMembers  Domain = "members"
	DomainTasks    Domain = "tasks"
)

// Fetcher refetches one domain from the authoritative source and applies
// the result to the local cache.
type Fetcher interface {
	Fetch(ctx context.Context) error
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) error

func (f FetcherFunc) Fetch(ctx context.Context) error { return f(ctx) }

// Config controls reconcile retry behavior.
type Config struct {
	RetryBaseWait time.Duration // First retry delay after a failed refetch
	RetryMaxWait  time.Duration // Retry delay cap
	SweepInterval time.Duration // Periodic stale check; 0 disables the sweep
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetryBaseWait: time.Second,
		RetryMaxWait:  30 * time.Second,
	}
}

// Coordinator tracks staleness per domain and drives refetches. Concurrent
// Reconcile calls for the same domain collapse into one fetch.
type Coordinator struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	fetchers map[Domain]Fetcher
	stale    map[Domain]bool
	lastDone map[Domain]time.Time
	retrying map[Domain]bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a coordinator with no registered domains.
func NewCoordinator(cfg Config, logger *slog.Logger, opts ...Option) *Coordinator {
	if cfg.RetryBaseWait <= 0 {
		cfg.RetryBaseWait = DefaultConfig().RetryBaseWait
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = DefaultConfig().RetryMaxWait
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		cfg:      cfg,
		logger:   logger,
		fetchers: make(map[Domain]Fetcher),
		stale:    make(map[Domain]bool),
		lastDone: make(map[Domain]time.Time),
		retrying: make(map[Domain]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register binds a fetcher to a domain. New domains start fresh.
func (c *Coordinator) Register(domain Domain, fetcher Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchers[domain] = fetcher
}

// Start launches the optional periodic stale sweep.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if c.cfg.SweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop()
	}
	return nil
}

// Stop halts background work. In-flight fetches finish on their own.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// MarkStale flags a domain as possibly divergent.
func (c *Coordinator) MarkStale(domain Domain) {
	c.mu.Lock()
	c.stale[domain] = true
	c.mu.Unlock()
}

// IsStale reports whether a domain is flagged.
func (c *Coordinator) IsStale(domain Domain) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale[domain]
}

// LastReconciled returns when the domain last refetched successfully.
func (c *Coordinator) LastReconciled(domain Domain) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDone[domain]
}

// StaleDomains returns the currently flagged domains, sorted.
func (c *Coordinator) StaleDomains() []Domain {
	c.mu.Lock()
	out := make([]Domain, 0, len(c.stale))
	for d, s := range c.stale {
		if s {
			out = append(out, d)
		}
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reconcile refetches one domain. Concurrent calls for the same domain
// share a single fetch. On success the stale flag clears; on failure the
// domain stays stale and a background retry loop takes over.
func (c *Coordinator) Reconcile(ctx context.Context, domain Domain) error {
	c.mu.Lock()
	fetcher, ok := c.fetchers[domain]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no fetcher registered for domain %q", domain)
	}

	_, err, _ := c.group.Do(string(domain), func() (any, error) {
		return nil, c.runFetch(ctx, domain, fetcher)
	})
	if err != nil {
		c.scheduleRetry(domain)
	}
	return err
}

func (c *Coordinator) runFetch(ctx context.Context, domain Domain, fetcher Fetcher) error {
	if c.metrics != nil {
		c.metrics.ReconcileRuns.WithLabelValues(string(domain)).Inc()
	}

	start := time.Now()
	if err := fetcher.Fetch(ctx); err != nil {
		if c.metrics != nil {
			c.metrics.ReconcileFailures.WithLabelValues(string(domain)).Inc()
		}
		c.logger.Warn("reconcile failed",
			"domain", domain,
			"error", err,
			"elapsed", time.Since(start),
		)
		return err
	}

	c.mu.Lock()
	c.stale[domain] = false
	c.lastDone[domain] = time.Now()
	c.mu.Unlock()

	c.logger.Info("reconciled", "domain", domain, "elapsed", time.Since(start))
	return nil
}

// scheduleRetry starts one background retry loop per domain. The loop
// backs off exponentially and exits on success, on shutdown, or if the
// domain was refreshed by someone else in the meantime.
func (c *Coordinator) scheduleRetry(domain Domain) {
	c.mu.Lock()
	if c.retrying[domain] || c.ctx == nil {
		c.mu.Unlock()
		return
	}
	c.retrying[domain] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			c.retrying[domain] = false
			c.mu.Unlock()
		}()

		for attempt := 1; ; attempt++ {
			delay := withJitter(retryDelay(c.cfg.RetryBaseWait, c.cfg.RetryMaxWait, attempt))
			c.logger.Debug("reconcile retry scheduled",
				"domain", domain,
				"attempt", attempt,
				"delay", delay,
			)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}

			if !c.IsStale(domain) {
				return
			}

			c.mu.Lock()
			fetcher, ok := c.fetchers[domain]
			c.mu.Unlock()
			if !ok {
				return
			}

			_, err, _ := c.group.Do(string(domain), func() (any, error) {
				return nil, c.runFetch(c.ctx, domain, fetcher)
			})
			if err == nil {
				return
			}
		}
	}()
}

// HandleStatus reacts to connection transitions: every registered domain
// goes stale when the connection drops, and each stale domain reconciles
// once when it comes back.
func (c *Coordinator) HandleStatus(change connection.StatusChange) {
	switch {
	case change.New == connection.StatusReconnecting:
		c.mu.Lock()
		for d := range c.fetchers {
			c.stale[d] = true
		}
		c.mu.Unlock()
		c.logger.Debug("all domains marked stale")

	case change.Old == connection.StatusReconnecting && change.New == connection.StatusConnected:
		c.ReconcileStale()
	}
}

// ReconcileStale refetches every stale domain concurrently.
func (c *Coordinator) ReconcileStale() {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, d := range c.StaleDomains() {
		d := d
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			// Error path already schedules its retry loop.
			_ = c.Reconcile(ctx, d)
		}()
	}
}

func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.ReconcileStale()
		}
	}
}

// retryDelay computes the exponential backoff for the given attempt.
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// withJitter spreads a delay over [d/2, 3d/2) so parallel clients do not
// refetch in lockstep.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + rand.N(d)
}
