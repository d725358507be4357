package connection

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/taskroom/realtime/internal/metrics"
)

// Manager owns the single client connection and its lifecycle: it runs the
// status state machine, retries dropped connections with exponential
// backoff, and forwards inbound frames to the Messages channel in receipt
// order.
//
// Status listeners are invoked synchronously on every transition, in
// registration order, outside the manager's lock. They must be registered
// before Start.
type Manager struct {
	cfg     ManagerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	dial    DialFunc

	out       chan RawMessage
	listeners []StatusListener
	manualCh  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	status        Status
	client        Client
	sessionID     string
	attempts      int
	lastConnected time.Time
	lastErr       error

	// generation invalidates in-flight reconnect attempts and read pumps
	// when a newer connect/disconnect intent supersedes them.
	generation uint64
}

// StatusListener receives status transitions.
type StatusListener func(StatusChange)

// DialFunc constructs a Client. Overridable in tests.
type DialFunc func(ClientConfig, *slog.Logger) Client

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithDial overrides the client constructor.
func WithDial(dial DialFunc) Option {
	return func(mgr *Manager) { mgr.dial = dial }
}

// NewManager creates a new connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		dial:     NewClient,
		out:      make(chan RawMessage, cfg.MessageBufferSize),
		manualCh: make(chan struct{}, 1),
		status:   StatusIdle,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// OnStatus registers a listener for status transitions. Must be called
// before Start.
func (m *Manager) OnStatus(fn StatusListener) {
	m.listeners = append(m.listeners, fn)
}

// Start attempts the initial connection. An auth rejection is terminal and
// returned; any other failure starts the background retry loop and Start
// returns nil.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	m.setStatus(StatusConnecting, nil)

	if err := m.connectOnce(gen); err != nil {
		if errors.Is(err, ErrAuthRejected) {
			m.setStatus(StatusFailed, err)
			return err
		}

		m.logger.Warn("initial connect failed, retrying", "error", err)
		m.recordFailure(err)
		m.setStatus(StatusReconnecting, err)

		m.wg.Add(1)
		go m.reconnectLoop(gen)
	}

	return nil
}

// Stop shuts the manager down and closes the Messages channel.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.Lock()
	m.generation++
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
	}

	close(m.out)
	m.logger.Info("connection manager stopped")
	return nil
}

// Messages returns the inbound frame channel. Frames from one connection
// are delivered in receipt order; nothing received during a disconnect
// window is replayed.
func (m *Manager) Messages() <-chan RawMessage {
	return m.out
}

// Send writes raw bytes on the live connection.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	client := m.client
	status := m.status
	m.mu.Unlock()

	if status != StatusConnected || client == nil {
		return ErrNotConnected
	}
	return client.Send(data)
}

// SendIntent marshals and sends an outbound intent.
func (m *Manager) SendIntent(intent Intent) error {
	data, err := marshalIntent(intent)
	if err != nil {
		return err
	}
	return m.Send(data)
}

// SendTypingStart announces that the local user is typing in a thread.
func (m *Manager) SendTypingStart(threadID, roomID string) error {
	return m.SendIntent(NewIntent(IntentTypingStart, TypingMsg{ThreadID: threadID, RoomID: roomID}))
}

// SendTypingStop retracts a typing announcement.
func (m *Manager) SendTypingStop(threadID, roomID string) error {
	return m.SendIntent(NewIntent(IntentTypingStop, TypingMsg{ThreadID: threadID, RoomID: roomID}))
}

// RequestTaskStatus asks the server to change a task's status. The change
// is not applied locally; the server echoes it back as a
// task_status_changed broadcast on success.
func (m *Manager) RequestTaskStatus(projectID, taskID, status string) error {
	return m.SendIntent(NewIntent(IntentUpdateTaskStatus, UpdateTaskStatusMsg{
		ProjectID: projectID,
		TaskID:    taskID,
		Status:    status,
	}))
}

// State returns a snapshot of the connection record.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := ConnState{
		Status:            m.status,
		SessionID:         m.sessionID,
		ReconnectAttempts: m.attempts,
		LastConnected:     m.lastConnected,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// ManualReconnect short-circuits the backoff timer and retries
// immediately. Concurrent triggers collapse into one in-flight attempt.
// No-op unless the manager is currently reconnecting.
func (m *Manager) ManualReconnect() {
	m.mu.Lock()
	reconnecting := m.status == StatusReconnecting
	m.mu.Unlock()

	if !reconnecting {
		return
	}

	select {
	case m.manualCh <- struct{}{}:
	default:
	}
}

// ForceDisconnect transitions to Idle and suppresses auto-reconnect until
// the next explicit Connect.
func (m *Manager) ForceDisconnect() {
	m.mu.Lock()
	m.generation++
	client := m.client
	m.client = nil
	m.sessionID = ""
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}

	m.setStatus(StatusIdle, nil)
	m.logger.Info("forced disconnect")
}

// Connect re-arms the manager after ForceDisconnect or a terminal auth
// failure (with a refreshed token set via the config beforehand). Returns
// ErrAlreadyConnecting if a connection is live or pending.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.status != StatusIdle && m.status != StatusFailed {
		m.mu.Unlock()
		return ErrAlreadyConnecting
	}
	m.generation++
	gen := m.generation
	m.attempts = 0
	m.mu.Unlock()

	m.setStatus(StatusConnecting, nil)

	if err := m.connectOnce(gen); err != nil {
		if errors.Is(err, ErrAuthRejected) {
			m.setStatus(StatusFailed, err)
			return err
		}

		m.recordFailure(err)
		m.setStatus(StatusReconnecting, err)

		m.wg.Add(1)
		go m.reconnectLoop(gen)
	}

	return nil
}

// SetToken replaces the bearer token used for subsequent connects.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	m.cfg.Token = token
	m.mu.Unlock()
}

// connectOnce dials once and, on success, installs the client and starts
// its read pump. The caller holds no locks.
func (m *Manager) connectOnce(gen uint64) error {
	m.mu.Lock()
	clientCfg := m.cfg.clientConfig()
	m.mu.Unlock()

	client := m.dial(clientCfg, m.logger)
	if err := client.Connect(m.ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if gen != m.generation {
		// A newer intent superseded this attempt; discard.
		m.mu.Unlock()
		client.Close()
		return nil
	}
	m.client = client
	m.sessionID = client.SessionID()
	m.attempts = 0
	m.lastConnected = time.Now()
	m.lastErr = nil
	m.mu.Unlock()

	m.setStatus(StatusConnected, nil)

	m.wg.Add(1)
	go m.pump(client, gen)

	return nil
}

// pump forwards frames from one client until it errors out, then hands
// over to the reconnect loop.
func (m *Manager) pump(client Client, gen uint64) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case err := <-client.Errors():
			m.handleDrop(client, gen, err)
			return

		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			select {
			case m.out <- msg:
			case <-m.ctx.Done():
				return
			default:
				m.logger.Warn("message buffer full, dropping")
			}
		}
	}
}

// handleDrop reacts to an unexpected connection loss.
func (m *Manager) handleDrop(client Client, gen uint64, err error) {
	m.mu.Lock()
	if gen != m.generation {
		// Superseded by ForceDisconnect/Stop; not our drop to handle.
		m.mu.Unlock()
		return
	}
	m.generation++
	newGen := m.generation
	m.client = nil
	m.sessionID = ""
	m.lastErr = err
	m.mu.Unlock()

	client.Close()

	m.logger.Warn("connection dropped", "error", err)

	m.setStatus(StatusDisconnected, err)
	m.setStatus(StatusReconnecting, err)

	m.wg.Add(1)
	go m.reconnectLoop(newGen)
}

// reconnectLoop retries until connected, cancelled, or superseded.
// Individual attempts are retried indefinitely; only an auth rejection is
// terminal.
func (m *Manager) reconnectLoop(gen uint64) {
	defer m.wg.Done()

	for attempt := 1; ; attempt++ {
		delay := withJitter(retryDelay(m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait, attempt))

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		case <-m.manualCh:
			m.logger.Info("manual reconnect requested")
		}

		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		m.logger.Info("attempting reconnection", "attempt", attempt)

		err := m.connectOnce(gen)
		if err == nil {
			if m.metrics != nil {
				m.metrics.Reconnects.Inc()
			}
			m.logger.Info("reconnected")
			return
		}

		if errors.Is(err, ErrAuthRejected) {
			m.mu.Lock()
			m.lastErr = err
			m.mu.Unlock()
			m.setStatus(StatusFailed, err)
			m.logger.Error("reconnect rejected, credential refresh required", "error", err)
			return
		}

		m.recordFailure(err)
		m.logger.Warn("reconnection failed",
			"attempt", attempt,
			"error", err,
		)
	}
}

// recordFailure bumps the consecutive-failure counter.
func (m *Manager) recordFailure(err error) {
	m.mu.Lock()
	m.attempts++
	m.lastErr = err
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ConnectFailures.Inc()
	}
}

// setStatus applies a transition and notifies listeners outside the lock.
func (m *Manager) setStatus(status Status, err error) {
	m.mu.Lock()
	old := m.status
	if old == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	change := StatusChange{
		Old:       old,
		New:       status,
		SessionID: m.sessionID,
		Attempts:  m.attempts,
		Err:       err,
		At:        time.Now(),
	}
	listeners := m.listeners
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ConnectionStatus.Set(float64(status))
	}

	m.logger.Debug("status change", "old", old, "new", status)

	for _, fn := range listeners {
		fn(change)
	}
}

// retryDelay computes the Kth retry delay before jitter:
// min(base * 2^(K-1), max).
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
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

// withJitter spreads a delay over [0.5d, 1.5d).
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + rand.N(d)
}
