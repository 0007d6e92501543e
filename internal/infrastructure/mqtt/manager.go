package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smartfarm/farmbridge/internal/infrastructure/config"
)

// State is the lifecycle state of the broker connection.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name as produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "disconnected":
		*s = StateDisconnected
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	default:
		return fmt.Errorf("mqtt: unknown state %q", text)
	}
	return nil
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer receives connection lifecycle notifications, e.g. for metrics.
// Methods are called without the manager lock held and must not block.
type Observer interface {
	StateChanged(state State)
	ConnectFinished(err error)
	PublishFinished(topic string, err error)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked sequentially in arrival order. They should not block
// for extended periods; a returned error is logged and does not affect
// later messages.
type MessageHandler func(topic string, payload []byte) error

// Option configures a Manager.
type Option func(*Manager)

// WithTransportFactory replaces the paho transport, mainly for tests.
func WithTransportFactory(f TransportFactory) Option {
	return func(m *Manager) { m.newTransport = f }
}

// WithMessageHandler sets the handler for every message received on the
// subscription topics.
func WithMessageHandler(h MessageHandler) Option {
	return func(m *Manager) { m.handler = h }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithObserver registers lifecycle notifications.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithConnectTimeout overrides mqtt.connect_timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) { m.connectTimeout = d }
}

// Manager owns the single outbound broker connection.
//
// Connect is idempotent and deduplicated: concurrent callers share one
// in-flight attempt. Lost connections are not re-established
// automatically; callers decide when to call Connect again, using Status
// for the attempt count and last failure.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Manager struct {
	cfg            config.MQTTConfig
	connectTimeout time.Duration
	newTransport   TransportFactory
	handler        MessageHandler
	logger         Logger
	observer       Observer
	now            func() time.Time

	mu          sync.Mutex
	state       State
	transport   Transport
	attempt     *connectAttempt
	session     uint64 // bumped per transport; stale callbacks compare against it
	attempts    int    // attempts since the last successful connect
	lastErr     error
	lastErrAt   time.Time
	connectedAt time.Time
}

// connectAttempt is the shared outcome of one connection attempt.
// done is closed once err is final.
type connectAttempt struct {
	session uint64
	done    chan struct{}
	err     error
}

// NewManager creates a disconnected Manager. No network activity happens
// until Connect.
func NewManager(cfg config.MQTTConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:            cfg,
		connectTimeout: time.Duration(cfg.ConnectTimeout) * time.Second,
		newTransport:   NewPahoTransport,
		logger:         nopLogger{},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.connectTimeout <= 0 {
		m.connectTimeout = defaultConnectTimeout
	}
	return m
}

// Connect establishes the broker connection, or joins the attempt already
// in flight.
//
// It returns nil immediately when a healthy transport is open. Missing
// broker settings produce a *ConfigurationError without touching any
// state. Cancelling ctx only stops this caller from waiting; the attempt
// itself runs until it succeeds, fails, times out or is aborted by
// Disconnect.
//
// Returns:
//   - ErrConfiguration: broker URL or credentials missing or invalid
//   - ErrConnectTimeout: no handshake within the connect timeout
//   - ErrTransport: broker or network refused the connection
//   - ErrConnectAborted: Disconnect was called while waiting
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected && m.transport != nil && m.transport.IsConnected() {
		m.mu.Unlock()
		return nil
	}

	a := m.attempt
	var stale Transport
	if a == nil {
		var err error
		a, stale, err = m.startAttemptLocked()
		if err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.mu.Unlock()

	if stale != nil {
		stale.Disconnect()
	}

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect: %w", ctx.Err())
	}
}

// startAttemptLocked creates a transport and launches the attempt. The
// returned stale transport, if any, must be closed by the caller after
// releasing the lock.
func (m *Manager) startAttemptLocked() (*connectAttempt, Transport, error) {
	if missing := missingSettings(m.cfg); len(missing) > 0 {
		return nil, nil, &ConfigurationError{Missing: missing}
	}
	brokerURL, err := normalizeBrokerURL(m.cfg.Broker.URL)
	if err != nil {
		return nil, nil, err
	}

	stale := m.transport

	m.session++
	session := m.session
	opts := transportOptions(m.cfg, brokerURL, m.connectTimeout)
	opts.OnConnectionLost = func(err error) { m.connectionLost(session, err) }

	t := m.newTransport(opts)
	a := &connectAttempt{session: session, done: make(chan struct{})}

	m.transport = t
	m.attempt = a
	m.attempts++
	m.setStateLocked(StateConnecting)

	m.logger.Info("connecting to MQTT broker",
		"broker", m.cfg.Broker.URL,
		"client_id", m.cfg.Broker.ClientID,
		"attempt", m.attempts,
	)

	go m.runAttempt(a, t)
	return a, stale, nil
}

// runAttempt drives one handshake to its outcome.
func (m *Manager) runAttempt(a *connectAttempt, t Transport) {
	timer := time.NewTimer(m.connectTimeout)
	defer timer.Stop()

	tok := t.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			m.failAttempt(a, fmt.Errorf("%w: %w", ErrTransport, err))
			return
		}
		m.completeAttempt(a, t)
	case <-timer.C:
		m.failAttempt(a, fmt.Errorf("%w after %v", ErrConnectTimeout, m.connectTimeout))
	case <-a.done:
		// Aborted by Disconnect.
	}
}

// failAttempt resolves a with err, closes its transport and returns the
// manager to Disconnected.
func (m *Manager) failAttempt(a *connectAttempt, err error) {
	m.mu.Lock()
	if m.attempt != a {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.transport = nil
	m.attempt = nil
	m.recordFailureLocked(err)
	m.setStateLocked(StateDisconnected)
	a.err = err
	close(a.done)
	m.mu.Unlock()

	m.logger.Error("MQTT connection failed", "error", err, "broker", m.cfg.Broker.URL)
	if t != nil {
		t.Disconnect()
	}
	m.notifyConnect(err)
}

// completeAttempt marks the session connected, subscribes the fixed topic
// set and then resolves a.
func (m *Manager) completeAttempt(a *connectAttempt, t Transport) {
	m.mu.Lock()
	if m.attempt != a {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.connectedAt = m.now()
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.logger.Info("connected to MQTT broker", "broker", m.cfg.Broker.URL)
	m.subscribeAll(t, a.session)

	// connectionLost may have run while the acks were outstanding; it
	// resolves the attempt itself in that case.
	m.mu.Lock()
	resolved := m.attempt == a
	if resolved {
		m.attempt = nil
		if m.session != a.session || m.state != StateConnected {
			a.err = fmt.Errorf("%w: connection closed during subscribe", ErrTransport)
			m.recordFailureLocked(a.err)
			m.setStateLocked(StateDisconnected)
		}
		close(a.done)
	}
	m.mu.Unlock()

	if resolved {
		m.notifyConnect(a.err)
	}
}

// connectionLost handles a drop of an established connection. There is
// no automatic reconnect.
func (m *Manager) connectionLost(session uint64, err error) {
	m.mu.Lock()
	if session != m.session {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.transport = nil
	m.connectedAt = time.Time{}
	if err == nil {
		err = errors.New("connection closed")
	}
	m.recordFailureLocked(err)
	m.setStateLocked(StateDisconnected)

	// A drop before the subscriptions settled fails the pending attempt.
	a := m.attempt
	if a != nil && a.session == session {
		m.attempt = nil
		a.err = fmt.Errorf("%w: %w", ErrTransport, err)
		close(a.done)
	} else {
		a = nil
	}
	m.mu.Unlock()

	m.logger.Warn("MQTT connection lost", "error", err)
	if t != nil {
		t.Disconnect()
	}
	if a != nil {
		m.notifyConnect(a.err)
	}
}

// Disconnect force-closes the transport, including during Connecting.
// Callers waiting on the pending attempt receive ErrConnectAborted. The
// attempt counter is reset; the last failure is kept for Status.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	t := m.transport
	a := m.attempt
	m.transport = nil
	m.attempt = nil
	m.session++
	m.attempts = 0
	m.connectedAt = time.Time{}
	m.setStateLocked(StateDisconnected)
	if a != nil {
		a.err = ErrConnectAborted
		close(a.done)
	}
	m.mu.Unlock()

	if t != nil {
		t.Disconnect()
		m.logger.Info("disconnected from MQTT broker")
	}
}

// IsConnected reports whether the transport is live right now. A cached
// Connected state that the transport no longer confirms is corrected to
// Disconnected.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconcileLocked()
}

// reconcileLocked syncs the cached state with the transport and returns
// the live connection flag.
func (m *Manager) reconcileLocked() bool {
	live := m.transport != nil && m.transport.IsConnected()
	switch {
	case !live && m.state == StateConnected:
		m.connectedAt = time.Time{}
		m.recordFailureLocked(errors.New("transport reported disconnected"))
		m.setStateLocked(StateDisconnected)
		m.logger.Warn("MQTT state drifted, transport is not connected")
	case live && m.state == StateDisconnected:
		m.connectedAt = m.now()
		m.setStateLocked(StateConnected)
	}
	return live
}

// State returns the cached lifecycle state without consulting the
// transport.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HealthCheck verifies the MQTT connection is alive.
func (m *Manager) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !m.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (m *Manager) recordFailureLocked(err error) {
	m.lastErr = err
	m.lastErrAt = m.now()
}

// setStateLocked updates the state and notifies the observer. A state
// observer must not call back into the manager.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.observer != nil {
		m.observer.StateChanged(s)
	}
}

func (m *Manager) notifyConnect(err error) {
	if m.observer != nil {
		m.observer.ConnectFinished(err)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
