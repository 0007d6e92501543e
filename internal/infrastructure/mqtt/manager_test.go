package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/smartfarm/farmbridge/internal/infrastructure/config"
)

// testConfig returns a fully configured MQTT section.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			URL:      "mqtts://broker.test:8883",
			ClientID: "farmbridge-test",
		},
		Auth: config.MQTTAuthConfig{
			Username: "farm",
			Password: "secret",
		},
		QoS:            1,
		ConnectTimeout: 30,
		KeepAlive:      60,
		Will:           config.MQTTWillConfig{DeviceID: "smartfarm-web"},
	}
}

func newTestManager(t *testing.T, b *fakeBroker, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(testConfig(), append([]Option{WithTransportFactory(b.factory)}, opts...)...)
	t.Cleanup(m.Disconnect)
	return m
}

func connected(t *testing.T, b *fakeBroker, opts ...Option) *Manager {
	t.Helper()
	m := newTestManager(t, b, opts...)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return m
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	b := &fakeBroker{}
	obs := &recordingObserver{}
	m := connected(t, b, WithObserver(obs))

	if !m.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if m.State() != StateConnected {
		t.Errorf("State() = %v, want connected", m.State())
	}

	ft := b.last()
	if got, want := ft.subscriptions(), SubscriptionTopics(); !slices.Equal(got, want) {
		t.Errorf("subscriptions = %v, want %v", got, want)
	}
	if ft.opts.BrokerURL != "ssl://broker.test:8883" {
		t.Errorf("BrokerURL = %q, want ssl://broker.test:8883", ft.opts.BrokerURL)
	}

	waitFor(t, "connect notification", func() bool {
		_, connects, _ := obs.snapshot()
		return len(connects) > 0
	})
	states, connects, _ := obs.snapshot()
	if !slices.Equal(states, []State{StateConnecting, StateConnected}) {
		t.Errorf("observed states = %v", states)
	}
	if len(connects) != 1 || connects[0] != nil {
		t.Errorf("observed connects = %v, want [nil]", connects)
	}
}

func TestConnect_AlreadyConnectedIsNoop(t *testing.T) {
	b := &fakeBroker{}
	m := connected(t, b)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if b.count() != 1 {
		t.Errorf("transports created = %d, want 1", b.count())
	}
}

func TestConnect_MissingConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.MQTTConfig)
		missing []string
	}{
		{
			name: "nothing set",
			mutate: func(c *config.MQTTConfig) {
				c.Broker.URL, c.Auth.Username, c.Auth.Password = "", "", ""
			},
			missing: []string{"mqtt.broker.url", "mqtt.auth.username", "mqtt.auth.password"},
		},
		{
			name:    "password only",
			mutate:  func(c *config.MQTTConfig) { c.Auth.Password = "" },
			missing: []string{"mqtt.auth.password"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBroker{}
			cfg := testConfig()
			tt.mutate(&cfg)
			m := NewManager(cfg, WithTransportFactory(b.factory))

			err := m.Connect(context.Background())
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("Connect() error = %v, want ErrConfiguration", err)
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Connect() error type = %T, want *ConfigurationError", err)
			}
			if !slices.Equal(cfgErr.Missing, tt.missing) {
				t.Errorf("Missing = %v, want %v", cfgErr.Missing, tt.missing)
			}
			if b.count() != 0 {
				t.Errorf("transports created = %d, want 0", b.count())
			}
			st := m.Status()
			if st.State != StateDisconnected || st.Configured || st.Attempts != 0 {
				t.Errorf("Status() = %+v, want untouched and unconfigured", st)
			}
		})
	}
}

func TestConnect_InvalidBrokerURL(t *testing.T) {
	b := &fakeBroker{}
	cfg := testConfig()
	cfg.Broker.URL = "http://broker.test"
	m := NewManager(cfg, WithTransportFactory(b.factory))

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Connect() error = %v, want ErrConfiguration", err)
	}
	if b.count() != 0 {
		t.Errorf("transports created = %d, want 0", b.count())
	}
}

func TestConnect_ConcurrentCallersShareAttempt(t *testing.T) {
	b := &fakeBroker{hold: true}
	m := newTestManager(t, b)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Connect(context.Background())
		}()
	}

	waitFor(t, "transport", func() bool { return b.count() == 1 })
	waitFor(t, "connecting state", func() bool { return m.State() == StateConnecting })
	b.last().accept(t)

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Connect() error = %v, want nil", err)
		}
	}
	if b.count() != 1 {
		t.Errorf("transports created = %d, want 1", b.count())
	}
}

func TestConnect_ConcurrentCallersShareFailure(t *testing.T) {
	b := &fakeBroker{hold: true}
	m := newTestManager(t, b, WithConnectTimeout(30*time.Millisecond))

	const callers = 4
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Connect(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrConnectTimeout) {
			t.Errorf("Connect() error = %v, want ErrConnectTimeout", err)
		}
	}
	// Late callers may start their own attempt after the first resolves,
	// but never while one is in flight.
	if b.count() > callers {
		t.Errorf("transports created = %d", b.count())
	}
}

func TestConnect_Timeout(t *testing.T) {
	b := &fakeBroker{hold: true}
	m := newTestManager(t, b, WithConnectTimeout(20*time.Millisecond))

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("Connect() error = %v, want ErrConnectTimeout", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
	if !b.last().isDisconnected() {
		t.Error("timed-out transport was not closed")
	}

	st := m.Status()
	if st.Attempts != 1 || st.LastError == "" || st.LastErrorAt == nil {
		t.Errorf("Status() = %+v, want one attempt with last error", st)
	}

	// A later Connect starts a fresh attempt.
	b.set(func(b *fakeBroker) { b.hold = false })
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() after timeout error = %v", err)
	}
	if b.count() != 2 {
		t.Errorf("transports created = %d, want 2", b.count())
	}
	if m.Status().Attempts != 0 {
		t.Errorf("Attempts after success = %d, want 0", m.Status().Attempts)
	}
}

func TestConnect_TransportFailure(t *testing.T) {
	b := &fakeBroker{connectErr: errors.New("not authorized")}
	m := newTestManager(t, b)

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Connect() error = %v, want ErrTransport", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
	if st := m.Status(); st.LastError == "" || !st.Configured || st.Connected {
		t.Errorf("Status() = %+v, want configured, disconnected, with last error", st)
	}
}

func TestConnect_ContextCancelKeepsAttempt(t *testing.T) {
	b := &fakeBroker{hold: true}
	m := newTestManager(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Connect(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect() error = %v, want context.Canceled", err)
	}
	if m.State() != StateConnecting {
		t.Fatalf("State() = %v, want connecting", m.State())
	}

	b.last().accept(t)
	waitFor(t, "connected", func() bool { return m.State() == StateConnected })
	if b.count() != 1 {
		t.Errorf("transports created = %d, want 1", b.count())
	}
}

func TestDisconnect_AbortsPendingAttempt(t *testing.T) {
	b := &fakeBroker{hold: true}
	m := newTestManager(t, b)

	errc := make(chan error, 1)
	go func() { errc <- m.Connect(context.Background()) }()
	waitFor(t, "connecting state", func() bool { return m.State() == StateConnecting })

	m.Disconnect()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrConnectAborted) {
			t.Errorf("Connect() error = %v, want ErrConnectAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect() did not return after Disconnect")
	}
	if !b.last().isDisconnected() {
		t.Error("transport was not closed")
	}

	// A handshake completing after abort must not revive the session.
	b.last().accept(t)
	time.Sleep(10 * time.Millisecond)
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

func TestDisconnect(t *testing.T) {
	b := &fakeBroker{}
	m := connected(t, b)

	m.Disconnect()

	if m.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if !b.last().isDisconnected() {
		t.Error("transport was not closed")
	}
	if st := m.Status(); st.Attempts != 0 || st.ConnectedSince != nil {
		t.Errorf("Status() = %+v, want reset counters", st)
	}

	// Disconnect twice is harmless.
	m.Disconnect()
}

func TestConnectionLost_NoAutomaticReconnect(t *testing.T) {
	b := &fakeBroker{}
	m := connected(t, b)

	b.last().drop(errors.New("broker went away"))

	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
	time.Sleep(10 * time.Millisecond)
	if b.count() != 1 {
		t.Errorf("transports created = %d, want 1 (no reconnect)", b.count())
	}
	if st := m.Status(); st.LastError != "broker went away" {
		t.Errorf("LastError = %q", st.LastError)
	}
}

func TestConnectionLost_StaleSessionIgnored(t *testing.T) {
	b := &fakeBroker{}
	m := connected(t, b)
	old := b.last()

	m.Disconnect()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}

	old.drop(errors.New("late callback"))

	if m.State() != StateConnected {
		t.Errorf("State() = %v, want connected", m.State())
	}
}

func TestConnectionLost_DuringSubscribeFailsConnect(t *testing.T) {
	b := &fakeBroker{lostOnSubscribe: io.EOF}
	obs := &recordingObserver{}
	m := newTestManager(t, b, WithObserver(obs))

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Connect() error = %v, want ErrTransport", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
	if m.IsConnected() {
		t.Error("IsConnected() = true after connection loss")
	}
	if st := m.Status(); st.Connected || st.LastError == "" {
		t.Errorf("Status() = %+v, want disconnected with last error", st)
	}

	_, connects, _ := obs.snapshot()
	if len(connects) != 1 || !errors.Is(connects[0], ErrTransport) {
		t.Errorf("ConnectFinished calls = %v, want one ErrTransport", connects)
	}
}

// =============================================================================
// IsConnected / Status Tests
// =============================================================================

func TestIsConnected_ReconcilesDrift(t *testing.T) {
	b := &fakeBroker{}
	m := connected(t, b)

	b.last().setConnected(false)

	if m.IsConnected() {
		t.Error("IsConnected() = true, want false after transport dropped")
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected after reconcile", m.State())
	}

	// A Connect now replaces the dead transport.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if b.count() != 2 {
		t.Errorf("transports created = %d, want 2", b.count())
	}
	if !b.transports[0].isDisconnected() {
		t.Error("dead transport was not closed")
	}
}

func TestIsConnected_NeverConnected(t *testing.T) {
	m := NewManager(testConfig(), WithTransportFactory((&fakeBroker{}).factory))
	if m.IsConnected() {
		t.Error("IsConnected() = true for a new manager")
	}
}

func TestStatus(t *testing.T) {
	b := &fakeBroker{}
	m := connected(t, b)

	st := m.Status()
	if !st.Connected || !st.Configured || st.State != StateConnected {
		t.Errorf("Status() = %+v", st)
	}
	if st.ConnectedSince == nil {
		t.Error("ConnectedSince = nil")
	}
	if st.ClientID != "farmbridge-test" || st.Broker != "mqtts://broker.test:8883" {
		t.Errorf("identity = %q %q", st.ClientID, st.Broker)
	}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal(Status) error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if decoded["state"] != "connected" {
		t.Errorf("state JSON = %v, want \"connected\"", decoded["state"])
	}
}

func TestStatus_ConfiguredButDisconnected(t *testing.T) {
	m := NewManager(testConfig(), WithTransportFactory((&fakeBroker{}).factory))

	st := m.Status()
	if !st.Configured || st.Connected {
		t.Errorf("Status() = %+v, want configured and not connected", st)
	}
	if len(st.Missing) != 0 {
		t.Errorf("Missing = %v, want none", st.Missing)
	}
}

func TestHealthCheck(t *testing.T) {
	b := &fakeBroker{}
	m := newTestManager(t, b)

	if err := m.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() before connect = %v, want ErrNotConnected", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v", err)
	}
}

// =============================================================================
// Message Delivery Tests
// =============================================================================

func TestMessageHandler(t *testing.T) {
	b := &fakeBroker{}
	var got []string
	var mu sync.Mutex
	handler := func(topic string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, topic+"="+string(payload))
		return nil
	}
	connected(t, b, WithMessageHandler(handler))

	b.last().deliver(TopicStatus, []byte(`{"status":"online"}`))

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(got, []string{`smartfarm/status={"status":"online"}`}) {
		t.Errorf("handled = %v", got)
	}
}

func TestMessageHandler_PanicAndErrorLogged(t *testing.T) {
	b := &fakeBroker{}
	log := &captureLogger{}
	calls := 0
	handler := func(topic string, _ []byte) error {
		calls++
		if topic == TopicStatus {
			panic("boom")
		}
		return errors.New("write failed")
	}
	connected(t, b, WithMessageHandler(handler), WithLogger(log))

	ft := b.last()
	ft.deliver(TopicStatus, []byte(`{}`))
	ft.deliver(TopicSensorsAll, []byte(`{}`))

	if calls != 2 {
		t.Errorf("handler calls = %d, want 2", calls)
	}
	if !log.has("error: MQTT handler panic recovered") {
		t.Error("panic was not logged")
	}
	if !log.has("warn: MQTT handler returned error") {
		t.Error("handler error was not logged")
	}
}

func TestMessageHandler_StaleTransportDropped(t *testing.T) {
	b := &fakeBroker{}
	calls := 0
	handler := func(string, []byte) error { calls++; return nil }
	m := connected(t, b, WithMessageHandler(handler))
	old := b.last()

	m.Disconnect()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	old.deliver(TopicStatus, []byte(`{}`))

	if calls != 0 {
		t.Errorf("handler calls = %d, want 0 for stale transport", calls)
	}
}

func TestSubscribe_FailuresTolerated(t *testing.T) {
	b := &fakeBroker{subscribeErr: map[string]error{
		"smartfarm/sensors/ph": errors.New("not authorized"),
	}}
	log := &captureLogger{}
	m := connected(t, b, WithLogger(log))

	if !m.IsConnected() {
		t.Error("IsConnected() = false after partial subscribe failure")
	}
	if len(b.last().subscriptions()) != len(SubscriptionTopics()) {
		t.Errorf("subscribe calls = %d, want %d", len(b.last().subscriptions()), len(SubscriptionTopics()))
	}
	if !log.has("warn: MQTT subscribe failed") {
		t.Error("subscribe failure was not logged")
	}
}

func TestLastWill(t *testing.T) {
	b := &fakeBroker{}
	connected(t, b)

	will := b.last().opts.Will
	if will.Topic != TopicStatus || will.QoS != 1 || will.Retained {
		t.Errorf("Will = %+v", will)
	}
	if string(will.Payload) != `{"status":"offline","device_id":"smartfarm-web"}` {
		t.Errorf("Will.Payload = %s", will.Payload)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{State(99), "disconnected"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestState_TextRoundTrip(t *testing.T) {
	for _, s := range []State{StateDisconnected, StateConnecting, StateConnected} {
		text, _ := s.MarshalText()
		var got State
		if err := got.UnmarshalText(text); err != nil || got != s {
			t.Errorf("UnmarshalText(%q) = %v, %v; want %v", text, got, err, s)
		}
	}

	var s State
	if err := s.UnmarshalText([]byte("offline")); err == nil {
		t.Error("UnmarshalText(offline) error = nil, want error")
	}
}
