package mqtt

import (
	"sync"
	"testing"
	"time"
)

// fakeToken is a Token resolved by the test.
type fakeToken struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newFakeToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func resolvedToken(err error) *fakeToken {
	tok := newFakeToken()
	tok.resolve(err)
	return tok
}

func (t *fakeToken) resolve(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type publishedMessage struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeTransport records every call made by the Manager.
type fakeTransport struct {
	broker *fakeBroker
	opts   TransportOptions

	mu           sync.Mutex
	connected    bool
	disconnected bool
	connectTok   *fakeToken
	dialled      chan struct{}
	dialOnce     sync.Once
	lostOnce     sync.Once
	handlers     map[string]func(string, []byte)
	subscribed   []string
	published    []publishedMessage
}

func (f *fakeTransport) Connect() Token {
	b := f.broker
	b.mu.Lock()
	hold, err := b.hold, b.connectErr
	b.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectTok = newFakeToken()
	switch {
	case hold:
	case err != nil:
		f.connectTok.resolve(err)
	default:
		f.connected = true
		f.connectTok.resolve(nil)
	}
	f.dialOnce.Do(func() { close(f.dialled) })
	return f.connectTok
}

// accept completes a held handshake once the Manager has dialled.
func (f *fakeTransport) accept(t *testing.T) {
	t.Helper()
	select {
	case <-f.dialled:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Connect on the transport")
	}
	f.mu.Lock()
	f.connected = true
	tok := f.connectTok
	f.mu.Unlock()
	tok.resolve(nil)
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Publish(topic string, qos byte, payload []byte) Token {
	f.mu.Lock()
	f.published = append(f.published, publishedMessage{topic, qos, payload})
	f.mu.Unlock()

	f.broker.mu.Lock()
	defer f.broker.mu.Unlock()
	if f.broker.holdPublish {
		return newFakeToken()
	}
	return resolvedToken(f.broker.publishErr)
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler func(string, []byte)) Token {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, topic)
	f.handlers[topic] = handler
	f.mu.Unlock()

	f.broker.mu.Lock()
	lost, err := f.broker.lostOnSubscribe, f.broker.subscribeErr[topic]
	f.broker.mu.Unlock()

	if lost != nil {
		f.lostOnce.Do(func() { f.drop(lost) })
	}
	return resolvedToken(err)
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

// deliver simulates an inbound message on topic.
func (f *fakeTransport) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
}

// drop simulates the broker closing an established connection.
func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.opts.OnConnectionLost(err)
}

// setConnected changes the live flag without notifying the Manager.
func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeTransport) isDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func (f *fakeTransport) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func (f *fakeTransport) publishes() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

// fakeBroker is a TransportFactory that keeps every transport it built.
type fakeBroker struct {
	mu           sync.Mutex
	transports   []*fakeTransport
	hold         bool
	holdPublish  bool
	connectErr   error
	publishErr   error
	subscribeErr map[string]error

	// lostOnSubscribe drops the connection from inside the first Subscribe.
	lostOnSubscribe error
}

func (b *fakeBroker) factory(opts TransportOptions) Transport {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := &fakeTransport{
		broker:   b,
		opts:     opts,
		handlers: make(map[string]func(string, []byte)),
		dialled:  make(chan struct{}),
	}
	b.transports = append(b.transports, f)
	return f
}

func (b *fakeBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.transports)
}

func (b *fakeBroker) last() *fakeTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.transports) == 0 {
		return nil
	}
	return b.transports[len(b.transports)-1]
}

func (b *fakeBroker) set(fn func(b *fakeBroker)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// recordingObserver captures Observer notifications.
type recordingObserver struct {
	mu       sync.Mutex
	states   []State
	connects []error
	publish  []error
}

func (o *recordingObserver) StateChanged(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) ConnectFinished(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connects = append(o.connects, err)
}

func (o *recordingObserver) PublishFinished(_ string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.publish = append(o.publish, err)
}

func (o *recordingObserver) snapshot() ([]State, []error, []error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...),
		append([]error(nil), o.connects...),
		append([]error(nil), o.publish...)
}

// captureLogger records log calls by level.
type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *captureLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}
