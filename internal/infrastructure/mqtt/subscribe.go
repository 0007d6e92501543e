package mqtt

import (
	"fmt"
	"time"
)

// subscribeAll issues the fixed subscription set on t and waits for the
// acks. A failed topic is logged and skipped; the others stay subscribed.
func (m *Manager) subscribeAll(t Transport, session uint64) {
	type pending struct {
		topic string
		tok   Token
	}

	handler := m.wrapHandler(session)
	topics := SubscriptionTopics()
	toks := make([]pending, 0, len(topics))
	for _, topic := range topics {
		toks = append(toks, pending{topic, t.Subscribe(topic, DefaultQoS, handler)})
	}

	deadline := time.NewTimer(defaultSubscribeTimeout)
	defer deadline.Stop()

	failed, expired := 0, false
	for _, p := range toks {
		if !expired {
			select {
			case <-p.tok.Done():
			case <-deadline.C:
				expired = true
			}
		}

		var err error
		select {
		case <-p.tok.Done():
			err = p.tok.Error()
		default:
			err = fmt.Errorf("no ack within %v", defaultSubscribeTimeout)
		}
		if err != nil {
			failed++
			m.logger.Warn("MQTT subscribe failed",
				"topic", p.topic,
				"error", fmt.Errorf("%w: %w", ErrSubscribeFailed, err),
			)
			continue
		}
		m.logger.Debug("MQTT subscribed", "topic", p.topic)
	}

	m.logger.Info("MQTT subscriptions established",
		"subscribed", len(topics)-failed,
		"failed", failed,
	)
}

// wrapHandler adapts the MessageHandler with panic recovery, logging and
// a session guard so stale transports cannot deliver into a newer session.
func (m *Manager) wrapHandler(session uint64) func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		m.mu.Lock()
		current := m.session == session
		handler := m.handler
		m.mu.Unlock()
		if !current || handler == nil {
			return
		}

		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("MQTT handler panic recovered",
					"topic", topic,
					"panic", r,
				)
			}
		}()

		if err := handler(topic, payload); err != nil {
			m.logger.Warn("MQTT handler returned error",
				"topic", topic,
				"error", err,
			)
		}
	}
}
