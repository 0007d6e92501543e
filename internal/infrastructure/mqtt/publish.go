package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// PublishResult is the pending outcome of a Publish. It resolves once the
// broker acknowledges the message (QoS 1 and 2), the message is written
// (QoS 0), or the publish timeout passes.
type PublishResult struct {
	topic string
	done  chan struct{}
	err   error
}

// Done is closed when the result is final.
func (r *PublishResult) Done() <-chan struct{} {
	return r.done
}

// Err returns the outcome, or nil while the publish is still pending.
func (r *PublishResult) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the result is final or ctx ends.
func (r *PublishResult) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish %s: %w", r.topic, ctx.Err())
	}
}

// Topic returns the topic the message was published to.
func (r *PublishResult) Topic() string {
	return r.topic
}

// Publish sends message to topic without waiting for the acknowledgment.
//
// The message is JSON-encoded; a json.RawMessage is sent as is. Messages
// are never retained.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (DefaultQoS; may duplicate)
//   - 2: Exactly once
//
// Returns:
//   - *PublishResult: awaitable outcome; its error wraps ErrPublishFailed
//   - error: ErrNotConnected, ErrInvalidTopic, ErrInvalidQoS or an encoding
//     failure, returned before anything is sent
//
// Example:
//
//	res, err := mgr.Publish(mqtt.ActuatorTopic(telemetry.ActuatorPump),
//	    map[string]bool{"state": true}, mqtt.DefaultQoS)
//	if err == nil {
//	    err = res.Wait(ctx)
//	}
func (m *Manager) Publish(topic string, message any, qos byte) (*PublishResult, error) {
	if !validPublishTopic(topic) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if qos > maxQoS {
		return nil, ErrInvalidQoS
	}

	m.mu.Lock()
	live := m.reconcileLocked()
	t := m.transport
	connected := live && m.state == StateConnected
	m.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}

	payload, err := encodeMessage(message)
	if err != nil {
		return nil, err
	}

	tok := t.Publish(topic, qos, payload)
	res := &PublishResult{topic: topic, done: make(chan struct{})}
	go m.awaitPublish(res, tok)
	return res, nil
}

func (m *Manager) awaitPublish(res *PublishResult, tok Token) {
	timer := time.NewTimer(defaultPublishTimeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			res.err = fmt.Errorf("%w: %s: %w", ErrPublishFailed, res.topic, err)
		}
	case <-timer.C:
		res.err = fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, res.topic, defaultPublishTimeout)
	}
	close(res.done)

	if res.err != nil {
		m.logger.Warn("MQTT publish failed", "topic", res.topic, "error", res.err)
	} else {
		m.logger.Debug("MQTT published", "topic", res.topic)
	}
	if m.observer != nil {
		m.observer.PublishFinished(res.topic, res.err)
	}
}

func encodeMessage(message any) ([]byte, error) {
	var payload []byte
	switch v := message.(type) {
	case json.RawMessage:
		payload = v
	default:
		data, err := json.Marshal(message)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding message: %w", ErrPublishFailed, err)
		}
		payload = data
	}
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return payload, nil
}
