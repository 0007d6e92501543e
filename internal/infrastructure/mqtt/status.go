package mqtt

import "time"

// Status is a snapshot of the connection for callers that drive their own
// reconnect policy.
type Status struct {
	State State `json:"state"`

	// Connected is strict transport truth at snapshot time.
	Connected bool `json:"connected"`

	// Configured is true when broker URL and credentials are all set.
	// Configured && !Connected means a Connect call is needed.
	Configured bool     `json:"configured"`
	Missing    []string `json:"missing,omitempty"`

	// Attempts counts connection attempts since the last success.
	Attempts int `json:"attempts"`

	LastError      string     `json:"last_error,omitempty"`
	LastErrorAt    *time.Time `json:"last_error_at,omitempty"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`

	Broker   string `json:"broker,omitempty"`
	ClientID string `json:"client_id"`
}

// Status returns the current connection snapshot, reconciling the cached
// state with the transport first.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	missing := missingSettings(m.cfg)
	st := Status{
		Connected:  m.reconcileLocked(),
		State:      m.state,
		Configured: len(missing) == 0,
		Missing:    missing,
		Attempts:   m.attempts,
		Broker:     m.cfg.Broker.URL,
		ClientID:   m.cfg.Broker.ClientID,
	}
	if m.lastErr != nil {
		at := m.lastErrAt
		st.LastError = m.lastErr.Error()
		st.LastErrorAt = &at
	}
	if !m.connectedAt.IsZero() {
		since := m.connectedAt
		st.ConnectedSince = &since
	}
	return st
}
