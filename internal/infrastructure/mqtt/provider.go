package mqtt

import (
	"sync"

	"github.com/smartfarm/farmbridge/internal/infrastructure/config"
)

// Provider hands out the process-wide Manager. The Manager is built on the
// first Get and the same instance is returned afterwards; a second one is
// never constructed.
//
// The owner (normally main) creates one Provider, passes it to whatever
// needs broker access and calls Close on shutdown.
type Provider struct {
	cfg  config.MQTTConfig
	opts []Option

	mu      sync.Mutex
	manager *Manager
}

// NewProvider returns a Provider that will build its Manager from cfg and
// opts on first use.
func NewProvider(cfg config.MQTTConfig, opts ...Option) *Provider {
	return &Provider{cfg: cfg, opts: opts}
}

// Get returns the Manager, constructing it on the first call.
func (p *Provider) Get() *Manager {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.manager == nil {
		p.manager = NewManager(p.cfg, p.opts...)
	}
	return p.manager
}

// Built reports whether Get has constructed the Manager.
func (p *Provider) Built() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manager != nil
}

// Close disconnects the Manager if one was built. It does not build one.
func (p *Provider) Close() error {
	p.mu.Lock()
	m := p.manager
	p.mu.Unlock()
	if m != nil {
		m.Disconnect()
	}
	return nil
}
