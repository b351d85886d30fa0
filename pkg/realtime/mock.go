package realtime

import (
	"context"
	"sync"
)

// Mock is a Transport for testing.
type Mock struct {
	mu sync.RWMutex

	name      ProviderName
	connected bool
	muted     bool
	handler   EventHandler
	ctx       context.Context
	cancel    context.CancelFunc

	// Configurable behavior
	ConnectFunc   func(ctx context.Context, token string, cfg SessionConfig) error
	SendEventFunc func(ev Event) error

	// Captured calls for assertions
	Token           string
	Config          *SessionConfig
	Sent            []Event
	ConnectCalls    int
	DisconnectCalls int
}

// NewMock creates a mock transport reporting name.
func NewMock(name ProviderName) *Mock {
	return &Mock{name: name}
}

// Factory returns a Factory that always yields m.
func (m *Mock) Factory() Factory {
	return func() (Transport, error) { return m, nil }
}

// Name implements Transport.
func (m *Mock) Name() ProviderName {
	return m.name
}

// Connect implements Transport.
func (m *Mock) Connect(ctx context.Context, token string, cfg SessionConfig) error {
	m.mu.Lock()
	m.ConnectCalls++
	m.Token = token
	m.Config = &cfg
	fn := m.ConnectFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, token, cfg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.connected = true
	return nil
}

// Disconnect implements Transport.
func (m *Mock) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisconnectCalls++
	m.connected = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// SendEvent implements Transport.
func (m *Mock) SendEvent(ev Event) error {
	if m.SendEventFunc != nil {
		return m.SendEventFunc(ev)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	m.Sent = append(m.Sent, ev)
	return nil
}

// OnEvent implements Transport.
func (m *Mock) OnEvent(fn EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// IsConnected implements Transport.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// SetMicMuted implements Transport.
func (m *Mock) SetMicMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
}

// Test helpers

// Muted reports the last SetMicMuted value.
func (m *Mock) Muted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.muted
}

// SentTypes returns the types of sent events in order.
func (m *Mock) SentTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.Sent))
	for i, ev := range m.Sent {
		out[i] = ev.Type()
	}
	return out
}

// Simulate delivers ev to the registered handler as a server event.
func (m *Mock) Simulate(ev Event) {
	m.mu.RLock()
	fn := m.handler
	ctx := m.ctx
	m.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if fn != nil {
		fn(ctx, ev)
	}
}
