package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Default is the provider tried first. Default: openai.
	Default ProviderName

	// AutoFallback tries the other provider when the default fails.
	AutoFallback bool

	// Factories overrides the package registry.
	Factories map[ProviderName]Factory

	// OnEvent, when set, is installed on every transport before it
	// connects so no server event is missed.
	OnEvent EventHandler

	Logger  *slog.Logger
	Metrics *Metrics
}

// Manager owns at most one active transport and performs failover between
// providers. Connect calls must not overlap. Disconnect may be called at
// any time and aborts a Connect in progress.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu      sync.RWMutex
	active  Transport
	current ProviderName
	gen     uint64
	cancel  context.CancelFunc
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Default == "" {
		cfg.Default = ProviderOpenAI
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger.With("component", "realtime.manager"),
		current: cfg.Default,
	}
}

// Provider returns the current provider: the active one after a
// successful connect, otherwise the configured default.
func (m *Manager) Provider() ProviderName {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Active returns the active transport, or nil.
func (m *Manager) Active() Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// IsConnected reports whether the active transport is open.
func (m *Manager) IsConnected() bool {
	t := m.Active()
	return t != nil && t.IsConnected()
}

// SendEvent forwards ev to the active transport.
func (m *Manager) SendEvent(ev Event) error {
	t := m.Active()
	if t == nil {
		return ErrNotConnected
	}
	return t.SendEvent(ev)
}

// Connect opens a session with the default provider, falling back to the
// other provider when enabled. Any previously active transport is closed
// first.
func (m *Manager) Connect(ctx context.Context, tokens TokenFunc, cfg SessionConfig) (Transport, error) {
	m.Disconnect()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	gen := m.gen
	m.cancel = cancel
	m.mu.Unlock()

	primary := m.cfg.Default
	t, err := m.attempt(ctx, primary, tokens, cfg)
	if err == nil {
		return m.install(ctx, gen, primary, t)
	}
	if m.aborted(gen) {
		return nil, fmt.Errorf("realtime: connect %s: %w", primary, ErrClosed)
	}

	if !m.cfg.AutoFallback {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, err
	}

	fallback := primary.Other()
	m.logger.Warn("primary provider failed, trying fallback",
		"primary", primary,
		"fallback", fallback,
		"error", err,
	)
	m.cfg.Metrics.fallback(primary, fallback)

	ft, ferr := m.attempt(ctx, fallback, tokens, cfg)
	if ferr != nil {
		if m.aborted(gen) {
			return nil, fmt.Errorf("realtime: connect %s: %w", fallback, ErrClosed)
		}
		return nil, &FallbackError{
			Primary:     primary,
			PrimaryErr:  err,
			Fallback:    fallback,
			FallbackErr: ferr,
		}
	}

	m.logger.Info("fallback provider connected", "provider", fallback)
	return m.install(ctx, gen, fallback, ft)
}

// install makes t active unless Disconnect ran or ctx ended since the
// attempt began, in which case t is torn down.
func (m *Manager) install(ctx context.Context, gen uint64, name ProviderName, t Transport) (Transport, error) {
	m.mu.Lock()
	if m.gen != gen || ctx.Err() != nil {
		cause := ErrClosed
		if m.gen == gen {
			cause = ctx.Err()
		}
		m.mu.Unlock()
		t.Disconnect()
		m.logger.Info("connect abandoned", "provider", name, "reason", cause)
		return nil, fmt.Errorf("realtime: connect %s: %w", name, cause)
	}
	m.active = t
	m.current = name
	m.cancel = nil
	m.mu.Unlock()
	return t, nil
}

func (m *Manager) aborted(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen != gen
}

func (m *Manager) factory(name ProviderName) (Factory, error) {
	if f, ok := m.cfg.Factories[name]; ok {
		return f, nil
	}
	if f, ok := Lookup(name); ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoTransport, name)
}

// attempt runs one full connection attempt. A transport that fails to
// connect is torn down before returning.
func (m *Manager) attempt(ctx context.Context, name ProviderName, tokens TokenFunc, cfg SessionConfig) (Transport, error) {
	start := time.Now()

	f, err := m.factory(name)
	if err != nil {
		return nil, err
	}
	t, err := f()
	if err != nil {
		return nil, fmt.Errorf("realtime: create %s transport: %w", name, err)
	}

	tok, err := tokens(ctx, name)
	if err != nil {
		m.cfg.Metrics.connect(name, err, 0)
		return nil, NewConnectError(name, StageToken, err)
	}
	if !tok.Valid() {
		m.cfg.Metrics.connect(name, ErrInvalidToken, 0)
		return nil, NewConnectError(name, StageToken, ErrInvalidToken)
	}

	if m.cfg.OnEvent != nil {
		t.OnEvent(m.cfg.OnEvent)
	}
	m.logger.Info("connecting", "provider", name)
	if err := t.Connect(ctx, tok.AccessToken, cfg); err != nil {
		t.Disconnect()
		m.cfg.Metrics.connect(name, err, 0)
		m.logger.Warn("connect failed", "provider", name, "error", err)
		return nil, err
	}

	elapsed := time.Since(start)
	m.cfg.Metrics.connect(name, nil, elapsed)
	m.logger.Info("connected", "provider", name, "duration", elapsed)
	return t, nil
}

// Disconnect tears down the active transport and aborts a pending
// Connect. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	t, cancel := m.active, m.cancel
	m.active, m.cancel = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if t != nil {
		t.Disconnect()
		m.logger.Info("disconnected", "provider", t.Name())
	}
}
