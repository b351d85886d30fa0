package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testTokens = StaticTokens(map[ProviderName]string{
	ProviderOpenAI: "sk-openai",
	ProviderXAI:    "xai-key",
})

func newTestManager(auto bool, openai, xai *Mock) *Manager {
	return NewManager(ManagerConfig{
		Default:      ProviderOpenAI,
		AutoFallback: auto,
		Factories: map[ProviderName]Factory{
			ProviderOpenAI: openai.Factory(),
			ProviderXAI:    xai.Factory(),
		},
	})
}

func failWith(err error) func(context.Context, string, SessionConfig) error {
	return func(context.Context, string, SessionConfig) error { return err }
}

func TestManagerConnectPrimary(t *testing.T) {
	openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
	m := newTestManager(true, openai, xai)

	assert.Equal(t, ProviderOpenAI, m.Provider())

	tr, err := m.Connect(context.Background(), testTokens, SessionConfig{Instructions: "hi"})
	require.NoError(t, err)
	assert.Same(t, openai, tr)
	assert.Equal(t, ProviderOpenAI, m.Provider())
	assert.True(t, m.IsConnected())
	assert.Equal(t, "sk-openai", openai.Token)
	assert.Equal(t, "hi", openai.Config.Instructions)
	assert.Zero(t, xai.ConnectCalls)
}

func TestManagerFallback(t *testing.T) {
	openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
	openai.ConnectFunc = failWith(NewConnectError(ProviderOpenAI, StageSignaling, errors.New("503")))
	m := newTestManager(true, openai, xai)

	tr, err := m.Connect(context.Background(), testTokens, SessionConfig{})
	require.NoError(t, err)
	assert.Same(t, xai, tr)
	assert.Equal(t, ProviderXAI, m.Provider())
	assert.Equal(t, "xai-key", xai.Token)
	assert.Equal(t, 1, openai.DisconnectCalls, "failed primary is torn down")
}

func TestManagerBothFail(t *testing.T) {
	openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
	errA := errors.New("openai down")
	errB := errors.New("xai down")
	openai.ConnectFunc = failWith(errA)
	xai.ConnectFunc = failWith(errB)
	m := newTestManager(true, openai, xai)

	tr, err := m.Connect(context.Background(), testTokens, SessionConfig{})
	require.Error(t, err)
	assert.Nil(t, tr)
	assert.Nil(t, m.Active())

	msg := err.Error()
	assert.Contains(t, msg, "both providers failed")
	assert.Contains(t, msg, "primary (openai): openai down")
	assert.Contains(t, msg, "fallback (xai): xai down")

	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	var fe *FallbackError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ProviderOpenAI, fe.Primary)
	assert.Equal(t, ProviderXAI, fe.Fallback)
	assert.True(t, IsConnectFailure(err))
}

func TestManagerNoFallback(t *testing.T) {
	openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
	orig := NewConnectError(ProviderOpenAI, StageDataChannel, errors.New("timeout"))
	openai.ConnectFunc = failWith(orig)
	m := newTestManager(false, openai, xai)

	_, err := m.Connect(context.Background(), testTokens, SessionConfig{})
	assert.Same(t, orig, err, "original error is returned unchanged")
	assert.Zero(t, xai.ConnectCalls)
}

func TestManagerFallbackFromXAI(t *testing.T) {
	openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
	xai.ConnectFunc = failWith(errors.New("down"))
	m := NewManager(ManagerConfig{
		Default:      ProviderXAI,
		AutoFallback: true,
		Factories: map[ProviderName]Factory{
			ProviderOpenAI: openai.Factory(),
			ProviderXAI:    xai.Factory(),
		},
	})

	tr, err := m.Connect(context.Background(), testTokens, SessionConfig{})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, tr.Name())
}

func TestManagerTokenErrors(t *testing.T) {
	t.Run("token func error", func(t *testing.T) {
		openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
		m := newTestManager(false, openai, xai)

		boom := errors.New("token endpoint down")
		_, err := m.Connect(context.Background(), func(context.Context, ProviderName) (*oauth2.Token, error) {
			return nil, boom
		}, SessionConfig{})

		var ce *ConnectError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, StageToken, ce.Stage)
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, openai.ConnectCalls)
	})

	t.Run("expired token", func(t *testing.T) {
		openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
		m := newTestManager(false, openai, xai)

		_, err := m.Connect(context.Background(), func(context.Context, ProviderName) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}, nil
		}, SessionConfig{})
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing static key falls back", func(t *testing.T) {
		openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
		m := newTestManager(true, openai, xai)

		tr, err := m.Connect(context.Background(), StaticTokens(map[ProviderName]string{ProviderXAI: "k"}), SessionConfig{})
		require.NoError(t, err)
		assert.Equal(t, ProviderXAI, tr.Name())
	})
}

func TestManagerCancelledContextSkipsFallback(t *testing.T) {
	openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
	ctx, cancel := context.WithCancel(context.Background())
	openai.ConnectFunc = func(context.Context, string, SessionConfig) error {
		cancel()
		return context.Canceled
	}
	m := newTestManager(true, openai, xai)

	_, err := m.Connect(ctx, testTokens, SessionConfig{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, xai.ConnectCalls)
}

func TestManagerUnregisteredProvider(t *testing.T) {
	m := NewManager(ManagerConfig{Default: "nope", Factories: map[ProviderName]Factory{}})
	_, err := m.Connect(context.Background(), testTokens, SessionConfig{})
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestManagerDisconnectIdempotent(t *testing.T) {
	openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
	m := newTestManager(true, openai, xai)

	m.Disconnect()

	_, err := m.Connect(context.Background(), testTokens, SessionConfig{})
	require.NoError(t, err)

	m.Disconnect()
	m.Disconnect()

	assert.Equal(t, 1, openai.DisconnectCalls)
	assert.False(t, m.IsConnected())
	assert.Nil(t, m.Active())
	assert.ErrorIs(t, m.SendEvent(ResponseCreate()), ErrNotConnected)
}

func TestManagerReconnectReplacesActive(t *testing.T) {
	openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
	m := newTestManager(true, openai, xai)

	_, err := m.Connect(context.Background(), testTokens, SessionConfig{})
	require.NoError(t, err)
	_, err = m.Connect(context.Background(), testTokens, SessionConfig{})
	require.NoError(t, err)

	assert.Equal(t, 2, openai.ConnectCalls)
	assert.Equal(t, 1, openai.DisconnectCalls)
}

func TestManagerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("vox", reg)

	openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
	openai.ConnectFunc = failWith(errors.New("down"))
	m := NewManager(ManagerConfig{
		Default:      ProviderOpenAI,
		AutoFallback: true,
		Metrics:      metrics,
		Factories: map[ProviderName]Factory{
			ProviderOpenAI: openai.Factory(),
			ProviderXAI:    xai.Factory(),
		},
	})

	_, err := m.Connect(context.Background(), testTokens, SessionConfig{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connectAttempts.WithLabelValues("openai", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connectAttempts.WithLabelValues("xai", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.fallbacks.WithLabelValues("openai", "xai")))
}

func TestRegistry(t *testing.T) {
	mock := NewMock("test-registry")
	Register("test-registry", mock.Factory())

	f, ok := Lookup("test-registry")
	require.True(t, ok)
	tr, err := f()
	require.NoError(t, err)
	assert.Same(t, mock, tr)
	assert.Contains(t, Providers(), ProviderName("test-registry"))

	_, ok = Lookup("missing")
	assert.False(t, ok)
}

func TestManagerInstallsHandlerBeforeConnect(t *testing.T) {
	openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
	var got []string
	openai.ConnectFunc = func(context.Context, string, SessionConfig) error {
		// Events sent during the handshake reach the handler.
		openai.Simulate(Event{"type": "session.created"})
		return nil
	}

	m := NewManager(ManagerConfig{
		Factories: map[ProviderName]Factory{
			ProviderOpenAI: openai.Factory(),
			ProviderXAI:    xai.Factory(),
		},
		OnEvent: func(_ context.Context, ev Event) { got = append(got, ev.Type()) },
	})

	_, err := m.Connect(context.Background(), testTokens, SessionConfig{})
	require.NoError(t, err)
	openai.Simulate(Event{"type": "response.done"})
	assert.Equal(t, []string{"session.created", "response.done"}, got)
}

// blockUntil returns a connect func that signals entered and then waits for
// release, ignoring ctx like a transport stuck in a handshake stage.
func blockUntil(entered chan<- struct{}, release <-chan struct{}) func(context.Context, string, SessionConfig) error {
	return func(context.Context, string, SessionConfig) error {
		close(entered)
		<-release
		return nil
	}
}

func TestManagerDisconnectDuringConnect(t *testing.T) {
	openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
	entered, release := make(chan struct{}), make(chan struct{})
	openai.ConnectFunc = blockUntil(entered, release)
	m := newTestManager(true, openai, xai)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background(), testTokens, SessionConfig{})
		errc <- err
	}()

	<-entered
	m.Disconnect()
	close(release)

	err := <-errc
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, m.Active())
	assert.False(t, m.IsConnected())
	assert.False(t, openai.IsConnected(), "late transport is torn down")
	assert.Zero(t, xai.ConnectCalls, "an aborted connect does not fall back")
}

func TestManagerDisconnectCancelsHandshake(t *testing.T) {
	openai, xai := NewMock(ProviderOpenAI), NewMock(ProviderXAI)
	entered := make(chan struct{})
	openai.ConnectFunc = func(ctx context.Context, _ string, _ SessionConfig) error {
		close(entered)
		<-ctx.Done()
		return NewConnectError(ProviderOpenAI, StageSignaling, ctx.Err())
	}
	m := newTestManager(true, openai, xai)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background(), testTokens, SessionConfig{})
		errc <- err
	}()

	<-entered
	m.Disconnect()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not observe disconnect")
	}
	assert.Nil(t, m.Active())
	assert.Zero(t, xai.ConnectCalls)
}
