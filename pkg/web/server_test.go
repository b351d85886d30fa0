package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buzzwordmojo/vox-reactor/pkg/conversation"
	"github.com/buzzwordmojo/vox-reactor/pkg/hub"
	"github.com/buzzwordmojo/vox-reactor/pkg/realtime"
	"github.com/buzzwordmojo/vox-reactor/pkg/voice"
)

type fixture struct {
	server  *Server
	session *voice.Session
	openai  *realtime.Mock
	xai     *realtime.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		openai: realtime.NewMock(realtime.ProviderOpenAI),
		xai:    realtime.NewMock(realtime.ProviderXAI),
	}
	reg := prometheus.NewRegistry()
	tokens := realtime.StaticTokens(map[realtime.ProviderName]string{
		realtime.ProviderOpenAI: "sk",
		realtime.ProviderXAI:    "xk",
	})
	session, err := voice.NewSession(voice.DefaultConfig(), tokens,
		voice.WithFactories(map[realtime.ProviderName]realtime.Factory{
			realtime.ProviderOpenAI: f.openai.Factory(),
			realtime.ProviderXAI:    f.xai.Factory(),
		}),
		voice.WithRegisterer(reg),
	)
	require.NoError(t, err)
	f.session = session
	f.server = NewServer(session, WithGatherer(reg))
	t.Cleanup(func() {
		f.server.Close()
		session.Disconnect()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.server.App().Test(req, 5000)
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, voice.StateDisconnected, status.State.Connection)
	assert.Equal(t, realtime.ProviderOpenAI, status.State.Provider)
	assert.Equal(t, 0, status.Clients)
}

func TestConnectAndDisconnect(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/connect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var st voice.State
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, voice.StateConnected, st.Connection)
	assert.True(t, f.openai.IsConnected())

	resp, body = f.do(t, http.MethodPost, "/api/disconnect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, voice.StateDisconnected, st.Connection)
	assert.False(t, f.openai.IsConnected())
}

func TestConnectFailure(t *testing.T) {
	f := newFixture(t)
	fail := func(context.Context, string, realtime.SessionConfig) error { return errors.New("boom") }
	f.openai.ConnectFunc = fail
	f.xai.ConnectFunc = fail

	resp, body := f.do(t, http.MethodPost, "/api/connect", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "both providers failed")
	assert.Equal(t, voice.StateError, f.session.State().Connection)
}

func TestTextAndConversation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/text", `{"text":"hi"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "not connected")

	f.do(t, http.MethodPost, "/api/clear", "")
	f.do(t, http.MethodPost, "/api/connect", "")

	resp, _ = f.do(t, http.MethodPost, "/api/text", `{"text":"  go to settings "}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{realtime.EventItemCreate, realtime.EventResponseCreate}, f.openai.SentTypes())

	resp, body := f.do(t, http.MethodGet, "/api/conversation", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []conversation.Message
	require.NoError(t, json.Unmarshal([]byte(body), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "go to settings", msgs[0].Content)

	resp, _ = f.do(t, http.MethodPost, "/api/clear", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, body = f.do(t, http.MethodGet, "/api/conversation", "")
	assert.JSONEq(t, `[]`, body)
}

func TestTextBadRequest(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/api/text", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInterrupt(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/interrupt", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	f.do(t, http.MethodPost, "/api/connect", "")
	resp, _ = f.do(t, http.MethodPost, "/api/interrupt", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{realtime.EventResponseCancel}, f.openai.SentTypes())
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/connect", "")

	resp, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `vox_session_state{state="connected"} 1`)
	assert.Contains(t, body, `vox_realtime_connect_attempts_total`)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestWebSocketStream(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.server.Serve(ctx, ln)

	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	read := func() hub.Envelope {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var env hub.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		return env
	}

	assert.Equal(t, TypeState, read().Type)
	assert.Equal(t, TypeConversation, read().Type)
	require.Eventually(t, func() bool { return f.server.Hub().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.session.Connect(context.Background()))
	require.NoError(t, f.session.SendText("hello"))
	f.server.Notify("Navigated to /about", conversation.VariantSuccess)

	seen := map[string]bool{}
	for len(seen) < 3 {
		seen[read().Type] = true
	}
	assert.True(t, seen[TypeState])
	assert.True(t, seen[TypeConversation])
	assert.True(t, seen[TypeNotification])
}

// snapshotConn is a hub.Conn that runs onFirstWrite during the first
// snapshot write and records every text frame.
type snapshotConn struct {
	mu           sync.Mutex
	texts        []hub.Envelope
	onFirstWrite func()
	closed       chan struct{}
	once         sync.Once
}

func (c *snapshotConn) SetReadLimit(int64)                {}
func (c *snapshotConn) SetReadDeadline(time.Time) error   { return nil }
func (c *snapshotConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *snapshotConn) SetPongHandler(func(string) error) {}

func (c *snapshotConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *snapshotConn) WriteMessage(kind int, data []byte) error {
	if kind != websocket.TextMessage {
		return nil
	}
	var env hub.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.texts = append(c.texts, env)
	first := len(c.texts) == 1
	c.mu.Unlock()
	if first && c.onFirstWrite != nil {
		c.onFirstWrite()
	}
	return nil
}

func (c *snapshotConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *snapshotConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.texts))
	for i, env := range c.texts {
		out[i] = env.Type
	}
	return out
}

func TestWebSocketUpdateDuringSnapshotIsDelivered(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.server.Hub().Run(ctx)
	require.Eventually(t, f.server.Hub().IsRunning, time.Second, time.Millisecond)

	conn := &snapshotConn{closed: make(chan struct{})}
	conn.onFirstWrite = func() {
		f.server.Notify("Navigated to /about", conversation.VariantSuccess)
	}
	t.Cleanup(func() { conn.Close() })

	go f.server.serveWS(conn)

	require.Eventually(t, func() bool { return len(conn.types()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{TypeState, TypeConversation, TypeNotification}, conn.types())
}
