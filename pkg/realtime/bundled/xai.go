package bundled

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/buzzwordmojo/vox-reactor/pkg/audio"
	"github.com/buzzwordmojo/vox-reactor/pkg/audioio"
	"github.com/buzzwordmojo/vox-reactor/pkg/realtime"
)

const (
	xaiRealtimeURL = "wss://api.x.ai/v1/realtime"
	xaiModel       = "grok-2-voice"

	// xaiFrameSamples is the number of 24kHz samples per append event.
	xaiFrameSamples = 4096

	xaiKeepAlive    = 30 * time.Second
	xaiReadTimeout  = 120 * time.Second
	xaiWriteTimeout = 10 * time.Second
)

// xaiSubprotocols carries the token in the handshake, the only
// credential slot available to browser clients.
func xaiSubprotocols(token string) []string {
	return []string{"realtime", "openai-insecure-api-key." + token}
}

// xaiSession builds the session.update payload for xAI.
func xaiSession(cfg realtime.SessionConfig) map[string]any {
	s := cfg.BaseSession()
	s["modalities"] = []string{"audio", "text"}
	s["input_audio_format"] = "pcm16"
	s["output_audio_format"] = "pcm16"
	return s
}

// XAI is the WebSocket transport. Assistant audio arrives as
// response.audio.delta events and is left to the event handler.
type XAI struct {
	opts   options
	logger *slog.Logger

	mu        sync.RWMutex
	ws        *websocket.Conn
	source    audioio.Source
	handler   realtime.EventHandler
	connected bool
	cancel    context.CancelFunc

	writeMu sync.Mutex
	muted   atomic.Bool
	wg      sync.WaitGroup
}

// NewXAI creates an unconnected xAI transport.
func NewXAI(opts ...Option) *XAI {
	o := buildOptions(opts)
	return &XAI{
		opts:   o,
		logger: o.logger.With("component", "realtime.xai"),
	}
}

// Name implements realtime.Transport.
func (x *XAI) Name() realtime.ProviderName {
	return realtime.ProviderXAI
}

func (x *XAI) url() string {
	if x.opts.endpoint != "" {
		return x.opts.endpoint
	}
	return fmt.Sprintf("%s?model=%s", xaiRealtimeURL, xaiModel)
}

// Connect implements realtime.Transport.
func (x *XAI) Connect(ctx context.Context, token string, cfg realtime.SessionConfig) (err error) {
	cfg = cfg.WithDefaults(realtime.VoiceXAIDefault)
	if err := cfg.Validate(); err != nil {
		return realtime.NewConnectError(realtime.ProviderXAI, realtime.StageSession, err)
	}

	x.Disconnect()
	defer func() {
		if err != nil {
			x.Disconnect()
		}
	}()

	life, cancel := context.WithCancel(context.Background())
	x.mu.Lock()
	x.cancel = cancel
	x.mu.Unlock()
	hctx, stop := handshakeContext(ctx, life)
	defer stop()

	src, err := x.opts.openSource(audioio.RateRealtime)
	if err != nil {
		return realtime.NewConnectError(realtime.ProviderXAI, realtime.StageMedia, err)
	}
	if err := adopt(&x.mu, life, func() { x.source = src }); err != nil {
		_ = src.Close()
		return realtime.NewConnectError(realtime.ProviderXAI, realtime.StageMedia, err)
	}
	if err := src.Start(life); err != nil {
		return realtime.NewConnectError(realtime.ProviderXAI, realtime.StageMedia, closedOr(life, err))
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if x.opts.dialer != nil {
		dialer = *x.opts.dialer
	}
	dialer.Subprotocols = xaiSubprotocols(token)

	ws, _, err := dialer.DialContext(hctx, x.url(), nil)
	if err != nil {
		return realtime.NewConnectError(realtime.ProviderXAI, realtime.StageDial, closedOr(life, err))
	}
	if err := adopt(&x.mu, life, func() { x.ws = ws }); err != nil {
		_ = ws.Close()
		return realtime.NewConnectError(realtime.ProviderXAI, realtime.StageDial, err)
	}

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(xaiReadTimeout))
	})
	_ = ws.SetReadDeadline(time.Now().Add(xaiReadTimeout))

	if err := x.write(ws, realtime.SessionUpdate(xaiSession(cfg))); err != nil {
		return realtime.NewConnectError(realtime.ProviderXAI, realtime.StageSession, closedOr(life, err))
	}

	err = adopt(&x.mu, life, func() {
		x.connected = true
		x.wg.Add(2)
	})
	if err != nil {
		return realtime.NewConnectError(realtime.ProviderXAI, realtime.StageSession, err)
	}

	go x.readLoop(life, ws)
	go x.captureLoop(life, src)
	go x.keepAlive(life, ws)

	x.logger.Info("connected", "voice", cfg.Voice, "tools", len(cfg.Tools))
	return nil
}

// write sends v as one text frame.
func (x *XAI) write(ws *websocket.Conn, v any) error {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(xaiWriteTimeout))
	return ws.WriteJSON(v)
}

// readLoop delivers server events in order until the socket closes.
func (x *XAI) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				x.logger.Warn("websocket closed", "error", err)
			}
			x.mu.Lock()
			if x.ws == ws {
				x.connected = false
			}
			x.mu.Unlock()
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(xaiReadTimeout))

		ev, err := realtime.ParseEvent(data)
		if err != nil {
			x.logger.Debug("dropping unparseable event", "error", err)
			continue
		}

		x.mu.RLock()
		handler := x.handler
		x.mu.RUnlock()
		if handler != nil {
			handler(ctx, ev)
		}
	}
}

// captureLoop groups microphone samples into fixed frames and sends each
// as an append event.
func (x *XAI) captureLoop(ctx context.Context, src audioio.Source) {
	defer x.wg.Done()

	frame := make([]int16, 0, xaiFrameSamples)
	stream := src.Stream()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			samples := monoAt(chunk, audioio.RateRealtime)
			for len(samples) > 0 {
				n := min(xaiFrameSamples-len(frame), len(samples))
				frame = append(frame, samples[:n]...)
				samples = samples[n:]
				if len(frame) == xaiFrameSamples {
					x.sendFrame(frame)
					frame = frame[:0]
				}
			}
		}
	}
}

func (x *XAI) sendFrame(frame []int16) {
	pcm := frame
	if x.muted.Load() {
		pcm = make([]int16, len(frame))
	}
	if err := x.SendEvent(realtime.AudioAppend(audio.EncodeInt16(pcm))); err != nil {
		x.logger.Debug("audio append failed", "error", err)
	}
}

// keepAlive pings the server so idle sessions survive proxies.
func (x *XAI) keepAlive(ctx context.Context, ws *websocket.Conn) {
	defer x.wg.Done()

	ticker := time.NewTicker(xaiKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			x.writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(xaiWriteTimeout))
			x.writeMu.Unlock()
			if err != nil {
				x.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// Disconnect implements realtime.Transport. Capture stops first, then the
// socket closes, then the microphone is released. A Connect in progress
// fails with realtime.ErrClosed.
func (x *XAI) Disconnect() {
	x.mu.Lock()
	ws, src, cancel := x.ws, x.source, x.cancel
	x.ws, x.source, x.cancel = nil, nil, nil
	wasConnected := x.connected
	x.connected = false
	if cancel != nil {
		cancel()
	}
	x.mu.Unlock()

	if ws != nil {
		x.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			x.logger.Debug("close frame failed", "error", err)
		}
		x.writeMu.Unlock()
		if err := ws.Close(); err != nil {
			x.logger.Debug("socket close failed", "error", err)
		}
	}

	x.wg.Wait()

	if src != nil {
		if err := src.Stop(); err != nil {
			x.logger.Debug("source stop failed", "error", err)
		}
		if err := src.Close(); err != nil {
			x.logger.Debug("source close failed", "error", err)
		}
	}

	if wasConnected {
		x.logger.Info("disconnected")
	}
}

// SendEvent implements realtime.Transport.
func (x *XAI) SendEvent(ev realtime.Event) error {
	x.mu.RLock()
	ws, open := x.ws, x.connected
	x.mu.RUnlock()
	if ws == nil || !open {
		return nil
	}
	return x.write(ws, ev)
}

// OnEvent implements realtime.Transport.
func (x *XAI) OnEvent(fn realtime.EventHandler) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.handler = fn
}

// IsConnected implements realtime.Transport.
func (x *XAI) IsConnected() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.connected
}

// SetMicMuted implements realtime.Transport.
func (x *XAI) SetMicMuted(muted bool) {
	x.muted.Store(muted)
}
