package bundled

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/buzzwordmojo/vox-reactor/internal/httpc"
	"github.com/buzzwordmojo/vox-reactor/pkg/audioio"
	"github.com/buzzwordmojo/vox-reactor/pkg/realtime"
)

const (
	openAIRealtimeURL = "https://api.openai.com/v1/realtime"
	openAIModel       = "gpt-4o-realtime-preview-2024-12-17"

	dataChannelLabel = "oai-events"

	opusFrameDuration = 20 * time.Millisecond
	opusFrameSamples  = audioio.RateOpus / 50 // 20ms at 48kHz
	maxOpusPacket     = 1500
	maxDecodedSamples = 5760 // 120ms at 48kHz
)

// openAISession builds the session.update payload for OpenAI.
func openAISession(cfg realtime.SessionConfig) map[string]any {
	s := cfg.BaseSession()
	s["modalities"] = []string{"audio", "text"}
	if td, ok := s["turn_detection"].(map[string]any); ok {
		td["prefix_padding_ms"] = realtime.DefaultPrefixPaddingMs
	}
	return s
}

// OpenAI is the WebRTC transport. Microphone audio is Opus encoded onto a
// local track; assistant audio is decoded from the remote track and
// written to a sink; events travel over a data channel.
type OpenAI struct {
	opts   options
	logger *slog.Logger

	mu        sync.RWMutex
	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	source    audioio.Source
	sink      audioio.Sink
	handler   realtime.EventHandler
	connected bool
	cancel    context.CancelFunc

	muted atomic.Bool
	wg    sync.WaitGroup
}

// NewOpenAI creates an unconnected OpenAI transport.
func NewOpenAI(opts ...Option) *OpenAI {
	o := buildOptions(opts)
	return &OpenAI{
		opts:   o,
		logger: o.logger.With("component", "realtime.openai"),
	}
}

// Name implements realtime.Transport.
func (t *OpenAI) Name() realtime.ProviderName {
	return realtime.ProviderOpenAI
}

func (t *OpenAI) url() string {
	if t.opts.endpoint != "" {
		return t.opts.endpoint
	}
	return fmt.Sprintf("%s?model=%s", openAIRealtimeURL, openAIModel)
}

func (t *OpenAI) fail(stage string, err error) error {
	return realtime.NewConnectError(realtime.ProviderOpenAI, stage, err)
}

// newAPI builds a pion API with the default codecs and interceptors.
func (t *OpenAI) newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, err
	}
	apiOpts := []func(*webrtc.API){webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)}
	if t.opts.settings != nil {
		apiOpts = append(apiOpts, webrtc.WithSettingEngine(*t.opts.settings))
	}
	return webrtc.NewAPI(apiOpts...), nil
}

// Connect implements realtime.Transport. It returns once the data channel
// is open and session.update has been sent.
func (t *OpenAI) Connect(ctx context.Context, token string, cfg realtime.SessionConfig) (err error) {
	cfg = cfg.WithDefaults(realtime.VoiceOpenAIDefault)
	if err := cfg.Validate(); err != nil {
		return t.fail(realtime.StageSession, err)
	}

	t.Disconnect()
	defer func() {
		if err != nil {
			t.Disconnect()
		}
	}()

	life, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	ctx, stop := handshakeContext(ctx, life)
	defer stop()

	// Media.
	codec, err := t.opts.newCodec(audioio.RateOpus, 1)
	if err != nil {
		return t.fail(realtime.StageMedia, err)
	}
	src, err := t.opts.openSource(audioio.RateOpus)
	if err != nil {
		return t.fail(realtime.StageMedia, err)
	}
	if err := adopt(&t.mu, life, func() { t.source = src }); err != nil {
		_ = src.Close()
		return t.fail(realtime.StageMedia, err)
	}
	if err := src.Start(life); err != nil {
		return t.fail(realtime.StageMedia, closedOr(life, err))
	}

	sinkCfg := t.opts.audio.WithSampleRate(audioio.RateOpus)
	sinkCfg.Channels = 1
	sink, err := t.opts.newSink(sinkCfg, t.opts.logger)
	if err != nil {
		return t.fail(realtime.StageMedia, err)
	}
	if err := adopt(&t.mu, life, func() { t.sink = sink }); err != nil {
		_ = sink.Close()
		return t.fail(realtime.StageMedia, err)
	}
	if err := sink.Start(life); err != nil {
		return t.fail(realtime.StageMedia, closedOr(life, err))
	}

	// Peer connection.
	api, err := t.newAPI()
	if err != nil {
		return t.fail(realtime.StageSignaling, err)
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: t.opts.iceServers})
	if err != nil {
		return t.fail(realtime.StageSignaling, err)
	}
	if err := adopt(&t.mu, life, func() { t.pc = pc }); err != nil {
		_ = pc.Close()
		return t.fail(realtime.StageSignaling, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audioio.RateOpus, Channels: 2},
		"audio", "vox-reactor",
	)
	if err != nil {
		return t.fail(realtime.StageMedia, err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return t.fail(realtime.StageMedia, err)
	}
	go drainRTCP(sender)

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		t.logger.Debug("remote track", "codec", remote.Codec().MimeType)
		go t.playRemote(life, remote, codec, sink)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug("peer connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			t.mu.Lock()
			if t.pc == pc {
				t.connected = false
			}
			t.mu.Unlock()
		}
	})

	// Data channel.
	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return t.fail(realtime.StageDataChannel, err)
	}
	if err := adopt(&t.mu, life, func() { t.dc = dc }); err != nil {
		return t.fail(realtime.StageDataChannel, err)
	}

	opened := make(chan error, 1)
	update := realtime.SessionUpdate(openAISession(cfg))
	dc.OnOpen(func() {
		err := sendJSON(dc, update)
		select {
		case opened <- err:
		default:
		}
	})
	dc.OnError(func(err error) {
		select {
		case opened <- err:
		default:
		}
	})
	dc.OnClose(func() {
		t.mu.Lock()
		if t.dc == dc {
			t.connected = false
		}
		t.mu.Unlock()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ev, err := realtime.ParseEvent(msg.Data)
		if err != nil {
			t.logger.Debug("dropping unparseable event", "error", err)
			return
		}
		t.mu.RLock()
		handler := t.handler
		t.mu.RUnlock()
		if handler != nil {
			handler(life, ev)
		}
	})

	// Signalling.
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return t.fail(realtime.StageSignaling, err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return t.fail(realtime.StageSignaling, err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return t.fail(realtime.StageSignaling, closedOr(life, ctx.Err()))
	}

	answer, err := httpc.Post(ctx, t.opts.httpClient, t.url(), "application/sdp",
		[]byte(pc.LocalDescription().SDP),
		http.Header{"Authorization": {"Bearer " + token}},
	)
	if err != nil {
		return t.fail(realtime.StageSignaling, closedOr(life, err))
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  string(answer),
	}); err != nil {
		return t.fail(realtime.StageSignaling, err)
	}

	timer := time.NewTimer(t.opts.openTimeout)
	defer timer.Stop()
	select {
	case err := <-opened:
		if err != nil {
			return t.fail(realtime.StageDataChannel, err)
		}
	case <-timer.C:
		return t.fail(realtime.StageDataChannel, fmt.Errorf("timed out after %v", t.opts.openTimeout))
	case <-ctx.Done():
		return t.fail(realtime.StageDataChannel, closedOr(life, ctx.Err()))
	}

	err = adopt(&t.mu, life, func() {
		t.connected = true
		t.wg.Add(1)
	})
	if err != nil {
		return t.fail(realtime.StageDataChannel, err)
	}

	go t.captureLoop(life, src, track, codec)

	t.logger.Info("connected", "voice", cfg.Voice, "tools", len(cfg.Tools))
	return nil
}

func sendJSON(dc *webrtc.DataChannel, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return dc.SendText(string(data))
}

// drainRTCP reads sender reports so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, maxOpusPacket)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// captureLoop encodes microphone audio into 20ms Opus samples.
func (t *OpenAI) captureLoop(ctx context.Context, src audioio.Source, track *webrtc.TrackLocalStaticSample, codec opusCodec) {
	defer t.wg.Done()

	frame := make([]int16, 0, opusFrameSamples)
	silence := make([]int16, opusFrameSamples)
	packet := make([]byte, maxOpusPacket)
	stream := src.Stream()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			samples := monoAt(chunk, audioio.RateOpus)
			for len(samples) > 0 {
				n := min(opusFrameSamples-len(frame), len(samples))
				frame = append(frame, samples[:n]...)
				samples = samples[n:]
				if len(frame) < opusFrameSamples {
					continue
				}
				pcm := frame
				if t.muted.Load() {
					pcm = silence
				}
				size, err := codec.Encode(pcm, packet)
				frame = frame[:0]
				if err != nil {
					t.logger.Debug("opus encode failed", "error", err)
					continue
				}
				data := make([]byte, size)
				copy(data, packet[:size])
				if err := track.WriteSample(media.Sample{Data: data, Duration: opusFrameDuration}); err != nil {
					t.logger.Debug("write sample failed", "error", err)
				}
			}
		}
	}
}

// playRemote decodes assistant audio until the track ends.
func (t *OpenAI) playRemote(ctx context.Context, remote *webrtc.TrackRemote, codec opusCodec, sink audioio.Sink) {
	pcm := make([]int16, maxDecodedSamples)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		t.playPacket(ctx, pkt, codec, sink, pcm)
	}
}

func (t *OpenAI) playPacket(ctx context.Context, pkt *rtp.Packet, codec opusCodec, sink audioio.Sink, pcm []int16) {
	if len(pkt.Payload) == 0 {
		return
	}
	n, err := codec.Decode(pkt.Payload, pcm)
	if err != nil {
		t.logger.Debug("opus decode failed", "error", err, "seq", pkt.SequenceNumber)
		return
	}
	samples := make([]int16, n)
	copy(samples, pcm[:n])
	chunk := audioio.AudioChunk{Samples: samples, SampleRate: audioio.RateOpus, Channels: 1}
	if err := sink.Write(ctx, chunk); err != nil && ctx.Err() == nil {
		t.logger.Debug("sink write failed", "error", err)
	}
}

// Disconnect implements realtime.Transport. Resources are released in
// order: data channel, peer connection, sink, microphone. A Connect in
// progress fails with realtime.ErrClosed.
func (t *OpenAI) Disconnect() {
	t.mu.Lock()
	dc, pc, sink, src, cancel := t.dc, t.pc, t.sink, t.source, t.cancel
	t.dc, t.pc, t.sink, t.source, t.cancel = nil, nil, nil, nil, nil
	wasConnected := t.connected
	t.connected = false
	if cancel != nil {
		cancel()
	}
	t.mu.Unlock()
	t.wg.Wait()

	if dc != nil {
		if err := dc.Close(); err != nil {
			t.logger.Debug("data channel close failed", "error", err)
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			t.logger.Debug("peer connection close failed", "error", err)
		}
	}
	if sink != nil {
		if err := sink.Stop(); err != nil {
			t.logger.Debug("sink stop failed", "error", err)
		}
		if err := sink.Close(); err != nil {
			t.logger.Debug("sink close failed", "error", err)
		}
	}
	if src != nil {
		if err := src.Stop(); err != nil {
			t.logger.Debug("source stop failed", "error", err)
		}
		if err := src.Close(); err != nil {
			t.logger.Debug("source close failed", "error", err)
		}
	}

	if wasConnected {
		t.logger.Info("disconnected")
	}
}

// SendEvent implements realtime.Transport.
func (t *OpenAI) SendEvent(ev realtime.Event) error {
	t.mu.RLock()
	dc := t.dc
	t.mu.RUnlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	return sendJSON(dc, ev)
}

// OnEvent implements realtime.Transport.
func (t *OpenAI) OnEvent(fn realtime.EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

// IsConnected implements realtime.Transport.
func (t *OpenAI) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetMicMuted implements realtime.Transport. Muted frames are encoded
// silence so the track keeps its timing.
func (t *OpenAI) SetMicMuted(muted bool) {
	t.muted.Store(muted)
}
