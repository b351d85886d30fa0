// Package bundled provides the built-in realtime transports and registers
// them with the realtime package on import.
//
//   - openai: WebRTC peer connection with an Opus microphone track, remote
//     audio played to a sink and events on the "oai-events" data channel.
//   - xai: WebSocket carrying JSON events, microphone audio sent as base64
//     PCM16 in input_audio_buffer.append events.
//
// The registered factories use the platform's default audio devices. Use
// OpenAIFactory or XAIFactory with options to pick devices or tap the
// microphone.
package bundled

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/buzzwordmojo/vox-reactor/pkg/audioio"
	"github.com/buzzwordmojo/vox-reactor/pkg/realtime"
)

// DefaultOpenTimeout bounds the wait for the event channel to open once
// signalling is done.
const DefaultOpenTimeout = 15 * time.Second

// SourceFunc opens a microphone.
type SourceFunc func(cfg audioio.Config, logger *slog.Logger) (audioio.Source, error)

// SinkFunc opens a speaker.
type SinkFunc func(cfg audioio.Config, logger *slog.Logger) (audioio.Sink, error)

// Option configures a bundled transport.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	audio       audioio.Config
	newSource   SourceFunc
	newSink     SinkFunc
	micTap      func(audioio.AudioChunk)
	endpoint    string
	httpClient  *http.Client
	dialer      *websocket.Dialer
	iceServers  []webrtc.ICEServer
	openTimeout time.Duration
	settings    *webrtc.SettingEngine
	newCodec    func(rate, channels int) (opusCodec, error)
}

func defaultOptions() options {
	return options{
		logger:      slog.Default(),
		audio:       audioio.DefaultConfig(),
		newSource:   audioio.NewSource,
		newSink:     audioio.NewSink,
		openTimeout: DefaultOpenTimeout,
		newCodec:    newOpusCodec,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAudioConfig sets the device backend, device name and buffer size.
// Sample rate and channel count are chosen by the transport.
func WithAudioConfig(cfg audioio.Config) Option {
	return func(o *options) { o.audio = cfg }
}

// WithSourceFunc replaces the microphone constructor.
func WithSourceFunc(fn SourceFunc) Option {
	return func(o *options) { o.newSource = fn }
}

// WithSinkFunc replaces the speaker constructor. Only the WebRTC transport
// plays audio itself.
func WithSinkFunc(fn SinkFunc) Option {
	return func(o *options) { o.newSink = fn }
}

// WithMicTap receives every captured chunk, e.g. to feed a level meter.
func WithMicTap(fn func(audioio.AudioChunk)) Option {
	return func(o *options) { o.micTap = fn }
}

// WithEndpoint overrides the provider URL.
func WithEndpoint(url string) Option {
	return func(o *options) { o.endpoint = url }
}

// WithHTTPClient sets the client used for SDP signalling.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithDialer sets the WebSocket dialer. Subprotocols are always replaced.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithICEServers sets STUN/TURN servers for the peer connection.
func WithICEServers(servers ...webrtc.ICEServer) Option {
	return func(o *options) { o.iceServers = servers }
}

// WithOpenTimeout bounds the wait for the event channel to open.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.openTimeout = d
		}
	}
}

func withSettingEngine(se *webrtc.SettingEngine) Option {
	return func(o *options) { o.settings = se }
}

func withCodec(fn func(rate, channels int) (opusCodec, error)) Option {
	return func(o *options) { o.newCodec = fn }
}

// openSource creates and wraps a mono microphone at rate. It is not
// started.
func (o *options) openSource(rate int) (audioio.Source, error) {
	cfg := o.audio.WithSampleRate(rate)
	cfg.Channels = 1
	src, err := o.newSource(cfg, o.logger)
	if err != nil {
		return nil, err
	}
	if o.micTap != nil {
		src = audioio.NewTapSource(src, o.micTap)
	}
	return src, nil
}

// handshakeContext returns ctx that is also cancelled when life ends, so a
// Disconnect aborts a pending dial or signalling round trip.
func handshakeContext(ctx, life context.Context) (context.Context, context.CancelFunc) {
	hctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(life, cancel)
	return hctx, func() {
		stop()
		cancel()
	}
}

// adopt runs fn under mu unless life has ended. Disconnect cancels life
// while holding mu, so a resource adopted here is always released by it.
func adopt(mu *sync.RWMutex, life context.Context, fn func()) error {
	mu.Lock()
	defer mu.Unlock()
	if life.Err() != nil {
		return realtime.ErrClosed
	}
	fn()
	return nil
}

// closedOr reports ErrClosed in place of err once life has ended.
func closedOr(life context.Context, err error) error {
	if life.Err() != nil {
		return realtime.ErrClosed
	}
	return err
}

// monoAt returns the chunk's samples as mono at rate.
func monoAt(chunk audioio.AudioChunk, rate int) []int16 {
	c := chunk.Mono()
	if c.SampleRate != 0 && c.SampleRate != rate {
		return audioio.Resample(c.Samples, c.SampleRate, rate)
	}
	return c.Samples
}

// OpenAIFactory returns a factory for WebRTC transports built with opts.
func OpenAIFactory(opts ...Option) realtime.Factory {
	return func() (realtime.Transport, error) {
		return NewOpenAI(opts...), nil
	}
}

// XAIFactory returns a factory for WebSocket transports built with opts.
func XAIFactory(opts ...Option) realtime.Factory {
	return func() (realtime.Transport, error) {
		return NewXAI(opts...), nil
	}
}

// Factories returns both factories built with the same opts.
func Factories(opts ...Option) map[realtime.ProviderName]realtime.Factory {
	return map[realtime.ProviderName]realtime.Factory{
		realtime.ProviderOpenAI: OpenAIFactory(opts...),
		realtime.ProviderXAI:    XAIFactory(opts...),
	}
}

func init() {
	realtime.Register(realtime.ProviderOpenAI, OpenAIFactory())
	realtime.Register(realtime.ProviderXAI, XAIFactory())
}
