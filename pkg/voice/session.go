package voice

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/buzzwordmojo/vox-reactor/pkg/audio"
	"github.com/buzzwordmojo/vox-reactor/pkg/conversation"
	"github.com/buzzwordmojo/vox-reactor/pkg/idle"
	"github.com/buzzwordmojo/vox-reactor/pkg/realtime"
	"github.com/buzzwordmojo/vox-reactor/pkg/vad"
)

// metricsNamespace prefixes every Prometheus metric.
const metricsNamespace = "vox"

// ConnectionState is the session lifecycle state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// State is a snapshot of session status.
type State struct {
	Connection          ConnectionState       `json:"connection"`
	Provider            realtime.ProviderName `json:"provider"`
	Listening           bool                  `json:"listening"`
	Speaking            bool                  `json:"speaking"`
	UserSpeaking        bool                  `json:"user_speaking"`
	StreamingTranscript string                `json:"streaming_transcript"`
	FinalTranscript     string                `json:"final_transcript"`
	Error               string                `json:"error,omitempty"`
}

// Connected reports whether the session is connected.
func (s State) Connected() bool { return s.Connection == StateConnected }

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFactories overrides the realtime transport registry.
func WithFactories(f map[realtime.ProviderName]realtime.Factory) Option {
	return func(s *Session) { s.factories = f }
}

// WithRegisterer registers session and realtime metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Session) { s.reg = reg }
}

// WithPlaybackDevice sets where decoded WebSocket audio is played.
// Without one, audio deltas are ignored.
func WithPlaybackDevice(d audio.Device) Option {
	return func(s *Session) { s.device = d }
}

// WithLevelSource sets the microphone levels read by client-side VAD.
func WithLevelSource(src vad.LevelSource) Option {
	return func(s *Session) { s.levels = src }
}

// WithToolHandler sets the application tool handler.
func WithToolHandler(h conversation.ToolHandler) Option {
	return func(s *Session) { s.execOpts = append(s.execOpts, conversation.WithClientHandler(h)) }
}

// WithServerTools sets the handler used when no application handler is set.
func WithServerTools(h conversation.ToolHandler) Option {
	return func(s *Session) { s.execOpts = append(s.execOpts, conversation.WithServerFallback(h)) }
}

// WithNotifier receives tool outcome notifications.
func WithNotifier(n conversation.Notifier) Option {
	return func(s *Session) { s.execOpts = append(s.execOpts, conversation.WithNotifier(n)) }
}

// WithImportedData receives the Data of every tool result that has one.
func WithImportedData(fn func(data map[string]any)) Option {
	return func(s *Session) { s.onImported = fn }
}

// WithHistory uses l as the conversation log.
func WithHistory(l *conversation.Log) Option {
	return func(s *Session) { s.history = l }
}

// WithIdleOptions passes options to the idle detector.
func WithIdleOptions(opts ...idle.Option) Option {
	return func(s *Session) { s.idleOpts = append(s.idleOpts, opts...) }
}

// WithVADOptions passes options to the client-side VAD engine.
func WithVADOptions(opts ...vad.Option) Option {
	return func(s *Session) { s.vadOpts = append(s.vadOpts, opts...) }
}

// Session runs one realtime voice conversation. It connects through a
// realtime.Manager, interprets server events, keeps the transcript and
// answers tool calls. Connect and Disconnect must not be called
// concurrently; everything else is safe from any goroutine.
type Session struct {
	cfg    Config
	tokens realtime.TokenFunc
	logger *slog.Logger

	mgr      *realtime.Manager
	history  *conversation.Log
	executor *conversation.Executor
	latency  *MetricsCollector
	prom     *promMetrics
	rtm      *realtime.Metrics

	device audio.Device
	queue  *audio.Queue
	levels vad.LevelSource
	vad    *vad.Engine
	idle   *idle.Detector

	onImported func(map[string]any)

	factories map[realtime.ProviderName]realtime.Factory
	reg       prometheus.Registerer
	execOpts  []conversation.Option
	idleOpts  []idle.Option
	vadOpts   []vad.Option

	// emitMu orders a state change with its notification.
	emitMu sync.Mutex

	// lifeMu orders the end of a Connect with Disconnect. gen counts
	// Disconnect calls so a Connect can tell it was overtaken.
	lifeMu        sync.Mutex
	gen           uint64
	cancelConnect context.CancelFunc

	mu        sync.Mutex
	state     State
	interp    *realtime.Interpreter
	toolsBusy int
	listeners map[int]func(State)
	nextID    int
}

// NewSession creates a disconnected session. tokens is called once per
// connection attempt.
func NewSession(cfg Config, tokens realtime.TokenFunc, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, ErrNoTokens
	}

	s := &Session{
		cfg:       cfg,
		tokens:    tokens,
		logger:    slog.Default(),
		latency:   NewMetricsCollector(),
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "voice.session")

	if s.reg != nil {
		s.rtm = realtime.NewMetrics(metricsNamespace, s.reg)
		s.prom = newPromMetrics(metricsNamespace, s.reg)
		s.latency.prom = s.prom
	}
	if s.history == nil {
		s.history = conversation.NewLog()
	}
	s.executor = conversation.NewExecutor(append([]conversation.Option{conversation.WithLogger(s.logger)}, s.execOpts...)...)

	s.mgr = realtime.NewManager(realtime.ManagerConfig{
		Default:      cfg.Provider,
		AutoFallback: cfg.AutoFallback,
		Factories:    s.factories,
		OnEvent:      s.handle,
		Logger:       s.logger,
		Metrics:      s.rtm,
	})

	if s.device != nil {
		s.queue = audio.NewQueue(s.device, audio.WithQueueLogger(s.logger))
		s.queue.OnPlaybackChange(s.setSpeaking)
	}
	if cfg.ClientVAD && s.levels != nil {
		s.vad = vad.New(s.levels, cfg.VAD, s.onVAD, append([]vad.Option{vad.WithLogger(s.logger)}, s.vadOpts...)...)
	}
	if cfg.IdleCoaching {
		s.idle = idle.New(idle.Config{Timeout: cfg.IdleTimeout}, s.onIdle, append([]idle.Option{idle.WithLogger(s.logger)}, s.idleOpts...)...)
	}

	s.state = State{Connection: StateDisconnected, Provider: s.mgr.Provider()}
	s.prom.setState(StateDisconnected)
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() Config { return s.cfg }

// History returns the conversation log.
func (s *Session) History() *conversation.Log { return s.history }

// Executor returns the tool executor, for reconfiguring handlers.
func (s *Session) Executor() *conversation.Executor { return s.executor }

// Latency returns the per-turn latency collector.
func (s *Session) Latency() *MetricsCollector { return s.latency }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers fn for state changes and returns a function that
// removes it. fn runs synchronously and must not call back into the
// session's mutating methods.
func (s *Session) OnStateChange(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// update applies fn to the state and notifies listeners if it changed.
func (s *Session) update(fn func(*State)) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	prev := s.state
	fn(&s.state)
	next := s.state
	fns := make([]func(State), 0, len(s.listeners))
	for _, l := range s.listeners {
		fns = append(fns, l)
	}
	s.mu.Unlock()

	if next == prev {
		return
	}
	if next.Connection != prev.Connection {
		s.prom.setState(next.Connection)
	}
	for _, l := range fns {
		l(next)
	}
}

// Connect opens the realtime session. It is a no-op while connecting or
// connected. On failure the state is error and the error is returned. A
// Disconnect while connecting wins: Connect returns ErrConnectAborted and
// leaves the session disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.lifeMu.Lock()
	proceed := false
	s.update(func(st *State) {
		if st.Connection == StateConnecting || st.Connection == StateConnected {
			return
		}
		proceed = true
		*st = State{Connection: StateConnecting, Provider: st.Provider}
	})
	if !proceed {
		s.lifeMu.Unlock()
		return nil
	}
	gen := s.gen
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelConnect = cancel
	in := realtime.NewInterpreter(s.callbacks(),
		realtime.WithInterpreterLogger(s.logger),
		realtime.WithInterpreterMetrics(s.rtm),
	)
	s.mu.Lock()
	s.interp = in
	s.mu.Unlock()
	s.lifeMu.Unlock()

	t, err := s.mgr.Connect(ctx, s.tokens, s.cfg.Session)

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.cancelConnect = nil
	if s.gen != gen {
		// Disconnect already tore the manager down and reset the state.
		s.logger.Info("connect aborted by disconnect")
		return ErrConnectAborted
	}
	if err != nil {
		s.logger.Error("connect failed", "error", err)
		s.mu.Lock()
		s.interp = nil
		s.mu.Unlock()
		s.update(func(st *State) {
			st.Connection = StateError
			st.Error = err.Error()
		})
		return err
	}

	s.update(func(st *State) {
		st.Connection = StateConnected
		st.Provider = t.Name()
		st.Listening = true
	})
	if s.vad != nil {
		s.vad.Start()
	}
	if s.idle != nil {
		s.idle.Start()
	}
	s.logger.Info("session connected", "provider", t.Name())
	return nil
}

// Disconnect closes the session. Safe from any state; a Connect in
// progress is aborted.
func (s *Session) Disconnect() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.gen++
	if s.cancelConnect != nil {
		s.cancelConnect()
		s.cancelConnect = nil
	}

	if s.vad != nil {
		s.vad.Stop()
	}
	if s.idle != nil {
		s.idle.Stop()
	}
	s.mgr.Disconnect()
	if s.queue != nil {
		s.queue.Flush()
	}
	s.setSpeaking(false)

	s.mu.Lock()
	s.interp = nil
	s.toolsBusy = 0
	s.mu.Unlock()

	s.update(func(st *State) {
		*st = State{Connection: StateDisconnected, Provider: st.Provider}
	})
	s.logger.Info("session disconnected")
}

// Interrupt stops assistant playback and cancels the current response.
func (s *Session) Interrupt() error {
	if s.queue != nil {
		s.queue.Flush()
	}
	s.setSpeaking(false)
	s.prom.interrupt()
	return s.send(realtime.ResponseCancel())
}

// SendText adds a typed user message and asks for a response. Blank text
// is ignored.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.history.AddUser(text)
	s.touch()
	return s.send(realtime.UserText(text), realtime.ResponseCreate())
}

// SendProactivePrompt asks the model to speak without logging a user
// message. An empty text uses the configured idle prompt.
func (s *Session) SendProactivePrompt(text string) error {
	if !s.State().Connected() {
		return ErrNotConnected
	}
	if text == "" {
		text = s.cfg.IdlePrompt
	}
	if text == "" {
		text = DefaultProactivePrompt
	}
	return s.send(realtime.UserText(text), realtime.ResponseCreate())
}

// ClearHistory empties the conversation log.
func (s *Session) ClearHistory() {
	s.history.Clear()
}

func (s *Session) send(evs ...realtime.Event) error {
	if s.mgr.Active() == nil {
		return ErrNotConnected
	}
	for _, ev := range evs {
		if err := s.mgr.SendEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// handle routes transport events to the current interpreter.
func (s *Session) handle(ctx context.Context, ev realtime.Event) {
	s.mu.Lock()
	in := s.interp
	s.mu.Unlock()
	if in != nil {
		in.Handle(ctx, ev)
	}
}

// queueActive reports whether assistant audio arrives as deltas played
// through the local queue.
func (s *Session) queueActive() bool {
	return s.queue != nil && s.State().Provider == realtime.ProviderXAI
}

func (s *Session) callbacks() realtime.Callbacks {
	return realtime.Callbacks{
		OnUserSpeakingChange: s.onUserSpeaking,
		OnAssistantSpeakingChange: func(speaking bool) {
			// Queue transitions drive speaking when audio plays locally.
			if !s.queueActive() {
				s.setSpeaking(speaking)
			}
		},
		OnStreamingTranscript: func(text string) {
			if text != "" {
				s.latency.MarkFirstToken()
			}
			s.update(func(st *State) { st.StreamingTranscript = text })
		},
		OnUserTranscript: s.onUserTranscript,
		OnAssistantTranscript: func(text string) {
			s.history.AddAssistant(text, conversation.StatusSuccess)
		},
		OnAudioDelta: s.onAudioDelta,
		OnToolCall:   s.runTool,
		OnError: func(err error) {
			s.logger.Warn("provider error", "error", err)
			s.update(func(st *State) { st.Error = err.Error() })
		},
	}
}

func (s *Session) onUserSpeaking(speaking bool) {
	s.update(func(st *State) { st.UserSpeaking = speaking })
	if speaking {
		s.touch()
	} else {
		s.latency.MarkSpeechEnd()
	}
}

func (s *Session) onUserTranscript(text string) {
	s.update(func(st *State) {
		st.FinalTranscript = text
		st.StreamingTranscript = ""
	})
	s.history.AddUser(text)
	s.latency.MarkTranscript()
	s.touch()
}

func (s *Session) onAudioDelta(payload string) {
	if !s.queueActive() {
		return
	}
	samples, err := audio.Decode(payload)
	if err != nil {
		s.prom.dropAudio()
		s.logger.Debug("dropping audio delta", "error", err)
		return
	}
	s.latency.IncrementAudio()
	s.queue.Enqueue(samples)
}

// setSpeaking records assistant speech and applies its side effects once
// per transition.
func (s *Session) setSpeaking(speaking bool) {
	changed := false
	s.update(func(st *State) {
		changed = st.Speaking != speaking
		st.Speaking = speaking
	})
	if !changed {
		return
	}
	if speaking {
		s.latency.MarkFirstAudio()
	} else {
		s.latency.MarkResponseDone()
	}
	if s.cfg.MuteMicWhileSpeaking {
		if t := s.mgr.Active(); t != nil {
			t.SetMicMuted(speaking)
		}
	}
	if s.vad != nil {
		s.vad.SetTTSActive(speaking)
	}
	s.refreshBusy()
}

// refreshBusy pauses idle detection while the assistant speaks or a tool
// runs.
func (s *Session) refreshBusy() {
	if s.idle == nil {
		return
	}
	s.mu.Lock()
	busy := s.state.Speaking || s.toolsBusy > 0
	s.mu.Unlock()
	s.idle.SetBusy(busy)
}

func (s *Session) touch() {
	if s.idle != nil {
		s.idle.Touch()
	}
}

// runTool executes call and returns the JSON result to the model.
func (s *Session) runTool(ctx context.Context, call realtime.ToolCall) error {
	s.mu.Lock()
	s.toolsBusy++
	s.mu.Unlock()
	s.refreshBusy()
	defer func() {
		s.mu.Lock()
		if s.toolsBusy > 0 {
			s.toolsBusy--
		}
		s.mu.Unlock()
		s.refreshBusy()
	}()

	start := time.Now()
	result := s.executor.Execute(ctx, call.Name, call.Arguments)
	s.prom.tool(call.Name, result.Success, time.Since(start))
	s.latency.IncrementToolCalls()
	s.logger.Info("tool call", "tool", call.Name, "call_id", call.CallID, "success", result.Success)

	if result.Data != nil && s.onImported != nil {
		s.onImported(result.Data)
	}

	out, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("encode tool result", "tool", call.Name, "error", err)
		out, _ = json.Marshal(conversation.Failure("Tool result could not be encoded"))
	}
	return s.send(realtime.FunctionCallOutput(call.CallID, string(out)), realtime.ResponseCreate())
}

func (s *Session) onVAD(ev vad.Event) {
	switch ev.Type {
	case vad.EventBargeIn:
		s.logger.Info("barge-in", "volume", ev.Volume)
		if err := s.Interrupt(); err != nil {
			s.logger.Warn("interrupt failed", "error", err)
		}
	case vad.EventSpeechStart:
		s.touch()
	}
}

func (s *Session) onIdle() {
	s.prom.idlePrompt()
	if err := s.SendProactivePrompt(""); err != nil {
		s.logger.Warn("idle prompt failed", "error", err)
	}
}
