package vad

import (
	"log/slog"
	"sync"
	"time"
)

// Engine is the VAD state machine. Create with New; Start begins ticking.
type Engine struct {
	cfg     Config
	src     LevelSource
	onEvent func(Event)
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.Mutex
	running      bool
	stop         chan struct{}
	speaking     bool
	ttsActive    bool
	speechStart  time.Time
	silenceStart time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine reading levels from src and delivering events to
// onEvent. Events are delivered from the tick goroutine, outside the
// engine's lock.
func New(src LevelSource, cfg Config, onEvent func(Event), opts ...Option) *Engine {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	e := &Engine{
		cfg:     cfg,
		src:     src,
		onEvent: onEvent,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "vad.engine")
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Start begins the tick loop. Starting a running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.speaking = false
	e.silenceStart = time.Time{}
	e.stop = make(chan struct{})
	go e.loop(e.stop)
	e.logger.Debug("vad started", "interval", e.cfg.CheckInterval)
}

// Stop halts ticking and resets speech state before returning.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		close(e.stop)
		e.running = false
	}
	e.speaking = false
	e.silenceStart = time.Time{}
	e.speechStart = time.Time{}
}

// SetTTSActive switches between the speech and barge-in thresholds.
func (e *Engine) SetTTSActive(active bool) {
	e.mu.Lock()
	e.ttsActive = active
	e.mu.Unlock()
}

// Speaking reports whether the engine is in the speaking state.
func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking
}

func (e *Engine) loop(stop chan struct{}) {
	t := time.NewTicker(e.cfg.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			e.tick()
		}
	}
}

// tick reads one level and advances the state machine.
func (e *Engine) tick() {
	lvl := e.src.Level()

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	events := e.step(lvl, e.now())
	e.mu.Unlock()

	if e.onEvent == nil {
		return
	}
	for _, ev := range events {
		e.onEvent(ev)
	}
}

// step must be called with mu held. The level event always comes first.
func (e *Engine) step(lvl Level, now time.Time) []Event {
	events := append(make([]Event, 0, 3), Event{Type: EventLevel, Volume: lvl.Volume, Peak: lvl.Peak})
	threshold := e.cfg.SpeechThreshold
	if e.ttsActive {
		threshold = e.cfg.BargeInThreshold
	}

	switch {
	case !e.speaking && lvl.Volume > threshold:
		if e.ttsActive {
			events = append(events, Event{Type: EventBargeIn, Volume: lvl.Volume, Peak: lvl.Peak})
		}
		e.speaking = true
		e.speechStart = now
		e.silenceStart = time.Time{}
		events = append(events, Event{Type: EventSpeechStart, Volume: lvl.Volume, Peak: lvl.Peak})

	case e.speaking && lvl.Volume < e.cfg.SilenceThreshold:
		if e.silenceStart.IsZero() {
			e.silenceStart = now
		}
		silence := now.Sub(e.silenceStart)
		speech := now.Sub(e.speechStart)
		if silence >= e.cfg.SilenceDuration && speech >= e.cfg.MinSpeechDuration {
			e.speaking = false
			e.silenceStart = time.Time{}
			events = append(events, Event{Type: EventSpeechEnd, Volume: lvl.Volume, Peak: lvl.Peak, Duration: speech})
		}

	case e.speaking:
		e.silenceStart = time.Time{}
	}

	return events
}
