// Package idle fires a callback once after a period without user activity.
//
// A Detector is armed by Start and re-armed by Touch. While busy (the
// assistant is speaking or a tool is running) it never fires; clearing busy
// starts a fresh period.
package idle

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout is the idle period used when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Timer is the subset of *time.Timer the detector uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

// Config holds detector settings.
type Config struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithAfterFunc overrides timer scheduling.
func WithAfterFunc(f AfterFunc) Option {
	return func(d *Detector) { d.after = f }
}

// Detector tracks user activity.
type Detector struct {
	timeout time.Duration
	onIdle  func()
	after   AfterFunc
	logger  *slog.Logger

	mu        sync.Mutex
	active    bool
	busy      bool
	triggered bool
	gen       uint64
	timer     Timer
}

// New creates a stopped detector that calls onIdle from a timer goroutine.
func New(cfg Config, onIdle func(), opts ...Option) *Detector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	d := &Detector{
		timeout: cfg.Timeout,
		onIdle:  onIdle,
		after: func(dur time.Duration, f func()) Timer {
			return time.AfterFunc(dur, f)
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "idle.detector")
	return d
}

// Timeout returns the idle period.
func (d *Detector) Timeout() time.Duration { return d.timeout }

// Start arms the detector. Starting an active detector is a no-op.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return
	}
	d.active = true
	d.triggered = false
	d.scheduleLocked()
}

// Stop disarms the detector.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.triggered = false
	d.cancelLocked()
}

// Touch records activity and starts a new idle period.
func (d *Detector) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return
	}
	d.triggered = false
	d.scheduleLocked()
}

// SetBusy pauses detection while busy. Clearing busy counts as activity.
func (d *Detector) SetBusy(busy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy == busy {
		return
	}
	d.busy = busy
	if busy {
		d.cancelLocked()
		return
	}
	if d.active {
		d.triggered = false
		d.scheduleLocked()
	}
}

// Active reports whether the detector is armed.
func (d *Detector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Detector) scheduleLocked() {
	d.cancelLocked()
	if !d.active || d.busy {
		return
	}
	gen := d.gen
	d.timer = d.after(d.timeout, func() { d.fire(gen) })
}

// cancelLocked stops the pending timer. Bumping gen invalidates a callback
// that already started running.
func (d *Detector) cancelLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Detector) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.active || d.busy || d.triggered {
		d.mu.Unlock()
		return
	}
	d.triggered = true
	d.timer = nil
	d.mu.Unlock()

	d.logger.Debug("idle timeout", "timeout", d.timeout)
	if d.onIdle != nil {
		d.onIdle()
	}
}
