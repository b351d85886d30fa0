package audio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/buzzwordmojo/vox-reactor/pkg/audioio"
)

// Device plays one buffer at a time. Play blocks until the device reports
// the buffer finished or ctx is cancelled. Stop is a best-effort request to
// cut the current buffer short.
type Device interface {
	Play(ctx context.Context, buf []float32) error
	Stop()
}

// Queue plays buffers in FIFO order on a single drain goroutine.
// Listeners are told about idle/playing transitions only, never per buffer.
// Listeners may read the queue but must not Enqueue or Flush from inside
// the callback.
type Queue struct {
	device Device
	logger *slog.Logger

	// emitMu orders a state change with its notification.
	emitMu sync.Mutex

	mu        sync.Mutex
	pending   [][]float32
	playing   bool
	gen       uint64
	cancel    context.CancelFunc
	listeners map[int]func(bool)
	nextID    int
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets the logger.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewQueue creates a queue draining into device.
func NewQueue(device Device, opts ...QueueOption) *Queue {
	q := &Queue{
		device:    device,
		logger:    slog.Default(),
		listeners: make(map[int]func(bool)),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "audio.playback")
	return q
}

// OnPlaybackChange registers fn for playing-state transitions and returns
// a function that removes it.
func (q *Queue) OnPlaybackChange(fn func(playing bool)) func() {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// emit must be called with emitMu held and mu released.
func (q *Queue) emit(playing bool) {
	q.mu.Lock()
	fns := make([]func(bool), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.Unlock()
	for _, fn := range fns {
		fn(playing)
	}
}

// Enqueue appends buf and starts draining if the queue is idle.
func (q *Queue) Enqueue(buf []float32) {
	if len(buf) == 0 {
		return
	}
	q.emitMu.Lock()
	defer q.emitMu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, buf)
	if q.playing {
		q.mu.Unlock()
		return
	}
	q.playing = true
	q.gen++
	gen := q.gen
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.mu.Unlock()

	q.emit(true)
	go q.drain(ctx, gen)
}

func (q *Queue) drain(ctx context.Context, gen uint64) {
	for {
		q.mu.Lock()
		if q.gen != gen {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			if q.finish(gen) {
				return
			}
			continue
		}
		buf := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := q.device.Play(ctx, buf); err != nil && ctx.Err() == nil {
			q.logger.Warn("playback failed, skipping buffer", "error", err, "samples", len(buf))
		}
	}
}

// finish moves the queue to idle if nothing was enqueued meanwhile.
func (q *Queue) finish(gen uint64) bool {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()

	q.mu.Lock()
	if q.gen != gen {
		q.mu.Unlock()
		return true
	}
	if len(q.pending) > 0 {
		q.mu.Unlock()
		return false
	}
	q.playing = false
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.mu.Unlock()

	q.emit(false)
	return true
}

// Flush drops pending buffers and reports not-playing immediately. The
// device is asked to stop the current buffer, best effort.
func (q *Queue) Flush() {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()

	q.mu.Lock()
	q.pending = nil
	was := q.playing
	q.playing = false
	q.gen++
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.mu.Unlock()

	if was {
		q.device.Stop()
		q.emit(false)
	}
}

// Playing reports whether the queue is draining.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Len returns the number of buffers waiting to play.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// SinkDevice plays float buffers through an audioio.Sink, resampling from
// the realtime output rate when the sink runs at a different rate.
type SinkDevice struct {
	sink audioio.Sink
	rate int
}

// NewSinkDevice wraps sink. rate is the sample rate of queued buffers.
func NewSinkDevice(sink audioio.Sink, rate int) *SinkDevice {
	return &SinkDevice{sink: sink, rate: rate}
}

// Play writes buf and waits for the sink to drain it.
func (d *SinkDevice) Play(ctx context.Context, buf []float32) error {
	pcm := make([]int16, len(buf))
	for i, s := range buf {
		pcm[i] = FloatToInt16(s)
	}
	cfg := d.sink.Config()
	pcm = audioio.Resample(pcm, d.rate, cfg.SampleRate)
	if cfg.Channels == 2 {
		stereo := make([]int16, len(pcm)*2)
		for i, s := range pcm {
			stereo[i*2], stereo[i*2+1] = s, s
		}
		pcm = stereo
	}
	chunk := audioio.AudioChunk{Samples: pcm, SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if err := d.sink.Write(ctx, chunk); err != nil {
		return err
	}
	return d.sink.Flush(ctx)
}

// Stop clears whatever the sink has buffered.
func (d *SinkDevice) Stop() {
	_ = d.sink.Clear()
}
