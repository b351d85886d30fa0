package audioio

import (
	"context"
	"io"
	"sync"
)

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start begins audio capture. Chunks are then available via Read or
	// Stream.
	Start(ctx context.Context) error

	// Stop halts audio capture. It is safe to call Stop multiple times.
	Stop() error

	// Read reads the next audio chunk, blocking if necessary.
	// Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Stream returns a channel that receives audio chunks.
	// The channel is closed when the source is stopped.
	Stream() <-chan AudioChunk

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "exec", "mock").
	Name() string

	// Close releases all resources. After Close, the source cannot be
	// restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// TapSource wraps a Source and hands every chunk to a tap function before
// it reaches the consumer. Used to feed level meters from a microphone
// owned by a transport.
type TapSource struct {
	Source
	tap func(AudioChunk)

	mu   sync.Mutex
	out  chan AudioChunk
	done chan struct{}
}

// NewTapSource returns src wrapped with tap.
func NewTapSource(src Source, tap func(AudioChunk)) *TapSource {
	return &TapSource{Source: src, tap: tap}
}

// Start starts the wrapped source and the forwarding goroutine.
func (t *TapSource) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		select {
		case <-t.done:
		default:
			return nil
		}
	}
	if err := t.Source.Start(ctx); err != nil {
		return err
	}
	t.out = make(chan AudioChunk, 10)
	t.done = make(chan struct{})
	in := t.Source.Stream()
	go func() {
		defer close(t.done)
		defer close(t.out)
		for chunk := range in {
			if t.tap != nil {
				t.tap(chunk)
			}
			select {
			case t.out <- chunk:
			default:
			}
		}
	}()
	return nil
}

// Stream returns the tapped chunk channel.
func (t *TapSource) Stream() <-chan AudioChunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.out
}

// Read reads the next tapped chunk.
func (t *TapSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-t.Stream():
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}
