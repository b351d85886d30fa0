package audioio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestMockSource_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if !src.Running() {
		t.Error("expected source to be running")
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
}

func TestMockSource_Read(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if want := cfg.BufferSize() * cfg.Channels; len(chunk.Samples) != want {
		t.Errorf("Expected %d samples, got %d", want, len(chunk.Samples))
	}
	if chunk.SampleRate != cfg.SampleRate {
		t.Errorf("Expected sample rate %d, got %d", cfg.SampleRate, chunk.SampleRate)
	}

	nonZero := false
	for _, s := range chunk.Samples {
		if s != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Error("Expected non-zero samples from sine wave generator")
	}
}

func TestMockSource_Push(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil, WithoutGenerator())
	defer src.Close()

	if src.Push(AudioChunk{Samples: []int16{1}}) {
		t.Error("Push before Start should be dropped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !src.Push(AudioChunk{Samples: []int16{7, 8}}) {
		t.Fatal("Push after Start should be delivered")
	}
	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(chunk.Samples) != 2 || chunk.Samples[0] != 7 {
		t.Errorf("unexpected chunk: %+v", chunk)
	}

	src.Stop()
	if _, err := src.Read(ctx); err != io.EOF {
		t.Errorf("Read after Stop = %v, want io.EOF", err)
	}
}

func TestMockSource_StartError(t *testing.T) {
	denied := errors.New("permission denied")
	src := NewMockSource(DefaultConfig(), nil, WithStartError(denied))
	if err := src.Start(context.Background()); !errors.Is(err, denied) {
		t.Errorf("Start = %v, want %v", err, denied)
	}
}

func TestMockSource_Close(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil)

	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := src.Start(ctx); err != io.ErrClosedPipe {
		t.Errorf("Expected ErrClosedPipe after close, got: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	if !src.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestMockSink_WriteFlushClear(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	defer sink.Close()

	ctx := context.Background()
	if err := sink.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk := AudioChunk{Samples: make([]int16, 480), SampleRate: 24000, Channels: 1}
	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if stats := sink.Stats(); stats.ChunksWritten != 1 || stats.BufferedSamples != 480 {
		t.Errorf("unexpected stats after write: %+v", stats)
	}
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	stats := sink.Stats()
	if stats.ChunksWritten != 2 {
		t.Errorf("Expected 2 chunks written, got %d", stats.ChunksWritten)
	}
	if stats.BufferedSamples != 0 {
		t.Errorf("Expected empty buffer after Clear, got %d", stats.BufferedSamples)
	}
	if sink.Clears() != 1 || len(sink.Written()) != 2 {
		t.Errorf("clears=%d written=%d", sink.Clears(), len(sink.Written()))
	}
}

func TestMockSink_FlushDelayHonorsContext(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	sink.FlushDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := sink.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Flush = %v, want deadline exceeded", err)
	}
}

func TestMockSink_NotRunning(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	defer sink.Close()

	chunk := AudioChunk{Samples: make([]int16, 480), SampleRate: 24000, Channels: 1}
	if err := sink.Write(context.Background(), chunk); err == nil {
		t.Error("Expected error when writing to non-running sink")
	}
}

func TestTapSource(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil, WithoutGenerator())
	var tapped int
	done := make(chan struct{}, 4)
	tap := NewTapSource(src, func(c AudioChunk) {
		tapped += len(c.Samples)
		done <- struct{}{}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tap.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := tap.Start(ctx); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	src.Push(AudioChunk{Samples: []int16{1, 2, 3}})
	chunk, err := tap.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	<-done
	if len(chunk.Samples) != 3 || tapped != 3 {
		t.Errorf("chunk=%v tapped=%d", chunk.Samples, tapped)
	}

	tap.Stop()
	if _, err := tap.Read(ctx); err != io.EOF {
		t.Errorf("Read after Stop = %v, want io.EOF", err)
	}
}

func TestNewSourceMock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	src, err := NewSource(cfg, nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if src.Name() != "mock" {
		t.Errorf("Name = %q", src.Name())
	}

	cfg.Backend = "bogus"
	if _, err := NewSink(cfg, nil); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg.SampleRate = 0
	if _, err := NewSource(cfg, nil); err == nil {
		t.Error("expected validation error")
	}
}
