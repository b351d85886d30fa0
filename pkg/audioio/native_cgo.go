//go:build cgo

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
)

const nativeAvailable = true

// otoLatency is the device buffer of the shared playback context.
const otoLatency = 100 * time.Millisecond

var (
	malgoOnce sync.Once
	malgoCtx  *malgo.AllocatedContext
	malgoErr  error
)

// sharedMalgo returns the process-wide capture context.
func sharedMalgo() (*malgo.AllocatedContext, error) {
	malgoOnce.Do(func() {
		cfg := malgo.ContextConfig{}
		cfg.ThreadPriority = malgo.ThreadPriorityRealtime
		malgoCtx, malgoErr = malgo.InitContext(nil, cfg, nil)
	})
	return malgoCtx, malgoErr
}

var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

// sharedOto returns the process-wide playback context. oto allows one
// context per process, so its rate is fixed by the first sink and later
// sinks resample to it.
func sharedOto(rate int) (*oto.Context, int, error) {
	otoOnce.Do(func() {
		c, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   otoLatency,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx, otoRate = c, rate
	})
	return otoCtx, otoRate, otoErr
}

// MalgoSource captures PCM16 through miniaudio.
type MalgoSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	device   *malgo.Device
	stopCtx  func() bool
	streamCh chan AudioChunk

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newNativeSource(cfg Config, logger *slog.Logger) (Source, error) {
	return &MalgoSource{
		cfg:      cfg,
		logger:   logger.With("component", "audioio.malgo_source"),
		streamCh: make(chan AudioChunk),
	}, nil
}

// Start opens the capture device. Capture stops when ctx ends.
func (s *MalgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	mctx, err := sharedMalgo()
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(s.cfg.Channels)
	devCfg.SampleRate = uint32(s.cfg.SampleRate)
	devCfg.PeriodSizeInMilliseconds = uint32(s.cfg.BufferDuration.Milliseconds())
	if s.cfg.Device != "" {
		if id, ok := findDevice(mctx.Context, malgo.Capture, s.cfg.Device); ok {
			devCfg.Capture.DeviceID = id
		} else {
			s.logger.Warn("capture device not found, using default", "device", s.cfg.Device)
		}
	}

	out := make(chan AudioChunk, 10)
	frame := s.cfg.BufferBytes()
	pending := make([]byte, 0, frame*2)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			pending = append(pending, input...)
			for len(pending) >= frame {
				chunk := ChunkFromBytes(pending[:frame], s.cfg.SampleRate, s.cfg.Channels)
				pending = pending[frame:]
				select {
				case out <- chunk:
					s.chunksRead.Add(1)
					s.samplesRead.Add(int64(len(chunk.Samples)))
				default:
					s.overruns.Add(1)
				}
			}
			pending = append(pending[:0], pending...)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, devCfg, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}

	s.device = device
	s.streamCh = out
	s.running = true
	s.stopCtx = context.AfterFunc(ctx, func() { s.Stop() })

	s.logger.Info("audio capture started", "device", s.cfg.Device)
	return nil
}

// Stop closes the device and then the stream. Uninit waits for the
// device callback, so nothing sends on a closed channel.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	if s.stopCtx != nil {
		s.stopCtx()
		s.stopCtx = nil
	}
	_ = s.device.Stop()
	s.device.Uninit()
	s.device = nil
	close(s.streamCh)

	s.logger.Info("audio capture stopped")
	return nil
}

// Read reads the next audio chunk.
func (s *MalgoSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-s.Stream():
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *MalgoSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *MalgoSource) Config() Config { return s.cfg }

// Name returns "native".
func (s *MalgoSource) Name() string { return string(BackendNative) }

// Close stops capture permanently.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *MalgoSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     string(BackendNative),
	}
}

var _ SourceWithStats = (*MalgoSource)(nil)

// findDevice matches name against device names, case-insensitively.
func findDevice(mctx malgo.Context, kind malgo.DeviceType, name string) (unsafe.Pointer, bool) {
	infos, err := mctx.Devices(kind)
	if err != nil {
		return nil, false
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info.ID.Pointer(), true
		}
	}
	return nil, false
}

// OtoSink plays PCM16 through a player on the shared oto context. The
// player pulls from a queue; Clear swaps in a fresh queue and player.
type OtoSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	octx    *oto.Context
	rate    int
	queue   *pcmQueue
	player  *oto.Player

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

func newNativeSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return &OtoSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.oto_sink"),
	}, nil
}

// Start attaches to the shared playback context.
func (s *OtoSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}
	octx, rate, err := sharedOto(s.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	s.octx, s.rate = octx, rate
	s.queue = newPCMQueue(rate * 2)
	s.running = true
	if rate != s.cfg.SampleRate {
		s.logger.Debug("resampling playback", "from", s.cfg.SampleRate, "to", rate)
	}
	s.logger.Info("audio playback started", "rate", rate)
	return nil
}

// releaseLocked closes the queue first so a blocked player read returns.
func (s *OtoSink) releaseLocked() {
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.player != nil {
		s.player.Pause()
		if err := s.player.Close(); err != nil {
			s.logger.Debug("player close failed", "error", err)
		}
		s.player = nil
	}
}

// Stop releases the player.
func (s *OtoSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	s.releaseLocked()
	s.queue = nil
	s.logger.Info("audio playback stopped")
	return nil
}

// Write queues a chunk, starting a player on the first write.
func (s *OtoSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if !s.running {
		return fmt.Errorf("sink not running")
	}

	mono := chunk.Mono()
	samples := Resample(mono.Samples, mono.SampleRate, s.rate)
	if _, err := s.queue.Write(SamplesToBytes(samples)); err != nil {
		return err
	}
	if s.player == nil {
		s.player = s.octx.NewPlayer(s.queue)
		s.player.Play()
	}

	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush waits until the queue and the player's buffer are empty.
func (s *OtoSink) Flush(ctx context.Context) error {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for s.bufferedBytes() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

func (s *OtoSink) bufferedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	if s.queue != nil {
		n += s.queue.Len()
	}
	if s.player != nil {
		n += s.player.BufferedSize()
	}
	return n
}

// Clear drops queued audio and the player's buffer.
func (s *OtoSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.releaseLocked()
	s.queue = newPCMQueue(s.rate * 2)
	return nil
}

// Config returns the audio configuration.
func (s *OtoSink) Config() Config { return s.cfg }

// Name returns "native".
func (s *OtoSink) Name() string { return string(BackendNative) }

// Close stops playback permanently.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns sink statistics. BufferedSamples is at the context rate.
func (s *OtoSink) Stats() SinkStats {
	buffered := int64(s.bufferedBytes() / 2)
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Running:         running,
		Backend:         string(BackendNative),
		BufferedSamples: buffered,
	}
}

var _ SinkWithStats = (*OtoSink)(nil)
