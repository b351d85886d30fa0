package audioio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoAudioTool is returned when no command-line audio tool exists for the
// platform.
var ErrNoAudioTool = errors.New("audioio: no capture/playback tool for this platform")

// commandNames returns the capture and playback binaries for goos.
func commandNames(goos string) (rec, play string) {
	switch goos {
	case "linux":
		return "arecord", "aplay"
	case "darwin":
		return "rec", "play"
	}
	return "", ""
}

// captureArgs builds the argument list for raw PCM16 capture to stdout.
func captureArgs(goos string, cfg Config) []string {
	rate := strconv.Itoa(cfg.SampleRate)
	ch := strconv.Itoa(cfg.Channels)
	switch goos {
	case "linux":
		args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", ch}
		if cfg.Device != "" {
			args = append(args, "-D", cfg.Device)
		}
		return args
	case "darwin":
		args := []string{"-q"}
		if cfg.Device != "" {
			args = append(args, "-t", "coreaudio", cfg.Device)
		}
		return append(args, "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", rate, "-c", ch, "-")
	}
	return nil
}

// playbackArgs builds the argument list for raw PCM16 playback from stdin.
func playbackArgs(goos string, cfg Config) []string {
	rate := strconv.Itoa(cfg.SampleRate)
	ch := strconv.Itoa(cfg.Channels)
	switch goos {
	case "linux":
		args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", ch}
		if cfg.Device != "" {
			args = append(args, "-D", cfg.Device)
		}
		return args
	case "darwin":
		args := []string{"-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", rate, "-c", ch, "-"}
		if cfg.Device != "" {
			args = append(args, "-t", "coreaudio", cfg.Device)
		}
		return args
	}
	return nil
}

// ExecSource captures audio by reading raw PCM16 from a recorder process.
type ExecSource struct {
	cfg    Config
	logger *slog.Logger
	bin    string

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	streamCh chan AudioChunk
	stopCh   chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newExecSource(cfg Config, logger *slog.Logger) (*ExecSource, error) {
	rec, _ := commandNames(runtime.GOOS)
	if rec == "" {
		return nil, ErrNoAudioTool
	}
	return &ExecSource{
		cfg:      cfg,
		logger:   logger.With("component", "audioio.exec_source"),
		bin:      rec,
		streamCh: make(chan AudioChunk),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the recorder.
func (s *ExecSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.Command(s.bin, captureArgs(runtime.GOOS, s.cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.bin, err)
	}

	s.cmd = cmd
	s.running = true
	s.stopCh = make(chan struct{})
	s.streamCh = make(chan AudioChunk, 10)

	go s.captureLoop(ctx, bufio.NewReaderSize(stdout, s.cfg.BufferBytes()*4), s.streamCh, s.stopCh)

	s.logger.Info("audio capture started", "tool", s.bin, "device", s.cfg.Device)
	return nil
}

func (s *ExecSource) captureLoop(ctx context.Context, r io.Reader, out chan AudioChunk, stop chan struct{}) {
	buf := make([]byte, s.cfg.BufferBytes())
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			select {
			case <-stop:
			default:
				s.logger.Warn("audio capture ended", "error", err)
				s.Stop()
			}
			return
		}

		chunk := ChunkFromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-stop:
			return
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop kills the recorder and closes the stream.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	close(s.streamCh)

	s.logger.Info("audio capture stopped")
	return nil
}

// Read reads the next audio chunk.
func (s *ExecSource) Read(ctx context.Context) (AudioChunk, error) {
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
func (s *ExecSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *ExecSource) Config() Config { return s.cfg }

// Name returns "exec".
func (s *ExecSource) Name() string { return "exec" }

// Close stops capture permanently.
func (s *ExecSource) Close() error {
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
func (s *ExecSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "exec",
	}
}

var _ SourceWithStats = (*ExecSource)(nil)

// ExecSink plays audio by writing raw PCM16 to a player process. The
// process is restarted on Clear to drop whatever it has buffered.
type ExecSink struct {
	cfg    Config
	logger *slog.Logger
	bin    string

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	playhead time.Time

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

func newExecSink(cfg Config, logger *slog.Logger) (*ExecSink, error) {
	_, play := commandNames(runtime.GOOS)
	if play == "" {
		return nil, ErrNoAudioTool
	}
	return &ExecSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.exec_sink"),
		bin:    play,
	}, nil
}

// Start launches the player.
func (s *ExecSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}
	if err := s.spawnLocked(); err != nil {
		return err
	}
	s.running = true
	s.logger.Info("audio playback started", "tool", s.bin, "device", s.cfg.Device)
	return nil
}

func (s *ExecSink) spawnLocked() error {
	cmd := exec.Command(s.bin, playbackArgs(runtime.GOOS, s.cfg)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.bin, err)
	}
	s.cmd = cmd
	s.stdin = stdin
	s.playhead = time.Time{}
	return nil
}

func (s *ExecSink) killLocked() {
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	s.playhead = time.Time{}
}

// Stop kills the player.
func (s *ExecSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	s.killLocked()
	s.logger.Info("audio playback stopped")
	return nil
}

// Write pipes a chunk to the player and advances the estimated playhead.
func (s *ExecSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if !s.running {
		return fmt.Errorf("sink not running")
	}
	if s.stdin == nil {
		if err := s.spawnLocked(); err != nil {
			return err
		}
	}
	if _, err := s.stdin.Write(chunk.Bytes()); err != nil {
		s.killLocked()
		return fmt.Errorf("write to %s: %w", s.bin, err)
	}

	now := time.Now()
	if s.playhead.Before(now) {
		s.playhead = now
	}
	s.playhead = s.playhead.Add(chunk.Duration())

	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush waits until the estimated playhead has passed.
func (s *ExecSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	wait := time.Until(s.playhead)
	s.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Clear kills the player; the next Write spawns a fresh one.
func (s *ExecSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	return nil
}

// Config returns the audio configuration.
func (s *ExecSink) Config() Config { return s.cfg }

// Name returns "exec".
func (s *ExecSink) Name() string { return "exec" }

// Close stops playback permanently.
func (s *ExecSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns sink statistics.
func (s *ExecSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	buffered := int64(time.Until(s.playhead).Seconds() * float64(s.cfg.SampleRate*s.cfg.Channels))
	s.mu.Unlock()
	if buffered < 0 {
		buffered = 0
	}
	return SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Running:         running,
		Backend:         "exec",
		BufferedSamples: buffered,
	}
}

var _ SinkWithStats = (*ExecSink)(nil)
