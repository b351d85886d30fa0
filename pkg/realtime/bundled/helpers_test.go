package bundled

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/buzzwordmojo/vox-reactor/internal/log"
	"github.com/buzzwordmojo/vox-reactor/pkg/audioio"
	"github.com/buzzwordmojo/vox-reactor/pkg/realtime"
)

// devices hands out mock microphones and speakers and remembers them.
type devices struct {
	mu       sync.Mutex
	source   *audioio.MockSource
	sink     *audioio.MockSink
	srcOpts  []audioio.MockSourceOption
	sourceCt int
}

func (d *devices) newSource(cfg audioio.Config, l *slog.Logger) (audioio.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	opts := append([]audioio.MockSourceOption{audioio.WithoutGenerator()}, d.srcOpts...)
	d.source = audioio.NewMockSource(cfg, l, opts...)
	d.sourceCt++
	return d.source, nil
}

func (d *devices) newSink(cfg audioio.Config, l *slog.Logger) (audioio.Sink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = audioio.NewMockSink(cfg, l)
	return d.sink, nil
}

func (d *devices) mic() *audioio.MockSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source
}

func (d *devices) speaker() *audioio.MockSink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sink
}

func (d *devices) options() []Option {
	return []Option{
		WithLogger(log.Discard()),
		WithSourceFunc(d.newSource),
		WithSinkFunc(d.newSink),
	}
}

// fakeCodec passes PCM through as bytes and counts calls.
type fakeCodec struct {
	encodes atomic.Int64
	decodes atomic.Int64
}

func (c *fakeCodec) Encode(pcm []int16, data []byte) (int, error) {
	c.encodes.Add(1)
	n := copy(data, audioio.SamplesToBytes(pcm))
	return n, nil
}

func (c *fakeCodec) Decode(data []byte, pcm []int16) (int, error) {
	c.decodes.Add(1)
	return copy(pcm, audioio.BytesToSamples(data)), nil
}

func fakeCodecOption(c *fakeCodec) Option {
	return withCodec(func(int, int) (opusCodec, error) { return c, nil })
}

// loopbackSettings keeps ICE on the local host.
func loopbackSettings() *webrtc.SettingEngine {
	se := &webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	return se
}

func waitEvent(t *testing.T, ch <-chan realtime.Event) realtime.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func pcm(n int, v int16) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return s
}
