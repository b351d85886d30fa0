// Package audioio provides audio capture and playback for realtime sessions.
//
// Backends:
//   - native: miniaudio capture (malgo) and oto playback, cgo builds only
//   - exec: pipes raw PCM16 through arecord/aplay (Linux) or sox (macOS)
//   - mock: synthetic audio for CI and tests
//
// The backend is selected automatically for the platform, or can be
// explicitly specified via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendNative captures with malgo and plays with oto.
	BackendNative Backend = "native"
	// BackendExec shells out to the platform's command-line audio tools.
	BackendExec Backend = "exec"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Common sample rates.
const (
	RateRealtime = 24000 // PCM16 rate used by the WebSocket realtime API
	RateOpus     = 48000 // Opus clock rate used over WebRTC
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 24000
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the size of audio buffers.
	// Default: 20ms (480 samples at 24kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the platform-specific device identifier.
	// Examples:
	//   - native: a substring of the capture device name
	//   - arecord/aplay: "default", "plughw:1,0"
	//   - sox: a coreaudio device name, or empty for default
	//   - mock: ignored
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     RateRealtime,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// WithSampleRate returns a copy of c using rate.
func (c Config) WithSampleRate(rate int) Config {
	c.SampleRate = rate
	return c
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of samples per channel per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes.
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
