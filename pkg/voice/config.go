package voice

import (
	"errors"
	"fmt"
	"time"

	"github.com/buzzwordmojo/vox-reactor/pkg/idle"
	"github.com/buzzwordmojo/vox-reactor/pkg/realtime"
	"github.com/buzzwordmojo/vox-reactor/pkg/vad"
)

// DefaultProactivePrompt is sent when the idle detector fires and no
// prompt is configured.
const DefaultProactivePrompt = "[System: The user has been idle. Give them a friendly, brief suggestion about what to work on next. Keep it natural and encouraging, like a coach checking in.]"

// Config holds all tunable parameters for a voice session.
// Parameters are organized by concern for clarity.
type Config struct {
	// Provider selection
	Provider     realtime.ProviderName `yaml:"provider" json:"provider"`
	AutoFallback bool                  `yaml:"auto_fallback" json:"auto_fallback"`

	// Session settings sent to the provider in session.update
	Session realtime.SessionConfig `yaml:"session" json:"session"`

	// Audio settings
	PlaybackRate         int  `yaml:"playback_rate" json:"playback_rate"`                     // rate of decoded WebSocket audio (default: 24000)
	MuteMicWhileSpeaking bool `yaml:"mute_mic_while_speaking" json:"mute_mic_while_speaking"` // silence capture during assistant speech

	// Client-side VAD (optional)
	ClientVAD bool       `yaml:"client_vad" json:"client_vad"`
	VAD       vad.Config `yaml:"vad" json:"vad"`

	// Idle coaching (optional)
	IdleCoaching bool          `yaml:"idle_coaching" json:"idle_coaching"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"` // default: 30s
	IdlePrompt   string        `yaml:"idle_prompt" json:"idle_prompt"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:     realtime.ProviderOpenAI,
		AutoFallback: true,

		PlaybackRate: 24000,

		VAD: vad.DefaultConfig(),

		IdleTimeout: idle.DefaultTimeout,
		IdlePrompt:  DefaultProactivePrompt,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := realtime.ParseProvider(string(c.Provider)); err != nil {
		return fmt.Errorf("voice: %w", err)
	}
	if err := realtime.ValidateTools(c.Session.Tools); err != nil {
		return err
	}
	if c.PlaybackRate <= 0 {
		return errors.New("voice: playback rate must be positive")
	}
	if c.ClientVAD {
		if err := c.VAD.Validate(); err != nil {
			return err
		}
	}
	if c.IdleTimeout < 0 {
		return errors.New("voice: idle timeout must not be negative")
	}
	return nil
}

// WithProvider returns a copy with the provider set.
func (c Config) WithProvider(p realtime.ProviderName) Config {
	c.Provider = p
	return c
}

// WithInstructions returns a copy with the system instructions set.
func (c Config) WithInstructions(instructions string) Config {
	c.Session.Instructions = instructions
	return c
}

// WithTools returns a copy with the tool definitions set.
func (c Config) WithTools(tools ...realtime.ToolDefinition) Config {
	c.Session.Tools = tools
	return c
}

// WithVoice returns a copy with the voice set.
func (c Config) WithVoice(voice string) Config {
	c.Session.Voice = voice
	return c
}

// WithClientVAD returns a copy with client-side VAD enabled.
func (c Config) WithClientVAD(cfg vad.Config) Config {
	c.ClientVAD = true
	c.VAD = cfg
	return c
}

// WithIdleCoaching returns a copy with idle coaching enabled.
func (c Config) WithIdleCoaching(timeout time.Duration) Config {
	c.IdleCoaching = true
	c.IdleTimeout = timeout
	return c
}

// WithMicMute returns a copy that mutes the microphone while the assistant
// is speaking.
func (c Config) WithMicMute(mute bool) Config {
	c.MuteMicWhileSpeaking = mute
	return c
}
