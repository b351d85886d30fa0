// Package realtime connects to cloud speech-to-speech APIs and normalises
// their event streams.
//
// Two providers speak the same JSON event protocol over different
// transports: OpenAI over a WebRTC data channel with media tracks, and xAI
// over a WebSocket carrying base64 PCM16. A Transport hides the difference;
// the Manager picks one and fails over to the other; the Interpreter turns
// incoming events into callbacks.
//
// # Basic Usage
//
//	import _ "github.com/buzzwordmojo/vox-reactor/pkg/realtime/bundled"
//
//	in := realtime.NewInterpreter(realtime.Callbacks{
//	    OnUserTranscript: func(text string) { fmt.Println("user:", text) },
//	})
//	mgr := realtime.NewManager(realtime.ManagerConfig{
//	    Default:      realtime.ProviderOpenAI,
//	    AutoFallback: true,
//	    OnEvent:      in.Handle,
//	})
//	if _, err := mgr.Connect(ctx, realtime.StaticTokens(keys), realtime.SessionConfig{
//	    Instructions: "You are a helpful assistant.",
//	}); err != nil {
//	    return err
//	}
//	defer mgr.Disconnect()
package realtime

import (
	"context"
	"fmt"
	"strings"
)

// ProviderName identifies a realtime provider.
type ProviderName string

const (
	ProviderOpenAI ProviderName = "openai"
	ProviderXAI    ProviderName = "xai"
)

// Other returns the alternate provider used for fallback.
func (p ProviderName) Other() ProviderName {
	if p == ProviderOpenAI {
		return ProviderXAI
	}
	return ProviderOpenAI
}

// DefaultVoice returns the provider's voice when none is configured.
func (p ProviderName) DefaultVoice() string {
	if p == ProviderXAI {
		return VoiceXAIDefault
	}
	return VoiceOpenAIDefault
}

// ParseProvider parses "openai" or "xai", case-insensitively.
func ParseProvider(s string) (ProviderName, error) {
	switch p := ProviderName(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOpenAI, ProviderXAI:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// EventHandler receives incoming events in wire order, one at a time. ctx
// is cancelled when the transport disconnects.
type EventHandler func(ctx context.Context, ev Event)

// Transport is a duplex audio and event connection to one provider.
type Transport interface {
	// Name returns the provider this transport talks to.
	Name() ProviderName

	// Connect acquires the microphone, opens the connection with token and
	// sends session.update. It returns once the session is configured.
	Connect(ctx context.Context, token string, cfg SessionConfig) error

	// Disconnect releases every resource. Safe from any state.
	Disconnect()

	// SendEvent sends a client event. A transport that is not open drops
	// the event and returns nil.
	SendEvent(ev Event) error

	// OnEvent sets the handler for server events.
	OnEvent(fn EventHandler)

	// IsConnected reports whether the event channel is open.
	IsConnected() bool

	// SetMicMuted replaces captured audio with silence while muted.
	SetMicMuted(muted bool)
}
