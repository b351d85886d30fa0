package realtime

import (
	"fmt"
)

// Session defaults shared by both providers.
const (
	DefaultVADThreshold       = 0.5
	DefaultSilenceDurationMs  = 800
	DefaultTranscriptionModel = "whisper-1"
	DefaultPrefixPaddingMs    = 300

	VoiceOpenAIDefault = "echo"
	VoiceXAIDefault    = "cove"
)

// ToolDefinition is a function the model may call.
type ToolDefinition struct {
	Type        string         `json:"type" yaml:"type"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
}

// NewTool returns a function-type tool definition.
func NewTool(name, description string, parameters map[string]any) ToolDefinition {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return ToolDefinition{Type: "function", Name: name, Description: description, Parameters: parameters}
}

// ValidateTools reports empty or duplicate tool names.
func ValidateTools(tools []ToolDefinition) error {
	seen := make(map[string]bool, len(tools))
	for i, t := range tools {
		if t.Name == "" {
			return fmt.Errorf("realtime: tool %d has no name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("realtime: duplicate tool name %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// SessionConfig is sent to the provider in session.update. It is passed by
// value and not modified during a connection attempt.
type SessionConfig struct {
	Instructions string           `json:"instructions" yaml:"instructions"`
	Tools        []ToolDefinition `json:"tools" yaml:"tools"`
	Voice        string           `json:"voice,omitempty" yaml:"voice"`

	// VADThreshold is the server VAD activation level in (0, 1]. Zero or
	// negative, including an explicit 0, selects DefaultVADThreshold (0.5).
	VADThreshold float64 `json:"vad_threshold,omitempty" yaml:"vad_threshold"`

	// SilenceDurationMs <= 0 selects DefaultSilenceDurationMs.
	SilenceDurationMs  int    `json:"silence_duration_ms,omitempty" yaml:"silence_duration_ms"`
	TranscriptionModel string `json:"transcription_model,omitempty" yaml:"transcription_model"`
}

// WithDefaults fills unset fields. voice is applied only when Voice is
// empty.
func (c SessionConfig) WithDefaults(voice string) SessionConfig {
	if c.Voice == "" {
		c.Voice = voice
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = DefaultVADThreshold
	}
	if c.SilenceDurationMs <= 0 {
		c.SilenceDurationMs = DefaultSilenceDurationMs
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = DefaultTranscriptionModel
	}
	return c
}

// Validate checks ranges and tool names.
func (c SessionConfig) Validate() error {
	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		return fmt.Errorf("realtime: vad threshold %v outside [0,1]", c.VADThreshold)
	}
	if c.SilenceDurationMs < 0 {
		return fmt.Errorf("realtime: negative silence duration %d", c.SilenceDurationMs)
	}
	return ValidateTools(c.Tools)
}

// toolsPayload returns the tools as wire objects, never nil.
func (c SessionConfig) toolsPayload() []any {
	out := make([]any, 0, len(c.Tools))
	for _, t := range c.Tools {
		typ := t.Type
		if typ == "" {
			typ = "function"
		}
		out = append(out, map[string]any{
			"type":        typ,
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}
	return out
}

// BaseSession builds the session object shared by both providers. Call on
// a config that already went through WithDefaults.
func (c SessionConfig) BaseSession() map[string]any {
	return map[string]any{
		"instructions": c.Instructions,
		"voice":        c.Voice,
		"input_audio_transcription": map[string]any{
			"model": c.TranscriptionModel,
		},
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           c.VADThreshold,
			"silence_duration_ms": c.SilenceDurationMs,
		},
		"tools":       c.toolsPayload(),
		"tool_choice": "auto",
	}
}
