package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the on-disk session description loaded by voxd.
type File struct {
	Provider           string        `yaml:"provider"`
	AutoFallback       *bool         `yaml:"auto_fallback"`
	Instructions       string        `yaml:"instructions"`
	Voice              string        `yaml:"voice"`
	VADThreshold       float64       `yaml:"vad_threshold"`
	SilenceDurationMs  int           `yaml:"silence_duration_ms"`
	TranscriptionModel string        `yaml:"transcription_model"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	IdlePrompt         string        `yaml:"idle_prompt"`
	MuteWhileSpeaking  bool          `yaml:"mute_while_speaking"`
	ClientVAD          bool          `yaml:"client_vad"`
	Navigation         *Navigation   `yaml:"navigation"`
	Tools              []Tool        `yaml:"tools"`
}

// Navigation lists routes exposed through the navigate tool.
type Navigation struct {
	Routes  []string          `yaml:"routes"`
	Aliases map[string]string `yaml:"aliases"`
}

// Tool is a function definition declared in the session file.
type Tool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

// LoadFile reads and decodes a YAML session file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for i, t := range f.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("config: tool %d has no name", i)
		}
	}
	return &f, nil
}
