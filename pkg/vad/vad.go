// Package vad turns periodic microphone levels into speech boundary and
// barge-in events.
//
// The engine runs a two-state machine (silent, speaking) on a fixed tick.
// A louder threshold applies while synthesized speech is playing so users
// must deliberately raise their voice to interrupt. Ending speech is gated
// by a lower silence threshold, a silence dwell time and a minimum speech
// length.
package vad

import (
	"errors"
	"time"
)

// Config holds thresholds (volume 0-100) and timings.
type Config struct {
	SpeechThreshold   float64       `yaml:"speech_threshold" json:"speech_threshold"`
	BargeInThreshold  float64       `yaml:"barge_in_threshold" json:"barge_in_threshold"`
	SilenceThreshold  float64       `yaml:"silence_threshold" json:"silence_threshold"`
	SilenceDuration   time.Duration `yaml:"silence_duration" json:"silence_duration"`
	MinSpeechDuration time.Duration `yaml:"min_speech_duration" json:"min_speech_duration"`
	CheckInterval     time.Duration `yaml:"check_interval" json:"check_interval"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		SpeechThreshold:   35,
		BargeInThreshold:  55,
		SilenceThreshold:  28,
		SilenceDuration:   2000 * time.Millisecond,
		MinSpeechDuration: 300 * time.Millisecond,
		CheckInterval:     50 * time.Millisecond,
	}
}

// ErrInvalidInterval is returned for a non-positive check interval.
var ErrInvalidInterval = errors.New("vad: check interval must be positive")

// Validate checks the timing fields. Threshold ordering is the caller's
// responsibility: BargeInThreshold should be at least SpeechThreshold.
func (c Config) Validate() error {
	if c.CheckInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.SilenceDuration < 0 || c.MinSpeechDuration < 0 {
		return errors.New("vad: durations must not be negative")
	}
	return nil
}

// EventType names an engine event.
type EventType string

const (
	EventSpeechStart EventType = "speech_start"
	EventSpeechEnd   EventType = "speech_end"
	EventBargeIn     EventType = "barge_in"
	EventLevel       EventType = "level"
)

// Event is emitted by the engine. Duration is set on speech_end; Volume and
// Peak on every event.
type Event struct {
	Type     EventType
	Volume   float64
	Peak     float64
	Duration time.Duration
}

// Level is one amplitude reading.
type Level struct {
	Volume float64 // RMS-derived, 0-100
	Peak   float64 // max absolute deviation, 0-128
}

// LevelSource yields the most recent amplitude reading.
type LevelSource interface {
	Level() Level
}

// LevelFunc adapts a function to LevelSource.
type LevelFunc func() Level

// Level implements LevelSource.
func (f LevelFunc) Level() Level { return f() }
