// Package config provides environment and file configuration helpers for
// vox-reactor commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvXAIKey       = "XAI_API_KEY"
	EnvProvider     = "VOX_PROVIDER"
	EnvAutoFallback = "VOX_AUTO_FALLBACK"
	EnvTokenURL     = "VOX_TOKEN_URL"
	EnvListenAddr   = "VOX_LISTEN"
	EnvLogLevel     = "VOX_LOG_LEVEL"
)

// Defaults.
const (
	DefaultProvider   = "openai"
	DefaultListenAddr = ":8181"
	DefaultLogLevel   = "info"
)

// LoadDotEnv loads variables from the given .env files, or ./.env when none
// are given. Missing files are not an error; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	return nil
}

// String returns the env var value or def when unset or empty.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Bool returns the env var parsed as a bool, or def when unset or invalid.
func Bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Duration returns the env var parsed as a duration, or def.
func Duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// APIKey returns the provider API key for "openai" or "xai".
func APIKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv(EnvOpenAIKey)
	case "xai":
		return os.Getenv(EnvXAIKey)
	}
	return ""
}
