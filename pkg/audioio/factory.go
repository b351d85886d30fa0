package audioio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
)

// NewSource creates a new audio source with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend()
	}

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendNative:
		return newNativeSource(cfg, logger)
	case BackendExec:
		return newExecSource(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// NewSink creates a new audio sink with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend()
	}

	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendNative:
		return newNativeSink(cfg, logger)
	case BackendExec:
		return newExecSink(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// detectBestBackend prefers the native backend, then the platform's
// command-line tools, then mock.
func detectBestBackend() Backend {
	return pickBackend(nativeAvailable, execAvailable(runtime.GOOS))
}

func pickBackend(native, exec bool) Backend {
	switch {
	case native:
		return BackendNative
	case exec:
		return BackendExec
	}
	return BackendMock
}

// execAvailable reports whether the capture tool for goos is on PATH.
func execAvailable(goos string) bool {
	rec, _ := commandNames(goos)
	if rec == "" {
		return false
	}
	_, err := exec.LookPath(rec)
	return err == nil
}

// AvailableBackends returns the list of backends available on this platform.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if nativeAvailable {
		backends = append(backends, BackendNative)
	}
	if execAvailable(runtime.GOOS) {
		backends = append(backends, BackendExec)
	}
	return backends
}
