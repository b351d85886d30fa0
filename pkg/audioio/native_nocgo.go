//go:build !cgo

package audioio

import "log/slog"

const nativeAvailable = false

func newNativeSource(Config, *slog.Logger) (Source, error) {
	return nil, ErrNativeUnavailable
}

func newNativeSink(Config, *slog.Logger) (Sink, error) {
	return nil, ErrNativeUnavailable
}
