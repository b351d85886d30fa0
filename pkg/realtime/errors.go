package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for the realtime package.
var (
	// ErrNotConnected indicates no transport is active.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrUnknownProvider indicates an unrecognised provider name.
	ErrUnknownProvider = errors.New("realtime: unknown provider")

	// ErrNoTransport indicates no factory is registered for a provider.
	ErrNoTransport = errors.New("realtime: no transport registered")

	// ErrInvalidToken indicates the token source returned an empty or
	// expired token.
	ErrInvalidToken = errors.New("realtime: invalid or expired token")

	// ErrInvalidEvent indicates a wire message that is not a JSON object.
	ErrInvalidEvent = errors.New("realtime: invalid event")

	// ErrClosed indicates Disconnect ran while a connection attempt was
	// still in progress.
	ErrClosed = errors.New("realtime: connection closed")
)

// Connect stages reported in ConnectError.
const (
	StageToken       = "token"
	StageMedia       = "media"
	StageSignaling   = "signaling"
	StageDial        = "dial"
	StageDataChannel = "data_channel"
	StageSession     = "session"
)

// ConnectError is a failed connection attempt.
type ConnectError struct {
	Provider ProviderName
	Stage    string
	Cause    error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("realtime: %s connect failed at %s: %v", e.Provider, e.Stage, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// NewConnectError creates a ConnectError.
func NewConnectError(provider ProviderName, stage string, cause error) *ConnectError {
	return &ConnectError{Provider: provider, Stage: stage, Cause: cause}
}

// FallbackError reports that both the primary and the fallback provider
// failed. Both causes are kept.
type FallbackError struct {
	Primary     ProviderName
	PrimaryErr  error
	Fallback    ProviderName
	FallbackErr error
}

// Error implements the error interface.
func (e *FallbackError) Error() string {
	return fmt.Sprintf("realtime: both providers failed. primary (%s): %v. fallback (%s): %v",
		e.Primary, e.PrimaryErr, e.Fallback, e.FallbackErr)
}

// Unwrap returns both causes.
func (e *FallbackError) Unwrap() []error {
	return []error{e.PrimaryErr, e.FallbackErr}
}

// ProviderError is an error event sent by the provider. The session stays
// connected.
type ProviderError struct {
	Type    string
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: provider error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("realtime: provider error: %s", e.Message)
}

// IsConnectFailure reports whether err came from a connection attempt.
func IsConnectFailure(err error) bool {
	var ce *ConnectError
	var fe *FallbackError
	return errors.As(err, &ce) || errors.As(err, &fe)
}
