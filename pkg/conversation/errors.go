package conversation

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conversation package.
var (
	// ErrNoHandler indicates no client or server handler is configured.
	ErrNoHandler = errors.New("conversation: no tool handler")
)

// PanicError wraps a value recovered from a panicking tool handler.
type PanicError struct {
	Tool  string
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("conversation: tool %s panicked: %v", e.Tool, e.Value)
}

// IsPanic reports whether err came from a recovered handler panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
