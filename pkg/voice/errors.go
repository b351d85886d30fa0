package voice

import (
	"errors"
	"fmt"

	"github.com/buzzwordmojo/vox-reactor/pkg/realtime"
)

// Common errors returned by sessions.
var (
	// ErrNotConnected also matches realtime.ErrNotConnected.
	ErrNotConnected = fmt.Errorf("voice: session not connected: %w", realtime.ErrNotConnected)
	ErrNoTokens     = errors.New("voice: no token source")

	// ErrConnectAborted is returned by Connect when Disconnect ran first.
	// It also matches realtime.ErrClosed.
	ErrConnectAborted = fmt.Errorf("voice: connect aborted: %w", realtime.ErrClosed)
)
