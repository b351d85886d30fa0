//go:build integration

package bundled

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buzzwordmojo/vox-reactor/pkg/realtime"
)

// These tests call the provider APIs.
// Run with: go test -tags=integration -v ./pkg/realtime/bundled/...

func TestXAIIntegration(t *testing.T) {
	key := os.Getenv("XAI_API_KEY")
	if key == "" {
		t.Skip("XAI_API_KEY required")
	}

	dev := &devices{}
	x := NewXAI(dev.options()...)
	events := make(chan realtime.Event, 64)
	x.OnEvent(func(_ context.Context, ev realtime.Event) {
		select {
		case events <- ev:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, x.Connect(ctx, key, realtime.SessionConfig{Instructions: "Reply with one word."}))
	defer x.Disconnect()

	for {
		select {
		case ev := <-events:
			if ev.Type() == realtime.EventSessionUpdated || ev.Type() == realtime.EventSessionCreated {
				return
			}
		case <-ctx.Done():
			t.Fatal("no session event received")
		}
	}
}
