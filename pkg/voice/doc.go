// Package voice runs realtime voice conversations on top of the realtime,
// conversation and audio packages.
//
// A Session connects to a speech-to-speech provider through a
// realtime.Manager (OpenAI over WebRTC, xAI over WebSocket, with optional
// fallback between them), feeds server events through a
// realtime.Interpreter, records the transcript in a conversation.Log and
// answers tool calls with a conversation.Executor.
//
// # Usage
//
//	import (
//	    "github.com/buzzwordmojo/vox-reactor/pkg/realtime"
//	    _ "github.com/buzzwordmojo/vox-reactor/pkg/realtime/bundled"
//	    "github.com/buzzwordmojo/vox-reactor/pkg/voice"
//	)
//
//	cfg := voice.DefaultConfig().
//	    WithInstructions("You are a helpful assistant.").
//	    WithTools(realtime.NavigationTool(routes, nil))
//
//	session, err := voice.NewSession(cfg, realtime.StaticTokens(keys),
//	    voice.WithToolHandler(func(ctx context.Context, name string, args map[string]any) (conversation.ToolResult, error) {
//	        return conversation.Success("Navigated to " + args["route"].(string)), nil
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session.OnStateChange(func(st voice.State) {
//	    fmt.Printf("%s speaking=%v\n", st.Connection, st.Speaking)
//	})
//
//	if err := session.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Disconnect()
//
//	session.SendText("What can you do?")
//
// # Audio
//
// OpenAI plays assistant audio on its WebRTC track. xAI delivers base64
// PCM16 deltas, which the session decodes and plays through the device set
// with WithPlaybackDevice. Either way State.Speaking follows the assistant.
//
// # Latency Metrics
//
// Every turn is timed from the end of user speech:
//
//	m := session.Latency().Average()
//	fmt.Println(m.FormatLatency())
//
// WithRegisterer additionally exports Prometheus metrics.
package voice
