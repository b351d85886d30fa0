package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// benignErrors are provider error substrings that carry no user-facing
// meaning. Matched verbatim.
var benignErrors = []string{
	"buffer is empty",
	"already has an active response",
}

// ToolCall is a model request to run a named function.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// Callbacks receive normalised session activity. Nil fields are skipped.
type Callbacks struct {
	OnUserSpeakingChange      func(speaking bool)
	OnAssistantSpeakingChange func(speaking bool)
	OnStreamingTranscript     func(text string)
	OnUserTranscript          func(text string)
	OnAssistantTranscript     func(text string)
	OnAudioDelta              func(audio string)
	// OnToolCall runs synchronously; the next event is not handled until
	// it returns.
	OnToolCall func(ctx context.Context, call ToolCall) error
	OnError    func(err error)
}

// Interpreter maps wire events to Callbacks. It keeps only the streaming
// assistant transcript between events. Handle is safe for concurrent use
// but transports call it sequentially.
type Interpreter struct {
	cb      Callbacks
	logger  *slog.Logger
	metrics *Metrics

	mu        sync.Mutex
	streaming strings.Builder
}

// InterpreterOption configures an Interpreter.
type InterpreterOption func(*Interpreter)

// WithInterpreterLogger sets the logger.
func WithInterpreterLogger(l *slog.Logger) InterpreterOption {
	return func(in *Interpreter) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithInterpreterMetrics counts handled events.
func WithInterpreterMetrics(m *Metrics) InterpreterOption {
	return func(in *Interpreter) { in.metrics = m }
}

// NewInterpreter creates an interpreter for cb.
func NewInterpreter(cb Callbacks, opts ...InterpreterOption) *Interpreter {
	in := &Interpreter{cb: cb, logger: slog.Default()}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = in.logger.With("component", "realtime.interpreter")
	return in
}

// Streaming returns the assistant transcript accumulated so far.
func (in *Interpreter) Streaming() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.streaming.String()
}

func (in *Interpreter) resetStreaming() {
	in.mu.Lock()
	in.streaming.Reset()
	in.mu.Unlock()
}

func (in *Interpreter) appendStreaming(delta string) string {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.streaming.WriteString(delta)
	return in.streaming.String()
}

// Handle processes one event. Unknown types are ignored.
func (in *Interpreter) Handle(ctx context.Context, ev Event) {
	typ := ev.Type()
	in.metrics.event(typ)

	switch typ {
	case EventSessionCreated, EventSessionUpdated:

	case EventSpeechStarted:
		in.userSpeaking(true)
		in.resetStreaming()
		in.streamingTranscript("")

	case EventSpeechStopped:
		in.userSpeaking(false)

	case EventTranscriptionCompleted:
		if text := ev.String("transcript"); text != "" {
			if in.cb.OnUserTranscript != nil {
				in.cb.OnUserTranscript(text)
			}
			in.resetStreaming()
			in.streamingTranscript("")
		}

	case EventTranscriptionFailed:
		in.logger.Debug("input transcription failed", "event", ev.Map("error"))

	case EventResponseCreated:
		in.assistantSpeaking(true)

	case EventResponseAudioDelta:
		if audio := ev.String("delta"); audio != "" && in.cb.OnAudioDelta != nil {
			in.cb.OnAudioDelta(audio)
		}

	case EventResponseTranscriptDelta:
		if delta := ev.String("delta"); delta != "" {
			in.streamingTranscript(in.appendStreaming(delta))
		}

	case EventResponseDone:
		in.assistantSpeaking(false)
		if in.cb.OnAssistantTranscript != nil {
			for _, text := range assistantTranscripts(ev.Map("response")) {
				in.cb.OnAssistantTranscript(text)
			}
		}

	case EventResponseCancelled:
		in.assistantSpeaking(false)

	case EventFunctionCallArgumentsDone:
		in.toolCall(ctx, ev)

	case EventError:
		in.providerError(ev)
	}
}

func (in *Interpreter) toolCall(ctx context.Context, ev Event) {
	call := ToolCall{
		CallID:    ev.String("call_id"),
		Name:      ev.String("name"),
		Arguments: parseArguments(ev.String("arguments")),
	}
	in.logger.Info("tool call", "name", call.Name, "call_id", call.CallID)
	if in.cb.OnToolCall == nil {
		return
	}
	if err := in.cb.OnToolCall(ctx, call); err != nil {
		in.logger.Warn("tool call handler failed", "name", call.Name, "error", err)
	}
}

func (in *Interpreter) providerError(ev Event) {
	data := ev.Map("error")
	msg, _ := data["message"].(string)
	if msg == "" {
		msg = "Unknown error"
	}
	for _, b := range benignErrors {
		if strings.Contains(msg, b) {
			in.logger.Debug("ignoring benign provider error", "message", msg)
			return
		}
	}
	code, _ := data["code"].(string)
	typ, _ := data["type"].(string)
	in.metrics.providerError(code)
	if in.cb.OnError != nil {
		in.cb.OnError(&ProviderError{Type: typ, Code: code, Message: msg})
	}
}

func (in *Interpreter) userSpeaking(v bool) {
	if in.cb.OnUserSpeakingChange != nil {
		in.cb.OnUserSpeakingChange(v)
	}
}

func (in *Interpreter) assistantSpeaking(v bool) {
	if in.cb.OnAssistantSpeakingChange != nil {
		in.cb.OnAssistantSpeakingChange(v)
	}
}

func (in *Interpreter) streamingTranscript(text string) {
	if in.cb.OnStreamingTranscript != nil {
		in.cb.OnStreamingTranscript(text)
	}
}

// parseArguments decodes tool arguments, returning an empty object when
// they are missing or malformed.
func parseArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed == nil {
		return args
	}
	return parsed
}

// assistantTranscripts collects audio transcripts from assistant message
// items in a response.done payload.
func assistantTranscripts(response map[string]any) []string {
	output, _ := response["output"].([]any)
	var out []string
	for _, raw := range output {
		item, _ := raw.(map[string]any)
		if item["type"] != "message" || item["role"] != "assistant" {
			continue
		}
		content, _ := item["content"].([]any)
		for _, rc := range content {
			c, _ := rc.(map[string]any)
			if c["type"] != "audio" {
				continue
			}
			if text, _ := c["transcript"].(string); text != "" {
				out = append(out, text)
			}
		}
	}
	return out
}
