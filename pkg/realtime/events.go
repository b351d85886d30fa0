package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Server event types.
const (
	EventSessionCreated            = "session.created"
	EventSessionUpdated            = "session.updated"
	EventSpeechStarted             = "input_audio_buffer.speech_started"
	EventSpeechStopped             = "input_audio_buffer.speech_stopped"
	EventTranscriptionCompleted    = "conversation.item.input_audio_transcription.completed"
	EventTranscriptionFailed       = "conversation.item.input_audio_transcription.failed"
	EventResponseCreated           = "response.created"
	EventResponseAudioDelta        = "response.audio.delta"
	EventResponseTranscriptDelta   = "response.audio_transcript.delta"
	EventResponseDone              = "response.done"
	EventResponseCancelled         = "response.cancelled"
	EventFunctionCallArgumentsDone = "response.function_call_arguments.done"
	EventError                     = "error"
)

// Client event types.
const (
	EventSessionUpdate  = "session.update"
	EventAudioAppend    = "input_audio_buffer.append"
	EventItemCreate     = "conversation.item.create"
	EventResponseCreate = "response.create"
	EventResponseCancel = "response.cancel"
)

// Event is one JSON message keyed by "type".
type Event map[string]any

// ParseEvent decodes a wire message.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev == nil {
		return nil, ErrInvalidEvent
	}
	return ev, nil
}

// Type returns the event type, or "" when absent.
func (e Event) Type() string {
	return e.String("type")
}

// String returns a string field, or "" when absent or not a string.
func (e Event) String(key string) string {
	s, _ := e[key].(string)
	return s
}

// Map returns an object field, or nil.
func (e Event) Map(key string) map[string]any {
	m, _ := e[key].(map[string]any)
	return m
}

// newEvent stamps a client event with a type and a unique event_id.
func newEvent(typ string) Event {
	return Event{
		"type":     typ,
		"event_id": "evt_" + uuid.NewString(),
	}
}

// SessionUpdate wraps a session object.
func SessionUpdate(session map[string]any) Event {
	ev := newEvent(EventSessionUpdate)
	ev["session"] = session
	return ev
}

// AudioAppend carries one base64 PCM16 frame.
func AudioAppend(audio string) Event {
	ev := newEvent(EventAudioAppend)
	ev["audio"] = audio
	return ev
}

// FunctionCallOutput returns a tool result to the model.
func FunctionCallOutput(callID, output string) Event {
	ev := newEvent(EventItemCreate)
	ev["item"] = map[string]any{
		"type":    "function_call_output",
		"call_id": callID,
		"output":  output,
	}
	return ev
}

// UserText adds a typed user message to the conversation.
func UserText(text string) Event {
	ev := newEvent(EventItemCreate)
	ev["item"] = map[string]any{
		"type": "message",
		"role": "user",
		"content": []any{
			map[string]any{"type": "input_text", "text": text},
		},
	}
	return ev
}

// ResponseCreate asks the model to respond.
func ResponseCreate() Event {
	return newEvent(EventResponseCreate)
}

// ResponseCancel interrupts the current response.
func ResponseCancel() Event {
	return newEvent(EventResponseCancel)
}
