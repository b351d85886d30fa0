// Package conversation keeps the in-memory transcript of a voice session and
// runs the tools the model calls.
//
// Log is an ordered, append-only message list with synchronous change
// notification. Executor dispatches a tool call to a client handler, or to
// a server fallback when no client handler is set, and always produces a
// ToolResult.
//
// Example usage:
//
//	history := conversation.NewLog()
//	unsubscribe := history.Subscribe(func(msgs []conversation.Message) {
//	    render(msgs)
//	})
//	defer unsubscribe()
//
//	exec := conversation.NewExecutor(
//	    conversation.WithClientHandler(func(ctx context.Context, name string, args map[string]any) (conversation.ToolResult, error) {
//	        return conversation.Success("Navigated to " + args["route"].(string)), nil
//	    }),
//	)
//	result := exec.Execute(ctx, "navigate", map[string]any{"route": "/settings"})
package conversation

import (
	"context"
	"strconv"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status marks the outcome of an assistant message.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPending Status = "pending"
)

// Message is one conversation entry. Messages are never modified after
// they are added.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Status    Status `json:"status,omitempty"`
}

// Time returns the message timestamp.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

func messageID(role Role, ms int64) string {
	return string(role) + "-" + strconv.FormatInt(ms, 10)
}

// ToolResult is the outcome of a tool call, returned to the model as JSON.
type ToolResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Success returns a successful result.
func Success(message string) ToolResult {
	return ToolResult{Success: true, Message: message}
}

// Failure returns a failed result.
func Failure(message string) ToolResult {
	return ToolResult{Success: false, Message: message}
}

// ToolHandler executes a named tool. A returned error becomes a failed
// result.
type ToolHandler func(ctx context.Context, name string, args map[string]any) (ToolResult, error)

// Variant classifies a notification.
type Variant string

const (
	VariantSuccess Variant = "success"
	VariantError   Variant = "error"
	VariantInfo    Variant = "info"
)

// Notifier receives user-facing notifications about tool outcomes.
type Notifier func(message string, variant Variant)
