package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buzzwordmojo/vox-reactor/internal/log"
)

type notification struct {
	message string
	variant Variant
}

func recordNotifications() (Notifier, *[]notification) {
	var got []notification
	return func(m string, v Variant) { got = append(got, notification{m, v}) }, &got
}

func staticHandler(result ToolResult, err error) ToolHandler {
	return func(context.Context, string, map[string]any) (ToolResult, error) { return result, err }
}

func TestExecutor(t *testing.T) {
	tests := []struct {
		name       string
		client     ToolHandler
		server     ToolHandler
		want       ToolResult
		wantNotify []notification
	}{
		{
			name:       "client success",
			client:     staticHandler(Success("Navigated to /about"), nil),
			want:       Success("Navigated to /about"),
			wantNotify: []notification{{"Navigated to /about", VariantSuccess}},
		},
		{
			name:       "client failure result",
			client:     staticHandler(Failure("Route not found"), nil),
			want:       Failure("Route not found"),
			wantNotify: []notification{{"Route not found", VariantError}},
		},
		{
			name:       "client error",
			client:     staticHandler(ToolResult{}, errors.New("database offline")),
			want:       ToolResult{Success: false, Message: "database offline", Error: "database offline"},
			wantNotify: []notification{{"database offline", VariantError}},
		},
		{
			name:       "client preferred over server",
			client:     staticHandler(Success("client"), nil),
			server:     staticHandler(Success("server"), nil),
			want:       Success("client"),
			wantNotify: []notification{{"client", VariantSuccess}},
		},
		{
			name:       "server fallback",
			server:     staticHandler(Success("server"), nil),
			want:       Success("server"),
			wantNotify: []notification{{"server", VariantSuccess}},
		},
		{
			name: "no handler",
			want: ToolResult{
				Success: false,
				Message: "No handler registered for tool: navigate",
				Error:   ErrNoHandler.Error(),
			},
		},
		{
			name:       "failure without message gets one",
			client:     staticHandler(ToolResult{Success: false}, nil),
			want:       Failure("Tool execution failed"),
			wantNotify: []notification{{"Tool execution failed", VariantError}},
		},
		{
			name:   "success without message is not notified",
			client: staticHandler(ToolResult{Success: true}, nil),
			want:   ToolResult{Success: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier, got := recordNotifications()
			e := NewExecutor(
				WithClientHandler(tt.client),
				WithServerFallback(tt.server),
				WithNotifier(notifier),
			)

			result := e.Execute(context.Background(), "navigate", map[string]any{"route": "/about"})

			assert.Equal(t, tt.want, result)
			assert.Equal(t, tt.wantNotify, *got)
			if !result.Success {
				assert.NotEmpty(t, result.Message, "failed results always carry a message")
			}
		})
	}
}

func TestExecutorPanic(t *testing.T) {
	notifier, got := recordNotifications()
	var logs bytes.Buffer
	e := NewExecutor(
		WithClientHandler(func(context.Context, string, map[string]any) (ToolResult, error) {
			panic("nil map")
		}),
		WithNotifier(notifier),
		WithLogger(log.New(&logs, "debug")),
	)

	var result ToolResult
	require.NotPanics(t, func() {
		result = e.Execute(context.Background(), "crash", nil)
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "crash panicked")
	require.Len(t, *got, 1)
	assert.Equal(t, VariantError, (*got)[0].variant)
	assert.Contains(t, logs.String(), "ERROR")
	assert.Contains(t, logs.String(), "tool panicked")
}

func TestIsPanic(t *testing.T) {
	_, err := invoke(context.Background(), func(context.Context, string, map[string]any) (ToolResult, error) {
		panic("boom")
	}, "x", nil)
	assert.True(t, IsPanic(err))
	assert.True(t, IsPanic(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsPanic(errors.New("plain")))
	assert.False(t, IsPanic(nil))
}

func TestExecutorPassesArguments(t *testing.T) {
	var gotName string
	var gotArgs map[string]any
	e := NewExecutor(WithClientHandler(func(_ context.Context, name string, args map[string]any) (ToolResult, error) {
		gotName, gotArgs = name, args
		return Success("ok"), nil
	}))

	e.Execute(context.Background(), "navigate", map[string]any{"route": "/x"})
	assert.Equal(t, "navigate", gotName)
	assert.Equal(t, map[string]any{"route": "/x"}, gotArgs)

	e.Execute(context.Background(), "list", nil)
	assert.NotNil(t, gotArgs, "nil arguments become an empty object")
}

func TestExecutorConfigure(t *testing.T) {
	e := NewExecutor()
	assert.False(t, e.Execute(context.Background(), "x", nil).Success)

	e.Configure(WithClientHandler(staticHandler(Success("now handled"), nil)))
	assert.Equal(t, Success("now handled"), e.Execute(context.Background(), "x", nil))
}

func TestHTTPHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req toolRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		switch req.Name {
		case "createSkill":
			_ = json.NewEncoder(w).Encode(ToolResult{
				Success: true,
				Message: "Created " + req.Arguments["name"].(string),
				Data:    map[string]any{"id": "sk_1"},
			})
		case "broken":
			_, _ = io.WriteString(w, "{")
		default:
			http.Error(w, "unknown tool", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h := &HTTPHandler{URL: srv.URL}

	result, err := h.Handle(context.Background(), "createSkill", map[string]any{"name": "Go"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "Created Go", result.Message)
	assert.Equal(t, "sk_1", result.Data["id"])

	_, err = h.Handle(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")

	_, err = h.Handle(context.Background(), "broken", nil)
	assert.Error(t, err)

	t.Run("as server fallback", func(t *testing.T) {
		e := NewExecutor(WithServerFallback(h.Handle))
		result := e.Execute(context.Background(), "missing", nil)
		assert.False(t, result.Success)
		assert.Equal(t, "server tool missing: unknown tool", result.Message)
	})
}
