package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/buzzwordmojo/vox-reactor/internal/httpc"
)

// defaultFailureMessage is used when a handler fails without saying why.
const defaultFailureMessage = "Tool execution failed"

// Option configures an Executor.
type Option func(*executorConfig)

type executorConfig struct {
	client   ToolHandler
	server   ToolHandler
	notifier Notifier
	logger   *slog.Logger
}

// WithClientHandler sets the application-side handler, tried first.
func WithClientHandler(h ToolHandler) Option {
	return func(c *executorConfig) { c.client = h }
}

// WithServerFallback sets the handler used only when no client handler is
// configured.
func WithServerFallback(h ToolHandler) Option {
	return func(c *executorConfig) { c.server = h }
}

// WithNotifier sets the notification callback.
func WithNotifier(n Notifier) Option {
	return func(c *executorConfig) { c.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *executorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Executor runs tool calls. Execute never fails: every outcome is a
// ToolResult.
type Executor struct {
	mu  sync.RWMutex
	cfg executorConfig
}

// NewExecutor creates an executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{cfg: executorConfig{logger: slog.Default()}}
	e.Configure(opts...)
	return e
}

// Configure applies opts on top of the current configuration.
func (e *Executor) Configure(opts ...Option) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, opt := range opts {
		opt(&e.cfg)
	}
}

// Execute runs the named tool.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) ToolResult {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	handler := cfg.client
	source := "client"
	if handler == nil {
		handler, source = cfg.server, "server"
	}
	if handler == nil {
		cfg.logger.Warn("no tool handler", "tool", name)
		result := Failure("No handler registered for tool: " + name)
		result.Error = ErrNoHandler.Error()
		return result
	}

	result, err := invoke(ctx, handler, name, args)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = defaultFailureMessage
		}
		if IsPanic(err) {
			cfg.logger.Error("tool panicked", "tool", name, "source", source, "error", err)
		} else {
			cfg.logger.Warn("tool failed", "tool", name, "source", source, "error", err)
		}
		notifyTool(cfg.notifier, msg, VariantError)
		return ToolResult{Success: false, Message: msg, Error: msg}
	}

	if !result.Success && result.Message == "" {
		result.Message = result.Error
		if result.Message == "" {
			result.Message = defaultFailureMessage
		}
	}

	variant := VariantSuccess
	if !result.Success {
		variant = VariantError
	}
	cfg.logger.Info("tool executed", "tool", name, "source", source, "success", result.Success)
	notifyTool(cfg.notifier, result.Message, variant)
	return result
}

// invoke calls h, converting a panic into a PanicError.
func invoke(ctx context.Context, h ToolHandler, name string, args map[string]any) (result ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Tool: name, Value: r}
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	return h(ctx, name, args)
}

func notifyTool(n Notifier, message string, variant Variant) {
	if n != nil && message != "" {
		n(message, variant)
	}
}

// HTTPHandler executes tools on an application server. It POSTs
// {"name": ..., "arguments": {...}} and expects a ToolResult in reply.
type HTTPHandler struct {
	URL    string
	Client *http.Client
	Header http.Header
}

type toolRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Handle implements ToolHandler.
func (h *HTTPHandler) Handle(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	body, err := json.Marshal(toolRequest{Name: name, Arguments: args})
	if err != nil {
		return ToolResult{}, err
	}
	raw, err := httpc.Post(ctx, h.Client, h.URL, "application/json", body, h.Header)
	if err != nil {
		var se *httpc.StatusError
		if errors.As(err, &se) && se.Body != "" {
			return ToolResult{}, fmt.Errorf("server tool %s: %s", name, se.Body)
		}
		return ToolResult{}, fmt.Errorf("server tool %s: %w", name, err)
	}
	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ToolResult{}, fmt.Errorf("server tool %s: decode result: %w", name, err)
	}
	return result, nil
}
