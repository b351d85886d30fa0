// Package web serves the voice session dashboard: a JSON control API,
// Prometheus metrics and a websocket feed of state and conversation
// changes.
package web

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buzzwordmojo/vox-reactor/pkg/conversation"
	"github.com/buzzwordmojo/vox-reactor/pkg/hub"
	"github.com/buzzwordmojo/vox-reactor/pkg/voice"
)

// Websocket envelope types.
const (
	TypeState        = "state"
	TypeConversation = "conversation"
	TypeNotification = "notification"
)

// DefaultConnectTimeout bounds POST /api/connect.
const DefaultConnectTimeout = 20 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGatherer serves gatherer on /metrics. Default: prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithStatic serves files from dir at /.
func WithStatic(dir string) Option {
	return func(s *Server) { s.static = dir }
}

// WithConnectTimeout bounds session connects started from the API.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Server) { s.connectTimeout = d }
}

// Server is the web dashboard server
type Server struct {
	app     *fiber.App
	session *voice.Session
	hub     *hub.Hub
	logger  *slog.Logger

	gatherer       prometheus.Gatherer
	static         string
	connectTimeout time.Duration

	unsubscribe []func()
}

// NewServer creates a dashboard for session. Call Close to detach it.
func NewServer(session *voice.Session, opts ...Option) *Server {
	s := &Server{
		session:        session,
		logger:         slog.Default(),
		gatherer:       prometheus.DefaultGatherer,
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")
	s.hub = hub.New("dashboard", s.logger)

	app := fiber.New(fiber.Config{
		AppName:               "vox-reactor",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if s.static != "" {
		app.Static("/", s.static)
	}

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/conversation", s.handleConversation)
	api.Post("/connect", s.handleConnect)
	api.Post("/disconnect", s.handleDisconnect)
	api.Post("/interrupt", s.handleInterrupt)
	api.Post("/text", s.handleText)
	api.Post("/clear", s.handleClear)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleWS))

	s.unsubscribe = append(s.unsubscribe,
		session.OnStateChange(func(st voice.State) { s.publish(TypeState, st) }),
		session.History().Subscribe(func(msgs []conversation.Message) { s.publish(TypeConversation, messages(msgs)) }),
	)

	s.app = app
	return s
}

// App returns the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App { return s.app }

// Hub returns the websocket broadcast hub.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Notify forwards a tool notification to websocket clients. It matches
// conversation.Notifier.
func (s *Server) Notify(message string, variant conversation.Variant) {
	s.publish(TypeNotification, notification{Message: message, Variant: variant})
}

// Listen serves on addr until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.hub.Run(ctx)
	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.logger.Warn("shutdown", "error", err)
		}
	}()
	s.logger.Info("dashboard listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Close detaches the server from the session.
func (s *Server) Close() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
}

func (s *Server) publish(typ string, v any) {
	if err := s.hub.Publish(typ, v); err != nil {
		s.logger.Warn("publish", "type", typ, "error", err)
	}
}

// messages never returns nil so empty logs encode as [].
func messages(msgs []conversation.Message) []conversation.Message {
	if msgs == nil {
		return []conversation.Message{}
	}
	return msgs
}
