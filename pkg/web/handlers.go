package web

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/buzzwordmojo/vox-reactor/pkg/conversation"
	"github.com/buzzwordmojo/vox-reactor/pkg/hub"
	"github.com/buzzwordmojo/vox-reactor/pkg/realtime"
	"github.com/buzzwordmojo/vox-reactor/pkg/voice"
)

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	State   voice.State   `json:"state"`
	Latency voice.Metrics `json:"latency"`
	Clients int           `json:"clients"`
}

// TextRequest is the request body for POST /api/text.
type TextRequest struct {
	Text string `json:"text"`
}

type notification struct {
	Message string               `json:"message"`
	Variant conversation.Variant `json:"variant"`
}

// handleStatus returns the session state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(StatusResponse{
		State:   s.session.State(),
		Latency: s.session.Latency().Average(),
		Clients: s.hub.ClientCount(),
	})
}

// handleConversation returns the conversation log
func (s *Server) handleConversation(c *fiber.Ctx) error {
	return c.JSON(messages(s.session.History().Messages()))
}

func (s *Server) handleConnect(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), s.connectTimeout)
	defer cancel()
	if err := s.session.Connect(ctx); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
			"state": s.session.State(),
		})
	}
	return c.JSON(s.session.State())
}

func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	s.session.Disconnect()
	return c.JSON(s.session.State())
}

func (s *Server) handleInterrupt(c *fiber.Ctx) error {
	if err := s.session.Interrupt(); err != nil {
		return sessionError(c, err)
	}
	return c.JSON(s.session.State())
}

func (s *Server) handleText(c *fiber.Ctx) error {
	var req TextRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if err := s.session.SendText(req.Text); err != nil {
		return sessionError(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleClear(c *fiber.Ctx) error {
	s.session.ClearHistory()
	return c.SendStatus(fiber.StatusNoContent)
}

func sessionError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	if errors.Is(err, realtime.ErrNotConnected) {
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// handleWS sends the current state and conversation, then streams
// changes until the client goes away.
func (s *Server) handleWS(c *websocket.Conn) {
	s.serveWS(c)
}

// serveWS registers conn before writing the snapshots, so an update
// published in between is queued rather than lost. The write pump starts
// only after the snapshots, keeping a single writer.
func (s *Server) serveWS(conn hub.Conn) {
	client := hub.NewClient(s.hub, conn)
	for _, env := range []hub.Envelope{
		{Type: TypeState, Data: s.session.State()},
		{Type: TypeConversation, Data: messages(s.session.History().Messages())},
	} {
		data, err := json.Marshal(env)
		if err == nil {
			err = conn.WriteMessage(websocket.TextMessage, data)
		}
		if err != nil {
			s.logger.Debug("ws snapshot failed", "error", err)
			_ = conn.Close()
			break
		}
	}
	client.Run()
}
