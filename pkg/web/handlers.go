package web

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-voiceloop/pkg/control"
	"github.com/teslashibe/go-voiceloop/pkg/history"
	"github.com/teslashibe/go-voiceloop/pkg/hub"
	"github.com/teslashibe/go-voiceloop/pkg/session"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	session.Status
	Clients int `json:"clients"`
}

// handleStatus returns the session snapshot.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(StatusResponse{
		Status:  s.ctl.Status(),
		Clients: s.events.ClientCount(),
	})
}

// MetricsResponse is returned by GET /api/metrics.
type MetricsResponse struct {
	Current session.Metrics `json:"current"`
	Average session.Metrics `json:"average"`
	Turns   int             `json:"turns"`
	Failed  int             `json:"failed"`
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	m := s.ctl.Metrics()
	turns, failed := m.Turns()
	return c.JSON(MetricsResponse{
		Current: m.Current(),
		Average: m.Average(),
		Turns:   turns,
		Failed:  failed,
	})
}

// handleHistory returns recent turns of this session.
func (s *Server) handleHistory(c *fiber.Ctx) error {
	if s.history == nil {
		return c.JSON([]history.Turn{})
	}
	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit <= 0 || limit > maxHistoryLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and " + strconv.Itoa(maxHistoryLimit),
		})
	}

	turns, err := s.history.Recent(c.UserContext(), s.ctl.Status().SessionID, limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if turns == nil {
		turns = []history.Turn{}
	}
	return c.JSON(turns)
}

// handleCommand queues an operator command. Acceptance only means the
// session received it; rejections arrive as error events.
func (s *Server) handleCommand(c *fiber.Ctx) error {
	name := c.Params("name")
	cmd, err := control.Parse(name)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":    err.Error(),
			"commands": control.Commands(),
		})
	}
	if ok, err := s.submit(c, session.Command(string(cmd))); !ok {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"command": cmd,
	})
}

// PromptRequest is the body of POST /api/prompt.
type PromptRequest struct {
	Text string `json:"text"`
}

func (s *Server) handlePrompt(c *fiber.Ctx) error {
	var req PromptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid body: " + err.Error(),
		})
	}
	in := session.Text(req.Text)
	if in.Line == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text is required",
		})
	}
	if ok, err := s.submit(c, in); !ok {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"prompt": in.Line,
	})
}

// submit hands in to the session. On failure it writes the error
// response and reports false.
func (s *Server) submit(c *fiber.Ctx, in session.Input) (bool, error) {
	err := s.ctl.Submit(c.UserContext(), in)
	if err == nil {
		return true, nil
	}
	status := fiber.StatusInternalServerError
	if errors.Is(err, session.ErrNotRunning) {
		status = fiber.StatusServiceUnavailable
	}
	return false, c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// handleEventsWS streams session events, starting with a status snapshot.
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	status := s.ctl.Status()
	snapshot, err := json.Marshal(Event{Type: EventStatus, Time: time.Now(), Status: &status})
	if err != nil {
		s.logger.Error("encode snapshot", "error", err)
		conn.Close()
		return
	}
	hub.NewClient(s.events, conn, hub.NewMessage(snapshot)).Run()
}
