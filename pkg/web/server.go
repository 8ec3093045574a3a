// Package web serves the operator API: session status, metrics and
// history, command and prompt submission, and a websocket event feed.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-voiceloop/pkg/history"
	"github.com/teslashibe/go-voiceloop/pkg/hub"
	"github.com/teslashibe/go-voiceloop/pkg/session"
)

// Controller is the session surface the API drives.
type Controller interface {
	Status() session.Status
	Submit(ctx context.Context, in session.Input) error
	Metrics() *session.MetricsCollector
}

// Server is the operator API server.
type Server struct {
	app     *fiber.App
	addr    string
	ctl     Controller
	history history.Store
	events  *hub.Hub
	logger  *slog.Logger
}

// NewServer creates a server for ctl. store may be nil.
func NewServer(addr string, ctl Controller, store history.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:    addr,
		ctl:     ctl,
		history: store,
		events:  hub.New("events", logger),
		logger:  logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voiceloop",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/metrics", s.handleMetrics)
	api.Get("/history", s.handleHistory)
	api.Post("/commands/:name", s.handleCommand)
	api.Post("/prompt", s.handlePrompt)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// Run serves until ctx is done, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	go s.events.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("operator API listening", "addr", s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.app.Shutdown()
	}
}

// Events returns the event hub.
func (s *Server) Events() *hub.Hub {
	return s.events
}
