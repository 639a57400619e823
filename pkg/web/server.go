// Package web serves the proctoring HTTP API and the proctor dashboard feed
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/hub"
	"github.com/teslashibe/go-proctor/pkg/ingest"
	"github.com/teslashibe/go-proctor/pkg/metrics"
	"github.com/teslashibe/go-proctor/pkg/service"
)

// maxFrameBytes bounds an uploaded frame
const maxFrameBytes = 8 * 1024 * 1024

// Server is the HTTP API server
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	svc      *service.Service
	hub      *hub.Hub
	ingest   *ingest.Hub
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// Option configures a Server
type Option func(*options)

type options struct {
	requestLog bool
	origins    string
	ingest     []ingest.Option
}

// WithRequestLog logs every request
func WithRequestLog() Option {
	return func(o *options) { o.requestLog = true }
}

// WithAllowedOrigins sets the CORS origins, comma separated
func WithAllowedOrigins(origins string) Option {
	return func(o *options) { o.origins = origins }
}

// WithIngestOptions configures the candidate websocket hub
func WithIngestOptions(opts ...ingest.Option) Option {
	return func(o *options) { o.ingest = append(o.ingest, opts...) }
}

// NewServer creates the server and registers every route. m may be nil.
func NewServer(addr string, svc *service.Service, dashboards *hub.Hub, m *metrics.Metrics, opts ...Option) *Server {
	o := options{origins: "*"}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		addr:     addr,
		logger:   log.Component("web"),
		svc:      svc,
		hub:      dashboards,
		ingest:   ingest.NewHub(svc, o.ingest...),
		metrics:  m,
		validate: validator.New(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-proctor",
		DisableStartupMessage: true,
		BodyLimit:             maxFrameBytes,
		ErrorHandler:          s.handleError,

		// Candidate ids outlive the request as tracker keys and hub filters
		Immutable: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: o.origins,
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if o.requestLog {
		app.Use(logger.New())
	}

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Post("/analyze", s.handleAnalyze)
	api.Post("/reset", s.handleReset)
	api.Post("/violations", s.handleLogViolation)
	api.Get("/violations/:id/screenshot", s.handleScreenshot)
	api.Get("/candidates", s.handleListCandidates)
	api.Get("/candidates/:id", s.handleGetCandidate)
	api.Delete("/candidates/:id", s.handleDeleteCandidate)
	api.Get("/ingest/stats", s.handleIngestStats)

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	s.ingest.RegisterRoutes(app)

	app.Use("/ws/verdicts", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/verdicts", websocket.New(s.handleVerdictsWS))

	s.app = app
	return s
}

// App returns the underlying Fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Start serves on the configured address until Shutdown
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Serve serves on an existing listener until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// handleError renders every error as {"error": ...}
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.As(err, &ve):
		code = fiber.StatusBadRequest
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
