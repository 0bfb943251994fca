package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/internal/analytics"
	"github.com/Denis-Chistyakov/aigen/internal/history"
	"github.com/Denis-Chistyakov/aigen/internal/version"
	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

// Dependencies are the services the HTTP API is built on.
// Index, Forgetter, Collector and the probes are optional.
type Dependencies struct {
	Gate        Gate
	Fulfiller   Fulfiller
	History     history.Store
	Forgetter   Forgetter
	Index       Searcher
	Collector   *analytics.Collector
	Database    Pinger
	SearchProbe StatusReporter
	ImageProbe  StatusReporter
}

// Server represents the HTTP API server
type Server struct {
	app      *fiber.App
	config   *types.ServerConfig
	handlers *Handler
	deps     Dependencies
	port     int
}

// NewServer creates a new HTTP server
func NewServer(deps Dependencies, config *types.ServerConfig) *Server {
	bodyLimit := config.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 1024 * 1024 // 1MB
	}

	app := fiber.New(fiber.Config{
		ServerHeader: "AIGen",
		AppName:      "AIGen v" + version.Version,
		ReadTimeout:  types.DurationOr(config.ReadTimeout, 30*time.Second),
		WriteTimeout: types.DurationOr(config.WriteTimeout, 120*time.Second),
		BodyLimit:    bodyLimit,
		ErrorHandler: errorHandler,
	})

	s := &Server{
		app:      app,
		config:   config,
		deps:     deps,
		handlers: NewHandler(deps),
		port:     config.Port,
	}

	s.setupRoutes()

	return s
}

// App exposes the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.app.Use(RecoveryMiddleware())
	s.app.Use(RequestIDMiddleware())
	s.app.Use(LoggingMiddleware())
	s.app.Use(CORSMiddleware(s.config.CORSOrigins))

	// Health & observability
	s.app.Get("/", s.handlers.Root)
	s.app.Get("/health", s.handlers.HealthCheck)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	s.app.Get("/stats", s.handlers.Stats)

	// Auth
	authGroup := s.app.Group("/auth")
	authGroup.Post("/register", s.handlers.Register)
	authGroup.Post("/login", s.handlers.Login)

	protected := AuthMiddleware(s.deps.Gate)
	active := ActiveRequestsMiddleware(s.deps.Collector)

	// Fulfillment
	s.app.Get("/search", s.handlers.Search, protected, active)
	s.app.Post("/image", s.handlers.GenerateImage, protected, active)

	// Dashboard
	dashboard := s.app.Group("/dashboard", protected)
	dashboard.Get("/", s.handlers.ListHistory)
	dashboard.Get("/search", s.handlers.SearchHistory)
	dashboard.Delete("/:id", s.handlers.DeleteHistory)

	log.Info().Msg("HTTP routes configured")
}

// errorHandler renders errors that escaped the handlers, such as unknown routes
func errorHandler(c fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(types.ErrorResponse{
			Error:     fe.Message,
			Code:      codeForStatus(fe.Code),
			Timestamp: time.Now(),
		})
	}
	return writeError(c, err)
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return string(types.KindNotFound)
	case fiber.StatusUnauthorized:
		return string(types.KindUnauthorized)
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusRequestEntityTooLarge:
		return "payload_too_large"
	}
	if status >= fiber.StatusInternalServerError {
		return string(types.KindInternal)
	}
	return string(types.KindInvalidArgument)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.port)

	log.Info().
		Str("addr", addr).
		Msg("Starting HTTP API server")

	go func() {
		if err := s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	return nil
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping HTTP server")

	if err := s.app.ShutdownWithContext(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}

	log.Info().Msg("HTTP server stopped")
	return nil
}
