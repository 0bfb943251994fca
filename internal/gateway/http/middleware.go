package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/internal/analytics"
	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

const (
	localRequestID = "request_id"
	localUserID    = "user_id"
)

// DefaultCORSOrigins are allowed when none are configured
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:3000"}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set("X-Request-ID", requestID)
		c.Locals(localRequestID, requestID)

		return c.Next()
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		event := log.Info()
		if c.Response().StatusCode() >= 500 {
			event = log.Warn()
		}
		if userID, ok := c.Locals(localUserID).(int64); ok {
			event = event.Int64("user_id", userID)
		}

		event.
			Str("request_id", requestIDOf(c)).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("duration", time.Since(start)).
			Str("ip", c.IP()).
			Msg("HTTP request")

		return err
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response
func RecoveryMiddleware() fiber.Handler {
	return func(c fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("request_id", requestIDOf(c)).
					Interface("panic", r).
					Msg("Panic recovered")

				err = writeError(c, types.Internal("Internal server error", nil))
			}
		}()

		return c.Next()
	}
}

// CORSMiddleware allows the configured browser origins with credentials
func CORSMiddleware(origins []string) fiber.Handler {
	if len(origins) == 0 {
		origins = DefaultCORSOrigins
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodDelete, fiber.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           86400,
	})
}

// AuthMiddleware requires a valid bearer token and stores the caller's id
func AuthMiddleware(gate Gate) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		userID, err := gate.Authenticate(c.Context(), token)
		if err != nil {
			c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
			return writeError(c, err)
		}

		c.Locals(localUserID, userID)
		return c.Next()
	}
}

// ActiveRequestsMiddleware tracks in-flight fulfillments
func ActiveRequestsMiddleware(collector *analytics.Collector) fiber.Handler {
	return func(c fiber.Ctx) error {
		if collector == nil {
			return c.Next()
		}
		collector.StartRequest()
		defer collector.EndRequest()
		return c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func requestIDOf(c fiber.Ctx) string {
	if id, ok := c.Locals(localRequestID).(string); ok {
		return id
	}
	return "unknown"
}

func userIDOf(c fiber.Ctx) int64 {
	id, _ := c.Locals(localUserID).(int64)
	return id
}
