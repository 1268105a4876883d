package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Leases     *LeaseBook
	ListenPort int
}

const contextKeyRequestID = "_imagecache_request_id"

// NewApp builds a Fiber application exposing the lease API with request IDs,
// access logging and structured JSON errors. Diagnostics live under /-/ and
// are registered separately by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Leases == nil {
		return nil, errors.New("lease book is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		AppName:       "imagecache",
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	h := &leaseHandlers{leases: opts.Leases, logger: opts.Logger}
	app.Post("/leases", h.create)
	app.Get("/leases/:id", h.show)
	app.Get("/leases/:id/content", h.content)
	app.Delete("/leases/:id", h.release)

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		started := time.Now()
		err := c.Next()

		path := string(c.Request().URI().Path())
		entry := logger.WithFields(logrus.Fields{
			"action":     "http",
			"request_id": reqID,
			"method":     c.Method(),
			"path":       path,
			"status":     c.Response().StatusCode(),
			"elapsed_ms": time.Since(started).Milliseconds(),
		})
		if isDiagnosticsPath(path) {
			entry.Debug("request_complete")
		} else {
			entry.Info("request_complete")
		}
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": code,
	})
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
