package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// BasicMiddlewareGroupConfig defines configuration options for building the middleware group.
type BasicMiddlewareGroupConfig struct {
	OctetStreamLimit int64 // Max allowed body size for octet-stream requests.
	EnableStackTrace bool  // Enable stack traces in panic recovery middleware.
	EnablePprof      bool  // Expose runtime profiles under /debug/pprof.
	DisableLogger    bool  // Skip the access log.
}

// BasicMiddlewareGroup returns a list of preconfigured middleware for the HTTP server.
// Every origin is allowed since overlay nodes are called from browsers and other nodes alike.
func BasicMiddlewareGroup(cfg BasicMiddlewareGroupConfig) []fiber.Handler {
	handlers := []fiber.Handler{
		requestid.New(),
		cors.New(cors.Config{
			AllowOrigins:  "*",
			AllowHeaders:  "*",
			AllowMethods:  "GET,POST,OPTIONS",
			ExposeHeaders: "*",
		}),
		recover.New(recover.Config{EnableStackTrace: cfg.EnableStackTrace}),
	}
	if !cfg.DisableLogger {
		handlers = append(handlers, logger.New(logger.Config{
			Format:     "date=${time} request_id=${locals:requestid} status=${status} method=${method} path=${path} err=${error}\n",
			TimeFormat: "02-Jan-2006 15:04:05",
		}))
	}
	handlers = append(handlers, healthcheck.New())
	if cfg.EnablePprof {
		handlers = append(handlers, pprof.New())
	}
	return append(handlers, LimitOctetStreamBodyMiddleware(cfg.OctetStreamLimit))
}
