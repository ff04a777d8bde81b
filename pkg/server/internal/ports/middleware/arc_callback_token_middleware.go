package middleware

import (
	"strings"

	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/gofiber/fiber/v2"
)

// ARCCallbackTokenMiddleware protects the ARC ingest endpoint. Without an ARC API key the
// endpoint is disabled, without a callback token callbacks are accepted unauthenticated.
func ARCCallbackTokenMiddleware(apiKey, callbackToken string) fiber.Handler {
	const scheme = "Bearer "

	return func(c *fiber.Ctx) error {
		if apiKey == "" {
			return NewUnsupportedEndpointError()
		}
		if callbackToken == "" {
			return c.Next()
		}

		auth := c.Get(fiber.HeaderAuthorization)
		if auth == "" {
			return NewMissingAuthorizationHeaderError()
		}
		if !strings.HasPrefix(auth, scheme) || len(auth) <= len(scheme) {
			return NewMissingBearerTokenValueError()
		}
		if strings.TrimPrefix(auth, scheme) != callbackToken {
			return NewInvalidBearerTokenValueError()
		}
		return c.Next()
	}
}

// NewUnsupportedEndpointError returns an app.Error for the ARC endpoint of a node without ARC integration.
func NewUnsupportedEndpointError() app.Error {
	const msg = "This endpoint is not supported by the current service configuration."
	return app.NewUnsupportedOperationError(msg, msg)
}
