package middleware

import (
	"fmt"
	"strings"

	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/gofiber/fiber/v2"
)

// ReadBodyLimit1GB is the default octet-stream limit, the size of the largest bundle accepted.
const ReadBodyLimit1GB = 1000 * 1024 * 1024

// LimitOctetStreamBodyMiddleware rejects application/octet-stream requests whose body is empty
// or larger than octetStreamLimit bytes. Other content types pass untouched.
func LimitOctetStreamBodyMiddleware(octetStreamLimit int64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEOctetStream) {
			return c.Next()
		}

		size := int64(len(c.Body()))
		switch {
		case size == 0:
			return NewEmptyRequestBodyError()
		case octetStreamLimit > 0 && size > octetStreamLimit:
			return NewBodySizeLimitExceededError(octetStreamLimit)
		}
		return c.Next()
	}
}

// NewBodySizeLimitExceededError returns an error indicating that the request body exceeds the allowed maximum size.
func NewBodySizeLimitExceededError(limit int64) app.Error {
	msg := fmt.Sprintf("The submitted octet-stream exceeds the maximum allowed size: %d bytes.", limit)
	return app.NewIncorrectInputError(msg, msg)
}

// NewEmptyRequestBodyError returns an error indicating that the request body is empty, which is not allowed.
func NewEmptyRequestBodyError() app.Error {
	const msg = "Unable to process request with content type octet-stream. The request body is empty."
	return app.NewIncorrectInputError(msg, msg)
}
