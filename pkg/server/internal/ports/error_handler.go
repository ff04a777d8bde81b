package ports

import (
	"errors"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/gofiber/fiber/v2"
	"github.com/gookit/slog"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewErrorResponse builds the response body carrying the slug of err.
func NewErrorResponse(err app.Error) ErrorResponse {
	return ErrorResponse{Status: "error", Message: err.Slug()}
}

// RouteNotFoundResponse is returned for every path the server does not serve.
type RouteNotFoundResponse struct {
	Status      string `json:"status"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ErrorHandler returns a Fiber error handler that translates application-level errors
// into HTTP status codes and JSON responses carrying the error slug. GASP version
// mismatches are returned as they are so peers can read the versions. Unrecognized
// errors are answered with a generic internal server error.
func ErrorHandler() fiber.ErrorHandler {
	codes := map[app.ErrorType]int{
		app.ErrorTypeAuthorization:        fiber.StatusUnauthorized,
		app.ErrorTypeAccessForbidden:      fiber.StatusForbidden,
		app.ErrorTypeIncorrectInput:       fiber.StatusBadRequest,
		app.ErrorTypeOperationTimeout:     fiber.StatusRequestTimeout,
		app.ErrorTypeProviderFailure:      fiber.StatusInternalServerError,
		app.ErrorTypeRawDataProcessing:    fiber.StatusBadRequest,
		app.ErrorTypeUnknown:              fiber.StatusInternalServerError,
		app.ErrorTypeUnsupportedOperation: fiber.StatusNotFound,
		app.ErrorTypeNotFound:             fiber.StatusNotFound,
		app.ErrorTypeConflict:             fiber.StatusConflict,
		app.ErrorTypeServiceUnavailable:   fiber.StatusServiceUnavailable,
		app.ErrorTypePeerUnresponsive:     fiber.StatusGatewayTimeout,
	}

	return func(c *fiber.Ctx, err error) error {
		if err == nil {
			return nil
		}

		var mismatch *gasp.VersionMismatchError
		if errors.As(err, &mismatch) {
			return c.Status(fiber.StatusConflict).JSON(mismatch)
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			if fiberErr.Code == fiber.StatusNotFound {
				return c.Status(fiber.StatusNotFound).JSON(NewRouteNotFoundResponse())
			}
			return c.Status(fiberErr.Code).JSON(ErrorResponse{Status: "error", Message: fiberErr.Message})
		}

		var appErr app.Error
		if !errors.As(err, &appErr) || appErr.IsZero() {
			slog.WithFields(slog.M{"path": c.Path(), "error": err}).Error("unhandled request error")
			return c.Status(fiber.StatusInternalServerError).JSON(NewUnhandledErrorTypeResponse())
		}

		code, ok := codes[appErr.ErrorType()]
		if !ok {
			code = fiber.StatusInternalServerError
		}
		if code >= fiber.StatusInternalServerError {
			slog.WithFields(slog.M{"path": c.Path(), "type": appErr.ErrorType().String(), "error": appErr.Error()}).Error("request failed")
		}
		return c.Status(code).JSON(NewErrorResponse(appErr))
	}
}

// NewUnhandledErrorTypeResponse is the default response returned when an error occurs
// that does not match any known or handled ErrorType.
func NewUnhandledErrorTypeResponse() ErrorResponse {
	return ErrorResponse{
		Status:  "error",
		Message: "An internal error occurred during processing the request. Please try again later or contact the support team.",
	}
}

// NewRouteNotFoundResponse is the body returned for unknown routes.
func NewRouteNotFoundResponse() RouteNotFoundResponse {
	return RouteNotFoundResponse{
		Status:      "error",
		Code:        "ERR_ROUTE_NOT_FOUND",
		Description: "Route not found.",
	}
}

// NewRequestBodyParserError wraps a body parsing failure into a user-friendly application error,
// indicating that the input was malformed or invalid.
func NewRequestBodyParserError(err error) app.Error {
	return app.NewRawDataProcessingError(
		err.Error(),
		"Unable to process request with given request body. Please verify the request content and try again later.",
	)
}
