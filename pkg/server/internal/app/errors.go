package app

import (
	"context"
	"errors"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
)

// ErrorType represents a generic category of error used as descriptor
// to clarify the nature of a failure that occurred in dependencies.
type ErrorType struct {
	s string
}

func (e ErrorType) String() string { return e.s }

var (
	ErrorTypeProviderFailure      = ErrorType{"provider-failure"}
	ErrorTypeAuthorization        = ErrorType{"authorization"}
	ErrorTypeAccessForbidden      = ErrorType{"access-forbidden"}
	ErrorTypeIncorrectInput       = ErrorType{"incorrect-input"}
	ErrorTypeUnknown              = ErrorType{"unknown"}
	ErrorTypeOperationTimeout     = ErrorType{"operation-timeout"}
	ErrorTypeRawDataProcessing    = ErrorType{"raw-data-processing"}
	ErrorTypeUnsupportedOperation = ErrorType{"unsupported-operation"}
	ErrorTypeNotFound             = ErrorType{"not-found"}
	ErrorTypeConflict             = ErrorType{"conflict"}
	ErrorTypeServiceUnavailable   = ErrorType{"service-unavailable"}
	ErrorTypePeerUnresponsive     = ErrorType{"peer-unresponsive"}
)

// Error defines a generic application-layer error that should be translated
// into a specific response format for the requester.
//
// The error includes a source message, a type indicating the category
// of the failure, and a slug string representing the error message content
// to be returned to the requester. The source message may contain internal
// details, only the slug is returned to the requester.
type Error struct {
	err       string
	slug      string
	errorType ErrorType
	cause     error
}

func (e Error) Slug() string { return e.slug }
func (e Error) IsZero() bool {
	return e.err == "" && e.slug == "" && e.errorType == ErrorType{} && e.cause == nil
}
func (e Error) Error() string        { return e.err }
func (e Error) ErrorType() ErrorType { return e.errorType }
func (e Error) Unwrap() error        { return e.cause }

// NewIncorrectInputError returns an error that handles invalid input data,
// typically caused by partial state, inappropriate data formats, or other
// issues related to incorrect input.
func NewIncorrectInputError(err, slug string) Error {
	return Error{
		slug:      slug,
		err:       err,
		errorType: ErrorTypeIncorrectInput,
	}
}

// NewProviderFailureError returns an error that handles service dependency failures,
// internal processing issues, unavailability, connection problems, or other issues
// that should not be exposed to the requester.
func NewProviderFailureError(err, slug string) Error {
	return Error{
		slug:      slug,
		err:       err,
		errorType: ErrorTypeProviderFailure,
	}
}

// NewAuthorizationError returns an error that handles authorization failures,
// such as missing or invalid credentials when attempting to access a restricted resource.
func NewAuthorizationError(err, slug string) Error {
	return Error{
		slug:      slug,
		err:       err,
		errorType: ErrorTypeAuthorization,
	}
}

// NewAccessForbiddenError returns an error that handles access control failures,
// such as valid credentials without the necessary permissions to access a resource.
func NewAccessForbiddenError(err, slug string) Error {
	return Error{
		slug:      slug,
		err:       err,
		errorType: ErrorTypeAccessForbidden,
	}
}

// NewRawDataProcessingError returns an error that handles issues encountered
// during raw data processing, such as invalid or corrupt input data.
func NewRawDataProcessingError(err, slug string) Error {
	return Error{
		slug:      slug,
		errorType: ErrorTypeRawDataProcessing,
		err:       err,
	}
}

// NewUnsupportedOperationError returns an error for endpoints disabled by the server configuration.
func NewUnsupportedOperationError(err, slug string) Error {
	return Error{
		slug:      slug,
		errorType: ErrorTypeUnsupportedOperation,
		err:       err,
	}
}

// NewUnknownError returns an error that represents an unexpected or unclassified issue.
func NewUnknownError(err, slug string) Error {
	return Error{
		slug:      slug,
		errorType: ErrorTypeUnknown,
		err:       err,
	}
}

// NewContextCancellationError returns an error indicating that the submitted request exceeded the context timeout limit or
// that a context cancellation signal was emitted.
func NewContextCancellationError() Error {
	const msg = "The submitted request context has been canceled or exceeds the timeout limit."
	return Error{
		errorType: ErrorTypeOperationTimeout,
		err:       msg,
		slug:      msg,
	}
}

// NewEngineError classifies a failure returned by the overlay engine. Known engine errors get
// a type and a slug describing them; anything else is a provider failure with the fallback slug.
func NewEngineError(err error, fallbackSlug string) Error {
	out := Error{err: err.Error(), cause: err, errorType: ErrorTypeProviderFailure, slug: fallbackSlug}

	var mismatch *gasp.VersionMismatchError
	switch {
	case errors.As(err, &mismatch):
		out.errorType, out.slug = ErrorTypeConflict, mismatch.Message
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return NewContextCancellationError()
	case errors.Is(err, engine.ErrMalformedBundle):
		out.errorType, out.slug = ErrorTypeIncorrectInput, "The submitted transaction bundle is malformed. Please verify the BEEF content and try again."
	case errors.Is(err, engine.ErrMalformedQuery):
		out.errorType, out.slug = ErrorTypeIncorrectInput, "The lookup query is malformed. Please verify the query content and try again."
	case errors.Is(err, engine.ErrGraphFull), errors.Is(err, engine.ErrGraphRejected), errors.Is(err, engine.ErrMissingInput):
		out.errorType, out.slug = ErrorTypeIncorrectInput, "The submitted graph node could not be accepted."
	case errors.Is(err, engine.ErrUnknownTopic):
		out.errorType, out.slug = ErrorTypeNotFound, "The requested topic is not hosted by this node."
	case errors.Is(err, engine.ErrUnknownLookupService):
		out.errorType, out.slug = ErrorTypeNotFound, "The requested lookup service is not hosted by this node."
	case errors.Is(err, engine.ErrNoDocumentationFound):
		out.errorType, out.slug = ErrorTypeNotFound, "No documentation found for the requested service."
	case errors.Is(err, engine.ErrMissingOutput), errors.Is(err, engine.ErrNotFound):
		out.errorType, out.slug = ErrorTypeNotFound, "The requested output is not known to this node."
	case errors.Is(err, engine.ErrProofMismatch):
		out.errorType, out.slug = ErrorTypeConflict, "The merkle proof does not prove the given transaction."
	case errors.Is(err, engine.ErrStorageUnavailable), errors.Is(err, engine.ErrNoHeaderSource):
		out.errorType, out.slug = ErrorTypeServiceUnavailable, "The overlay storage is temporarily unavailable. Please try again later."
	case errors.Is(err, engine.ErrPeerUnresponsive):
		out.errorType, out.slug = ErrorTypePeerUnresponsive, "A peer overlay node did not answer in time. Please try again later."
	}
	return out
}
