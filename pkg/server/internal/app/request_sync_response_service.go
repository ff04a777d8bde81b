package app

import (
	"context"
	"fmt"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
)

// RequestSyncResponseProvider answers the opening request of a peer's GASP round.
type RequestSyncResponseProvider interface {
	ProvideForeignSyncResponse(ctx context.Context, initialRequest *gasp.InitialRequest, topic string) (*gasp.InitialResponse, error)
}

// RequestSyncResponseService validates GASP initial requests.
type RequestSyncResponseService struct {
	provider RequestSyncResponseProvider
}

// RequestSyncResponse returns the topic UTXOs the requesting peer has not seen yet.
func (s *RequestSyncResponseService) RequestSyncResponse(ctx context.Context, topic string, request *gasp.InitialRequest) (*gasp.InitialResponse, error) {
	if topic == "" {
		return nil, NewMissingTopicHeaderError()
	}
	if request == nil || request.Version <= 0 {
		return nil, NewInvalidGASPVersionError()
	}

	response, err := s.provider.ProvideForeignSyncResponse(ctx, request, topic)
	if err != nil {
		return nil, NewRequestSyncResponseProviderError(err)
	}
	return response, nil
}

// NewRequestSyncResponseService creates a RequestSyncResponseService. Panics if the provider is nil.
func NewRequestSyncResponseService(provider RequestSyncResponseProvider) *RequestSyncResponseService {
	if provider == nil {
		panic("request sync response provider is nil")
	}
	return &RequestSyncResponseService{provider: provider}
}

// NewMissingTopicHeaderError returns an Error indicating that the X-BSV-Topic header is missing.
func NewMissingTopicHeaderError() Error {
	const msg = "The submitted request does not include required header: X-BSV-Topic."
	return NewIncorrectInputError(msg, msg)
}

// NewInvalidGASPVersionError returns an Error indicating that the GASP request carries no usable version.
func NewInvalidGASPVersionError() Error {
	msg := fmt.Sprintf("The GASP request must carry a positive protocol version, this node speaks version %d.", gasp.Version)
	return NewIncorrectInputError(msg, msg)
}

// NewRequestSyncResponseProviderError wraps a failure of the provider while building the sync response.
func NewRequestSyncResponseProviderError(err error) Error {
	return NewEngineError(err, "Unable to process sync response request due to an internal error. Please try again later or contact the support team.")
}
