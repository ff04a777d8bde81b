package app

import (
	"context"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
)

// RequestSyncReplyProvider tells a pushing peer which of its outputs are missing locally.
type RequestSyncReplyProvider interface {
	ProvideForeignSyncReply(ctx context.Context, response *gasp.InitialResponse, topic string) (*gasp.InitialReply, error)
}

type RequestSyncReplyService struct {
	provider RequestSyncReplyProvider
}

func (s *RequestSyncReplyService) RequestSyncReply(ctx context.Context, topic string, response *gasp.InitialResponse) (*gasp.InitialReply, error) {
	if topic == "" {
		return nil, NewMissingTopicHeaderError()
	}
	if response == nil {
		return nil, NewIncorrectInputWithFieldError("UTXOList")
	}

	reply, err := s.provider.ProvideForeignSyncReply(ctx, response, topic)
	if err != nil {
		return nil, NewEngineError(err, "Unable to process sync reply request due to an internal error. Please try again later or contact the support team.")
	}
	return reply, nil
}

func NewRequestSyncReplyService(provider RequestSyncReplyProvider) *RequestSyncReplyService {
	if provider == nil {
		panic("request sync reply provider is nil")
	}
	return &RequestSyncReplyService{provider: provider}
}
