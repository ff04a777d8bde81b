package app

import (
	"context"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// RequestForeignGASPNodeProvider defines the interface that must be implemented to fulfill a foreign GASP node request.
type RequestForeignGASPNodeProvider interface {
	// ProvideForeignGASPNode resolves the node of outpoint within the graph rooted at graphID.
	ProvideForeignGASPNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, topic string) (*gasp.Node, error)
}

// RequestForeignGASPNodeService coordinates the process of requesting a foreign GASP node.
type RequestForeignGASPNodeService struct {
	provider RequestForeignGASPNodeProvider
}

// RequestForeignGASPNode parses the graph id and requested outpoint and delegates the request to the provider.
func (s *RequestForeignGASPNodeService) RequestForeignGASPNode(ctx context.Context, topic string, request *gasp.NodeRequest) (*gasp.Node, error) {
	if topic == "" {
		return nil, NewMissingTopicHeaderError()
	}

	graphID, outpoint, err := request.Outpoints()
	if err != nil {
		return nil, NewRawDataProcessingError(err.Error(), "Unable to process the graphID, txid or outputIndex of the node request. Please verify the content and try again.")
	}

	node, err := s.provider.ProvideForeignGASPNode(ctx, graphID, outpoint, topic)
	if err != nil {
		return nil, NewForeignGASPNodeProviderError(err)
	}
	return node, nil
}

// NewRequestForeignGASPNodeService constructs a RequestForeignGASPNodeService.
// Panics if the given provider is nil.
func NewRequestForeignGASPNodeService(provider RequestForeignGASPNodeProvider) *RequestForeignGASPNodeService {
	if provider == nil {
		panic("request foreign GASP node service provider is nil")
	}

	return &RequestForeignGASPNodeService{provider: provider}
}

// NewForeignGASPNodeProviderError wraps a lower-level provider error in a user-facing error with guidance.
func NewForeignGASPNodeProviderError(err error) Error {
	return NewEngineError(err, "Unable to process foreign gasp node request due to an internal error. Please try again later or contact the support team.")
}
