package app

import (
	"context"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
)

// SubmitGASPNodeProvider accepts graph nodes pushed by a peer.
type SubmitGASPNodeProvider interface {
	SubmitForeignGASPNode(ctx context.Context, node *gasp.Node, topic string) (*gasp.NodeResponse, error)
}

// SubmitGASPNodeService validates pushed nodes before they reach the provider.
type SubmitGASPNodeService struct {
	provider SubmitGASPNodeProvider
}

// SubmitGASPNode returns the inputs still required to complete the graph, nil once it is complete.
func (s *SubmitGASPNodeService) SubmitGASPNode(ctx context.Context, topic string, node *gasp.Node) (*gasp.NodeResponse, error) {
	if topic == "" {
		return nil, NewMissingTopicHeaderError()
	}
	if node == nil || node.RawTx == "" {
		return nil, NewIncorrectInputWithFieldError("rawTx")
	}
	if node.GraphID == nil {
		return nil, NewIncorrectInputWithFieldError("graphID")
	}

	response, err := s.provider.SubmitForeignGASPNode(ctx, node, topic)
	if err != nil {
		return nil, NewEngineError(err, "Unable to process submitted GASP node due to an internal error. Please try again later or contact the support team.")
	}
	return response, nil
}

func NewSubmitGASPNodeService(provider SubmitGASPNodeProvider) *SubmitGASPNodeService {
	if provider == nil {
		panic("submit GASP node provider is nil")
	}
	return &SubmitGASPNodeService{provider: provider}
}
