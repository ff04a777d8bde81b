package adapters

import (
	"context"
	"fmt"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// NoopEngineProvider is the engine of a server started without one. It hosts no topics
// and no lookup services, so every topical request fails as unknown.
type NoopEngineProvider struct{}

// Submit reports every topic of the submission as unknown.
func (*NoopEngineProvider) Submit(_ context.Context, taggedBEEF overlay.TaggedBEEF, _ engine.SubmitMode) (engine.Steak, error) {
	steak := make(engine.Steak, len(taggedBEEF.Topics))
	for _, topic := range taggedBEEF.Topics {
		err := fmt.Errorf("%w: %s", engine.ErrUnknownTopic, topic)
		steak[topic] = &engine.TopicReport{Error: err.Error(), Err: err}
	}
	return steak, nil
}

// SyncAdvertisements is a no-op call that always returns a nil error.
func (*NoopEngineProvider) SyncAdvertisements(context.Context) error { return nil }

// StartGASPSync is a no-op call that always returns a nil error.
func (*NoopEngineProvider) StartGASPSync(context.Context) error { return nil }

func (*NoopEngineProvider) Lookup(_ context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error) {
	return nil, fmt.Errorf("%w: %s", engine.ErrUnknownLookupService, question.Service)
}

func (*NoopEngineProvider) ProvideForeignSyncResponse(_ context.Context, _ *gasp.InitialRequest, topic string) (*gasp.InitialResponse, error) {
	return nil, fmt.Errorf("%w: %s", engine.ErrUnknownTopic, topic)
}

func (*NoopEngineProvider) ProvideForeignGASPNode(_ context.Context, _, _ *transaction.Outpoint, topic string) (*gasp.Node, error) {
	return nil, fmt.Errorf("%w: %s", engine.ErrUnknownTopic, topic)
}

func (*NoopEngineProvider) ProvideForeignSyncReply(_ context.Context, _ *gasp.InitialResponse, topic string) (*gasp.InitialReply, error) {
	return nil, fmt.Errorf("%w: %s", engine.ErrUnknownTopic, topic)
}

func (*NoopEngineProvider) SubmitForeignGASPNode(_ context.Context, _ *gasp.Node, topic string) (*gasp.NodeResponse, error) {
	return nil, fmt.Errorf("%w: %s", engine.ErrUnknownTopic, topic)
}

// HandleNewMerkleProof reports the transaction as unknown since nothing was ever admitted.
func (*NoopEngineProvider) HandleNewMerkleProof(_ context.Context, txid *chainhash.Hash, _ *transaction.MerklePath, _ uint32) error {
	return fmt.Errorf("%w: %s", engine.ErrMissingOutput, txid)
}

func (*NoopEngineProvider) ListTopicManagers() map[string]*overlay.MetaData {
	return map[string]*overlay.MetaData{}
}

func (*NoopEngineProvider) ListLookupServiceProviders() map[string]*overlay.MetaData {
	return map[string]*overlay.MetaData{}
}

func (*NoopEngineProvider) GetDocumentationForLookupServiceProvider(provider string) (string, error) {
	return "", fmt.Errorf("%w: %s", engine.ErrNoDocumentationFound, provider)
}

func (*NoopEngineProvider) GetDocumentationForTopicManager(provider string) (string, error) {
	return "", fmt.Errorf("%w: %s", engine.ErrNoDocumentationFound, provider)
}

// NewNoopEngineProvider returns an engine provider that hosts nothing.
func NewNoopEngineProvider() engine.OverlayEngineProvider {
	return &NoopEngineProvider{}
}
