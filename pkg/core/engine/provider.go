package engine

import (
	"context"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// OverlayEngineProvider is the engine surface served over HTTP.
type OverlayEngineProvider interface {
	Submit(ctx context.Context, taggedBEEF overlay.TaggedBEEF, mode SubmitMode) (Steak, error)
	SyncAdvertisements(ctx context.Context) error
	Lookup(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error)
	StartGASPSync(ctx context.Context) error
	ProvideForeignSyncResponse(ctx context.Context, initialRequest *gasp.InitialRequest, topic string) (*gasp.InitialResponse, error)
	ProvideForeignGASPNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, topic string) (*gasp.Node, error)
	ProvideForeignSyncReply(ctx context.Context, response *gasp.InitialResponse, topic string) (*gasp.InitialReply, error)
	SubmitForeignGASPNode(ctx context.Context, node *gasp.Node, topic string) (*gasp.NodeResponse, error)
	HandleNewMerkleProof(ctx context.Context, txid *chainhash.Hash, proof *transaction.MerklePath, blockHeight uint32) error
	ListTopicManagers() map[string]*overlay.MetaData
	ListLookupServiceProviders() map[string]*overlay.MetaData
	GetDocumentationForLookupServiceProvider(provider string) (string, error)
	GetDocumentationForTopicManager(provider string) (string, error)
}

var _ OverlayEngineProvider = (*Engine)(nil)
