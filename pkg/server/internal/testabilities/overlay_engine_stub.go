package testabilities

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOverlayEngineStub implements engine.OverlayEngineProvider with overridable functions.
// Calling a method whose function was not set fails the test, so every test states which
// engine operations it expects to reach.
type TestOverlayEngineStub struct {
	t *testing.T

	SubmitFunc                     func(ctx context.Context, taggedBEEF overlay.TaggedBEEF, mode engine.SubmitMode) (engine.Steak, error)
	SyncAdvertisementsFunc         func(ctx context.Context) error
	LookupFunc                     func(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error)
	StartGASPSyncFunc              func(ctx context.Context) error
	ProvideForeignSyncResponseFunc func(ctx context.Context, request *gasp.InitialRequest, topic string) (*gasp.InitialResponse, error)
	ProvideForeignGASPNodeFunc     func(ctx context.Context, graphID, outpoint *transaction.Outpoint, topic string) (*gasp.Node, error)
	ProvideForeignSyncReplyFunc    func(ctx context.Context, response *gasp.InitialResponse, topic string) (*gasp.InitialReply, error)
	SubmitForeignGASPNodeFunc      func(ctx context.Context, node *gasp.Node, topic string) (*gasp.NodeResponse, error)
	HandleNewMerkleProofFunc       func(ctx context.Context, txid *chainhash.Hash, proof *transaction.MerklePath, blockHeight uint32) error
	ListTopicManagersFunc          func() map[string]*overlay.MetaData
	ListLookupServicesFunc         func() map[string]*overlay.MetaData
	LookupDocumentationFunc        func(provider string) (string, error)
	TopicManagerDocumentationFunc  func(provider string) (string, error)

	mu    sync.Mutex
	calls []string
}

var errUnexpectedCall = errors.New("unexpected engine call")

// NewTestOverlayEngineStub returns a stub without any behavior.
func NewTestOverlayEngineStub(t *testing.T) *TestOverlayEngineStub {
	return &TestOverlayEngineStub{t: t}
}

// record notes the call. Handlers run outside the test goroutine, so an unexpected
// call is reported without stopping the test.
func (s *TestOverlayEngineStub) record(name string, set bool) bool {
	s.t.Helper()
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	return assert.Truef(s.t, set, "unexpected call of %s", name)
}

// AssertCalled checks the engine operations reached, in order.
func (s *TestOverlayEngineStub) AssertCalled(names ...string) {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(names) == 0 {
		require.Empty(s.t, s.calls)
		return
	}
	require.Equal(s.t, names, s.calls)
}

func (s *TestOverlayEngineStub) Submit(ctx context.Context, taggedBEEF overlay.TaggedBEEF, mode engine.SubmitMode) (engine.Steak, error) {
	if !s.record("Submit", s.SubmitFunc != nil) {
		return nil, errUnexpectedCall
	}
	return s.SubmitFunc(ctx, taggedBEEF, mode)
}

func (s *TestOverlayEngineStub) SyncAdvertisements(ctx context.Context) error {
	if !s.record("SyncAdvertisements", s.SyncAdvertisementsFunc != nil) {
		return errUnexpectedCall
	}
	return s.SyncAdvertisementsFunc(ctx)
}

func (s *TestOverlayEngineStub) Lookup(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error) {
	if !s.record("Lookup", s.LookupFunc != nil) {
		return nil, errUnexpectedCall
	}
	return s.LookupFunc(ctx, question)
}

func (s *TestOverlayEngineStub) StartGASPSync(ctx context.Context) error {
	if !s.record("StartGASPSync", s.StartGASPSyncFunc != nil) {
		return errUnexpectedCall
	}
	return s.StartGASPSyncFunc(ctx)
}

func (s *TestOverlayEngineStub) ProvideForeignSyncResponse(ctx context.Context, request *gasp.InitialRequest, topic string) (*gasp.InitialResponse, error) {
	if !s.record("ProvideForeignSyncResponse", s.ProvideForeignSyncResponseFunc != nil) {
		return nil, errUnexpectedCall
	}
	return s.ProvideForeignSyncResponseFunc(ctx, request, topic)
}

func (s *TestOverlayEngineStub) ProvideForeignGASPNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, topic string) (*gasp.Node, error) {
	if !s.record("ProvideForeignGASPNode", s.ProvideForeignGASPNodeFunc != nil) {
		return nil, errUnexpectedCall
	}
	return s.ProvideForeignGASPNodeFunc(ctx, graphID, outpoint, topic)
}

func (s *TestOverlayEngineStub) ProvideForeignSyncReply(ctx context.Context, response *gasp.InitialResponse, topic string) (*gasp.InitialReply, error) {
	if !s.record("ProvideForeignSyncReply", s.ProvideForeignSyncReplyFunc != nil) {
		return nil, errUnexpectedCall
	}
	return s.ProvideForeignSyncReplyFunc(ctx, response, topic)
}

func (s *TestOverlayEngineStub) SubmitForeignGASPNode(ctx context.Context, node *gasp.Node, topic string) (*gasp.NodeResponse, error) {
	if !s.record("SubmitForeignGASPNode", s.SubmitForeignGASPNodeFunc != nil) {
		return nil, errUnexpectedCall
	}
	return s.SubmitForeignGASPNodeFunc(ctx, node, topic)
}

func (s *TestOverlayEngineStub) HandleNewMerkleProof(ctx context.Context, txid *chainhash.Hash, proof *transaction.MerklePath, blockHeight uint32) error {
	if !s.record("HandleNewMerkleProof", s.HandleNewMerkleProofFunc != nil) {
		return errUnexpectedCall
	}
	return s.HandleNewMerkleProofFunc(ctx, txid, proof, blockHeight)
}

func (s *TestOverlayEngineStub) ListTopicManagers() map[string]*overlay.MetaData {
	if !s.record("ListTopicManagers", s.ListTopicManagersFunc != nil) {
		return nil
	}
	return s.ListTopicManagersFunc()
}

func (s *TestOverlayEngineStub) ListLookupServiceProviders() map[string]*overlay.MetaData {
	if !s.record("ListLookupServiceProviders", s.ListLookupServicesFunc != nil) {
		return nil
	}
	return s.ListLookupServicesFunc()
}

func (s *TestOverlayEngineStub) GetDocumentationForLookupServiceProvider(provider string) (string, error) {
	if !s.record("GetDocumentationForLookupServiceProvider", s.LookupDocumentationFunc != nil) {
		return "", errUnexpectedCall
	}
	return s.LookupDocumentationFunc(provider)
}

func (s *TestOverlayEngineStub) GetDocumentationForTopicManager(provider string) (string, error) {
	if !s.record("GetDocumentationForTopicManager", s.TopicManagerDocumentationFunc != nil) {
		return "", errUnexpectedCall
	}
	return s.TopicManagerDocumentationFunc(provider)
}

var _ engine.OverlayEngineProvider = (*TestOverlayEngineStub)(nil)

// MigratorStub counts migrations.
type MigratorStub struct {
	Err   error
	Calls int
}

func (m *MigratorStub) Migrate(context.Context) error {
	m.Calls++
	return m.Err
}
