package engine_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine/storage"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/require"
)

const testTopic = "tm_test"

var (
	errStorageDown = errors.New("storage down")
	// outputs whose script starts with the marker belong to testTopic
	marker = []byte{script.OpFALSE, script.OpRETURN, 0x04, 't', 'e', 's', 't'}
)

func markedScript(payload string) *script.Script {
	b := append(bytes.Clone(marker), byte(len(payload)))
	return script.NewFromBytes(append(b, payload...))
}

func unmarkedScript(payload string) *script.Script {
	b := []byte{script.OpFALSE, script.OpRETURN, byte(len(payload))}
	return script.NewFromBytes(append(b, payload...))
}

func newTx(outputs ...*script.Script) *transaction.Transaction {
	tx := transaction.NewTransaction()
	for _, s := range outputs {
		tx.AddOutput(&transaction.TransactionOutput{Satoshis: 1, LockingScript: s})
	}
	return tx
}

func spend(source *transaction.Transaction, vout uint32, outputs ...*script.Script) *transaction.Transaction {
	tx := newTx(outputs...)
	tx.AddInput(&transaction.TransactionInput{
		SourceTXID:        source.TxID(),
		SourceTxOutIndex:  vout,
		SourceTransaction: source,
		UnlockingScript:   script.NewFromBytes([]byte{script.OpTRUE}),
		SequenceNumber:    0xffffffff,
	})
	return tx
}

func atomicBEEF(t *testing.T, tx *transaction.Transaction) []byte {
	t.Helper()
	beef, err := tx.AtomicBEEF(false)
	require.NoError(t, err)
	return beef
}

func proofFor(txid *chainhash.Hash, height uint32) *transaction.MerklePath {
	isTxid := true
	duplicate := true
	return transaction.NewMerklePath(height, [][]*transaction.PathElement{{
		{Offset: 0, Hash: txid, Txid: &isTxid},
		{Offset: 1, Duplicate: &duplicate},
	}})
}

// markerManager admits every marked output and retains the marked coins listed in retain.
type markerManager struct {
	retain  bool
	fail    error
	mu      sync.Mutex
	invoked int
}

func (m *markerManager) IdentifyAdmissibleOutputs(ctx context.Context, beef []byte, previousCoins map[uint32]*transaction.TransactionOutput) (overlay.AdmittanceInstructions, error) {
	m.mu.Lock()
	m.invoked++
	m.mu.Unlock()
	if m.fail != nil {
		return overlay.AdmittanceInstructions{}, m.fail
	}
	_, tx, _, err := transaction.ParseBeef(beef)
	if err != nil {
		return overlay.AdmittanceInstructions{}, err
	}
	var admit overlay.AdmittanceInstructions
	for vout, output := range tx.Outputs {
		if bytes.HasPrefix(*output.LockingScript, marker) {
			admit.OutputsToAdmit = append(admit.OutputsToAdmit, uint32(vout))
		}
	}
	if m.retain {
		for vin := range previousCoins {
			admit.CoinsToRetain = append(admit.CoinsToRetain, vin)
		}
	}
	return admit, nil
}

func (m *markerManager) IdentifyNeededInputs(ctx context.Context, beef []byte) ([]*transaction.Outpoint, error) {
	return nil, nil
}

func (m *markerManager) GetDocumentation() string {
	return "admits marked outputs"
}

func (m *markerManager) GetMetaData() *overlay.MetaData {
	return &overlay.MetaData{Name: "Marker"}
}

func (m *markerManager) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoked
}

// recordingLookupService records the notifications it receives.
type recordingLookupService struct {
	mu        sync.Mutex
	admitted  []*engine.OutputAdmittedByTopic
	spent     []*engine.OutputSpent
	removed   []*transaction.Outpoint
	confirmed []*chainhash.Hash
	answer    *lookup.LookupAnswer
	fail      error
}

func (r *recordingLookupService) OutputAdmittedByTopic(ctx context.Context, payload *engine.OutputAdmittedByTopic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admitted = append(r.admitted, payload)
	return r.fail
}

func (r *recordingLookupService) OutputSpent(ctx context.Context, payload *engine.OutputSpent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spent = append(r.spent, payload)
	return r.fail
}

func (r *recordingLookupService) OutputNoLongerRetainedInHistory(ctx context.Context, outpoint *transaction.Outpoint, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, outpoint)
	return r.fail
}

func (r *recordingLookupService) OutputEvicted(ctx context.Context, outpoint *transaction.Outpoint) error {
	return r.OutputNoLongerRetainedInHistory(ctx, outpoint, "")
}

func (r *recordingLookupService) OutputBlockHeightUpdated(ctx context.Context, txid *chainhash.Hash, blockHeight uint32, blockIndex uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, txid)
	return r.fail
}

func (r *recordingLookupService) Lookup(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	return r.answer, nil
}

func (r *recordingLookupService) GetDocumentation() string {
	return "records notifications"
}

func (r *recordingLookupService) GetMetaData() *overlay.MetaData {
	return &overlay.MetaData{Name: "Recorder"}
}

// failingStorage wraps a working storage and fails the selected operations.
type failingStorage struct {
	engine.Storage
	failInsert bool
	failFind   bool
}

func (f *failingStorage) FindOutputs(ctx context.Context, outpoints []*transaction.Outpoint, topic string, spent *bool, includeBEEF bool) ([]*engine.Output, error) {
	if f.failFind {
		return nil, errStorageDown
	}
	return f.Storage.FindOutputs(ctx, outpoints, topic, spent, includeBEEF)
}

func (f *failingStorage) Transaction(ctx context.Context, fn func(ctx context.Context, tx engine.Storage) error) error {
	return f.Storage.Transaction(ctx, func(ctx context.Context, tx engine.Storage) error {
		return fn(ctx, &failingStorage{Storage: tx, failInsert: f.failInsert, failFind: f.failFind})
	})
}

func (f *failingStorage) InsertOutput(ctx context.Context, utxo *engine.Output) error {
	if f.failInsert {
		return errStorageDown
	}
	return f.Storage.InsertOutput(ctx, utxo)
}

type staticHeaders struct {
	valid bool
}

func (h staticHeaders) IsValidRootForHeight(ctx context.Context, root *chainhash.Hash, height uint32) (bool, error) {
	return h.valid, nil
}

type testNode struct {
	engine  *engine.Engine
	store   *storage.MemoryStorage
	manager *markerManager
	lookup  *recordingLookupService
}

func newTestNode(t *testing.T, configure ...func(cfg *engine.Config)) *testNode {
	t.Helper()
	node := &testNode{
		store:   storage.NewMemoryStorage(),
		manager: &markerManager{},
		lookup:  &recordingLookupService{},
	}
	cfg := engine.Config{
		Managers:       map[string]engine.TopicManager{testTopic: node.manager},
		LookupServices: map[string]engine.LookupService{"ls_test": node.lookup},
		Storage:        node.store,
		HostingURL:     "https://self.example.com",
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	sut, err := engine.NewEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sut.Close() })
	node.engine = sut
	return node
}

func (n *testNode) submit(t *testing.T, tx *transaction.Transaction, mode engine.SubmitMode) engine.Steak {
	t.Helper()
	steak, err := n.engine.Submit(context.Background(), overlay.TaggedBEEF{
		Beef:   atomicBEEF(t, tx),
		Topics: []string{testTopic},
	}, mode)
	require.NoError(t, err)
	return steak
}

// engineRemote serves sync requests straight from another engine.
type engineRemote struct {
	peer  *engine.Engine
	topic string
}

func (r *engineRemote) GetInitialResponse(ctx context.Context, request *gasp.InitialRequest) (*gasp.InitialResponse, error) {
	return r.peer.ProvideForeignSyncResponse(ctx, request, r.topic)
}

func (r *engineRemote) GetInitialReply(ctx context.Context, response *gasp.InitialResponse) (*gasp.InitialReply, error) {
	return r.peer.ProvideForeignSyncReply(ctx, response, r.topic)
}

func (r *engineRemote) RequestNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error) {
	return r.peer.ProvideForeignGASPNode(ctx, graphID, outpoint, r.topic)
}

func (r *engineRemote) SubmitNode(ctx context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
	return r.peer.SubmitForeignGASPNode(ctx, node, r.topic)
}

type recordingPropagator struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (p *recordingPropagator) Send(ctx context.Context, peer string, taggedBEEF overlay.TaggedBEEF) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sent == nil {
		p.sent = make(map[string][]string)
	}
	p.sent[peer] = append(p.sent[peer], taggedBEEF.Topics...)
	return nil
}
