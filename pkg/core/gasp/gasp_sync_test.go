package gasp_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/require"
)

type mockUTXO struct {
	Outpoint *transaction.Outpoint
	RawTx    string
	Score    float64
}

type mockGASPStorage struct {
	mu             sync.Mutex
	knownStore     []*mockUTXO
	ancestors      map[string]*mockUTXO
	tempGraphStore map[string]*mockUTXO
	appendedSpent  map[string]*transaction.Outpoint
	nextScore      float64

	validateGraphAnchorFunc func(ctx context.Context, graphID *transaction.Outpoint) error
	discardGraphFunc        func(ctx context.Context, graphID *transaction.Outpoint) error
	finalizeGraphFunc       func(ctx context.Context, graphID *transaction.Outpoint) error
	findNeededInputsFunc    func(ctx context.Context, tx *gasp.Node) (*gasp.NodeResponse, error)
}

func newMockGASPStorage(known ...*mockUTXO) *mockGASPStorage {
	s := &mockGASPStorage{
		knownStore:     known,
		ancestors:      make(map[string]*mockUTXO),
		tempGraphStore: make(map[string]*mockUTXO),
		appendedSpent:  make(map[string]*transaction.Outpoint),
	}
	for _, utxo := range known {
		if utxo.Score > s.nextScore {
			s.nextScore = utxo.Score
		}
	}
	return s
}

func (m *mockGASPStorage) FindKnownUTXOs(_ context.Context, since float64, limit uint32) ([]*gasp.Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*gasp.Output
	for _, utxo := range m.knownStore {
		if utxo.Score > since {
			result = append(result, &gasp.Output{Txid: utxo.Outpoint.Txid, OutputIndex: utxo.Outpoint.Index, Score: utxo.Score})
		}
	}
	if limit > 0 && len(result) > int(limit) {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockGASPStorage) HydrateGASPNode(_ context.Context, graphID, outpoint *transaction.Outpoint, _ bool) (*gasp.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, utxo := range m.knownStore {
		if utxo.Outpoint.String() == outpoint.String() {
			return &gasp.Node{GraphID: graphID, RawTx: utxo.RawTx, OutputIndex: outpoint.Index}, nil
		}
	}
	if utxo, ok := m.ancestors[outpoint.String()]; ok {
		return &gasp.Node{GraphID: graphID, RawTx: utxo.RawTx, OutputIndex: outpoint.Index}, nil
	}
	return nil, errors.New("node not found")
}

func (m *mockGASPStorage) FindNeededInputs(ctx context.Context, tx *gasp.Node) (*gasp.NodeResponse, error) {
	if m.findNeededInputsFunc != nil {
		return m.findNeededInputsFunc(ctx, tx)
	}
	return nil, nil
}

func (m *mockGASPStorage) AppendToGraph(_ context.Context, tx *gasp.Node, spentBy *transaction.Outpoint) error {
	txid, err := tx.Txid()
	if err != nil {
		return err
	}
	outpoint := &transaction.Outpoint{Txid: *txid, Index: tx.OutputIndex}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempGraphStore[outpoint.String()] = &mockUTXO{Outpoint: outpoint, RawTx: tx.RawTx}
	m.appendedSpent[outpoint.String()] = spentBy
	return nil
}

func (m *mockGASPStorage) ValidateGraphAnchor(ctx context.Context, graphID *transaction.Outpoint) error {
	if m.validateGraphAnchorFunc != nil {
		return m.validateGraphAnchorFunc(ctx, graphID)
	}
	return nil
}

func (m *mockGASPStorage) DiscardGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	if m.discardGraphFunc != nil {
		return m.discardGraphFunc(ctx, graphID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tempGraphStore, graphID.String())
	return nil
}

func (m *mockGASPStorage) FinalizeGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	if m.finalizeGraphFunc != nil {
		return m.finalizeGraphFunc(ctx, graphID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if root, ok := m.tempGraphStore[graphID.String()]; ok {
		m.nextScore++
		root.Score = m.nextScore
		m.knownStore = append(m.knownStore, root)
		delete(m.tempGraphStore, graphID.String())
	}
	return nil
}

func (m *mockGASPStorage) knownCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.knownStore)
}

type mockGASPRemote struct {
	targetGASP          *gasp.GASP
	initialResponseFunc func(ctx context.Context, request *gasp.InitialRequest) (*gasp.InitialResponse, error)
	requestNodeFunc     func(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error)

	mu            sync.Mutex
	responseCalls int
}

func (m *mockGASPRemote) GetInitialResponse(ctx context.Context, request *gasp.InitialRequest) (*gasp.InitialResponse, error) {
	m.mu.Lock()
	m.responseCalls++
	m.mu.Unlock()
	if m.initialResponseFunc != nil {
		return m.initialResponseFunc(ctx, request)
	}
	return m.targetGASP.GetInitialResponse(ctx, request)
}

func (m *mockGASPRemote) GetInitialReply(ctx context.Context, response *gasp.InitialResponse) (*gasp.InitialReply, error) {
	return m.targetGASP.GetInitialReply(ctx, response)
}

func (m *mockGASPRemote) RequestNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error) {
	if m.requestNodeFunc != nil {
		return m.requestNodeFunc(ctx, graphID, outpoint, metadata)
	}
	return m.targetGASP.RequestNode(ctx, graphID, outpoint, metadata)
}

func (m *mockGASPRemote) SubmitNode(ctx context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
	return m.targetGASP.SubmitNode(ctx, node)
}

func createMockUTXO(satoshis uint64, score float64) *mockUTXO {
	tx := transaction.NewTransaction()
	tx.AddOutput(&transaction.TransactionOutput{
		Satoshis:      satoshis,
		LockingScript: &script.Script{script.OpTRUE},
	})
	return &mockUTXO{
		Outpoint: &transaction.Outpoint{Txid: *tx.TxID(), Index: 0},
		RawTx:    tx.Hex(),
		Score:    score,
	}
}

func createSpendingUTXO(parent *mockUTXO, score float64) *mockUTXO {
	tx := transaction.NewTransaction()
	txid := parent.Outpoint.Txid
	tx.AddInput(&transaction.TransactionInput{
		SourceTXID:       &txid,
		SourceTxOutIndex: parent.Outpoint.Index,
		UnlockingScript:  &script.Script{},
		SequenceNumber:   0xffffffff,
	})
	tx.AddOutput(&transaction.TransactionOutput{Satoshis: 1, LockingScript: &script.Script{script.OpTRUE}})
	return &mockUTXO{
		Outpoint: &transaction.Outpoint{Txid: *tx.TxID(), Index: 0},
		RawTx:    tx.Hex(),
		Score:    score,
	}
}

func intPtr(i int) *int {
	return &i
}

func TestGASP_Sync(t *testing.T) {
	t.Run("should fail to sync if versions are wrong", func(t *testing.T) {
		// given:
		ctx := context.Background()
		gasp1 := gasp.NewGASP(gasp.Params{Storage: newMockGASPStorage(), Version: intPtr(2)})
		gasp2 := gasp.NewGASP(gasp.Params{Storage: newMockGASPStorage(), Version: intPtr(1)})
		gasp1.Remote = &mockGASPRemote{targetGASP: gasp2}

		// when:
		err := gasp1.Sync(ctx, "test-host", 0)

		// then:
		var mismatch *gasp.VersionMismatchError
		require.ErrorAs(t, err, &mismatch)
		require.Equal(t, 2, mismatch.ForeignVersion)
		require.Zero(t, gasp1.LastInteraction)
	})

	t.Run("should synchronize a single UTXO and advance the frontier", func(t *testing.T) {
		// given:
		ctx := context.Background()
		utxo := createMockUTXO(1000, 111)
		storage1 := newMockGASPStorage()
		storage2 := newMockGASPStorage(utxo)
		gasp1 := gasp.NewGASP(gasp.Params{Storage: storage1, Unidirectional: true})
		gasp2 := gasp.NewGASP(gasp.Params{Storage: storage2})
		gasp1.Remote = &mockGASPRemote{targetGASP: gasp2}

		// when:
		err := gasp1.Sync(ctx, "test-host", 0)

		// then:
		require.NoError(t, err)
		require.Equal(t, 1, storage1.knownCount())
		require.InDelta(t, 111, gasp1.LastInteraction, 0)
	})

	t.Run("should discard graphs that do not validate and hold the frontier", func(t *testing.T) {
		// given:
		ctx := context.Background()
		utxo := createMockUTXO(1000, 50)
		storage1 := newMockGASPStorage(utxo)
		storage2 := newMockGASPStorage()
		var discarded []string
		storage2.validateGraphAnchorFunc = func(context.Context, *transaction.Outpoint) error {
			return errors.New("invalid graph anchor")
		}
		storage2.discardGraphFunc = func(_ context.Context, graphID *transaction.Outpoint) error {
			discarded = append(discarded, graphID.String())
			return nil
		}
		gasp1 := gasp.NewGASP(gasp.Params{Storage: storage1})
		gasp2 := gasp.NewGASP(gasp.Params{Storage: storage2, Unidirectional: true})
		gasp2.Remote = &mockGASPRemote{targetGASP: gasp1}

		// when:
		err := gasp2.Sync(ctx, "test-host", 0)

		// then:
		require.NoError(t, err)
		require.Zero(t, storage2.knownCount())
		require.Equal(t, []string{utxo.Outpoint.String()}, discarded)
		require.Zero(t, gasp2.LastInteraction)
	})

	t.Run("should advance only below the lowest rejected graph and retry it next round", func(t *testing.T) {
		// given:
		ctx := context.Background()
		accepted := createMockUTXO(1, 10)
		blocked := createMockUTXO(2, 20)
		later := createMockUTXO(3, 30)
		storage1 := newMockGASPStorage(accepted, blocked, later)
		storage2 := newMockGASPStorage()
		var mu sync.Mutex
		ready := false
		storage2.validateGraphAnchorFunc = func(_ context.Context, graphID *transaction.Outpoint) error {
			mu.Lock()
			defer mu.Unlock()
			if !ready && graphID.String() == blocked.Outpoint.String() {
				return errors.New("dependency not synced yet")
			}
			return nil
		}
		gasp1 := gasp.NewGASP(gasp.Params{Storage: storage1})
		first := gasp.NewGASP(gasp.Params{Storage: storage2, Unidirectional: true, Concurrency: 4})
		first.Remote = &mockGASPRemote{targetGASP: gasp1}

		// when:
		err := first.Sync(ctx, "test-host", 0)

		// then:
		require.NoError(t, err)
		require.Equal(t, 2, storage2.knownCount())
		require.InDelta(t, 10, first.LastInteraction, 0)

		// when:
		mu.Lock()
		ready = true
		mu.Unlock()
		second := gasp.NewGASP(gasp.Params{Storage: storage2, Unidirectional: true, LastInteraction: first.LastInteraction})
		second.Remote = &mockGASPRemote{targetGASP: gasp1}
		err = second.Sync(ctx, "test-host", 0)

		// then:
		require.NoError(t, err)
		require.Equal(t, 3, storage2.knownCount())
		require.InDelta(t, 30, second.LastInteraction, 0)
	})

	t.Run("should page through the remote set with a limit", func(t *testing.T) {
		// given:
		ctx := context.Background()
		storage1 := newMockGASPStorage(createMockUTXO(1, 10), createMockUTXO(2, 20), createMockUTXO(3, 30))
		storage2 := newMockGASPStorage()
		gasp1 := gasp.NewGASP(gasp.Params{Storage: storage1})
		gasp2 := gasp.NewGASP(gasp.Params{Storage: storage2, Unidirectional: true, Concurrency: 4})
		remote := &mockGASPRemote{targetGASP: gasp1}
		gasp2.Remote = remote

		// when:
		err := gasp2.Sync(ctx, "test-host", 1)

		// then:
		require.NoError(t, err)
		require.Equal(t, 3, storage2.knownCount())
		require.Equal(t, 4, remote.responseCalls)
		require.InDelta(t, 30, gasp2.LastInteraction, 0)
	})

	t.Run("should leave the frontier unchanged when the peer stops answering", func(t *testing.T) {
		// given:
		ctx := context.Background()
		storage1 := newMockGASPStorage(createMockUTXO(1, 10))
		storage2 := newMockGASPStorage()
		gasp1 := gasp.NewGASP(gasp.Params{Storage: storage1})
		gasp2 := gasp.NewGASP(gasp.Params{Storage: storage2, LastInteraction: 5, Unidirectional: true})
		gasp2.Remote = &mockGASPRemote{
			targetGASP: gasp1,
			requestNodeFunc: func(context.Context, *transaction.Outpoint, *transaction.Outpoint, bool) (*gasp.Node, error) {
				return nil, context.DeadlineExceeded
			},
		}

		// when:
		err := gasp2.Sync(ctx, "test-host", 0)

		// then:
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.InDelta(t, 5, gasp2.LastInteraction, 0)
		require.Zero(t, storage2.knownCount())
	})

	t.Run("should request unknown inputs of an incoming node", func(t *testing.T) {
		// given:
		ctx := context.Background()
		parent := createMockUTXO(7, 0)
		child := createSpendingUTXO(parent, 70)
		storage1 := newMockGASPStorage(child)
		storage1.ancestors[parent.Outpoint.String()] = parent
		storage2 := newMockGASPStorage()
		storage2.findNeededInputsFunc = func(_ context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
			txid, _ := node.Txid()
			if *txid == child.Outpoint.Txid {
				return &gasp.NodeResponse{RequestedInputs: map[string]*gasp.NodeResponseData{
					parent.Outpoint.String(): {Metadata: false},
				}}, nil
			}
			return nil, nil
		}
		gasp1 := gasp.NewGASP(gasp.Params{Storage: storage1})
		gasp2 := gasp.NewGASP(gasp.Params{Storage: storage2, Unidirectional: true})
		gasp2.Remote = &mockGASPRemote{targetGASP: gasp1}

		// when:
		err := gasp2.Sync(ctx, "test-host", 0)

		// then:
		require.NoError(t, err)
		require.Equal(t, 1, storage2.knownCount())
		spentBy := storage2.appendedSpent[parent.Outpoint.String()]
		require.NotNil(t, spentBy)
		require.Equal(t, child.Outpoint.String(), spentBy.String())
	})
}

func TestGASP_BidirectionalSync(t *testing.T) {
	t.Run("should converge both sides", func(t *testing.T) {
		// given:
		ctx := context.Background()
		alice := newMockGASPStorage(createMockUTXO(100, 1))
		bob := newMockGASPStorage(createMockUTXO(200, 1))
		aliceGASP := gasp.NewGASP(gasp.Params{Storage: alice})
		bobGASP := gasp.NewGASP(gasp.Params{Storage: bob})
		bobGASP.Remote = &mockGASPRemote{targetGASP: aliceGASP}

		// when:
		err := bobGASP.Sync(ctx, "alice", 0)

		// then:
		require.NoError(t, err)
		require.Equal(t, 2, alice.knownCount())
		require.Equal(t, 2, bob.knownCount())
		require.Positive(t, bobGASP.LastPush)
	})

	t.Run("should complete a pushed graph only after requested inputs arrive", func(t *testing.T) {
		// given:
		ctx := context.Background()
		parent := createMockUTXO(9, 0)
		child := createSpendingUTXO(parent, 90)
		sender := newMockGASPStorage(child)
		sender.ancestors[parent.Outpoint.String()] = parent
		receiver := newMockGASPStorage()
		var finalized []string
		receiver.findNeededInputsFunc = func(_ context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
			txid, _ := node.Txid()
			if *txid == child.Outpoint.Txid {
				return &gasp.NodeResponse{RequestedInputs: map[string]*gasp.NodeResponseData{
					parent.Outpoint.String(): {Metadata: true},
				}}, nil
			}
			return nil, nil
		}
		receiver.finalizeGraphFunc = func(_ context.Context, graphID *transaction.Outpoint) error {
			_, hasParent := receiver.tempGraphStore[parent.Outpoint.String()]
			require.True(t, hasParent)
			finalized = append(finalized, graphID.String())
			return nil
		}
		senderGASP := gasp.NewGASP(gasp.Params{Storage: sender})
		receiverGASP := gasp.NewGASP(gasp.Params{Storage: receiver})
		senderGASP.Remote = &mockGASPRemote{
			targetGASP: receiverGASP,
			initialResponseFunc: func(context.Context, *gasp.InitialRequest) (*gasp.InitialResponse, error) {
				return &gasp.InitialResponse{}, nil
			},
		}

		// when:
		err := senderGASP.Sync(ctx, "receiver", 0)

		// then:
		require.NoError(t, err)
		require.Equal(t, []string{child.Outpoint.String()}, finalized)
	})

	t.Run("should reject nodes that were never requested", func(t *testing.T) {
		// given:
		ctx := context.Background()
		root := createMockUTXO(1, 0)
		stray := createMockUTXO(2, 0)
		receiverGASP := gasp.NewGASP(gasp.Params{Storage: newMockGASPStorage()})

		// when:
		_, err := receiverGASP.SubmitNode(ctx, &gasp.Node{GraphID: root.Outpoint, RawTx: stray.RawTx})

		// then:
		require.ErrorIs(t, err, gasp.ErrUnexpectedNode)
	})
}

func TestNode_JSONRoundTripKeepsGraphID(t *testing.T) {
	// given:
	utxo := createMockUTXO(5, 0)
	proof := "00"
	node := gasp.Node{GraphID: utxo.Outpoint, RawTx: utxo.RawTx, OutputIndex: 0, Proof: &proof}

	// when:
	data, err := node.MarshalJSON()
	require.NoError(t, err)
	var decoded gasp.Node
	err = decoded.UnmarshalJSON(data)

	// then:
	require.NoError(t, err)
	require.Equal(t, utxo.Outpoint.String(), decoded.GraphID.String())
	require.Equal(t, node.RawTx, decoded.RawTx)
	require.Equal(t, proof, *decoded.Proof)

	var output gasp.Output
	require.NoError(t, output.UnmarshalJSON([]byte(`{"txid":"`+utxo.Outpoint.Txid.String()+`","outputIndex":3,"score":1.5}`)))
	require.Equal(t, utxo.Outpoint.Txid, output.Txid)
	require.Equal(t, uint32(3), output.OutputIndex)
}
