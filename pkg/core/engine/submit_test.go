package engine_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine/storage"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/require"
)

func TestEngine_Submit_AdmitsMarkedOutputs(t *testing.T) {
	// given:
	node := newTestNode(t)
	tx := newTx(markedScript("a"), unmarkedScript("b"), markedScript("c"))

	// when:
	steak := node.submit(t, tx, engine.SubmitModeCurrent)

	// then:
	report := steak[testTopic]
	require.NotNil(t, report)
	require.NoError(t, report.Err)
	require.Equal(t, []uint32{0, 2}, report.OutputsToAdmit)
	require.Equal(t, []uint32{1}, report.OutputsRejected)

	utxos, err := node.store.FindUTXOsForTopic(context.Background(), testTopic, 0, 0, true)
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	require.Less(t, utxos[0].Score, utxos[1].Score)
	require.NotEmpty(t, utxos[0].Beef)
	require.Len(t, node.lookup.admitted, 2)
}

func TestEngine_Submit_DuplicateIsIdempotent(t *testing.T) {
	// given:
	node := newTestNode(t)
	tx := newTx(markedScript("dup"))
	first := node.submit(t, tx, engine.SubmitModeCurrent)

	// when:
	second := node.submit(t, tx, engine.SubmitModeCurrent)

	// then:
	require.Equal(t, first[testTopic].OutputsToAdmit, second[testTopic].OutputsToAdmit)
	require.Equal(t, 1, node.manager.calls())
	require.Len(t, node.lookup.admitted, 1)
}

func TestEngine_Submit_UnknownTopicIsReported(t *testing.T) {
	// given:
	node := newTestNode(t)
	tx := newTx(markedScript("x"))

	// when:
	steak, err := node.engine.Submit(context.Background(), overlay.TaggedBEEF{
		Beef:   atomicBEEF(t, tx),
		Topics: []string{"tm_unknown", testTopic, testTopic},
	}, engine.SubmitModeCurrent)

	// then:
	require.NoError(t, err)
	require.Len(t, steak, 2)
	require.ErrorIs(t, steak["tm_unknown"].Err, engine.ErrUnknownTopic)
	require.Equal(t, []uint32{0}, steak[testTopic].OutputsToAdmit)
}

func TestEngine_Submit_MalformedBundle(t *testing.T) {
	// given:
	node := newTestNode(t)

	// when:
	steak, err := node.engine.Submit(context.Background(), overlay.TaggedBEEF{
		Beef:   []byte{0x01, 0x02, 0x03},
		Topics: []string{testTopic},
	}, engine.SubmitModeCurrent)

	// then:
	require.ErrorIs(t, err, engine.ErrMalformedBundle)
	require.Nil(t, steak)
}

func TestEngine_Submit_TopicManagerFailureDoesNotAbort(t *testing.T) {
	// given:
	failing := &markerManager{fail: errors.New("cannot decide")}
	node := newTestNode(t, func(cfg *engine.Config) {
		cfg.Managers["tm_failing"] = failing
	})
	tx := newTx(markedScript("y"))

	// when:
	steak, err := node.engine.Submit(context.Background(), overlay.TaggedBEEF{
		Beef:   atomicBEEF(t, tx),
		Topics: []string{"tm_failing", testTopic},
	}, engine.SubmitModeCurrent)

	// then:
	require.NoError(t, err)
	require.EqualError(t, steak["tm_failing"].Err, "cannot decide")
	require.Equal(t, "cannot decide", steak["tm_failing"].Error)
	require.Equal(t, []uint32{0}, steak[testTopic].OutputsToAdmit)
}

func TestEngine_Submit_StorageFailureLeavesNoPartialState(t *testing.T) {
	// given:
	node := newTestNode(t)
	failing := &failingStorage{Storage: node.store, failInsert: true}
	sut, err := engine.NewEngine(engine.Config{
		Managers: map[string]engine.TopicManager{testTopic: node.manager},
		Storage:  failing,
	})
	require.NoError(t, err)
	source := newTx(markedScript("s"))
	node.submit(t, source, engine.SubmitModeHistorical)

	// when:
	steak, err := sut.Submit(context.Background(), overlay.TaggedBEEF{
		Beef:   atomicBEEF(t, spend(source, 0, markedScript("t"))),
		Topics: []string{testTopic},
	}, engine.SubmitModeCurrent)

	// then:
	require.ErrorIs(t, err, engine.ErrStorageUnavailable)
	require.Nil(t, steak)
	unspent := false
	found, err := node.store.FindOutput(context.Background(), &transaction.Outpoint{Txid: *source.TxID()}, nil, &unspent, false)
	require.NoError(t, err)
	require.NotNil(t, found)
}

func TestEngine_Submit_StorageFailureWhileAdmitting(t *testing.T) {
	// given:
	sut, err := engine.NewEngine(engine.Config{
		Managers: map[string]engine.TopicManager{testTopic: &markerManager{}},
		Storage:  &failingStorage{Storage: newTestNode(t).store, failFind: true},
	})
	require.NoError(t, err)
	source := newTx(markedScript("s"))

	// when:
	_, err = sut.Submit(context.Background(), overlay.TaggedBEEF{
		Beef:   atomicBEEF(t, spend(source, 0, markedScript("t"))),
		Topics: []string{testTopic},
	}, engine.SubmitModeCurrent)

	// then:
	require.ErrorIs(t, err, engine.ErrStorageUnavailable)
}

func TestEngine_Submit_SpentCoinIsRemovedUnlessRetained(t *testing.T) {
	tests := map[string]struct {
		retain        bool
		expectRemoved []uint32
	}{
		"removed when not retained":     {retain: false, expectRemoved: []uint32{0}},
		"kept as history when retained": {retain: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			// given:
			ctx := context.Background()
			node := newTestNode(t)
			node.manager.retain = tc.retain
			source := newTx(markedScript("coin"))
			node.submit(t, source, engine.SubmitModeCurrent)
			spending := spend(source, 0, markedScript("next"))

			// when:
			steak := node.submit(t, spending, engine.SubmitModeCurrent)

			// then:
			require.Equal(t, tc.expectRemoved, steak[testTopic].CoinsRemoved)
			require.Len(t, node.lookup.spent, 1)
			coin := &transaction.Outpoint{Txid: *source.TxID(), Index: 0}
			stored, err := node.store.FindOutput(ctx, coin, nil, nil, false)
			require.NoError(t, err)
			if !tc.retain {
				require.Nil(t, stored)
				require.Len(t, node.lookup.removed, 1)
				return
			}
			require.NotNil(t, stored)
			require.True(t, stored.Spent)
			require.Len(t, stored.ConsumedBy, 1)
			require.Equal(t, *spending.TxID(), stored.ConsumedBy[0].Txid)

			next, err := node.store.FindOutput(ctx, &transaction.Outpoint{Txid: *spending.TxID()}, nil, nil, false)
			require.NoError(t, err)
			require.Len(t, next.OutputsConsumed, 1)
		})
	}
}

func TestEngine_Submit_PropagatesCurrentSubmissionsOnly(t *testing.T) {
	// given:
	propagator := &recordingPropagator{}
	node := newTestNode(t, func(cfg *engine.Config) {
		cfg.Propagator = propagator
		cfg.SyncConfiguration = map[string]engine.SyncConfiguration{
			testTopic: {Type: engine.SyncConfigurationPeers, Peers: []string{"https://peer.example.com", "https://self.example.com"}},
		}
	})

	// when:
	node.submit(t, newTx(markedScript("hist")), engine.SubmitModeHistorical)
	node.submit(t, newTx(markedScript("cur")), engine.SubmitModeCurrent)
	node.submit(t, newTx(unmarkedScript("none")), engine.SubmitModeCurrent)
	require.NoError(t, node.engine.Close())

	// then:
	require.Equal(t, map[string][]string{"https://peer.example.com": {testTopic}}, propagator.sent)
}

// gatedPropagator holds every send until release is closed and keeps a copy of what it sent.
type gatedPropagator struct {
	release chan struct{}
	mu      sync.Mutex
	beefs   [][]byte
}

func (p *gatedPropagator) Send(ctx context.Context, peer string, taggedBEEF overlay.TaggedBEEF) error {
	<-p.release
	p.mu.Lock()
	defer p.mu.Unlock()
	p.beefs = append(p.beefs, bytes.Clone(taggedBEEF.Beef))
	return nil
}

func TestEngine_Submit_PropagationOwnsItsBundle(t *testing.T) {
	// given:
	propagator := &gatedPropagator{release: make(chan struct{})}
	node := newTestNode(t, func(cfg *engine.Config) {
		cfg.Propagator = propagator
		cfg.SyncConfiguration = map[string]engine.SyncConfiguration{
			testTopic: {Type: engine.SyncConfigurationPeers, Peers: []string{"https://peer.example.com"}},
		}
	})
	body := atomicBEEF(t, newTx(markedScript("buffered")))
	sent := bytes.Clone(body)

	// when:
	_, err := node.engine.Submit(context.Background(), overlay.TaggedBEEF{Beef: body, Topics: []string{testTopic}}, engine.SubmitModeCurrent)
	require.NoError(t, err)
	for i := range body {
		body[i] = 0xff
	}
	close(propagator.release)
	require.NoError(t, node.engine.Close())

	// then:
	require.Equal(t, [][]byte{sent}, propagator.beefs)
}

func storageBackends(t *testing.T) map[string]func(t *testing.T) engine.Storage {
	t.Helper()
	return map[string]func(t *testing.T) engine.Storage{
		"memory": func(t *testing.T) engine.Storage {
			return storage.NewMemoryStorage()
		},
		"sqlite": func(t *testing.T) engine.Storage {
			s, err := storage.NewSQLStorage(context.Background(), storage.DriverSQLite, filepath.Join(t.TempDir(), "overlay.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestEngine_Submit_ConcurrentSubmissionsOfOneTransaction(t *testing.T) {
	for name, open := range storageBackends(t) {
		t.Run(name, func(t *testing.T) {
			// given:
			ctx := context.Background()
			store := open(t)
			const secondTopic = "tm_second"
			node := newTestNode(t, func(cfg *engine.Config) {
				cfg.Storage = store
				cfg.Managers[secondTopic] = &markerManager{}
			})
			tx := newTx(markedScript("race"), unmarkedScript("skip"), markedScript("race-too"))
			beef := atomicBEEF(t, tx)
			const submitters = 8

			// when:
			steaks := make([]engine.Steak, submitters)
			errs := make([]error, submitters)
			var wg sync.WaitGroup
			for i := range submitters {
				wg.Add(1)
				go func() {
					defer wg.Done()
					steaks[i], errs[i] = node.engine.Submit(ctx, overlay.TaggedBEEF{Beef: beef, Topics: []string{testTopic, secondTopic}}, engine.SubmitModeCurrent)
				}()
			}
			wg.Wait()

			// then:
			for i := range submitters {
				require.NoError(t, errs[i])
				for _, topic := range []string{testTopic, secondTopic} {
					require.NoError(t, steaks[i][topic].Err)
					require.Equal(t, []uint32{0, 2}, steaks[i][topic].OutputsToAdmit)
					require.Equal(t, []uint32{1}, steaks[i][topic].OutputsRejected)
				}
			}
			for _, topic := range []string{testTopic, secondTopic} {
				utxos, err := store.FindUTXOsForTopic(ctx, topic, 0, 0, false)
				require.NoError(t, err)
				require.Len(t, utxos, 2)
			}
			outputs, err := store.FindOutputsForTransaction(ctx, tx.TxID(), false)
			require.NoError(t, err)
			require.Len(t, outputs, 4)
		})
	}
}

func TestEngine_Submit_ConcurrentSpendsOfRetainedCoin(t *testing.T) {
	for name, open := range storageBackends(t) {
		t.Run(name, func(t *testing.T) {
			// given:
			ctx := context.Background()
			store := open(t)
			node := newTestNode(t, func(cfg *engine.Config) {
				cfg.Storage = store
			})
			node.manager.retain = true
			source := newTx(markedScript("shared"))
			node.submit(t, source, engine.SubmitModeCurrent)
			spenders := []*transaction.Transaction{
				spend(source, 0, markedScript("first")),
				spend(source, 0, markedScript("second")),
				spend(source, 0, markedScript("third")),
			}

			beefs := make([][]byte, 0, len(spenders))
			for _, spender := range spenders {
				beefs = append(beefs, atomicBEEF(t, spender))
			}

			// when:
			var wg sync.WaitGroup
			errs := make([]error, len(beefs))
			for i, beef := range beefs {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = node.engine.Submit(ctx, overlay.TaggedBEEF{Beef: beef, Topics: []string{testTopic}}, engine.SubmitModeCurrent)
				}()
			}
			wg.Wait()

			// then:
			for _, err := range errs {
				require.NoError(t, err)
			}
			topic := testTopic
			coin, err := store.FindOutput(ctx, &transaction.Outpoint{Txid: *source.TxID()}, &topic, nil, false)
			require.NoError(t, err)
			require.True(t, coin.Spent)
			consumers := make([]string, 0, len(coin.ConsumedBy))
			for _, outpoint := range coin.ConsumedBy {
				consumers = append(consumers, outpoint.String())
			}
			expected := make([]string, 0, len(spenders))
			for _, spender := range spenders {
				expected = append(expected, (&transaction.Outpoint{Txid: *spender.TxID()}).String())
			}
			require.ElementsMatch(t, expected, consumers)
		})
	}
}
