package storage

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

type syncKey struct {
	host  string
	topic string
}

type appliedKey struct {
	topic string
	txid  chainhash.Hash
}

// MemoryStorage keeps the overlay state in process memory. It is meant for tests and
// for nodes that rebuild their state from peers on every start.
type MemoryStorage struct {
	// txMu serializes writers, a running Transaction holds it until it commits or rolls back
	txMu sync.Mutex
	mu   sync.RWMutex

	outputs      map[string]map[string]*engine.Output
	beefs        map[chainhash.Hash][]byte
	applied      map[appliedKey]struct{}
	interactions map[syncKey]float64
	pushes       map[syncKey]float64
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		outputs:      make(map[string]map[string]*engine.Output),
		beefs:        make(map[chainhash.Hash][]byte),
		applied:      make(map[appliedKey]struct{}),
		interactions: make(map[syncKey]float64),
		pushes:       make(map[syncKey]float64),
	}
}

// journal collects the undo steps of a running transaction. A nil journal means autocommit.
type journal []func()

func (j *journal) record(undo func()) {
	if j != nil {
		*j = append(*j, undo)
	}
}

func (s *MemoryStorage) rollback(j journal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(j) - 1; i >= 0; i-- {
		j[i]()
	}
}

func copyOutput(o *engine.Output) *engine.Output {
	c := *o
	c.OutputsConsumed = slices.Clone(o.OutputsConsumed)
	c.ConsumedBy = slices.Clone(o.ConsumedBy)
	c.AncillaryTxids = slices.Clone(o.AncillaryTxids)
	c.AncillaryBeef = slices.Clone(o.AncillaryBeef)
	return &c
}

// view returns a copy of a stored output, with its transaction BEEF when asked for. Callers hold mu.
func (s *MemoryStorage) view(o *engine.Output, includeBEEF bool) *engine.Output {
	c := copyOutput(o)
	c.Beef = nil
	if includeBEEF {
		c.Beef = slices.Clone(s.beefs[o.Outpoint.Txid])
	}
	return c
}

func (s *MemoryStorage) InsertOutput(ctx context.Context, utxo *engine.Output) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.insertOutput(utxo, nil)
}

func (s *MemoryStorage) insertOutput(utxo *engine.Output, j *journal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := utxo.Outpoint.String()
	byTopic, ok := s.outputs[key]
	if !ok {
		byTopic = make(map[string]*engine.Output)
		s.outputs[key] = byTopic
	}
	if _, exists := byTopic[utxo.Topic]; exists {
		return nil
	}
	stored := copyOutput(utxo)
	stored.Beef = nil
	byTopic[utxo.Topic] = stored
	txid := utxo.Outpoint.Txid
	_, hadBeef := s.beefs[txid]
	if !hadBeef && len(utxo.Beef) > 0 {
		s.beefs[txid] = slices.Clone(utxo.Beef)
	}
	j.record(func() {
		delete(s.outputs[key], utxo.Topic)
		if len(s.outputs[key]) == 0 {
			delete(s.outputs, key)
		}
		if !hadBeef {
			delete(s.beefs, txid)
		}
	})
	return nil
}

func matches(o *engine.Output, spent *bool) bool {
	return spent == nil || o.Spent == *spent
}

func (s *MemoryStorage) FindOutput(ctx context.Context, outpoint *transaction.Outpoint, topic *string, spent *bool, includeBEEF bool) (*engine.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byTopic := s.outputs[outpoint.String()]
	if topic != nil {
		if o, ok := byTopic[*topic]; ok && matches(o, spent) {
			return s.view(o, includeBEEF), nil
		}
		return nil, nil
	}
	for _, name := range sortedTopics(byTopic) {
		if o := byTopic[name]; matches(o, spent) {
			return s.view(o, includeBEEF), nil
		}
	}
	return nil, nil
}

func (s *MemoryStorage) FindOutputs(ctx context.Context, outpoints []*transaction.Outpoint, topic string, spent *bool, includeBEEF bool) ([]*engine.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outputs := make([]*engine.Output, len(outpoints))
	for i, outpoint := range outpoints {
		if o, ok := s.outputs[outpoint.String()][topic]; ok && matches(o, spent) {
			outputs[i] = s.view(o, includeBEEF)
		}
	}
	return outputs, nil
}

func (s *MemoryStorage) FindOutputsForTransaction(ctx context.Context, txid *chainhash.Hash, includeBEEF bool) ([]*engine.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var outputs []*engine.Output
	for _, byTopic := range s.outputs {
		for _, o := range byTopic {
			if o.Outpoint.Txid.Equal(*txid) {
				outputs = append(outputs, s.view(o, includeBEEF))
			}
		}
	}
	slices.SortFunc(outputs, func(a, b *engine.Output) int {
		if a.Outpoint.Index != b.Outpoint.Index {
			return int(a.Outpoint.Index) - int(b.Outpoint.Index)
		}
		return strings.Compare(a.Topic, b.Topic)
	})
	return outputs, nil
}

func (s *MemoryStorage) FindUTXOsForTopic(ctx context.Context, topic string, since float64, limit uint32, includeBEEF bool) ([]*engine.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.utxosAbove(topic, since, limit, includeBEEF), nil
}

func (s *MemoryStorage) FindUTXOsNeedingSync(ctx context.Context, peer string, topic string, limit uint32) ([]*engine.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.utxosAbove(topic, s.pushes[syncKey{peer, topic}], limit, false), nil
}

func (s *MemoryStorage) utxosAbove(topic string, since float64, limit uint32, includeBEEF bool) []*engine.Output {
	var outputs []*engine.Output
	for _, byTopic := range s.outputs {
		if o, ok := byTopic[topic]; ok && !o.Spent && o.Score > since {
			outputs = append(outputs, o)
		}
	}
	slices.SortFunc(outputs, func(a, b *engine.Output) int {
		switch {
		case a.Score < b.Score:
			return -1
		case a.Score > b.Score:
			return 1
		}
		return strings.Compare(a.Outpoint.String(), b.Outpoint.String())
	})
	if limit > 0 && len(outputs) > int(limit) {
		outputs = outputs[:limit]
	}
	for i, o := range outputs {
		outputs[i] = s.view(o, includeBEEF)
	}
	return outputs
}

func (s *MemoryStorage) DeleteOutput(ctx context.Context, outpoint *transaction.Outpoint, topic string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.deleteOutput(outpoint, topic, nil)
}

func (s *MemoryStorage) deleteOutput(outpoint *transaction.Outpoint, topic string, j *journal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := outpoint.String()
	o, ok := s.outputs[key][topic]
	if !ok {
		return nil
	}
	delete(s.outputs[key], topic)
	if len(s.outputs[key]) == 0 {
		delete(s.outputs, key)
	}
	txid := outpoint.Txid
	beef, hadBeef := s.beefs[txid]
	if hadBeef && !s.hasTransaction(txid) {
		delete(s.beefs, txid)
	}
	j.record(func() {
		if s.outputs[key] == nil {
			s.outputs[key] = make(map[string]*engine.Output)
		}
		s.outputs[key][topic] = o
		if hadBeef {
			s.beefs[txid] = beef
		}
	})
	return nil
}

func (s *MemoryStorage) hasTransaction(txid chainhash.Hash) bool {
	for _, byTopic := range s.outputs {
		for _, o := range byTopic {
			if o.Outpoint.Txid.Equal(txid) {
				return true
			}
		}
	}
	return false
}

// update replaces a stored output with a modified copy and journals the previous version.
func (s *MemoryStorage) update(outpoint *transaction.Outpoint, topic string, j *journal, modify func(o *engine.Output) bool) bool {
	key := outpoint.String()
	prev, ok := s.outputs[key][topic]
	if !ok {
		return false
	}
	next := copyOutput(prev)
	if !modify(next) {
		return false
	}
	s.outputs[key][topic] = next
	j.record(func() {
		if byTopic, ok := s.outputs[key]; ok {
			byTopic[topic] = prev
		}
	})
	return true
}

func (s *MemoryStorage) MarkUTXOsAsSpent(ctx context.Context, outpoints []*transaction.Outpoint, topic string, spendTxid *chainhash.Hash) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.markUTXOsAsSpent(outpoints, topic, nil)
}

func (s *MemoryStorage) markUTXOsAsSpent(outpoints []*transaction.Outpoint, topic string, j *journal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, outpoint := range outpoints {
		s.update(outpoint, topic, j, func(o *engine.Output) bool {
			o.Spent = true
			return true
		})
	}
	return nil
}

func (s *MemoryStorage) UpdateConsumedBy(ctx context.Context, outpoint *transaction.Outpoint, topic string, consumedBy []*transaction.Outpoint) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.updateConsumedBy(outpoint, topic, consumedBy, nil)
}

func (s *MemoryStorage) updateConsumedBy(outpoint *transaction.Outpoint, topic string, consumedBy []*transaction.Outpoint, j *journal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update(outpoint, topic, j, func(o *engine.Output) bool {
		o.ConsumedBy = slices.Clone(consumedBy)
		return true
	})
	return nil
}

func (s *MemoryStorage) UpdateTransactionBEEF(ctx context.Context, txid *chainhash.Hash, beef []byte) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.updateTransactionBEEF(txid, beef, nil)
}

func (s *MemoryStorage) updateTransactionBEEF(txid *chainhash.Hash, beef []byte, j *journal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.beefs[*txid]
	if !ok {
		return nil
	}
	s.beefs[*txid] = slices.Clone(beef)
	j.record(func() { s.beefs[*txid] = prev })
	return nil
}

func (s *MemoryStorage) MarkConfirmed(ctx context.Context, outpoint *transaction.Outpoint, topic string, confirmation *engine.Confirmation) (bool, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.markConfirmed(outpoint, topic, confirmation, nil)
}

func (s *MemoryStorage) markConfirmed(outpoint *transaction.Outpoint, topic string, confirmation *engine.Confirmation, j *journal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := s.update(outpoint, topic, j, func(o *engine.Output) bool {
		if o.Confirmed() {
			return false
		}
		o.BlockHeight = confirmation.BlockHeight
		o.BlockIdx = confirmation.BlockIdx
		o.MerklePath = confirmation.MerklePath
		if confirmation.AncillaryBeef != nil {
			o.AncillaryBeef = slices.Clone(confirmation.AncillaryBeef)
		}
		return true
	})
	if applied && len(confirmation.Beef) > 0 {
		txid := outpoint.Txid
		prev, had := s.beefs[txid]
		s.beefs[txid] = slices.Clone(confirmation.Beef)
		j.record(func() {
			if had {
				s.beefs[txid] = prev
			} else {
				delete(s.beefs, txid)
			}
		})
	}
	return applied, nil
}

func (s *MemoryStorage) InsertAppliedTransaction(ctx context.Context, tx *overlay.AppliedTransaction) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.insertAppliedTransaction(tx, nil)
}

func (s *MemoryStorage) insertAppliedTransaction(tx *overlay.AppliedTransaction, j *journal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := appliedKey{topic: tx.Topic, txid: *tx.Txid}
	if _, ok := s.applied[key]; ok {
		return nil
	}
	s.applied[key] = struct{}{}
	j.record(func() { delete(s.applied, key) })
	return nil
}

func (s *MemoryStorage) DoesAppliedTransactionExist(ctx context.Context, tx *overlay.AppliedTransaction) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.applied[appliedKey{topic: tx.Topic, txid: *tx.Txid}]
	return ok, nil
}

func (s *MemoryStorage) UpdateLastInteraction(ctx context.Context, host string, topic string, since float64) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.raise(s.interactions, syncKey{host, topic}, since, nil)
}

func (s *MemoryStorage) GetLastInteraction(ctx context.Context, host string, topic string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interactions[syncKey{host, topic}], nil
}

func (s *MemoryStorage) UpdateLastPush(ctx context.Context, host string, topic string, score float64) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.raise(s.pushes, syncKey{host, topic}, score, nil)
}

func (s *MemoryStorage) GetLastPush(ctx context.Context, host string, topic string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pushes[syncKey{host, topic}], nil
}

// raise moves a frontier forward, it never goes back.
func (s *MemoryStorage) raise(frontiers map[syncKey]float64, key syncKey, score float64, j *journal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := frontiers[key]
	if score <= prev {
		return nil
	}
	frontiers[key] = score
	j.record(func() {
		if had {
			frontiers[key] = prev
		} else {
			delete(frontiers, key)
		}
	})
	return nil
}

// Transaction runs fn with exclusive write access. Every write made through the storage handed
// to fn is undone when fn returns an error or panics.
func (s *MemoryStorage) Transaction(ctx context.Context, fn func(ctx context.Context, tx engine.Storage) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	tx := &memoryTx{MemoryStorage: s}
	defer func() {
		if r := recover(); r != nil {
			s.rollback(tx.journal)
			panic(r)
		}
	}()
	if err = fn(ctx, tx); err != nil {
		s.rollback(tx.journal)
	}
	return err
}

func (s *MemoryStorage) Close() error {
	return nil
}

func sortedTopics(byTopic map[string]*engine.Output) []string {
	topics := make([]string, 0, len(byTopic))
	for topic := range byTopic {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// memoryTx is the storage view handed to a Transaction callback. Reads go straight to the
// store, writes are journaled and skip the writer lock the transaction already holds.
type memoryTx struct {
	*MemoryStorage
	journal journal
}

func (t *memoryTx) InsertOutput(ctx context.Context, utxo *engine.Output) error {
	return t.insertOutput(utxo, &t.journal)
}

func (t *memoryTx) DeleteOutput(ctx context.Context, outpoint *transaction.Outpoint, topic string) error {
	return t.deleteOutput(outpoint, topic, &t.journal)
}

func (t *memoryTx) MarkUTXOsAsSpent(ctx context.Context, outpoints []*transaction.Outpoint, topic string, spendTxid *chainhash.Hash) error {
	return t.markUTXOsAsSpent(outpoints, topic, &t.journal)
}

func (t *memoryTx) UpdateConsumedBy(ctx context.Context, outpoint *transaction.Outpoint, topic string, consumedBy []*transaction.Outpoint) error {
	return t.updateConsumedBy(outpoint, topic, consumedBy, &t.journal)
}

func (t *memoryTx) UpdateTransactionBEEF(ctx context.Context, txid *chainhash.Hash, beef []byte) error {
	return t.updateTransactionBEEF(txid, beef, &t.journal)
}

func (t *memoryTx) MarkConfirmed(ctx context.Context, outpoint *transaction.Outpoint, topic string, confirmation *engine.Confirmation) (bool, error) {
	return t.markConfirmed(outpoint, topic, confirmation, &t.journal)
}

func (t *memoryTx) InsertAppliedTransaction(ctx context.Context, tx *overlay.AppliedTransaction) error {
	return t.insertAppliedTransaction(tx, &t.journal)
}

func (t *memoryTx) UpdateLastInteraction(ctx context.Context, host string, topic string, since float64) error {
	return t.raise(t.interactions, syncKey{host, topic}, since, &t.journal)
}

func (t *memoryTx) UpdateLastPush(ctx context.Context, host string, topic string, score float64) error {
	return t.raise(t.pushes, syncKey{host, topic}, score, &t.journal)
}

// Transaction nests into the running transaction.
func (t *memoryTx) Transaction(ctx context.Context, fn func(ctx context.Context, tx engine.Storage) error) error {
	return fn(ctx, t)
}

func (t *memoryTx) Close() error {
	return nil
}

var (
	_ engine.Storage = (*MemoryStorage)(nil)
	_ engine.Storage = (*memoryTx)(nil)
)
