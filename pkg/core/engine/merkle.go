package engine

import (
	"context"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/gookit/slog"
)

// HandleNewMerkleProof binds the outputs of a mined transaction to its block. The proof must
// prove txid at blockHeight against the header source. Outputs that are already confirmed are
// left untouched, so delivering the same proof twice changes nothing.
func (e *Engine) HandleNewMerkleProof(ctx context.Context, txid *chainhash.Hash, proof *transaction.MerklePath, blockHeight uint32) error {
	outputs, err := e.storage.FindOutputsForTransaction(ctx, txid, true)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if len(outputs) == 0 {
		e.metrics.ObserveProof("unknown")
		return nil
	}
	if e.headers == nil {
		return ErrNoHeaderSource
	}
	if proof == nil || len(proof.Path) == 0 {
		e.metrics.ObserveProof("mismatch")
		return fmt.Errorf("%w: empty proof", ErrProofMismatch)
	}
	if proof.BlockHeight != blockHeight {
		e.metrics.ObserveProof("mismatch")
		return fmt.Errorf("%w: proof is for height %d, not %d", ErrProofMismatch, proof.BlockHeight, blockHeight)
	}
	blockIdx, ok := leafOffset(proof, txid)
	if !ok {
		e.metrics.ObserveProof("mismatch")
		return fmt.Errorf("%w: %s not found in proof", ErrProofMismatch, txid)
	}
	if err := e.verifyRoot(ctx, txid, proof); err != nil {
		e.metrics.ObserveProof("mismatch")
		return err
	}

	var confirmed int
	err = e.storage.Transaction(ctx, func(ctx context.Context, store Storage) error {
		var provenBEEF []byte
		refreshed := map[chainhash.Hash]struct{}{*txid: {}}
		for _, output := range outputs {
			if output.Confirmed() {
				continue
			}
			if provenBEEF == nil {
				if provenBEEF, err = withProof(output.Beef, txid, proof); err != nil {
					return err
				}
			}
			applied, err := store.MarkConfirmed(ctx, &output.Outpoint, output.Topic, &Confirmation{
				BlockHeight:   blockHeight,
				BlockIdx:      blockIdx,
				MerklePath:    proof,
				Beef:          provenBEEF,
				AncillaryBeef: output.AncillaryBeef,
			})
			if err != nil {
				return err
			} else if !applied {
				continue
			}
			confirmed++
			if err := e.refreshDescendants(ctx, store, output.ConsumedBy, txid, proof, refreshed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.WithFields(slog.M{"txid": txid.String(), "error": err}).Error("failed to apply merkle proof")
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if confirmed == 0 {
		e.metrics.ObserveProof("duplicate")
		return nil
	}

	e.metrics.ObserveProof("confirmed")
	slog.Infof("confirmed %d outputs of %s at height %d", confirmed, txid, blockHeight)
	e.notifyLookupServices("block-height-updated", func(l LookupService) error {
		return l.OutputBlockHeightUpdated(ctx, txid, blockHeight, blockIdx)
	})
	return nil
}

// refreshDescendants rewrites the stored BEEF of every transaction that consumed a newly
// confirmed output, so later bundles carry the proof instead of the unproven ancestor.
func (e *Engine) refreshDescendants(ctx context.Context, store Storage, consumedBy []*transaction.Outpoint, txid *chainhash.Hash, proof *transaction.MerklePath, refreshed map[chainhash.Hash]struct{}) error {
	for _, outpoint := range consumedBy {
		if _, ok := refreshed[outpoint.Txid]; ok {
			continue
		}
		refreshed[outpoint.Txid] = struct{}{}
		consuming, err := store.FindOutputsForTransaction(ctx, &outpoint.Txid, true)
		if err != nil {
			return err
		} else if len(consuming) == 0 {
			continue
		}
		beef, err := withProof(consuming[0].Beef, txid, proof)
		if err != nil {
			return err
		}
		if err := store.UpdateTransactionBEEF(ctx, &outpoint.Txid, beef); err != nil {
			return err
		}
		for _, output := range consuming {
			if err := e.refreshDescendants(ctx, store, output.ConsumedBy, txid, proof, refreshed); err != nil {
				return err
			}
		}
	}
	return nil
}

// withProof attaches proof to the transaction txid wherever it appears in the ancestry of beef.
func withProof(beef []byte, txid *chainhash.Hash, proof *transaction.MerklePath) ([]byte, error) {
	if len(beef) == 0 {
		return nil, ErrMissingBeef
	}
	_, tx, _, err := transaction.ParseBeef(beef)
	if err != nil {
		return nil, err
	} else if tx == nil {
		return nil, ErrMissingSourceTransaction
	}
	if err := updateInputProofs(tx, txid, proof); err != nil {
		return nil, err
	}
	return tx.AtomicBEEF(false)
}

func updateInputProofs(tx *transaction.Transaction, txid *chainhash.Hash, proof *transaction.MerklePath) error {
	if tx.TxID().Equal(*txid) {
		tx.MerklePath = proof
		return nil
	}
	if tx.MerklePath != nil {
		return nil
	}
	for _, input := range tx.Inputs {
		if input.SourceTransaction == nil {
			return ErrMissingSourceTransaction
		}
		if err := updateInputProofs(input.SourceTransaction, txid, proof); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) verifyRoot(ctx context.Context, txid *chainhash.Hash, proof *transaction.MerklePath) error {
	root, err := proof.ComputeRoot(txid)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProofMismatch, err)
	}
	valid, err := e.headers.IsValidRootForHeight(ctx, root, proof.BlockHeight)
	if err != nil {
		return fmt.Errorf("checking merkle root at height %d: %w", proof.BlockHeight, err)
	}
	if !valid {
		return fmt.Errorf("%w: root %s is not valid at height %d", ErrProofMismatch, root, proof.BlockHeight)
	}
	return nil
}

func leafOffset(proof *transaction.MerklePath, txid *chainhash.Hash) (uint64, bool) {
	if len(proof.Path) == 0 {
		return 0, false
	}
	for _, leaf := range proof.Path[0] {
		if leaf.Hash != nil && leaf.Hash.Equal(*txid) {
			return leaf.Offset, true
		}
	}
	return 0, false
}
