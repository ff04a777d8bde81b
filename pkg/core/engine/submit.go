package engine

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/gookit/slog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// TopicReport is the admission outcome of a submission for one topic.
type TopicReport struct {
	overlay.AdmittanceInstructions
	OutputsRejected []uint32 `json:"outputsRejected,omitempty"`
	Error           string   `json:"error,omitempty"`
	Err             error    `json:"-"`
}

func (r *TopicReport) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// Steak maps every declared topic of a submission to its report.
type Steak map[string]*TopicReport

type topicRun struct {
	topic         string
	report        *TopicReport
	inputs        map[uint32]*Output
	ancillaryBeef []byte
	duplicate     bool
	storageErr    error
}

type submitEvents struct {
	spent    []*OutputSpent
	admitted []*OutputAdmittedByTopic
	removed  []*Output
}

// Submit admits a tagged bundle into every declared topic and returns one report per topic.
// Unknown topics and topic manager failures are reported per topic, they never abort the others.
func (e *Engine) Submit(ctx context.Context, taggedBEEF overlay.TaggedBEEF, mode SubmitMode) (Steak, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSubmitDuration(time.Since(start)) }()
	ctx = WithSubmitMode(ctx, mode)

	beef, tx, txid, err := transaction.ParseBeef(taggedBEEF.Beef)
	if err != nil {
		e.metrics.ObserveSubmission("", 0, 0, ErrMalformedBundle)
		return nil, fmt.Errorf("%w: %w", ErrMalformedBundle, err)
	}
	if tx == nil {
		e.metrics.ObserveSubmission("", 0, 0, ErrMalformedBundle)
		return nil, fmt.Errorf("%w: bundle does not contain a subject transaction", ErrMalformedBundle)
	}
	if err := e.verifyBundle(ctx, tx); err != nil {
		e.metrics.ObserveSubmission("", 0, 0, ErrMalformedBundle)
		slog.WithFields(slog.M{"txid": txid.String(), "error": err}).Warn("rejected malformed bundle")
		return nil, err
	}
	atomicBEEF, err := tx.AtomicBEEF(false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBundle, err)
	}

	inpoints := make([]*transaction.Outpoint, 0, len(tx.Inputs))
	for _, input := range tx.Inputs {
		inpoints = append(inpoints, &transaction.Outpoint{
			Txid:  *input.SourceTXID,
			Index: input.SourceTxOutIndex,
		})
	}

	steak := make(Steak, len(taggedBEEF.Topics))
	runs := make([]*topicRun, 0, len(taggedBEEF.Topics))
	for _, topic := range taggedBEEF.Topics {
		if _, ok := steak[topic]; ok {
			continue
		}
		run := &topicRun{topic: topic, report: &TopicReport{}}
		steak[topic] = run.report
		if _, ok := e.managers[topic]; !ok {
			run.report.fail(ErrUnknownTopic)
			continue
		}
		runs = append(runs, run)
	}

	var wg conc.WaitGroup
	for _, run := range runs {
		wg.Go(func() {
			var pc panics.Catcher
			pc.Try(func() {
				run.storageErr = e.admit(ctx, run, beef, tx, txid, inpoints, taggedBEEF.Beef)
			})
			if r := pc.Recovered(); r != nil {
				run.report.fail(fmt.Errorf("topic manager %s panicked: %w", run.topic, r.AsError()))
			}
		})
	}
	wg.Wait()

	for _, run := range runs {
		if run.storageErr != nil {
			slog.WithFields(slog.M{"txid": txid.String(), "topic": run.topic, "error": run.storageErr}).Error("storage failed while admitting")
			e.metrics.ObserveSubmission(run.topic, 0, 0, ErrStorageUnavailable)
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, run.storageErr)
		}
	}

	events := &submitEvents{}
	err = e.storage.Transaction(ctx, func(ctx context.Context, store Storage) error {
		for _, run := range runs {
			if run.duplicate || run.report.Err != nil {
				continue
			}
			// a racing submission of the same transaction may have committed since admission
			exists, err := store.DoesAppliedTransactionExist(ctx, &overlay.AppliedTransaction{Txid: txid, Topic: run.topic})
			if err != nil {
				return err
			} else if exists {
				run.duplicate = true
				continue
			}
			if err := e.persist(ctx, store, run, tx, txid, atomicBEEF, events); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.WithFields(slog.M{"txid": txid.String(), "error": err}).Error("failed to persist submission")
		e.metrics.ObserveSubmission("", 0, 0, ErrStorageUnavailable)
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	e.notifySubmission(ctx, events)

	propagate := make([]string, 0, len(runs))
	for _, run := range runs {
		e.metrics.ObserveSubmission(run.topic, len(run.report.OutputsToAdmit), len(run.report.OutputsRejected), run.report.Err)
		if run.report.Err != nil {
			slog.WithFields(slog.M{"txid": txid.String(), "topic": run.topic, "error": run.report.Err}).Warn("topic did not admit submission")
			continue
		}
		if !run.duplicate && (len(run.report.OutputsToAdmit) > 0 || len(run.report.CoinsToRetain) > 0) {
			propagate = append(propagate, run.topic)
		}
	}
	slog.WithFields(slog.M{"txid": txid.String(), "topics": len(steak), "duration": time.Since(start).String()}).Debug("submission processed")

	if mode == SubmitModeCurrent && len(propagate) > 0 {
		e.propagate(overlay.TaggedBEEF{Beef: bytes.Clone(taggedBEEF.Beef), Topics: propagate}, txid)
	}
	return steak, nil
}

// admit runs the topic manager of one topic. Only storage failures are returned, everything
// else is recorded in the topic report.
func (e *Engine) admit(ctx context.Context, run *topicRun, beef *transaction.Beef, tx *transaction.Transaction, txid *chainhash.Hash, inpoints []*transaction.Outpoint, beefBytes []byte) error {
	exists, err := e.storage.DoesAppliedTransactionExist(ctx, &overlay.AppliedTransaction{Txid: txid, Topic: run.topic})
	if err != nil {
		return err
	}
	if exists {
		run.duplicate = true
		outputs, err := e.storage.FindOutputsForTransaction(ctx, txid, false)
		if err != nil {
			return err
		}
		for _, output := range outputs {
			if output.Topic == run.topic {
				run.report.OutputsToAdmit = append(run.report.OutputsToAdmit, output.Outpoint.Index)
			}
		}
		slices.Sort(run.report.OutputsToAdmit)
		run.report.OutputsRejected = rejectedOutputs(len(tx.Outputs), run.report.OutputsToAdmit)
		return nil
	}

	run.inputs = make(map[uint32]*Output, len(inpoints))
	previousCoins := make(map[uint32]*transaction.TransactionOutput, len(inpoints))
	if len(inpoints) > 0 {
		previous, err := e.storage.FindOutputs(ctx, inpoints, run.topic, nil, false)
		if err != nil {
			return err
		}
		for vin, output := range previous {
			if output == nil {
				continue
			}
			previousCoins[uint32(vin)] = &transaction.TransactionOutput{ //nolint:gosec // index bounded by slice length
				LockingScript: output.Script,
				Satoshis:      output.Satoshis,
			}
			run.inputs[uint32(vin)] = output //nolint:gosec // index bounded by slice length
		}
	}

	admit, err := e.managers[run.topic].IdentifyAdmissibleOutputs(ctx, beefBytes, previousCoins)
	if err != nil {
		run.report.fail(err)
		return nil
	}
	admit.OutputsToAdmit = compactIndices(admit.OutputsToAdmit)
	admit.CoinsToRetain = compactIndices(admit.CoinsToRetain)
	for _, vout := range admit.OutputsToAdmit {
		if int(vout) >= len(tx.Outputs) {
			run.report.fail(fmt.Errorf("%w: output %d does not exist", ErrInvalidAdmittance, vout))
			return nil
		}
	}
	for _, vin := range admit.CoinsToRetain {
		if _, ok := run.inputs[vin]; !ok {
			run.report.fail(fmt.Errorf("%w: input %d is not a coin of %s", ErrInvalidAdmittance, vin, run.topic))
			return nil
		}
	}

	if len(admit.AncillaryTxids) > 0 {
		ancillaryBeef, err := buildAncillaryBeef(beef, admit.AncillaryTxids)
		if err != nil {
			run.report.fail(err)
			return nil
		}
		run.ancillaryBeef = ancillaryBeef
	}
	run.report.AdmittanceInstructions = admit
	run.report.OutputsRejected = rejectedOutputs(len(tx.Outputs), admit.OutputsToAdmit)
	return nil
}

func (e *Engine) persist(ctx context.Context, store Storage, run *topicRun, tx *transaction.Transaction, txid *chainhash.Hash, atomicBEEF []byte, events *submitEvents) error {
	admit := &run.report.AdmittanceInstructions
	vins := slices.Sorted(maps.Keys(run.inputs))

	if len(vins) > 0 {
		spent := make([]*transaction.Outpoint, 0, len(vins))
		for _, vin := range vins {
			spent = append(spent, &run.inputs[vin].Outpoint)
		}
		if err := store.MarkUTXOsAsSpent(ctx, spent, run.topic, txid); err != nil {
			return err
		}
		for _, vin := range vins {
			events.spent = append(events.spent, &OutputSpent{
				Outpoint:           &run.inputs[vin].Outpoint,
				Topic:              run.topic,
				SpendingTxid:       txid,
				InputIndex:         vin,
				UnlockingScript:    tx.Inputs[vin].UnlockingScript,
				SequenceNumber:     tx.Inputs[vin].SequenceNumber,
				SpendingAtomicBEEF: atomicBEEF,
			})
		}
	}

	consumed := make([]*Output, 0, len(admit.CoinsToRetain))
	outpointsConsumed := make([]*transaction.Outpoint, 0, len(admit.CoinsToRetain))
	admit.CoinsRemoved = nil
	for _, vin := range vins {
		output := run.inputs[vin]
		if slices.Contains(admit.CoinsToRetain, vin) {
			consumed = append(consumed, output)
			outpointsConsumed = append(outpointsConsumed, &output.Outpoint)
			continue
		}
		if err := e.deleteUTXODeep(ctx, store, output, &events.removed); err != nil {
			return err
		}
		admit.CoinsRemoved = append(admit.CoinsRemoved, vin)
	}

	newOutpoints := make([]*transaction.Outpoint, 0, len(admit.OutputsToAdmit))
	for _, vout := range admit.OutputsToAdmit {
		out := tx.Outputs[vout]
		output := &Output{
			Outpoint:        transaction.Outpoint{Txid: *txid, Index: vout},
			Topic:           run.topic,
			Script:          out.LockingScript,
			Satoshis:        out.Satoshis,
			OutputsConsumed: outpointsConsumed,
			Score:           e.nextScore(),
			Beef:            atomicBEEF,
			AncillaryTxids:  admit.AncillaryTxids,
			AncillaryBeef:   run.ancillaryBeef,
		}
		if tx.MerklePath != nil {
			output.MerklePath = tx.MerklePath
			output.BlockHeight = tx.MerklePath.BlockHeight
			if idx, ok := leafOffset(tx.MerklePath, txid); ok {
				output.BlockIdx = idx
			}
		}
		if err := store.InsertOutput(ctx, output); err != nil {
			return err
		}
		newOutpoints = append(newOutpoints, &output.Outpoint)
		events.admitted = append(events.admitted, &OutputAdmittedByTopic{
			Topic:         run.topic,
			Outpoint:      &output.Outpoint,
			Satoshis:      output.Satoshis,
			LockingScript: output.Script,
			AtomicBEEF:    atomicBEEF,
		})
	}

	if len(newOutpoints) > 0 {
		for _, output := range consumed {
			// re-read, a concurrent spend of the same coin may have committed since admission
			current, err := store.FindOutput(ctx, &output.Outpoint, &output.Topic, nil, false)
			if err != nil {
				return err
			} else if current == nil {
				current = output
			}
			consumedBy := slices.Clone(current.ConsumedBy)
			for _, outpoint := range newOutpoints {
				if !slices.ContainsFunc(consumedBy, func(o *transaction.Outpoint) bool { return *o == *outpoint }) {
					consumedBy = append(consumedBy, outpoint)
				}
			}
			if err := store.UpdateConsumedBy(ctx, &output.Outpoint, output.Topic, consumedBy); err != nil {
				return err
			}
		}
	}
	return store.InsertAppliedTransaction(ctx, &overlay.AppliedTransaction{Txid: txid, Topic: run.topic})
}

// deleteUTXODeep removes an output that is no longer retained, then walks the outputs it consumed
// and removes those that nothing else consumes anymore.
func (e *Engine) deleteUTXODeep(ctx context.Context, store Storage, output *Output, removed *[]*Output) error {
	if len(output.ConsumedBy) == 0 {
		if err := store.DeleteOutput(ctx, &output.Outpoint, output.Topic); err != nil {
			return err
		}
		*removed = append(*removed, output)
	}
	for _, outpoint := range output.OutputsConsumed {
		stale, err := store.FindOutput(ctx, outpoint, &output.Topic, nil, false)
		if err != nil {
			return err
		} else if stale == nil {
			continue
		}
		if len(stale.ConsumedBy) > 0 {
			stale.ConsumedBy = slices.DeleteFunc(slices.Clone(stale.ConsumedBy), func(o *transaction.Outpoint) bool {
				return o.Txid.Equal(output.Outpoint.Txid)
			})
			if err := store.UpdateConsumedBy(ctx, &stale.Outpoint, stale.Topic, stale.ConsumedBy); err != nil {
				return err
			}
		}
		if err := e.deleteUTXODeep(ctx, store, stale, removed); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) notifySubmission(ctx context.Context, events *submitEvents) {
	for _, spent := range events.spent {
		e.notifyLookupServices("output-spent", func(l LookupService) error {
			return l.OutputSpent(ctx, spent)
		})
	}
	for _, output := range events.removed {
		e.notifyLookupServices("output-no-longer-retained", func(l LookupService) error {
			return l.OutputNoLongerRetainedInHistory(ctx, &output.Outpoint, output.Topic)
		})
	}
	for _, admitted := range events.admitted {
		e.notifyLookupServices("output-admitted", func(l LookupService) error {
			return l.OutputAdmittedByTopic(ctx, admitted)
		})
	}
}

// verifyBundle checks that every input of an unproven transaction resolves to a source
// transaction in the bundle, recursively, and that proofs match the header source when one is set.
func (e *Engine) verifyBundle(ctx context.Context, tx *transaction.Transaction) error {
	verified := make(map[chainhash.Hash]struct{})
	var verify func(tx *transaction.Transaction) error
	verify = func(tx *transaction.Transaction) error {
		txid := tx.TxID()
		if _, ok := verified[*txid]; ok {
			return nil
		}
		if tx.MerklePath != nil {
			if e.headers != nil {
				if err := e.verifyRoot(ctx, txid, tx.MerklePath); err != nil {
					return err
				}
			}
		} else {
			for vin, input := range tx.Inputs {
				if input.SourceTransaction == nil {
					return fmt.Errorf("%w: input %d of %s has no source transaction", ErrMissingInput, vin, txid)
				}
				if err := verify(input.SourceTransaction); err != nil {
					return err
				}
			}
		}
		verified[*txid] = struct{}{}
		return nil
	}
	if err := verify(tx); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedBundle, err)
	}
	return nil
}

func buildAncillaryBeef(beef *transaction.Beef, txids []*chainhash.Hash) ([]byte, error) {
	ancillaryBeef := transaction.Beef{
		Version:      transaction.BEEF_V2,
		Transactions: make(map[chainhash.Hash]*transaction.BeefTx, len(txids)),
	}
	for _, txid := range txids {
		if foundTx := beef.FindTransaction(txid.String()); foundTx == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingDependencyTx, txid)
		} else if beefBytes, err := foundTx.BEEF(); err != nil {
			return nil, err
		} else if err := ancillaryBeef.MergeBeefBytes(beefBytes); err != nil {
			return nil, err
		}
	}
	return ancillaryBeef.Bytes()
}

func compactIndices(indices []uint32) []uint32 {
	if len(indices) == 0 {
		return indices
	}
	sorted := slices.Clone(indices)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}

func rejectedOutputs(total int, admitted []uint32) []uint32 {
	var rejected []uint32
	for vout := range uint32(total) { //nolint:gosec // output count fits in uint32
		if !slices.Contains(admitted, vout) {
			rejected = append(rejected, vout)
		}
	}
	return rejected
}
