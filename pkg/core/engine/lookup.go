package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/gookit/slog"
)

// Lookup routes a question to the named lookup service. Formula answers are hydrated from
// storage into an output list.
func (e *Engine) Lookup(ctx context.Context, question *lookup.LookupQuestion) (answer *lookup.LookupAnswer, err error) {
	if question == nil || question.Service == "" {
		return nil, fmt.Errorf("%w: missing service", ErrMalformedQuery)
	}
	l, ok := e.lookupServices[question.Service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLookupService, question.Service)
	}
	start := time.Now()
	defer func() { e.metrics.ObserveLookup(question.Service, time.Since(start), err) }()

	result, err := l.Lookup(ctx, question)
	if err != nil {
		slog.WithFields(slog.M{"service": question.Service, "error": err}).Warn("lookup service failed")
		return nil, err
	}
	if result == nil {
		return &lookup.LookupAnswer{Type: lookup.AnswerTypeOutputList}, nil
	}
	if result.Type == lookup.AnswerTypeFreeform || result.Type == lookup.AnswerTypeOutputList {
		return result, nil
	}

	hydratedOutputs := make([]*lookup.OutputListItem, 0, len(result.Formulas))
	for _, formula := range result.Formulas {
		output, err := e.storage.FindOutput(ctx, formula.Outpoint, nil, nil, true)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		} else if output == nil || output.Beef == nil {
			continue
		}
		hydrated, err := e.GetUTXOHistory(ctx, output, formula.History, 0)
		if err != nil {
			slog.WithFields(slog.M{"outpoint": formula.Outpoint.String(), "error": err}).Error("failed to get UTXO history")
			return nil, err
		} else if hydrated != nil {
			hydratedOutputs = append(hydratedOutputs, &lookup.OutputListItem{
				Beef:        hydrated.Beef,
				OutputIndex: hydrated.Outpoint.Index,
			})
		}
	}
	return &lookup.LookupAnswer{
		Type:    lookup.AnswerTypeOutputList,
		Outputs: hydratedOutputs,
	}, nil
}

// GetUTXOHistory walks the outputs consumed by output as long as the selector asks for it and
// returns the output with a BEEF carrying the selected history.
func (e *Engine) GetUTXOHistory(ctx context.Context, output *Output, historySelector func(beef []byte, outputIndex, currentDepth uint32) bool, currentDepth uint32) (*Output, error) {
	if historySelector == nil {
		return output, nil
	}
	if !historySelector(output.Beef, output.Outpoint.Index, currentDepth) {
		return nil, nil //nolint:nilnil // a rejected branch is not an error
	}
	if len(output.OutputsConsumed) == 0 {
		return output, nil
	}

	childHistories := make(map[string]*Output, len(output.OutputsConsumed))
	for _, outpoint := range output.OutputsConsumed {
		childOutput, err := e.storage.FindOutput(ctx, outpoint, nil, nil, true)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		} else if childOutput == nil {
			continue
		}
		child, err := e.GetUTXOHistory(ctx, childOutput, historySelector, currentDepth+1)
		if err != nil {
			return nil, err
		} else if child != nil {
			childHistories[child.Outpoint.String()] = child
		}
	}

	tx, err := transaction.NewTransactionFromBEEF(output.Beef)
	if err != nil {
		return nil, err
	}
	for _, txin := range tx.Inputs {
		outpoint := &transaction.Outpoint{
			Txid:  *txin.SourceTXID,
			Index: txin.SourceTxOutIndex,
		}
		input := childHistories[outpoint.String()]
		if input == nil {
			continue
		}
		if input.Beef == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingBeef, outpoint)
		}
		if txin.SourceTransaction, err = transaction.NewTransactionFromBEEF(input.Beef); err != nil {
			return nil, err
		}
	}
	beef, err := tx.BEEF()
	if err != nil {
		return nil, err
	}
	hydrated := *output
	hydrated.Beef = beef
	return &hydrated, nil
}
