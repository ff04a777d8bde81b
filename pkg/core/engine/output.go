package engine

import (
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// Output is the membership record of one transaction output in one topic.
type Output struct {
	Outpoint        transaction.Outpoint
	Topic           string
	Script          *script.Script
	Satoshis        uint64
	Spent           bool
	OutputsConsumed []*transaction.Outpoint
	ConsumedBy      []*transaction.Outpoint
	BlockHeight     uint32
	BlockIdx        uint64
	MerklePath      *transaction.MerklePath
	Score           float64
	Beef            []byte
	AncillaryTxids  []*chainhash.Hash
	AncillaryBeef   []byte
}

// Confirmed reports whether the output has been bound to a block.
func (o *Output) Confirmed() bool {
	return o.MerklePath != nil
}

// Confirmation carries what MarkConfirmed writes for an output.
type Confirmation struct {
	BlockHeight   uint32
	BlockIdx      uint64
	MerklePath    *transaction.MerklePath
	Beef          []byte
	AncillaryBeef []byte
}
