package engine

import (
	"context"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// HeaderSource answers whether a merkle root belongs to the block at a height.
type HeaderSource interface {
	IsValidRootForHeight(ctx context.Context, root *chainhash.Hash, height uint32) (bool, error)
}
