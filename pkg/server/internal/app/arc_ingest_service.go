package app

import (
	"context"
	"errors"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// ARCIngestProvider defines an interface for handling the ingestion of Merkle proofs
// for a given transaction.
type ARCIngestProvider interface {
	HandleNewMerkleProof(ctx context.Context, txid *chainhash.Hash, proof *transaction.MerklePath, blockHeight uint32) error
}

// ARCIngestService validates ARC callbacks and hands the proof to the provider.
type ARCIngestService struct {
	provider ARCIngestProvider
}

// ProcessIngest parses the transaction id and the hex encoded merkle path, sets the block height
// and delegates the proof handling to the ARCIngestProvider.
func (a *ARCIngestService) ProcessIngest(ctx context.Context, txID, merklePath string, blockHeight uint32) error {
	hash, err := chainhash.NewHashFromHex(txID)
	if err != nil {
		return NewInvalidTxIDFormatError(err)
	}

	path, err := transaction.NewMerklePathFromHex(merklePath)
	if err != nil {
		return NewInvalidMerklePathFormatError(err)
	}

	if blockHeight == 0 {
		return NewInvalidBlockHeightError(errors.New("block height must be a positive integer (greater than 0)"))
	}

	path.BlockHeight = blockHeight

	err = a.provider.HandleNewMerkleProof(ctx, hash, path, blockHeight)
	if err != nil {
		return NewArcIngestProviderError(err)
	}

	return nil
}

// NewARCIngestService constructs a new ARCIngestService with the given provider.
// It panics if the provider is nil.
func NewARCIngestService(provider ARCIngestProvider) *ARCIngestService {
	if provider == nil {
		panic("ARC ingest service provider is nil")
	}

	return &ARCIngestService{provider: provider}
}

// NewInvalidMerklePathFormatError returns an error indicating that the provided Merkle path
// is not a hex encoded merkle path.
func NewInvalidMerklePathFormatError(err error) Error {
	return NewIncorrectInputError(
		err.Error(),
		"Unable to process Merkle path argument due to an invalid data format. Please verify the content, try again later or contact the support team.",
	)
}

// NewInvalidTxIDFormatError returns an error indicating that the provided transaction ID
// is not a valid hexadecimal-encoded string.
func NewInvalidTxIDFormatError(err error) Error {
	return NewIncorrectInputError(
		err.Error(),
		"Unable to process transaction ID due to an invalid data format. Please verify the content, try again later or contact the support team.",
	)
}

// NewInvalidBlockHeightError returns an error indicating that the block height is missing.
func NewInvalidBlockHeightError(err error) Error {
	return NewIncorrectInputError(
		err.Error(),
		"Unable to process block height argument. The block height must be greater than 0.",
	)
}

// NewArcIngestProviderError wraps a failure of the provider while handling the proof.
func NewArcIngestProviderError(err error) Error {
	return NewEngineError(err, "Unable to process merkle proof ingest due to an internal error. Please try again later or contact the support team.")
}
