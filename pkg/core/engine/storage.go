package engine

import (
	"context"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

type Storage interface {
	// Adds a new output to storage. Inserting an existing (outpoint, topic) pair is a no-op.
	InsertOutput(ctx context.Context, utxo *Output) error

	// Finds an output from storage
	FindOutput(ctx context.Context, outpoint *transaction.Outpoint, topic *string, spent *bool, includeBEEF bool) (*Output, error)

	// Finds outputs of a topic. The result is aligned with outpoints, missing entries are nil.
	FindOutputs(ctx context.Context, outpoints []*transaction.Outpoint, topic string, spent *bool, includeBEEF bool) ([]*Output, error)

	// Finds outputs with a matching transaction ID from storage
	FindOutputsForTransaction(ctx context.Context, txid *chainhash.Hash, includeBEEF bool) ([]*Output, error)

	// Finds current UTXOs of a topic with a score above since, in score order
	FindUTXOsForTopic(ctx context.Context, topic string, since float64, limit uint32, includeBEEF bool) ([]*Output, error)

	// Finds current UTXOs of a topic that have not been offered to the peer yet
	FindUTXOsNeedingSync(ctx context.Context, peer string, topic string, limit uint32) ([]*Output, error)

	// Deletes an output from storage
	DeleteOutput(ctx context.Context, outpoint *transaction.Outpoint, topic string) error

	// Updates UTXOs as spent
	MarkUTXOsAsSpent(ctx context.Context, outpoints []*transaction.Outpoint, topic string, spendTxid *chainhash.Hash) error

	// Updates which outputs are consumed by this output
	UpdateConsumedBy(ctx context.Context, outpoint *transaction.Outpoint, topic string, consumedBy []*transaction.Outpoint) error

	// Updates the beef data for a transaction
	UpdateTransactionBEEF(ctx context.Context, txid *chainhash.Hash, beef []byte) error

	// Binds an unconfirmed output to a block. Returns false when the output was already confirmed or does not exist.
	MarkConfirmed(ctx context.Context, outpoint *transaction.Outpoint, topic string, confirmation *Confirmation) (bool, error)

	// Inserts record of the applied transaction
	InsertAppliedTransaction(ctx context.Context, tx *overlay.AppliedTransaction) error

	// Checks if a duplicate transaction exists
	DoesAppliedTransactionExist(ctx context.Context, tx *overlay.AppliedTransaction) (bool, error)

	// Updates the last interaction score for a given host and topic. Lower scores are ignored.
	UpdateLastInteraction(ctx context.Context, host string, topic string, since float64) error

	// Retrieves the last interaction score for a given host and topic
	// Returns 0 if no record exists
	GetLastInteraction(ctx context.Context, host string, topic string) (float64, error)

	// Updates the highest local score already offered to a host. Lower scores are ignored.
	UpdateLastPush(ctx context.Context, host string, topic string, score float64) error

	// Retrieves the highest local score already offered to a host, 0 if none
	GetLastPush(ctx context.Context, host string, topic string) (float64, error)

	// Runs fn atomically. Writes made through the storage handed to fn are discarded when fn fails.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Storage) error) error

	Close() error
}
