package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/bsv-blockchain/go-sdk/overlay"
)

// SubmitTransactionProvider defines the interface for sending a tagged transaction
// to the overlay engine for processing.
type SubmitTransactionProvider interface {
	Submit(ctx context.Context, taggedBEEF overlay.TaggedBEEF, mode engine.SubmitMode) (engine.Steak, error)
}

// SubmitTransactionService coordinates the transaction submission process using configured SubmitTransactionProvider.
type SubmitTransactionService struct {
	provider SubmitTransactionProvider
}

// SubmitTransaction submits a transaction to the configured provider and returns one report per topic.
func (s *SubmitTransactionService) SubmitTransaction(ctx context.Context, topics TransactionTopics, txBytes ...byte) (engine.Steak, error) {
	err := topics.Verify()
	if err != nil {
		return nil, err
	}
	if len(txBytes) == 0 {
		return nil, NewEmptyTransactionBodyError()
	}

	steak, err := s.provider.Submit(ctx, overlay.TaggedBEEF{Beef: txBytes, Topics: topics}, engine.SubmitModeCurrent)
	if err != nil {
		return nil, NewSubmitTransactionProviderError(err)
	}
	return steak, nil
}

// NewSubmitTransactionService creates a new SubmitTransactionService with the given provider.
// Panics if the provider is nil.
func NewSubmitTransactionService(provider SubmitTransactionProvider) *SubmitTransactionService {
	if provider == nil {
		panic("submit transaction service provider is nil")
	}

	return &SubmitTransactionService{provider: provider}
}

// TransactionTopics represents a list of topics that must be provided when submitting a transaction.
type TransactionTopics []string

// ParseTransactionTopics reads the x-topics header, either a JSON array or a comma separated list.
func ParseTransactionTopics(header string) (TransactionTopics, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, NewMissingTopicsHeaderError()
	}

	if strings.HasPrefix(header, "[") {
		var topics TransactionTopics
		if err := json.Unmarshal([]byte(header), &topics); err != nil {
			return nil, NewIncorrectInputError(err.Error(), "The x-topics header must be a JSON array of strings or a comma separated list.")
		}
		return topics, nil
	}

	parts := strings.Split(header, ",")
	topics := make(TransactionTopics, 0, len(parts))
	for _, part := range parts {
		topics = append(topics, strings.TrimSpace(part))
	}
	return topics, nil
}

// Verify ensures the topic list is non-empty and that each topic is non-blank.
func (tt TransactionTopics) Verify() error {
	if len(tt) == 0 {
		return NewEmptyTransactionTopicsError()
	}

	for i, t := range tt {
		if strings.TrimSpace(t) == "" {
			return NewErrInvalidTopicFormatError(i)
		}
	}

	return nil
}

// NewMissingTopicsHeaderError returns an Error indicating that the x-topics header was not sent.
func NewMissingTopicsHeaderError() Error {
	const msg = "The submitted request does not include required header: x-topics."
	return NewIncorrectInputError(msg, msg)
}

// NewEmptyTransactionTopicsError returns an Error indicating that the topics slice is empty,
// which is invalid input when submitting a transaction.
func NewEmptyTransactionTopicsError() Error {
	return Error{
		errorType: ErrorTypeIncorrectInput,
		err:       "Provided topics cannot be an empty slice.",
		slug:      "At least one topic must be provided in the correct string format. Empty topic values are not allowed.",
	}
}

// NewErrInvalidTopicFormatError returns an Error indicating that a specific topic,
// identified by its index, is in an invalid format.
func NewErrInvalidTopicFormatError(i int) Error {
	return Error{
		errorType: ErrorTypeIncorrectInput,
		err:       fmt.Sprintf("Invalid topic header format for topic no. %d.", i+1),
		slug:      "One or more topics are in an invalid format. Empty string values are not allowed.",
	}
}

// NewEmptyTransactionBodyError returns an Error indicating that no BEEF was sent.
func NewEmptyTransactionBodyError() Error {
	const msg = "The submitted request body is empty. A BEEF encoded transaction is required."
	return NewIncorrectInputError(msg, msg)
}

// NewSubmitTransactionProviderError returns an Error indicating that the configured provider
// failed to process a submitted transaction octet-stream.
func NewSubmitTransactionProviderError(err error) Error {
	return NewEngineError(err, "Unable to process submitted transaction octet-stream due to an internal error. Please try again later or contact the support team.")
}
