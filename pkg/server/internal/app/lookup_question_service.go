package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
)

// LookupQuestionProvider defines the interface for any provider capable of evaluating
// lookup questions.
type LookupQuestionProvider interface {
	Lookup(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error)
}

// LookupQuestionService validates lookup questions and delegates them to the provider.
type LookupQuestionService struct {
	provider LookupQuestionProvider
}

// LookupQuestion evaluates the query against the named lookup service.
// The query is passed to the service untouched, it must be present and valid JSON.
func (s *LookupQuestionService) LookupQuestion(ctx context.Context, service string, query json.RawMessage) (*lookup.LookupAnswer, error) {
	if len(service) == 0 {
		return nil, NewIncorrectInputWithFieldError("service")
	}
	query = bytes.TrimSpace(query)
	if len(query) == 0 || bytes.Equal(query, []byte("null")) {
		return nil, NewIncorrectInputWithFieldError("query")
	}
	if !json.Valid(query) {
		return nil, NewLookupQuestionParserError(fmt.Errorf("query of %s is not valid JSON", service))
	}

	answer, err := s.provider.Lookup(ctx, &lookup.LookupQuestion{
		Service: service,
		Query:   query,
	})
	if err != nil {
		return nil, NewLookupQuestionProviderError(err)
	}
	return answer, nil
}

// NewLookupQuestionService constructs a LookupQuestionService with the given provider.
// Panics if the provider is nil.
func NewLookupQuestionService(provider LookupQuestionProvider) *LookupQuestionService {
	if provider == nil {
		panic("lookup question provider is nil")
	}
	return &LookupQuestionService{provider: provider}
}

// NewIncorrectInputWithFieldError returns an Error naming a required field that was not provided.
func NewIncorrectInputWithFieldError(field string) Error {
	msg := fmt.Sprintf("The required field %q is missing or empty.", field)
	return NewIncorrectInputError(msg, msg)
}

// NewLookupQuestionParserError creates a structured error to be returned
// when the lookup query cannot be read.
func NewLookupQuestionParserError(err error) Error {
	return NewRawDataProcessingError(
		err.Error(),
		"Unable to process the lookup query content. Please verify the content, try again later, or contact the support team.",
	)
}

// NewLookupQuestionProviderError wraps an error that occurred during provider evaluation.
func NewLookupQuestionProviderError(err error) Error {
	return NewEngineError(err, "Unable to process lookup question due to an internal error. Please try again later or contact the support team.")
}
