package ports_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/ports"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/testabilities"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupQuestionHandler_ValidCase(t *testing.T) {
	// given:
	stub := testabilities.NewTestOverlayEngineStub(t)
	stub.LookupFunc = func(_ context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error) {
		assert.Equal(t, "ls_pollr", question.Service)
		assert.JSONEq(t, `{"type":"poll","txid":"abc"}`, string(question.Query))
		return &lookup.LookupAnswer{Type: lookup.AnswerTypeFreeform, Result: map[string]any{"status": "open"}}, nil
	}
	fixture := server.NewServerTestFixture(t, server.WithEngine(stub))

	// when:
	var actual map[string]any
	res, _ := fixture.Client().
		R().
		SetHeader(fiber.HeaderContentType, fiber.MIMEApplicationJSON).
		SetBody(ports.LookupQuestionBody{Service: "ls_pollr", Query: json.RawMessage(`{"type":"poll","txid":"abc"}`)}).
		SetResult(&actual).
		Post("/lookup")

	// then:
	require.Equal(t, fiber.StatusOK, res.StatusCode())
	require.Equal(t, "freeform", actual["type"])
	require.Equal(t, map[string]any{"status": "open"}, actual["result"])
	stub.AssertCalled("Lookup")
}

func TestLookupQuestionHandler_InvalidCases(t *testing.T) {
	tests := map[string]struct {
		body             string
		lookupErr        error
		expectedStatus   int
		expectedResponse ports.ErrorResponse
		expectedCalls    []string
	}{
		"Malformed request body": {
			body:             `{"service":`,
			expectedStatus:   fiber.StatusBadRequest,
			expectedResponse: ports.NewErrorResponse(ports.NewRequestBodyParserError(fmt.Errorf("unexpected end of JSON input"))),
		},
		"Missing service": {
			body:             `{"query":{}}`,
			expectedStatus:   fiber.StatusBadRequest,
			expectedResponse: ports.NewErrorResponse(app.NewIncorrectInputWithFieldError("service")),
		},
		"Missing query": {
			body:             `{"service":"ls_pollr"}`,
			expectedStatus:   fiber.StatusBadRequest,
			expectedResponse: ports.NewErrorResponse(app.NewIncorrectInputWithFieldError("query")),
		},
		"Null query": {
			body:             `{"service":"ls_pollr","query":null}`,
			expectedStatus:   fiber.StatusBadRequest,
			expectedResponse: ports.NewErrorResponse(app.NewIncorrectInputWithFieldError("query")),
		},
		"Unknown lookup service": {
			body:             `{"service":"ls_unknown","query":{}}`,
			lookupErr:        fmt.Errorf("%w: ls_unknown", engine.ErrUnknownLookupService),
			expectedStatus:   fiber.StatusNotFound,
			expectedResponse: ports.NewErrorResponse(app.NewLookupQuestionProviderError(engine.ErrUnknownLookupService)),
			expectedCalls:    []string{"Lookup"},
		},
		"Malformed query rejected by the service": {
			body:             `{"service":"ls_pollr","query":{"type":"votes"}}`,
			lookupErr:        fmt.Errorf("%w: missing txid", engine.ErrMalformedQuery),
			expectedStatus:   fiber.StatusBadRequest,
			expectedResponse: ports.NewErrorResponse(app.NewLookupQuestionProviderError(engine.ErrMalformedQuery)),
			expectedCalls:    []string{"Lookup"},
		},
		"Canceled lookup": {
			body:             `{"service":"ls_pollr","query":{}}`,
			lookupErr:        context.Canceled,
			expectedStatus:   fiber.StatusRequestTimeout,
			expectedResponse: ports.NewErrorResponse(app.NewContextCancellationError()),
			expectedCalls:    []string{"Lookup"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			// given:
			stub := testabilities.NewTestOverlayEngineStub(t)
			if tc.lookupErr != nil {
				stub.LookupFunc = func(context.Context, *lookup.LookupQuestion) (*lookup.LookupAnswer, error) {
					return nil, tc.lookupErr
				}
			}
			fixture := server.NewServerTestFixture(t, server.WithEngine(stub))

			// when:
			var actual ports.ErrorResponse
			res, _ := fixture.Client().
				R().
				SetHeader(fiber.HeaderContentType, fiber.MIMEApplicationJSON).
				SetBody(tc.body).
				SetError(&actual).
				Post("/lookup")

			// then:
			require.Equal(t, tc.expectedStatus, res.StatusCode())
			require.Equal(t, tc.expectedResponse, actual)
			stub.AssertCalled(tc.expectedCalls...)
		})
	}
}
