package ports_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/ports"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/ports/middleware"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/testabilities"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

const (
	testARCAPIKey        = "arc-api-key"
	testARCCallbackToken = "arc-callback-token"
)

func testMerklePathHex(t *testing.T, txid *chainhash.Hash, height uint32) string {
	t.Helper()
	path := transaction.NewMerklePath(height, [][]*transaction.PathElement{{
		{Offset: 0, Hash: txid, Txid: ptr.To(true)},
		{Offset: 1, Duplicate: ptr.To(true)},
	}})
	return path.Hex()
}

func TestARCIngestHandler_ValidCase(t *testing.T) {
	// given:
	txid := testOutpoint(t, 0x0a, 0).Txid
	stub := testabilities.NewTestOverlayEngineStub(t)
	stub.HandleNewMerkleProofFunc = func(_ context.Context, actualTxid *chainhash.Hash, proof *transaction.MerklePath, blockHeight uint32) error {
		assert.Equal(t, txid.String(), actualTxid.String())
		assert.Equal(t, uint32(850000), blockHeight)
		assert.Equal(t, uint32(850000), proof.BlockHeight)
		return nil
	}
	fixture := server.NewServerTestFixture(t,
		server.WithEngine(stub),
		server.WithARCAPIKey(testARCAPIKey),
		server.WithARCCallbackToken(testARCCallbackToken),
	)

	// when:
	var actual ports.ARCIngestResponse
	res, _ := fixture.Client().
		R().
		SetAuthToken(testARCCallbackToken).
		SetBody(ports.ARCIngestBody{TxID: txid.String(), MerklePath: testMerklePathHex(t, &txid, 850000), BlockHeight: 850000}).
		SetResult(&actual).
		Post("/arc-ingest")

	// then:
	require.Equal(t, fiber.StatusOK, res.StatusCode())
	require.Equal(t, *ports.NewARCIngestSuccessResponse(txid.String()), actual)
	stub.AssertCalled("HandleNewMerkleProof")
}

func TestARCIngestHandler_InvalidCases(t *testing.T) {
	txid := testOutpoint(t, 0x0b, 0).Txid
	validPath := testMerklePathHex(t, &txid, 850000)

	tests := map[string]struct {
		apiKey           string
		token            string
		body             any
		providerErr      error
		expectedStatus   int
		expectedResponse ports.ErrorResponse
		expectedCalls    []string
	}{
		"ARC integration disabled": {
			token:            testARCCallbackToken,
			body:             ports.ARCIngestBody{TxID: txid.String(), MerklePath: validPath, BlockHeight: 850000},
			expectedStatus:   fiber.StatusNotFound,
			expectedResponse: ports.NewErrorResponse(middleware.NewUnsupportedEndpointError()),
		},
		"Missing authorization header": {
			apiKey:           testARCAPIKey,
			body:             ports.ARCIngestBody{TxID: txid.String(), MerklePath: validPath, BlockHeight: 850000},
			expectedStatus:   fiber.StatusUnauthorized,
			expectedResponse: ports.NewErrorResponse(middleware.NewMissingAuthorizationHeaderError()),
		},
		"Invalid callback token": {
			apiKey:           testARCAPIKey,
			token:            "other-token",
			body:             ports.ARCIngestBody{TxID: txid.String(), MerklePath: validPath, BlockHeight: 850000},
			expectedStatus:   fiber.StatusForbidden,
			expectedResponse: ports.NewErrorResponse(middleware.NewInvalidBearerTokenValueError()),
		},
		"Invalid txid": {
			apiKey:           testARCAPIKey,
			token:            testARCCallbackToken,
			body:             ports.ARCIngestBody{TxID: "xyz", MerklePath: validPath, BlockHeight: 850000},
			expectedStatus:   fiber.StatusBadRequest,
			expectedResponse: ports.NewErrorResponse(app.NewInvalidTxIDFormatError(fmt.Errorf("xyz"))),
		},
		"Invalid merkle path": {
			apiKey:           testARCAPIKey,
			token:            testARCCallbackToken,
			body:             ports.ARCIngestBody{TxID: txid.String(), MerklePath: "zz", BlockHeight: 850000},
			expectedStatus:   fiber.StatusBadRequest,
			expectedResponse: ports.NewErrorResponse(app.NewInvalidMerklePathFormatError(fmt.Errorf("zz"))),
		},
		"Missing block height": {
			apiKey:           testARCAPIKey,
			token:            testARCCallbackToken,
			body:             ports.ARCIngestBody{TxID: txid.String(), MerklePath: validPath},
			expectedStatus:   fiber.StatusBadRequest,
			expectedResponse: ports.NewErrorResponse(app.NewInvalidBlockHeightError(fmt.Errorf("0"))),
		},
		"Proof does not match the transaction": {
			apiKey:           testARCAPIKey,
			token:            testARCCallbackToken,
			body:             ports.ARCIngestBody{TxID: txid.String(), MerklePath: validPath, BlockHeight: 850000},
			providerErr:      fmt.Errorf("%w: root unknown", engine.ErrProofMismatch),
			expectedStatus:   fiber.StatusConflict,
			expectedResponse: ports.NewErrorResponse(app.NewArcIngestProviderError(engine.ErrProofMismatch)),
			expectedCalls:    []string{"HandleNewMerkleProof"},
		},
		"Transaction not known": {
			apiKey:           testARCAPIKey,
			token:            testARCCallbackToken,
			body:             ports.ARCIngestBody{TxID: txid.String(), MerklePath: validPath, BlockHeight: 850000},
			providerErr:      fmt.Errorf("%w: %s", engine.ErrMissingOutput, txid),
			expectedStatus:   fiber.StatusNotFound,
			expectedResponse: ports.NewErrorResponse(app.NewArcIngestProviderError(engine.ErrMissingOutput)),
			expectedCalls:    []string{"HandleNewMerkleProof"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			// given:
			stub := testabilities.NewTestOverlayEngineStub(t)
			if tc.providerErr != nil {
				stub.HandleNewMerkleProofFunc = func(context.Context, *chainhash.Hash, *transaction.MerklePath, uint32) error {
					return tc.providerErr
				}
			}
			fixture := server.NewServerTestFixture(t,
				server.WithEngine(stub),
				server.WithARCAPIKey(tc.apiKey),
				server.WithARCCallbackToken(testARCCallbackToken),
			)

			// when:
			req := fixture.Client().R()
			if tc.token != "" {
				req.SetAuthToken(tc.token)
			}

			var actual ports.ErrorResponse
			res, _ := req.SetBody(tc.body).SetError(&actual).Post("/arc-ingest")

			// then:
			require.Equal(t, tc.expectedStatus, res.StatusCode())
			require.Equal(t, tc.expectedResponse, actual)
			stub.AssertCalled(tc.expectedCalls...)
		})
	}
}
