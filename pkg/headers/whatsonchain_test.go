package headers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/4chain-ag/go-pollr-overlay/pkg/headers"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/stretchr/testify/require"
)

var root = chainhash.DoubleHashH([]byte("block 812345"))

func headerServer(t *testing.T, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/block/812345/header", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
				"hash":       "00000000000000000abc",
				"height":     812345,
				"merkleroot": root.String(),
			}))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWhatsOnChain_IsValidRootForHeight(t *testing.T) {
	// given:
	ctx := context.Background()
	var hits atomic.Int32
	server := headerServer(t, http.StatusOK, &hits)
	sut := headers.NewWhatsOnChain(server.URL, headers.WithAPIKey("secret"))
	other := chainhash.DoubleHashH([]byte("another block"))

	// when:
	valid, err := sut.IsValidRootForHeight(ctx, &root, 812345)
	require.NoError(t, err)
	invalid, err := sut.IsValidRootForHeight(ctx, &other, 812345)

	// then:
	require.NoError(t, err)
	require.True(t, valid)
	require.False(t, invalid)
	require.Equal(t, int32(1), hits.Load())
}

func TestWhatsOnChain_UnknownBlock(t *testing.T) {
	// given:
	var hits atomic.Int32
	server := headerServer(t, http.StatusNotFound, &hits)
	sut := headers.NewWhatsOnChain(server.URL, headers.WithAPIKey("secret"))

	// when:
	valid, err := sut.IsValidRootForHeight(context.Background(), &root, 812345)
	require.NoError(t, err)
	_, err = sut.IsValidRootForHeight(context.Background(), &root, 812345)

	// then:
	require.NoError(t, err)
	require.False(t, valid)
	require.Equal(t, int32(2), hits.Load())
}

func TestWhatsOnChain_ServiceFailure(t *testing.T) {
	// given:
	var hits atomic.Int32
	server := headerServer(t, http.StatusInternalServerError, &hits)
	sut := headers.NewWhatsOnChain(server.URL, headers.WithAPIKey("secret"), headers.WithCacheSize(1))

	// when:
	valid, err := sut.IsValidRootForHeight(context.Background(), &root, 812345)

	// then:
	require.ErrorIs(t, err, headers.ErrHeaderRequestFailed)
	require.False(t, valid)
}
