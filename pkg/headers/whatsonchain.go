package headers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/go-resty/resty/v2"
	"github.com/golang/groupcache/lru"
)

const (
	// DefaultBaseURL is the WhatsOnChain mainnet API
	DefaultBaseURL = "https://api.whatsonchain.com/v1/bsv/main"
	// DefaultCacheSize is the number of block roots kept in memory
	DefaultCacheSize = 10000
	// DefaultTimeout bounds one header request
	DefaultTimeout = 10 * time.Second
)

// ErrHeaderRequestFailed is returned when the header service answers with an unexpected status.
var ErrHeaderRequestFailed = errors.New("header request failed")

type blockHeader struct {
	Hash       string `json:"hash"`
	Height     uint32 `json:"height"`
	MerkleRoot string `json:"merkleroot"`
}

// WhatsOnChain checks merkle roots against block headers served by a WhatsOnChain compatible API.
// Roots of seen heights are cached.
type WhatsOnChain struct {
	client *resty.Client
	mu     sync.Mutex
	roots  *lru.Cache
}

type Option func(*WhatsOnChain)

// WithAPIKey authorizes requests with a WhatsOnChain API key.
func WithAPIKey(apiKey string) Option {
	return func(w *WhatsOnChain) {
		if apiKey != "" {
			w.client.SetHeader("Authorization", apiKey)
		}
	}
}

// WithCacheSize bounds the number of cached block roots.
func WithCacheSize(size int) Option {
	return func(w *WhatsOnChain) {
		w.roots = lru.New(size)
	}
}

func NewWhatsOnChain(baseURL string, opts ...Option) *WhatsOnChain {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	w := &WhatsOnChain{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(DefaultTimeout),
		roots:  lru.New(DefaultCacheSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WhatsOnChain) cached(height uint32) (*chainhash.Hash, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	root, ok := w.roots.Get(height)
	if !ok {
		return nil, false
	}
	return root.(*chainhash.Hash), true
}

func (w *WhatsOnChain) remember(height uint32, root *chainhash.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.roots.Add(height, root)
}

// MerkleRoot returns the merkle root of the block at height, nil when the block is unknown.
func (w *WhatsOnChain) MerkleRoot(ctx context.Context, height uint32) (*chainhash.Hash, error) {
	if root, ok := w.cached(height); ok {
		return root, nil
	}

	header := &blockHeader{}
	resp, err := w.client.R().
		SetContext(ctx).
		SetResult(header).
		SetPathParam("height", strconv.FormatUint(uint64(height), 10)).
		Get("/block/{height}/header")
	if err != nil {
		return nil, fmt.Errorf("requesting header %d: %w", height, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, nil //nolint:nilnil // block not known yet
	case resp.IsError():
		return nil, fmt.Errorf("%w: header %d: status %d", ErrHeaderRequestFailed, height, resp.StatusCode())
	}

	root, err := chainhash.NewHashFromHex(header.MerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: header %d has merkle root %q: %w", ErrHeaderRequestFailed, height, header.MerkleRoot, err)
	}
	w.remember(height, root)
	return root, nil
}

func (w *WhatsOnChain) IsValidRootForHeight(ctx context.Context, root *chainhash.Hash, height uint32) (bool, error) {
	expected, err := w.MerkleRoot(ctx, height)
	if err != nil || expected == nil {
		return false, err
	}
	return expected.IsEqual(root), nil
}

var _ engine.HeaderSource = (*WhatsOnChain)(nil)
