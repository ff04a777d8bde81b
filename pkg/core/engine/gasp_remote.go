package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	// DefaultRemoteTimeout bounds a single request to a peer
	DefaultRemoteTimeout = 30 * time.Second
	// DefaultRemoteRate is the number of requests per second sent to one peer
	DefaultRemoteRate = 20
)

// ErrPeerRequestFailed is returned when a peer answers with an unexpected status.
var ErrPeerRequestFailed = errors.New("peer request failed")

// OverlayGASPRemote talks GASP to another overlay node over HTTP.
type OverlayGASPRemote struct {
	EndpointURL string
	Topic       string
	client      *resty.Client
	limiter     *rate.Limiter
}

type RemoteOption func(*OverlayGASPRemote)

// WithRemoteClient replaces the HTTP client, the base URL and topic header are set on it.
func WithRemoteClient(client *resty.Client) RemoteOption {
	return func(r *OverlayGASPRemote) {
		r.client = client
	}
}

// WithRemoteRate limits the requests per second sent to the peer.
func WithRemoteRate(limit rate.Limit, burst int) RemoteOption {
	return func(r *OverlayGASPRemote) {
		r.limiter = rate.NewLimiter(limit, burst)
	}
}

func NewOverlayGASPRemote(endpointURL, topic string, opts ...RemoteOption) *OverlayGASPRemote {
	r := &OverlayGASPRemote{
		EndpointURL: endpointURL,
		Topic:       topic,
		client:      resty.New().SetTimeout(DefaultRemoteTimeout),
		limiter:     rate.NewLimiter(rate.Limit(DefaultRemoteRate), DefaultRemoteRate),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.client.
		SetBaseURL(endpointURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-BSV-Topic", topic)
	return r
}

func (r *OverlayGASPRemote) GetInitialResponse(ctx context.Context, request *gasp.InitialRequest) (*gasp.InitialResponse, error) {
	result := &gasp.InitialResponse{}
	if err := r.post(ctx, "/requestSyncResponse", request, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *OverlayGASPRemote) GetInitialReply(ctx context.Context, response *gasp.InitialResponse) (*gasp.InitialReply, error) {
	result := &gasp.InitialReply{}
	if err := r.post(ctx, "/requestSyncReply", response, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *OverlayGASPRemote) RequestNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error) {
	result := &gasp.Node{}
	if err := r.post(ctx, "/requestForeignGASPNode", gasp.NewNodeRequest(graphID, outpoint, metadata), result); err != nil {
		return nil, err
	}
	return result, nil
}

// SubmitNode pushes a node. A nil response means the peer needs nothing more for the graph.
func (r *OverlayGASPRemote) SubmitNode(ctx context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
	var result *gasp.NodeResponse
	if err := r.post(ctx, "/submitGASPNode", node, &result); err != nil {
		return nil, err
	}
	if result == nil || len(result.RequestedInputs) == 0 {
		return nil, nil //nolint:nilnil // nothing more is needed
	}
	return result, nil
}

func (r *OverlayGASPRemote) post(ctx context.Context, path string, body, result any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPeerUnresponsive, r.EndpointURL, err)
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("%w: %s%s: %w", ErrPeerUnresponsive, r.EndpointURL, path, err)
	}
	switch {
	case resp.StatusCode() == http.StatusGatewayTimeout || resp.StatusCode() == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s%s returned %d", ErrPeerUnresponsive, r.EndpointURL, path, resp.StatusCode())
	case resp.StatusCode() == http.StatusConflict:
		mismatch := &gasp.VersionMismatchError{}
		if json.Unmarshal(resp.Body(), mismatch) == nil && mismatch.Code != "" {
			return mismatch
		}
		return fmt.Errorf("%w: %s%s returned %d: %s", ErrPeerRequestFailed, r.EndpointURL, path, resp.StatusCode(), resp.String())
	case resp.IsError():
		return fmt.Errorf("%w: %s%s returned %d: %s", ErrPeerRequestFailed, r.EndpointURL, path, resp.StatusCode(), resp.String())
	}
	if len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), result); err != nil {
		return fmt.Errorf("%w: decoding %s%s: %w", ErrPeerRequestFailed, r.EndpointURL, path, err)
	}
	return nil
}
