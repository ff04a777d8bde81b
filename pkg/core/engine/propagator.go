package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/go-resty/resty/v2"
	"github.com/gookit/slog"
	"github.com/hashicorp/go-multierror"
)

// Propagator delivers an admitted bundle to a peer that hosts the same topics.
type Propagator interface {
	Send(ctx context.Context, peer string, taggedBEEF overlay.TaggedBEEF) error
}

// HTTPPropagator submits bundles to the /submit endpoint of peers.
type HTTPPropagator struct {
	client *resty.Client
}

func NewHTTPPropagator(client *resty.Client) *HTTPPropagator {
	if client == nil {
		client = resty.New().SetTimeout(DefaultRemoteTimeout)
	}
	return &HTTPPropagator{client: client}
}

func (p *HTTPPropagator) Send(ctx context.Context, peer string, taggedBEEF overlay.TaggedBEEF) error {
	topics, err := json.Marshal(taggedBEEF.Topics)
	if err != nil {
		return err
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("X-Topics", string(topics)).
		SetBody(taggedBEEF.Beef).
		Post(strings.TrimSuffix(peer, "/") + "/submit")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPeerUnresponsive, peer, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s/submit returned %d: %s", ErrPeerRequestFailed, peer, resp.StatusCode(), resp.String())
	}
	return nil
}

// propagate forwards an admitted bundle to the peers of its topics in the background.
// Close waits for every started propagation.
func (e *Engine) propagate(taggedBEEF overlay.TaggedBEEF, txid *chainhash.Hash) {
	if e.propagator == nil {
		return
	}
	e.bgMu.RLock()
	defer e.bgMu.RUnlock()
	if e.closed {
		return
	}
	e.background.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultPropagationTimeout)
		defer cancel()

		byPeer := make(map[string][]string)
		for _, topic := range taggedBEEF.Topics {
			for _, peer := range e.resolvePeers(ctx, topic) {
				byPeer[peer] = append(byPeer[peer], topic)
			}
		}
		var errs *multierror.Error
		for peer, topics := range byPeer {
			if err := e.propagator.Send(ctx, peer, overlay.TaggedBEEF{Beef: taggedBEEF.Beef, Topics: topics}); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		err := errs.ErrorOrNil()
		e.metrics.ObservePropagation(err)
		if err != nil {
			slog.WithFields(slog.M{"txid": txid.String(), "peers": len(byPeer), "error": err}).Warn("failed to propagate transaction to peers")
			return
		}
		if len(byPeer) > 0 {
			slog.Debugf("propagated %s to %d peers", txid, len(byPeer))
		}
	})
}
