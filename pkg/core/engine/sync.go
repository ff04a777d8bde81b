package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/advertiser"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/gookit/slog"
	"github.com/hashicorp/go-multierror"
)

// DefaultDiscoveryTimeout bounds the SHIP lookup used to find sync peers
const DefaultDiscoveryTimeout = 10 * time.Second

// StartGASPSync runs one sync round with every peer of every configured topic. Failures of
// single peers are collected and returned together, they never stop the other rounds.
func (e *Engine) StartGASPSync(ctx context.Context) error {
	var errs *multierror.Error
	for _, topic := range slices.Sorted(maps.Keys(e.syncConfiguration)) {
		if _, ok := e.managers[topic]; !ok {
			slog.Warnf("sync configured for %s, which is not hosted", topic)
			continue
		}
		for _, peer := range e.resolvePeers(ctx, topic) {
			if err := e.SyncTopicWithPeer(ctx, topic, peer); err != nil {
				slog.WithFields(slog.M{"topic": topic, "peer": peer, "error": err}).Warn("GASP sync failed")
				errs = multierror.Append(errs, fmt.Errorf("sync of %s with %s: %w", topic, peer, err))
			}
		}
	}
	return errs.ErrorOrNil()
}

// SyncTopicWithPeer runs one GASP round for a topic against a peer. Concurrent calls for the same
// peer and topic share a single round. The sync frontier is stored only when the round succeeds.
func (e *Engine) SyncTopicWithPeer(ctx context.Context, topic, peer string) error {
	if _, ok := e.managers[topic]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	_, err, _ := e.syncGroup.Do(peer+"|"+topic, func() (any, error) {
		return nil, e.syncTopicWithPeer(ctx, topic, peer)
	})
	return err
}

func (e *Engine) syncTopicWithPeer(ctx context.Context, topic, peer string) (err error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSyncRound(topic, time.Since(start), err) }()

	ctx, cancel := context.WithTimeout(ctx, e.syncTimeout)
	defer cancel()

	lastInteraction, err := e.storage.GetLastInteraction(ctx, peer, topic)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	config := e.syncConfiguration[topic]
	logPrefix := "[GASP Sync of " + topic + " with " + peer + "] "
	gaspProvider := gasp.NewGASP(gasp.Params{
		Storage:         NewOverlayGASPStorage(topic, peer, e),
		Remote:          e.remoteFactory(peer, topic),
		LastInteraction: lastInteraction,
		LogPrefix:       &logPrefix,
		Unidirectional:  config.Unidirectional,
		Concurrency:     config.Concurrency,
	})

	if err := gaspProvider.Sync(ctx, peer, e.syncPageLimit); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrPeerUnresponsive) {
			return fmt.Errorf("%w: %w", ErrPeerUnresponsive, err)
		}
		return err
	}

	if gaspProvider.LastInteraction > lastInteraction {
		if err := e.storage.UpdateLastInteraction(ctx, peer, topic, gaspProvider.LastInteraction); err != nil {
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		slog.Debugf("%sUpdated last interaction score to %f", logPrefix, gaspProvider.LastInteraction)
	}
	if gaspProvider.LastPush > 0 {
		if err := e.storage.UpdateLastPush(ctx, peer, topic, gaspProvider.LastPush); err != nil {
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}
	slog.Infof("%sRound finished in %s", logPrefix, time.Since(start))
	return nil
}

// resolvePeers returns the peers of a topic without this node.
func (e *Engine) resolvePeers(ctx context.Context, topic string) []string {
	config, ok := e.syncConfiguration[topic]
	if !ok {
		return nil
	}
	var peers []string
	switch config.Type {
	case SyncConfigurationPeers:
		peers = config.Peers
	case SyncConfigurationSHIP:
		peers = append(slices.Clone(config.Peers), e.discoverSHIPPeers(ctx, topic)...)
	default:
		return nil
	}

	unique := make(map[string]struct{}, len(peers))
	for _, peer := range peers {
		if peer != "" && peer != e.hostingURL {
			unique[peer] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(unique))
}

// discoverSHIPPeers finds the domains advertising topic, both in the local SHIP index and on
// the configured trackers.
func (e *Engine) discoverSHIPPeers(ctx context.Context, topic string) []string {
	if e.advertiser == nil {
		slog.Warnf("cannot discover peers of %s without an advertiser", topic)
		return nil
	}
	query, err := json.Marshal(map[string]any{"topics": []string{topic}})
	if err != nil {
		return nil
	}
	question := &lookup.LookupQuestion{Service: ServiceSHIP, Query: query}

	ctx, cancel := context.WithTimeout(ctx, DefaultDiscoveryTimeout)
	defer cancel()

	answers := make([]*lookup.LookupAnswer, 0, 2)
	if _, ok := e.lookupServices[ServiceSHIP]; ok {
		if answer, err := e.Lookup(ctx, question); err != nil {
			slog.WithFields(slog.M{"topic": topic, "error": err}).Warn("local SHIP lookup failed")
		} else {
			answers = append(answers, answer)
		}
	}
	if answer, err := e.lookupResolver.Query(ctx, question); err != nil {
		slog.WithFields(slog.M{"topic": topic, "error": err}).Warn("SHIP tracker lookup failed")
	} else {
		answers = append(answers, answer)
	}

	domains := make(map[string]struct{})
	for _, answer := range answers {
		if answer == nil || answer.Type != lookup.AnswerTypeOutputList {
			continue
		}
		for _, output := range answer.Outputs {
			tx, err := transaction.NewTransactionFromBEEF(output.Beef)
			if err != nil || int(output.OutputIndex) >= len(tx.Outputs) {
				continue
			}
			ad, err := e.advertiser.ParseAdvertisement(tx.Outputs[output.OutputIndex].LockingScript)
			if err != nil {
				continue
			}
			if ad.Protocol == advertiser.ProtocolSHIP && !ad.Revoked && ad.TopicOrService == topic && IsValidHostingURL(ad.Domain) {
				domains[ad.Domain] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(domains))
}

func (e *Engine) inboundGASP(topic string) (*gasp.GASP, error) {
	if _, ok := e.managers[topic]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	e.inboundMu.Lock()
	defer e.inboundMu.Unlock()
	g, ok := e.inbound[topic]
	if !ok {
		logPrefix := "[GASP inbound " + topic + "] "
		g = gasp.NewGASP(gasp.Params{
			Storage:        NewOverlayGASPStorage(topic, "", e),
			LogPrefix:      &logPrefix,
			Unidirectional: true,
		})
		e.inbound[topic] = g
	}
	return g, nil
}

// ProvideForeignSyncResponse answers the first request of a peer's round with the topic UTXOs
// scored above the requested frontier.
func (e *Engine) ProvideForeignSyncResponse(ctx context.Context, initialRequest *gasp.InitialRequest, topic string) (*gasp.InitialResponse, error) {
	g, err := e.inboundGASP(topic)
	if err != nil {
		return nil, err
	}
	response, err := g.GetInitialResponse(ctx, initialRequest)
	if err != nil {
		return nil, storageOrProtocolError(err)
	}
	return response, nil
}

// ProvideForeignGASPNode returns the node a peer asked for while pulling a graph.
func (e *Engine) ProvideForeignGASPNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, topic string) (*gasp.Node, error) {
	g, err := e.inboundGASP(topic)
	if err != nil {
		return nil, err
	}
	return g.RequestNode(ctx, graphID, outpoint, true)
}

// ProvideForeignSyncReply tells a pushing peer which of its UTXOs this node lacks.
func (e *Engine) ProvideForeignSyncReply(ctx context.Context, response *gasp.InitialResponse, topic string) (*gasp.InitialReply, error) {
	g, err := e.inboundGASP(topic)
	if err != nil {
		return nil, err
	}
	reply, err := g.GetInitialReply(ctx, response)
	if err != nil {
		return nil, storageOrProtocolError(err)
	}
	return reply, nil
}

// SubmitForeignGASPNode accepts a node pushed by a peer. The returned response lists the inputs
// still needed, nil means the graph was completed.
func (e *Engine) SubmitForeignGASPNode(ctx context.Context, node *gasp.Node, topic string) (*gasp.NodeResponse, error) {
	g, err := e.inboundGASP(topic)
	if err != nil {
		return nil, err
	}
	return g.SubmitNode(ctx, node)
}

func storageOrProtocolError(err error) error {
	var mismatch *gasp.VersionMismatchError
	if errors.As(err, &mismatch) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
