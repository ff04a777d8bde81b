package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/advertiser"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/gookit/slog"
	"github.com/hashicorp/go-multierror"
)

// SyncAdvertisements makes the SHIP and SLAP advertisements of this node match what it hosts.
// Missing, stale or revoked advertisements of hosted names are re-issued at a higher version,
// advertisements of names no longer hosted are revoked. Nothing is created when they already match.
func (e *Engine) SyncAdvertisements(ctx context.Context) error {
	if e.advertiser == nil {
		return nil
	}
	if !IsValidHostingURL(e.hostingURL) {
		slog.Warnf("hosting URL %q is not publicly reachable, advertisements are not synced", e.hostingURL)
		return nil
	}

	var errs *multierror.Error
	plans := []struct {
		protocol overlay.Protocol
		topic    string
		hosted   []string
	}{
		{protocol: advertiser.ProtocolSHIP, topic: TopicSHIP, hosted: slices.Sorted(maps.Keys(e.managers))},
		{protocol: advertiser.ProtocolSLAP, topic: TopicSLAP, hosted: slices.Sorted(maps.Keys(e.lookupServices))},
	}
	for _, plan := range plans {
		if err := e.syncAdvertisementsFor(ctx, plan.protocol, plan.topic, plan.hosted); err != nil {
			slog.WithFields(slog.M{"protocol": string(plan.protocol), "error": err}).Error("failed to sync advertisements")
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (e *Engine) syncAdvertisementsFor(ctx context.Context, protocol overlay.Protocol, topic string, hosted []string) error {
	current, err := e.advertiser.FindAllAdvertisements(ctx, protocol)
	if err != nil {
		return err
	}
	latest := make(map[string]*advertiser.Advertisement, len(current))
	for _, ad := range advertiser.Latest(current) {
		if ad.Supersedes(latest[ad.TopicOrService]) {
			latest[ad.TopicOrService] = ad
		}
	}

	toCreate := make([]*advertiser.AdvertisementData, 0, len(hosted))
	for _, name := range hosted {
		ad := latest[name]
		if ad != nil && !ad.Revoked && ad.Domain == e.hostingURL && ad.Version >= e.advertisementWatermark {
			continue
		}
		version := max(e.advertisementWatermark, 1)
		if ad != nil {
			version = max(version, ad.Version+1)
		}
		toCreate = append(toCreate, &advertiser.AdvertisementData{
			Protocol:           protocol,
			TopicOrServiceName: name,
			Version:            version,
		})
	}

	toRevoke := make([]*advertiser.Advertisement, 0)
	for _, name := range slices.Sorted(maps.Keys(latest)) {
		if ad := latest[name]; !ad.Revoked && !slices.Contains(hosted, name) {
			toRevoke = append(toRevoke, ad)
		}
	}

	if len(toCreate) > 0 {
		taggedBEEF, err := e.advertiser.CreateAdvertisements(ctx, toCreate)
		if err != nil {
			return fmt.Errorf("creating %s advertisements: %w", protocol, err)
		}
		if err := e.submitAdvertisements(ctx, taggedBEEF, topic); err != nil {
			return err
		}
		slog.Infof("created %d %s advertisements", len(toCreate), protocol)
	}
	if len(toRevoke) > 0 {
		taggedBEEF, err := e.advertiser.RevokeAdvertisements(ctx, toRevoke)
		if err != nil {
			return fmt.Errorf("revoking %s advertisements: %w", protocol, err)
		}
		if err := e.submitAdvertisements(ctx, taggedBEEF, topic); err != nil {
			return err
		}
		slog.Infof("revoked %d %s advertisements", len(toRevoke), protocol)
	}
	return nil
}

func (e *Engine) submitAdvertisements(ctx context.Context, taggedBEEF overlay.TaggedBEEF, topic string) error {
	if len(taggedBEEF.Topics) == 0 {
		taggedBEEF.Topics = []string{topic}
	}
	steak, err := e.Submit(ctx, taggedBEEF, SubmitModeCurrent)
	if err != nil {
		return err
	}
	if report := steak[topic]; report != nil && report.Err != nil {
		return report.Err
	}
	return nil
}
