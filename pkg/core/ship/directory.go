package ship

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/advertiser"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/gookit/slog"
)

// OutputSource is the part of the engine storage the directory reads admitted advertisements from.
type OutputSource interface {
	FindUTXOsForTopic(ctx context.Context, topic string, since float64, limit uint32, includeBEEF bool) ([]*engine.Output, error)
}

// Query selects advertisements. Empty fields match everything.
type Query struct {
	Protocol    overlay.Protocol
	Names       []string
	Domain      string
	IdentityKey string
}

func (q *Query) matches(ad *advertiser.Advertisement) bool {
	if len(q.Names) > 0 && !slices.Contains(q.Names, ad.TopicOrService) {
		return false
	}
	if q.Domain != "" && q.Domain != ad.Domain {
		return false
	}
	return q.IdentityKey == "" || q.IdentityKey == ad.IdentityKey
}

// Directory answers advertisement queries from the outputs admitted to tm_ship and tm_slap.
type Directory struct {
	source OutputSource
}

func NewDirectory(source OutputSource) *Directory {
	return &Directory{source: source}
}

// Find returns the latest advertisement of every lineage matching the query, revocations included.
// The result is ordered by lineage key.
func (d *Directory) Find(ctx context.Context, query Query) ([]*advertiser.Advertisement, error) {
	topic, err := TopicFor(query.Protocol)
	if err != nil {
		return nil, err
	}
	utxos, err := d.source.FindUTXOsForTopic(ctx, topic, 0, 0, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrStorageUnavailable, err)
	}

	ads := make([]*advertiser.Advertisement, 0, len(utxos))
	for _, utxo := range utxos {
		ad, err := Decode(utxo.Script)
		if err != nil {
			slog.WithFields(slog.M{"outpoint": utxo.Outpoint.String(), "topic": topic, "error": err}).Warn("skipping unreadable advertisement")
			continue
		}
		ad.Beef = utxo.Beef
		ad.OutputIndex = utxo.Outpoint.Index
		ads = append(ads, ad)
	}

	latest := advertiser.Latest(ads)
	result := make([]*advertiser.Advertisement, 0, len(latest))
	for _, key := range slices.Sorted(maps.Keys(latest)) {
		if ad := latest[key]; query.matches(ad) {
			result = append(result, ad)
		}
	}
	return result, nil
}

// Latest returns the current head of the lineage of ad, nil when none was admitted.
func (d *Directory) Latest(ctx context.Context, ad *advertiser.Advertisement) (*advertiser.Advertisement, error) {
	found, err := d.Find(ctx, Query{
		Protocol:    ad.Protocol,
		Names:       []string{ad.TopicOrService},
		IdentityKey: ad.IdentityKey,
	})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}
