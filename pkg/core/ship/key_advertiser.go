package ship

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/advertiser"
	"github.com/bsv-blockchain/go-sdk/overlay"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// AdvertisementSatoshis is the value locked in every advertisement output.
const AdvertisementSatoshis = 1

// ErrNoAdvertisements is returned when asked to create or revoke an empty set.
var ErrNoAdvertisements = errors.New("no advertisements given")

// AdvertisementFinder looks up admitted advertisements.
type AdvertisementFinder interface {
	Find(ctx context.Context, query Query) ([]*advertiser.Advertisement, error)
}

// KeyAdvertiser issues SHIP and SLAP advertisements signed by a node identity key.
type KeyAdvertiser struct {
	key      *ec.PrivateKey
	identity string
	domain   string
	finder   AdvertisementFinder
}

func NewKeyAdvertiser(key *ec.PrivateKey, domain string, finder AdvertisementFinder) *KeyAdvertiser {
	return &KeyAdvertiser{
		key:      key,
		identity: hex.EncodeToString(key.PubKey().Compressed()),
		domain:   domain,
		finder:   finder,
	}
}

// IdentityKey returns the hex encoded compressed public key advertisements are issued under.
func (k *KeyAdvertiser) IdentityKey() string {
	return k.identity
}

func (k *KeyAdvertiser) CreateAdvertisements(ctx context.Context, adsData []*advertiser.AdvertisementData) (overlay.TaggedBEEF, error) {
	ads := make([]*advertiser.Advertisement, 0, len(adsData))
	for _, data := range adsData {
		ads = append(ads, &advertiser.Advertisement{
			Protocol:       data.Protocol,
			IdentityKey:    k.identity,
			Domain:         k.domain,
			TopicOrService: data.TopicOrServiceName,
			Version:        data.Version,
		})
	}
	return k.issue(ads)
}

func (k *KeyAdvertiser) FindAllAdvertisements(ctx context.Context, protocol overlay.Protocol) ([]*advertiser.Advertisement, error) {
	return k.finder.Find(ctx, Query{Protocol: protocol, IdentityKey: k.identity})
}

// RevokeAdvertisements issues a revoked record one version above each given advertisement.
func (k *KeyAdvertiser) RevokeAdvertisements(ctx context.Context, advertisements []*advertiser.Advertisement) (overlay.TaggedBEEF, error) {
	tombstones := make([]*advertiser.Advertisement, 0, len(advertisements))
	for _, ad := range advertisements {
		tombstones = append(tombstones, &advertiser.Advertisement{
			Protocol:       ad.Protocol,
			IdentityKey:    k.identity,
			Domain:         ad.Domain,
			TopicOrService: ad.TopicOrService,
			Version:        ad.Version + 1,
			Revoked:        true,
		})
	}
	return k.issue(tombstones)
}

func (k *KeyAdvertiser) ParseAdvertisement(outputScript *script.Script) (*advertiser.Advertisement, error) {
	return Parse(outputScript)
}

func (k *KeyAdvertiser) issue(ads []*advertiser.Advertisement) (overlay.TaggedBEEF, error) {
	if len(ads) == 0 {
		return overlay.TaggedBEEF{}, ErrNoAdvertisements
	}
	tx := transaction.NewTransaction()
	topics := make([]string, 0, 2)
	for _, ad := range ads {
		topic, err := TopicFor(ad.Protocol)
		if err != nil {
			return overlay.TaggedBEEF{}, err
		}
		if !slices.Contains(topics, topic) {
			topics = append(topics, topic)
		}
		if err := sign(k.key, ad); err != nil {
			return overlay.TaggedBEEF{}, err
		}
		lockingScript, err := Encode(ad)
		if err != nil {
			return overlay.TaggedBEEF{}, err
		}
		tx.AddOutput(&transaction.TransactionOutput{
			Satoshis:      AdvertisementSatoshis,
			LockingScript: lockingScript,
		})
	}
	beef, err := tx.AtomicBEEF(false)
	if err != nil {
		return overlay.TaggedBEEF{}, fmt.Errorf("encoding advertisement transaction: %w", err)
	}
	return overlay.TaggedBEEF{Beef: beef, Topics: topics}, nil
}

var _ advertiser.Advertiser = (*KeyAdvertiser)(nil)
