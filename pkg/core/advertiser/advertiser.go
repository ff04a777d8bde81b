package advertiser

import (
	"context"
	"errors"

	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/script"
)

const (
	ProtocolSHIP overlay.Protocol = "SHIP"
	ProtocolSLAP overlay.Protocol = "SLAP"
)

// ErrNotAdvertisement is returned by ParseAdvertisement when a locking script does not carry a SHIP or SLAP record.
var ErrNotAdvertisement = errors.New("script is not an advertisement")

// Advertisement is a signed, versioned statement that an identity hosts a topic (SHIP)
// or a lookup service (SLAP) at a domain.
type Advertisement struct {
	Protocol       overlay.Protocol `json:"protocol"`
	IdentityKey    string           `json:"identityKey"`
	Domain         string           `json:"domain"`
	TopicOrService string           `json:"topicOrService"`
	Version        uint32           `json:"version"`
	Revoked        bool             `json:"revoked"`
	Signature      []byte           `json:"signature,omitempty"`
	Beef           []byte           `json:"beef,omitempty"`
	OutputIndex    uint32           `json:"outputIndex"`
}

// Key identifies the advertisement lineage that Version orders.
func (a *Advertisement) Key() string {
	return string(a.Protocol) + "|" + a.IdentityKey + "|" + a.TopicOrService
}

// Supersedes reports whether a is authoritative over other within the same lineage.
func (a *Advertisement) Supersedes(other *Advertisement) bool {
	return other == nil || a.Version > other.Version
}

type AdvertisementData struct {
	Protocol           overlay.Protocol
	TopicOrServiceName string
	Version            uint32
}

type Advertiser interface {
	CreateAdvertisements(ctx context.Context, adsData []*AdvertisementData) (overlay.TaggedBEEF, error)
	FindAllAdvertisements(ctx context.Context, protocol overlay.Protocol) ([]*Advertisement, error)
	RevokeAdvertisements(ctx context.Context, advertisements []*Advertisement) (overlay.TaggedBEEF, error)
	ParseAdvertisement(outputScript *script.Script) (*Advertisement, error)
}

// Latest reduces advertisements to the highest version per lineage.
func Latest(ads []*Advertisement) map[string]*Advertisement {
	latest := make(map[string]*Advertisement, len(ads))
	for _, ad := range ads {
		if ad.Supersedes(latest[ad.Key()]) {
			latest[ad.Key()] = ad
		}
	}
	return latest
}
