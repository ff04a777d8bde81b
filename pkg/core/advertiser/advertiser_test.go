package advertiser_test

import (
	"testing"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/advertiser"
	"github.com/stretchr/testify/require"
)

func TestLatest_ShouldKeepHighestVersionPerLineage(t *testing.T) {
	// given:
	ads := []*advertiser.Advertisement{
		{Protocol: advertiser.ProtocolSHIP, IdentityKey: "02aa", TopicOrService: "tm_pollr", Version: 1, Domain: "https://a.example.com"},
		{Protocol: advertiser.ProtocolSHIP, IdentityKey: "02aa", TopicOrService: "tm_pollr", Version: 3, Revoked: true},
		{Protocol: advertiser.ProtocolSHIP, IdentityKey: "02aa", TopicOrService: "tm_pollr", Version: 2, Domain: "https://b.example.com"},
		{Protocol: advertiser.ProtocolSLAP, IdentityKey: "02aa", TopicOrService: "tm_pollr", Version: 1},
	}

	// when:
	latest := advertiser.Latest(ads)

	// then:
	require.Len(t, latest, 2)
	ship := latest[ads[0].Key()]
	require.Equal(t, uint32(3), ship.Version)
	require.True(t, ship.Revoked)
	require.Equal(t, uint32(1), latest[ads[3].Key()].Version)
}

func TestSupersedes_EqualVersionIsNotAuthoritative(t *testing.T) {
	// given:
	a := &advertiser.Advertisement{Version: 2}
	b := &advertiser.Advertisement{Version: 2}

	// then:
	require.False(t, a.Supersedes(b))
	require.True(t, a.Supersedes(nil))
	require.True(t, a.Supersedes(&advertiser.Advertisement{Version: 1}))
}
