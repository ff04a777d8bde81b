package ship_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/advertiser"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine/storage"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/ship"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/require"
)

const domain = "https://node.example.com"

// fakeSource serves admitted outputs per topic.
type fakeSource struct {
	outputs map[string][]*engine.Output
	fail    error
}

func (f *fakeSource) FindUTXOsForTopic(ctx context.Context, topic string, since float64, limit uint32, includeBEEF bool) ([]*engine.Output, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return f.outputs[topic], nil
}

// admit records every output of the tagged BEEF as admitted to its topics.
func (f *fakeSource) admit(t *testing.T, tagged overlay.TaggedBEEF) {
	t.Helper()
	if f.outputs == nil {
		f.outputs = make(map[string][]*engine.Output)
	}
	_, tx, _, err := transaction.ParseBeef(tagged.Beef)
	require.NoError(t, err)
	for _, topic := range tagged.Topics {
		for vout, output := range tx.Outputs {
			f.outputs[topic] = append(f.outputs[topic], &engine.Output{
				Outpoint: transaction.Outpoint{Txid: *tx.TxID(), Index: uint32(vout)},
				Topic:    topic,
				Script:   output.LockingScript,
				Satoshis: output.Satoshis,
				Beef:     tagged.Beef,
			})
		}
	}
}

func newKey(t *testing.T) *ec.PrivateKey {
	t.Helper()
	key, err := ec.NewPrivateKey()
	require.NoError(t, err)
	return key
}

func shipData(name string, version uint32) *advertiser.AdvertisementData {
	return &advertiser.AdvertisementData{Protocol: advertiser.ProtocolSHIP, TopicOrServiceName: name, Version: version}
}

func parseOutputs(t *testing.T, beef []byte) []*advertiser.Advertisement {
	t.Helper()
	_, tx, _, err := transaction.ParseBeef(beef)
	require.NoError(t, err)
	ads := make([]*advertiser.Advertisement, 0, len(tx.Outputs))
	for _, output := range tx.Outputs {
		ad, err := ship.Parse(output.LockingScript)
		require.NoError(t, err)
		ads = append(ads, ad)
	}
	return ads
}

func TestKeyAdvertiser_CreateAdvertisements(t *testing.T) {
	// given:
	source := &fakeSource{}
	sut := ship.NewKeyAdvertiser(newKey(t), domain, ship.NewDirectory(source))

	// when:
	tagged, err := sut.CreateAdvertisements(context.Background(), []*advertiser.AdvertisementData{
		shipData("tm_pollr", 1),
		{Protocol: advertiser.ProtocolSLAP, TopicOrServiceName: "ls_pollr", Version: 3},
	})

	// then:
	require.NoError(t, err)
	require.Equal(t, []string{engine.TopicSHIP, engine.TopicSLAP}, tagged.Topics)
	ads := parseOutputs(t, tagged.Beef)
	require.Len(t, ads, 2)
	require.Equal(t, advertiser.ProtocolSHIP, ads[0].Protocol)
	require.Equal(t, "tm_pollr", ads[0].TopicOrService)
	require.Equal(t, uint32(1), ads[0].Version)
	require.Equal(t, domain, ads[0].Domain)
	require.Equal(t, sut.IdentityKey(), ads[0].IdentityKey)
	require.False(t, ads[0].Revoked)
	require.Equal(t, advertiser.ProtocolSLAP, ads[1].Protocol)
	require.Equal(t, uint32(3), ads[1].Version)
}

func TestKeyAdvertiser_RevokeAdvertisements(t *testing.T) {
	// given:
	sut := ship.NewKeyAdvertiser(newKey(t), domain, ship.NewDirectory(&fakeSource{}))
	existing := &advertiser.Advertisement{Protocol: advertiser.ProtocolSHIP, TopicOrService: "tm_retired", Domain: "https://old.example.com", Version: 4}

	// when:
	tagged, err := sut.RevokeAdvertisements(context.Background(), []*advertiser.Advertisement{existing})

	// then:
	require.NoError(t, err)
	ads := parseOutputs(t, tagged.Beef)
	require.Len(t, ads, 1)
	require.True(t, ads[0].Revoked)
	require.Equal(t, uint32(5), ads[0].Version)
	require.Equal(t, "https://old.example.com", ads[0].Domain)

	_, err = sut.RevokeAdvertisements(context.Background(), nil)
	require.ErrorIs(t, err, ship.ErrNoAdvertisements)
}

func TestParse_RejectsTamperedRecords(t *testing.T) {
	// given:
	sut := ship.NewKeyAdvertiser(newKey(t), domain, ship.NewDirectory(&fakeSource{}))
	tagged, err := sut.CreateAdvertisements(context.Background(), []*advertiser.AdvertisementData{shipData("tm_pollr", 1)})
	require.NoError(t, err)
	ad := parseOutputs(t, tagged.Beef)[0]
	ad.Domain = "https://evil.example.com"
	tampered, err := ship.Encode(ad)
	require.NoError(t, err)

	// when:
	parsed, err := sut.ParseAdvertisement(tampered)

	// then:
	require.ErrorIs(t, err, ship.ErrInvalidSignature)
	require.Nil(t, parsed)
	decoded, err := ship.Decode(tampered)
	require.NoError(t, err)
	require.Equal(t, "https://evil.example.com", decoded.Domain)
}

func TestTopicManager_AdmitsOnlyNewerVersions(t *testing.T) {
	// given:
	ctx := context.Background()
	source := &fakeSource{}
	directory := ship.NewDirectory(source)
	key := newKey(t)
	sut := ship.NewKeyAdvertiser(key, domain, directory)
	current, err := sut.CreateAdvertisements(ctx, []*advertiser.AdvertisementData{shipData("tm_pollr", 2)})
	require.NoError(t, err)
	source.admit(t, current)

	unreachable := ship.NewKeyAdvertiser(key, "http://localhost:8080", directory)
	stale, err := sut.CreateAdvertisements(ctx, []*advertiser.AdvertisementData{
		shipData("tm_pollr", 2),
		shipData("tm_pollr", 3),
		shipData("tm_pollr", 3),
		{Protocol: advertiser.ProtocolSLAP, TopicOrServiceName: "ls_pollr", Version: 1},
		shipData("tm_other", 1),
	})
	require.NoError(t, err)
	local, err := unreachable.CreateAdvertisements(ctx, []*advertiser.AdvertisementData{shipData("tm_local", 1)})
	require.NoError(t, err)
	manager := ship.NewSHIPTopicManager(directory)

	// when:
	admit, err := manager.IdentifyAdmissibleOutputs(ctx, stale.Beef, nil)
	require.NoError(t, err)
	rejected, err := manager.IdentifyAdmissibleOutputs(ctx, local.Beef, nil)

	// then:
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 4}, admit.OutputsToAdmit)
	require.Empty(t, rejected.OutputsToAdmit)
}

func TestTopicManager_StorageFailure(t *testing.T) {
	// given:
	ctx := context.Background()
	source := &fakeSource{fail: errors.New("disk gone")}
	directory := ship.NewDirectory(source)
	tagged, err := ship.NewKeyAdvertiser(newKey(t), domain, directory).CreateAdvertisements(ctx, []*advertiser.AdvertisementData{shipData("tm_pollr", 1)})
	require.NoError(t, err)

	// when:
	_, err = ship.NewSHIPTopicManager(directory).IdentifyAdmissibleOutputs(ctx, tagged.Beef, nil)

	// then:
	require.ErrorIs(t, err, engine.ErrStorageUnavailable)
}

func TestLookupService_Lookup(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	directory := ship.NewDirectory(source)
	first := ship.NewKeyAdvertiser(newKey(t), domain, directory)
	second := ship.NewKeyAdvertiser(newKey(t), "https://other.example.com", directory)
	for _, tagged := range []func() (overlay.TaggedBEEF, error){
		func() (overlay.TaggedBEEF, error) {
			return first.CreateAdvertisements(ctx, []*advertiser.AdvertisementData{shipData("tm_pollr", 1), shipData("tm_chat", 1)})
		},
		func() (overlay.TaggedBEEF, error) {
			return first.CreateAdvertisements(ctx, []*advertiser.AdvertisementData{shipData("tm_pollr", 2)})
		},
		func() (overlay.TaggedBEEF, error) {
			return second.CreateAdvertisements(ctx, []*advertiser.AdvertisementData{shipData("tm_pollr", 1)})
		},
	} {
		beef, err := tagged()
		require.NoError(t, err)
		source.admit(t, beef)
	}
	sut := ship.NewSHIPLookupService(directory)

	tests := map[string]struct {
		query    string
		expected int
	}{
		"find all":           {query: `"findAll"`, expected: 3},
		"by topic":           {query: `{"topics":["tm_pollr"]}`, expected: 2},
		"by topic and host":  {query: `{"topics":["tm_pollr"],"domain":"https://other.example.com"}`, expected: 1},
		"by identity":        {query: `{"identityKey":"` + first.IdentityKey() + `"}`, expected: 2},
		"services ignored":   {query: `{"services":["tm_chat"]}`, expected: 3},
		"nothing advertised": {query: `{"topics":["tm_none"]}`, expected: 0},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			// when:
			answer, err := sut.Lookup(ctx, &lookup.LookupQuestion{Service: engine.ServiceSHIP, Query: json.RawMessage(tc.query)})

			// then:
			require.NoError(t, err)
			require.Equal(t, lookup.AnswerTypeOutputList, answer.Type)
			require.Len(t, answer.Outputs, tc.expected)
		})
	}

	t.Run("latest version only", func(t *testing.T) {
		// when:
		answer, err := sut.Lookup(ctx, &lookup.LookupQuestion{Service: engine.ServiceSHIP, Query: json.RawMessage(`{"topics":["tm_pollr"],"domain":"` + domain + `"}`)})

		// then:
		require.NoError(t, err)
		require.Len(t, answer.Outputs, 1)
		ads := parseOutputs(t, answer.Outputs[0].Beef)
		require.Equal(t, uint32(2), ads[answer.Outputs[0].OutputIndex].Version)
	})
}

func TestLookupService_MalformedQueries(t *testing.T) {
	sut := ship.NewSLAPLookupService(ship.NewDirectory(&fakeSource{}))
	for name, query := range map[string]string{
		"empty":          ``,
		"unknown string": `"everything"`,
		"wrong shape":    `[1,2]`,
	} {
		t.Run(name, func(t *testing.T) {
			// when:
			answer, err := sut.Lookup(context.Background(), &lookup.LookupQuestion{Service: engine.ServiceSLAP, Query: json.RawMessage(query)})

			// then:
			require.ErrorIs(t, err, engine.ErrMalformedQuery)
			require.Nil(t, answer)
		})
	}
}

func TestEngine_SyncAdvertisements_WithKeyAdvertiser(t *testing.T) {
	// given:
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	directory := ship.NewDirectory(store)
	sut := ship.NewKeyAdvertiser(newKey(t), domain, directory)
	e, err := engine.NewEngine(engine.Config{
		Managers: map[string]engine.TopicManager{
			engine.TopicSHIP: ship.NewSHIPTopicManager(directory),
			engine.TopicSLAP: ship.NewSLAPTopicManager(directory),
		},
		LookupServices: map[string]engine.LookupService{
			engine.ServiceSHIP: ship.NewSHIPLookupService(directory),
			engine.ServiceSLAP: ship.NewSLAPLookupService(directory),
		},
		Storage:    store,
		HostingURL: domain,
		Advertiser: sut,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	// when:
	require.NoError(t, e.SyncAdvertisements(ctx))
	require.NoError(t, e.SyncAdvertisements(ctx))

	// then:
	shipAnswer, err := e.Lookup(ctx, &lookup.LookupQuestion{Service: engine.ServiceSHIP, Query: json.RawMessage(`"findAll"`)})
	require.NoError(t, err)
	require.Len(t, shipAnswer.Outputs, 2)
	slapAnswer, err := e.Lookup(ctx, &lookup.LookupQuestion{Service: engine.ServiceSLAP, Query: json.RawMessage(`"findAll"`)})
	require.NoError(t, err)
	require.Len(t, slapAnswer.Outputs, 2)

	utxos, err := store.FindUTXOsForTopic(ctx, engine.TopicSHIP, 0, 0, false)
	require.NoError(t, err)
	require.Len(t, utxos, 2)
}
