package ship

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/advertiser"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/envelope"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
)

const (
	stateActive  = "active"
	stateRevoked = "revoked"
)

var (
	// ErrInvalidSignature is returned when an advertisement is not signed by its identity key
	ErrInvalidSignature = errors.New("invalid advertisement signature")
	// ErrUnknownProtocol is returned for protocols other than SHIP and SLAP
	ErrUnknownProtocol = errors.New("unknown advertisement protocol")
)

// TopicFor returns the topic that admits advertisements of protocol.
func TopicFor(protocol overlay.Protocol) (string, error) {
	switch protocol {
	case advertiser.ProtocolSHIP:
		return engine.TopicSHIP, nil
	case advertiser.ProtocolSLAP:
		return engine.TopicSLAP, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownProtocol, protocol)
	}
}

func digest(ad *advertiser.Advertisement) []byte {
	state := stateActive
	if ad.Revoked {
		state = stateRevoked
	}
	msg := make([]byte, 0, 128)
	for _, field := range []string{string(ad.Protocol), ad.IdentityKey, ad.Domain, ad.TopicOrService, state} {
		msg = append(msg, byte(len(field)))
		msg = append(msg, field...)
	}
	msg = append(msg, envelope.Uint32(ad.Version)...)
	return chainhash.HashB(msg)
}

func sign(key *ec.PrivateKey, ad *advertiser.Advertisement) error {
	sig, err := key.Sign(digest(ad))
	if err != nil {
		return fmt.Errorf("signing %s advertisement of %s: %w", ad.Protocol, ad.TopicOrService, err)
	}
	ad.Signature = sig.Serialize()
	return nil
}

// Verify checks that the advertisement is signed by the key it names.
func Verify(ad *advertiser.Advertisement) error {
	identity, err := hex.DecodeString(ad.IdentityKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	pub, err := ec.PublicKeyFromBytes(identity)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	sig, err := ec.ParseDERSignature(ad.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if !sig.Verify(digest(ad), pub) {
		return ErrInvalidSignature
	}
	return nil
}

// Encode renders a signed advertisement as a locking script.
func Encode(ad *advertiser.Advertisement) (*script.Script, error) {
	if _, err := TopicFor(ad.Protocol); err != nil {
		return nil, err
	}
	identity, err := hex.DecodeString(ad.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("decoding identity key: %w", err)
	}
	state := stateActive
	if ad.Revoked {
		state = stateRevoked
	}
	return envelope.Build(
		[]byte(ad.Protocol),
		identity,
		[]byte(ad.Domain),
		[]byte(ad.TopicOrService),
		envelope.Uint32(ad.Version),
		[]byte(state),
		ad.Signature,
	)
}

// Decode reads an advertisement from a locking script without checking its signature.
func Decode(s *script.Script) (*advertiser.Advertisement, error) {
	for _, protocol := range []overlay.Protocol{advertiser.ProtocolSHIP, advertiser.ProtocolSLAP} {
		fields, err := envelope.Parse(s, string(protocol))
		if errors.Is(err, envelope.ErrNotEnvelope) {
			continue
		}
		if len(fields) != 6 {
			return nil, fmt.Errorf("%w: %s record has %d fields", advertiser.ErrNotAdvertisement, protocol, len(fields))
		}
		version, err := envelope.ReadUint32(fields[3])
		if err != nil {
			return nil, fmt.Errorf("%w: version: %w", advertiser.ErrNotAdvertisement, err)
		}
		state := string(fields[4])
		if state != stateActive && state != stateRevoked {
			return nil, fmt.Errorf("%w: state %q", advertiser.ErrNotAdvertisement, state)
		}
		return &advertiser.Advertisement{
			Protocol:       protocol,
			IdentityKey:    hex.EncodeToString(fields[0]),
			Domain:         string(fields[1]),
			TopicOrService: string(fields[2]),
			Version:        version,
			Revoked:        state == stateRevoked,
			Signature:      fields[5],
		}, nil
	}
	return nil, advertiser.ErrNotAdvertisement
}

// Parse decodes an advertisement and verifies its signature.
func Parse(s *script.Script) (*advertiser.Advertisement, error) {
	ad, err := Decode(s)
	if err != nil {
		return nil, err
	}
	if err := Verify(ad); err != nil {
		return nil, err
	}
	return ad, nil
}
