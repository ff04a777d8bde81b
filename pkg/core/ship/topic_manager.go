package ship

import (
	"context"
	"fmt"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/advertiser"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/gookit/slog"
)

// TopicManager admits signed advertisements of one protocol whose version is above the
// admitted head of their lineage.
type TopicManager struct {
	protocol  overlay.Protocol
	directory *Directory
}

func NewSHIPTopicManager(directory *Directory) *TopicManager {
	return &TopicManager{protocol: advertiser.ProtocolSHIP, directory: directory}
}

func NewSLAPTopicManager(directory *Directory) *TopicManager {
	return &TopicManager{protocol: advertiser.ProtocolSLAP, directory: directory}
}

func (m *TopicManager) IdentifyAdmissibleOutputs(ctx context.Context, beef []byte, previousCoins map[uint32]*transaction.TransactionOutput) (overlay.AdmittanceInstructions, error) {
	_, tx, _, err := transaction.ParseBeef(beef)
	if err != nil {
		return overlay.AdmittanceInstructions{}, err
	}
	if tx == nil {
		return overlay.AdmittanceInstructions{}, fmt.Errorf("%w: bundle has no subject transaction", engine.ErrMalformedBundle)
	}

	var admit overlay.AdmittanceInstructions
	heads := make(map[string]uint32)
	for vout, output := range tx.Outputs {
		ad, err := Parse(output.LockingScript)
		if err != nil || ad.Protocol != m.protocol {
			continue
		}
		if !ad.Revoked && !engine.IsValidHostingURL(ad.Domain) {
			slog.WithFields(slog.M{"name": ad.TopicOrService, "domain": ad.Domain}).Warn("advertisement domain is not reachable")
			continue
		}
		head, seen := heads[ad.Key()]
		if !seen {
			latest, err := m.directory.Latest(ctx, ad)
			if err != nil {
				return overlay.AdmittanceInstructions{}, err
			}
			if latest != nil {
				head = latest.Version
			}
		}
		if ad.Version <= head {
			continue
		}
		heads[ad.Key()] = ad.Version
		admit.OutputsToAdmit = append(admit.OutputsToAdmit, uint32(vout))
	}
	return admit, nil
}

func (m *TopicManager) IdentifyNeededInputs(ctx context.Context, beef []byte) ([]*transaction.Outpoint, error) {
	return nil, nil
}

func (m *TopicManager) GetDocumentation() string {
	if m.protocol == advertiser.ProtocolSLAP {
		return slapTopicDocumentation
	}
	return shipTopicDocumentation
}

func (m *TopicManager) GetMetaData() *overlay.MetaData {
	return &overlay.MetaData{
		Name:        string(m.protocol) + " Topic Manager",
		Description: "Admits signed, versioned " + string(m.protocol) + " advertisements.",
	}
}

const shipTopicDocumentation = `# tm_ship

Admits SHIP advertisements: statements that an identity key hosts a topic at a domain.

Each output carries ` + "`OP_FALSE OP_IF \"SHIP\" <identityKey> <domain> <topic> <version> <active|revoked> <signature> OP_ENDIF OP_TRUE`" + `.
An output is admitted when the DER signature over the record verifies against the identity key and
its version is above every version admitted before for the same identity key and topic.
`

const slapTopicDocumentation = `# tm_slap

Admits SLAP advertisements: statements that an identity key hosts a lookup service at a domain.

Each output carries ` + "`OP_FALSE OP_IF \"SLAP\" <identityKey> <domain> <service> <version> <active|revoked> <signature> OP_ENDIF OP_TRUE`" + `.
An output is admitted when the DER signature over the record verifies against the identity key and
its version is above every version admitted before for the same identity key and service.
`

var _ engine.TopicManager = (*TopicManager)(nil)
