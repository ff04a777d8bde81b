package ship

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/advertiser"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// findAll is the string query that selects every advertisement.
const findAll = "findAll"

// lookupQuery is the JSON query of ls_ship and ls_slap. SHIP questions name topics, SLAP
// questions name services.
type lookupQuery struct {
	Topics      []string `json:"topics,omitempty"`
	Services    []string `json:"services,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	IdentityKey string   `json:"identityKey,omitempty"`
}

// LookupService answers advertisement questions of one protocol from the directory.
type LookupService struct {
	protocol  overlay.Protocol
	directory *Directory
}

func NewSHIPLookupService(directory *Directory) *LookupService {
	return &LookupService{protocol: advertiser.ProtocolSHIP, directory: directory}
}

func NewSLAPLookupService(directory *Directory) *LookupService {
	return &LookupService{protocol: advertiser.ProtocolSLAP, directory: directory}
}

func (l *LookupService) parseQuery(raw json.RawMessage) (Query, error) {
	query := Query{Protocol: l.protocol}
	if len(raw) == 0 {
		return query, fmt.Errorf("%w: empty %s query", engine.ErrMalformedQuery, l.protocol)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s != findAll {
			return query, fmt.Errorf("%w: unsupported %s query %q", engine.ErrMalformedQuery, l.protocol, s)
		}
		return query, nil
	}

	var q lookupQuery
	if err := json.Unmarshal(raw, &q); err != nil {
		return query, fmt.Errorf("%w: %w", engine.ErrMalformedQuery, err)
	}
	query.Domain = q.Domain
	query.IdentityKey = q.IdentityKey
	query.Names = q.Topics
	if l.protocol == advertiser.ProtocolSLAP {
		query.Names = q.Services
	}
	return query, nil
}

func (l *LookupService) Lookup(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error) {
	query, err := l.parseQuery(question.Query)
	if err != nil {
		return nil, err
	}
	ads, err := l.directory.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	answer := &lookup.LookupAnswer{
		Type:    lookup.AnswerTypeOutputList,
		Outputs: make([]*lookup.OutputListItem, 0, len(ads)),
	}
	for _, ad := range ads {
		answer.Outputs = append(answer.Outputs, &lookup.OutputListItem{Beef: ad.Beef, OutputIndex: ad.OutputIndex})
	}
	return answer, nil
}

// The directory reads admitted outputs from storage, so notifications need no bookkeeping.

func (l *LookupService) OutputAdmittedByTopic(ctx context.Context, payload *engine.OutputAdmittedByTopic) error {
	return nil
}

func (l *LookupService) OutputSpent(ctx context.Context, payload *engine.OutputSpent) error {
	return nil
}

func (l *LookupService) OutputNoLongerRetainedInHistory(ctx context.Context, outpoint *transaction.Outpoint, topic string) error {
	return nil
}

func (l *LookupService) OutputEvicted(ctx context.Context, outpoint *transaction.Outpoint) error {
	return nil
}

func (l *LookupService) OutputBlockHeightUpdated(ctx context.Context, txid *chainhash.Hash, blockHeight uint32, blockIndex uint64) error {
	return nil
}

func (l *LookupService) GetDocumentation() string {
	name := "topics"
	if l.protocol == advertiser.ProtocolSLAP {
		name = "services"
	}
	return fmt.Sprintf(`# %s lookup

Answers with the latest admitted %s advertisement of every identity key and name.

Query with the string "findAll" or an object with any of `+"`%s`, `domain`, `identityKey`"+`.
Revoked advertisements are included as the head of their lineage.
`, l.protocol, l.protocol, name)
}

func (l *LookupService) GetMetaData() *overlay.MetaData {
	return &overlay.MetaData{
		Name:        string(l.protocol) + " Lookup Service",
		Description: "Finds hosts by their " + string(l.protocol) + " advertisements.",
	}
}

var _ engine.LookupService = (*LookupService)(nil)
