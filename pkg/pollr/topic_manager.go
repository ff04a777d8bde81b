package pollr

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/gookit/slog"
)

// ReservationWindow bounds how long an admitted open record or vote blocks a competing
// submission before the index is authoritative again.
const ReservationWindow = time.Minute

// TopicManager admits Pollr records:
//   - an open record for a poll id not seen before
//   - a vote for a valid option of a known open poll, once per voter
//   - a close record spending the open record of its poll
//
// Transactions replayed from peers were judged by the peer already and may arrive in any
// order. A replayed vote is admitted without the open poll and voter checks, tallies count
// one vote per voter.
type TopicManager struct {
	index Index
	now   func() time.Time

	// admissions are serialized, reserved holds what was admitted but may not be indexed yet
	mu       sync.Mutex
	reserved map[string]reservation
}

type reservation struct {
	txid    chainhash.Hash
	expires time.Time
}

func NewTopicManager(index Index) *TopicManager {
	return &TopicManager{index: index, now: time.Now, reserved: make(map[string]reservation)}
}

func openKey(pollID string) string {
	return "open|" + pollID
}

func voteKey(pollID, voter string) string {
	return "vote|" + pollID + "|" + voter
}

// admission tracks the records of one transaction so that outputs can refer to earlier ones.
type admission struct {
	txid       chainhash.Hash
	historical bool
	now        time.Time
	opened     map[string]*Poll
	closed     map[string]bool
	voted      map[[2]string]bool
	reserve    []string
}

func (m *TopicManager) poll(ctx context.Context, a *admission, pollID string) (*Poll, error) {
	if poll, ok := a.opened[pollID]; ok {
		return poll, nil
	}
	return m.index.FindPoll(ctx, pollID)
}

// reservedByOther reports whether another transaction holds key.
func (m *TopicManager) reservedByOther(a *admission, key string) bool {
	r, ok := m.reserved[key]
	return ok && r.txid != a.txid && a.now.Before(r.expires)
}

func (m *TopicManager) IdentifyAdmissibleOutputs(ctx context.Context, beef []byte, previousCoins map[uint32]*transaction.TransactionOutput) (overlay.AdmittanceInstructions, error) {
	_, tx, txid, err := transaction.ParseBeef(beef)
	if err != nil {
		return overlay.AdmittanceInstructions{}, err
	}
	if tx == nil {
		return overlay.AdmittanceInstructions{}, fmt.Errorf("%w: bundle has no subject transaction", engine.ErrMalformedBundle)
	}

	spentPolls := make(map[string]uint32, len(previousCoins))
	for vin, coin := range previousCoins {
		if record, err := ParseRecord(coin.LockingScript); err == nil && record.Kind == KindOpen {
			spentPolls[record.PollID] = vin
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	a := &admission{
		txid:       *txid,
		historical: engine.SubmitModeFrom(ctx) == engine.SubmitModeHistorical,
		now:        m.now(),
		opened:     make(map[string]*Poll),
		closed:     make(map[string]bool),
		voted:      make(map[[2]string]bool),
	}
	m.pruneReservations(a.now)

	var admit overlay.AdmittanceInstructions
	for vout, output := range tx.Outputs {
		record, err := ParseRecord(output.LockingScript)
		if err != nil {
			continue
		}
		ok, err := m.admissible(ctx, a, record, spentPolls)
		if err != nil {
			return overlay.AdmittanceInstructions{}, err
		}
		if !ok {
			slog.WithFields(slog.M{"txid": txid.String(), "vout": vout, "kind": string(record.Kind), "pollId": record.PollID}).Debug("pollr record not admitted")
			continue
		}
		admit.OutputsToAdmit = append(admit.OutputsToAdmit, uint32(vout))
		if record.Kind == KindClose {
			admit.CoinsToRetain = append(admit.CoinsToRetain, spentPolls[record.PollID])
		}
	}
	if !a.historical {
		for _, key := range a.reserve {
			m.reserved[key] = reservation{txid: a.txid, expires: a.now.Add(ReservationWindow)}
		}
	}
	slices.Sort(admit.CoinsToRetain)
	return admit, nil
}

func (m *TopicManager) pruneReservations(now time.Time) {
	for key, r := range m.reserved {
		if !now.Before(r.expires) {
			delete(m.reserved, key)
		}
	}
}

func (m *TopicManager) admissible(ctx context.Context, a *admission, record *Record, spentPolls map[string]uint32) (bool, error) {
	switch record.Kind {
	case KindOpen:
		if !a.historical && m.reservedByOther(a, openKey(record.PollID)) {
			return false, nil
		}
		poll, err := m.poll(ctx, a, record.PollID)
		if err != nil || poll != nil {
			return false, err
		}
		a.opened[record.PollID] = &Poll{ID: record.PollID, Question: record.Question, Options: record.Options}
		a.reserve = append(a.reserve, openKey(record.PollID))
		return true, nil

	case KindVote:
		key := [2]string{record.PollID, record.Voter}
		if a.voted[key] {
			return false, nil
		}
		poll, err := m.poll(ctx, a, record.PollID)
		if err != nil {
			return false, err
		}
		if a.historical {
			if poll != nil && !slices.Contains(poll.Options, record.Option) {
				return false, nil
			}
			a.voted[key] = true
			return true, nil
		}
		if poll == nil || poll.Closed || a.closed[record.PollID] || !slices.Contains(poll.Options, record.Option) {
			return false, nil
		}
		if m.reservedByOther(a, voteKey(record.PollID, record.Voter)) {
			return false, nil
		}
		voted, err := m.index.HasVoted(ctx, record.PollID, record.Voter)
		if err != nil || voted {
			return false, err
		}
		a.voted[key] = true
		a.reserve = append(a.reserve, voteKey(record.PollID, record.Voter))
		return true, nil

	case KindClose:
		if _, spends := spentPolls[record.PollID]; !spends || a.closed[record.PollID] {
			return false, nil
		}
		a.closed[record.PollID] = true
		return true, nil
	}
	return false, nil
}

// IdentifyNeededInputs asks for every input of a transaction carrying a close record, one of
// them is the open record the closure spends.
func (m *TopicManager) IdentifyNeededInputs(ctx context.Context, beef []byte) ([]*transaction.Outpoint, error) {
	_, tx, _, err := transaction.ParseBeef(beef)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: bundle has no subject transaction", engine.ErrMalformedBundle)
	}
	closes := slices.ContainsFunc(tx.Outputs, func(output *transaction.TransactionOutput) bool {
		record, err := ParseRecord(output.LockingScript)
		return err == nil && record.Kind == KindClose
	})
	if !closes {
		return nil, nil
	}
	needed := make([]*transaction.Outpoint, 0, len(tx.Inputs))
	for _, input := range tx.Inputs {
		needed = append(needed, &transaction.Outpoint{Txid: *input.SourceTXID, Index: input.SourceTxOutIndex})
	}
	return needed, nil
}

func (m *TopicManager) GetDocumentation() string {
	return topicDocumentation
}

func (m *TopicManager) GetMetaData() *overlay.MetaData {
	return &overlay.MetaData{
		Name:        "Pollr Topic Manager",
		Description: "Admits polls, votes and poll closures.",
	}
}

const topicDocumentation = `# tm_pollr

Tracks polls and their votes. Every output carries one record:

    OP_FALSE OP_IF "pollr" "open"  <pollId> <question> <option>... OP_ENDIF OP_TRUE
    OP_FALSE OP_IF "pollr" "vote"  <pollId> <option> <voter>       OP_ENDIF OP_TRUE
    OP_FALSE OP_IF "pollr" "close" <pollId>                        OP_ENDIF OP_TRUE

- A poll is opened once per poll id and has 2 to 16 distinct options.
- A vote is admitted for an option of a known open poll. Each voter votes once per poll.
  Votes replayed from peers are admitted in any order, tallies count the vote with the
  lowest outpoint of each voter.
- A poll is closed by a transaction that spends its open record and carries a close record.
  The open record is retained as history of the closure.
`

var _ engine.TopicManager = (*TopicManager)(nil)
