package pollr

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/gookit/slog"
)

// ErrUnknownPoll is returned when a question names a poll that was never opened.
var ErrUnknownPoll = errors.New("unknown poll")

// QueryType selects the answer of ls_pollr.
type QueryType string

const (
	QueryAllPolls QueryType = "allpolls"
	QueryPoll     QueryType = "poll"
	QueryVotes    QueryType = "votes"
)

// Query is the JSON query of ls_pollr.
type Query struct {
	Type   QueryType  `json:"type"`
	PollID string     `json:"pollId,omitempty"`
	Status PollStatus `json:"status,omitempty"`
}

// Tally is the freeform answer of a votes query.
type Tally struct {
	PollID   string         `json:"pollId"`
	Question string         `json:"question"`
	Closed   bool           `json:"closed"`
	Counts   map[string]int `json:"counts"`
	Total    int            `json:"total"`
}

// LookupService keeps the index current from engine notifications and answers poll questions.
type LookupService struct {
	index Index
	now   func() time.Time
}

func NewLookupService(index Index) *LookupService {
	return &LookupService{index: index, now: time.Now}
}

func (l *LookupService) OutputAdmittedByTopic(ctx context.Context, payload *engine.OutputAdmittedByTopic) error {
	if payload.Topic != TopicName {
		return nil
	}
	record, err := ParseRecord(payload.LockingScript)
	if err != nil {
		return err
	}
	outpoint := payload.Outpoint.String()
	switch record.Kind {
	case KindOpen:
		return l.index.InsertPoll(ctx, &Poll{
			ID:        record.PollID,
			Question:  record.Question,
			Options:   record.Options,
			Outpoint:  outpoint,
			CreatedAt: l.now().UTC(),
		})
	case KindVote:
		return l.index.InsertVote(ctx, &Vote{
			Outpoint: outpoint,
			PollID:   record.PollID,
			Option:   record.Option,
			Voter:    record.Voter,
		})
	case KindClose:
		return l.index.ClosePoll(ctx, record.PollID, outpoint)
	}
	return nil
}

// Rebuild replays the stored tm_pollr records into the index, open records first. Records the
// index already holds are left alone, so a durable index is rebuilt without changes.
func (l *LookupService) Rebuild(ctx context.Context, store engine.Storage) error {
	utxos, err := store.FindUTXOsForTopic(ctx, TopicName, 0, 0, false)
	if err != nil {
		return err
	}
	records := make(map[string]*engine.Output, len(utxos))
	for _, utxo := range utxos {
		records[utxo.Outpoint.String()] = utxo
		if len(utxo.OutputsConsumed) == 0 {
			continue
		}
		// closed polls keep their open record as retained history
		consumed, err := store.FindOutputs(ctx, utxo.OutputsConsumed, TopicName, nil, false)
		if err != nil {
			return err
		}
		for _, output := range consumed {
			if output != nil {
				records[output.Outpoint.String()] = output
			}
		}
	}

	type replay struct {
		output *engine.Output
		record *Record
	}
	replays := make([]replay, 0, len(records))
	for _, output := range records {
		record, err := ParseRecord(output.Script)
		if err != nil {
			slog.WithFields(slog.M{"outpoint": output.Outpoint.String(), "error": err}).Warn("skipping unreadable pollr output")
			continue
		}
		replays = append(replays, replay{output: output, record: record})
	}
	rank := map[Kind]int{KindOpen: 0, KindVote: 1, KindClose: 2}
	slices.SortFunc(replays, func(a, b replay) int {
		if c := cmp.Compare(rank[a.record.Kind], rank[b.record.Kind]); c != 0 {
			return c
		}
		return cmp.Compare(a.output.Score, b.output.Score)
	})

	for _, r := range replays {
		if err := l.OutputAdmittedByTopic(ctx, &engine.OutputAdmittedByTopic{
			Topic:         TopicName,
			Outpoint:      &r.output.Outpoint,
			Satoshis:      r.output.Satoshis,
			LockingScript: r.output.Script,
		}); err != nil {
			return err
		}
	}
	slog.WithFields(slog.M{"records": len(replays)}).Info("pollr index rebuilt from storage")
	return nil
}

// Spent and unretained records stay indexed, polls keep their history.

func (l *LookupService) OutputSpent(ctx context.Context, payload *engine.OutputSpent) error {
	return nil
}

func (l *LookupService) OutputNoLongerRetainedInHistory(ctx context.Context, outpoint *transaction.Outpoint, topic string) error {
	return nil
}

func (l *LookupService) OutputEvicted(ctx context.Context, outpoint *transaction.Outpoint) error {
	return l.index.DeleteOutpoint(ctx, outpoint.String())
}

func (l *LookupService) OutputBlockHeightUpdated(ctx context.Context, txid *chainhash.Hash, blockHeight uint32, blockIndex uint64) error {
	return nil
}

func parseQuery(raw json.RawMessage) (*Query, error) {
	var query Query
	if err := json.Unmarshal(raw, &query); err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrMalformedQuery, err)
	}
	switch query.Type {
	case QueryAllPolls:
		switch query.Status {
		case PollStatusAny, PollStatusOpen, PollStatusClosed:
		default:
			return nil, fmt.Errorf("%w: unknown poll status %q", engine.ErrMalformedQuery, query.Status)
		}
	case QueryPoll, QueryVotes:
		if query.PollID == "" {
			return nil, fmt.Errorf("%w: %s query needs a pollId", engine.ErrMalformedQuery, query.Type)
		}
	default:
		return nil, fmt.Errorf("%w: unknown query type %q", engine.ErrMalformedQuery, query.Type)
	}
	return &query, nil
}

func (l *LookupService) Lookup(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error) {
	query, err := parseQuery(question.Query)
	if err != nil {
		return nil, err
	}
	switch query.Type {
	case QueryAllPolls:
		polls, err := l.index.FindPolls(ctx, query.Status)
		if err != nil {
			return nil, err
		}
		outpoints := make([]string, 0, len(polls))
		for _, poll := range polls {
			outpoints = append(outpoints, poll.Outpoint)
		}
		return formulas(outpoints)

	case QueryPoll:
		poll, votes, err := l.pollWithVotes(ctx, query.PollID)
		if errors.Is(err, ErrUnknownPoll) {
			return formulas(nil)
		} else if err != nil {
			return nil, err
		}
		outpoints := []string{poll.Outpoint}
		if poll.CloseOutpoint != "" {
			outpoints = append(outpoints, poll.CloseOutpoint)
		}
		for _, vote := range votes {
			outpoints = append(outpoints, vote.Outpoint)
		}
		return formulas(outpoints)

	default:
		poll, votes, err := l.pollWithVotes(ctx, query.PollID)
		if err != nil {
			return nil, err
		}
		return &lookup.LookupAnswer{Type: lookup.AnswerTypeFreeform, Result: tally(poll, votes)}, nil
	}
}

func (l *LookupService) pollWithVotes(ctx context.Context, pollID string) (*Poll, []*Vote, error) {
	poll, err := l.index.FindPoll(ctx, pollID)
	if err != nil {
		return nil, nil, err
	}
	if poll == nil {
		return nil, nil, fmt.Errorf("%w: %w: %s", engine.ErrMalformedQuery, ErrUnknownPoll, pollID)
	}
	votes, err := l.index.FindVotes(ctx, pollID)
	if err != nil {
		return nil, nil, err
	}
	return poll, votes, nil
}

func tally(poll *Poll, votes []*Vote) *Tally {
	t := &Tally{
		PollID:   poll.ID,
		Question: poll.Question,
		Closed:   poll.Closed,
		Counts:   make(map[string]int, len(poll.Options)),
	}
	for _, option := range poll.Options {
		t.Counts[option] = 0
	}
	// one vote per voter, the lowest outpoint wins so that every node tallies alike
	ordered := slices.SortedFunc(slices.Values(votes), func(a, b *Vote) int {
		return strings.Compare(a.Outpoint, b.Outpoint)
	})
	counted := make(map[string]struct{}, len(ordered))
	for _, vote := range ordered {
		if _, ok := counted[vote.Voter]; ok {
			continue
		}
		counted[vote.Voter] = struct{}{}
		if _, ok := t.Counts[vote.Option]; ok {
			t.Counts[vote.Option]++
			t.Total++
		}
	}
	return t
}

func formulas(outpoints []string) (*lookup.LookupAnswer, error) {
	answer := &lookup.LookupAnswer{
		Type:     lookup.AnswerTypeFormula,
		Formulas: make([]lookup.LookupFormula, 0, len(outpoints)),
	}
	for _, s := range outpoints {
		outpoint, err := transaction.OutpointFromString(s)
		if err != nil {
			slog.WithFields(slog.M{"outpoint": s, "error": err}).Error("pollr index holds an unreadable outpoint")
			continue
		}
		answer.Formulas = append(answer.Formulas, lookup.LookupFormula{Outpoint: outpoint})
	}
	return answer, nil
}

func (l *LookupService) GetDocumentation() string {
	return serviceDocumentation
}

func (l *LookupService) GetMetaData() *overlay.MetaData {
	return &overlay.MetaData{
		Name:        "Pollr Lookup Service",
		Description: "Lists polls and tallies their votes.",
	}
}

const serviceDocumentation = `# ls_pollr

Queries are JSON objects:

- ` + "`{\"type\":\"allpolls\"}`" + ` lists the open records of all polls in creation order.
  An optional ` + "`status`" + ` of ` + "`open`" + ` or ` + "`closed`" + ` filters them.
- ` + "`{\"type\":\"poll\",\"pollId\":\"...\"}`" + ` lists the open record, the close record and the votes of a poll.
- ` + "`{\"type\":\"votes\",\"pollId\":\"...\"}`" + ` answers with the tally of a poll:
  ` + "`{\"pollId\",\"question\",\"closed\",\"counts\":{option:n},\"total\"}`" + `.
`

var _ engine.LookupService = (*LookupService)(nil)
