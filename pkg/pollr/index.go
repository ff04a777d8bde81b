package pollr

import (
	"context"
	"time"
)

// Poll is the indexed state of an opened poll.
type Poll struct {
	ID            string    `bson:"_id" json:"pollId"`
	Question      string    `bson:"question" json:"question"`
	Options       []string  `bson:"options" json:"options"`
	Outpoint      string    `bson:"outpoint" json:"outpoint"`
	Closed        bool      `bson:"closed" json:"closed"`
	CloseOutpoint string    `bson:"closeOutpoint,omitempty" json:"closeOutpoint,omitempty"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
}

// Vote is an indexed vote. Outpoint identifies it.
type Vote struct {
	Outpoint string `bson:"_id" json:"outpoint"`
	PollID   string `bson:"pollId" json:"pollId"`
	Option   string `bson:"option" json:"option"`
	Voter    string `bson:"voter" json:"voter"`
}

// PollStatus filters polls by state. The zero value selects all of them.
type PollStatus string

const (
	PollStatusAny    PollStatus = ""
	PollStatusOpen   PollStatus = "open"
	PollStatusClosed PollStatus = "closed"
)

func (s PollStatus) matches(p *Poll) bool {
	switch s {
	case PollStatusOpen:
		return !p.Closed
	case PollStatusClosed:
		return p.Closed
	default:
		return true
	}
}

// Index keeps the polls and votes admitted to tm_pollr. Inserting a known poll or vote is a no-op.
type Index interface {
	InsertPoll(ctx context.Context, poll *Poll) error
	ClosePoll(ctx context.Context, pollID, closeOutpoint string) error
	InsertVote(ctx context.Context, vote *Vote) error

	// FindPoll returns nil when the poll is unknown.
	FindPoll(ctx context.Context, pollID string) (*Poll, error)
	// FindPolls returns polls in creation order.
	FindPolls(ctx context.Context, status PollStatus) ([]*Poll, error)
	FindVotes(ctx context.Context, pollID string) ([]*Vote, error)
	HasVoted(ctx context.Context, pollID, voter string) (bool, error)

	// DeleteOutpoint forgets the poll, vote or closure recorded at outpoint.
	DeleteOutpoint(ctx context.Context, outpoint string) error
}
