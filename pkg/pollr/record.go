package pollr

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/envelope"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/google/uuid"
)

// Names under which the plugin is hosted.
const (
	TopicName   = "tm_pollr"
	ServiceName = "ls_pollr"
)

const (
	tag = "pollr"

	MinOptions   = 2
	MaxOptions   = 16
	MaxFieldSize = 512
)

// Kind is the kind of a Pollr record.
type Kind string

const (
	KindOpen  Kind = "open"
	KindVote  Kind = "vote"
	KindClose Kind = "close"
)

var (
	// ErrNotPollr is returned when a locking script does not carry a Pollr record
	ErrNotPollr = errors.New("script is not a pollr record")
	// ErrInvalidRecord is returned when a Pollr record is malformed
	ErrInvalidRecord = errors.New("invalid pollr record")
)

// Record is one Pollr statement carried in an output:
//
//	OP_FALSE OP_IF "pollr" "open"  <pollId> <question> <option>... OP_ENDIF OP_TRUE
//	OP_FALSE OP_IF "pollr" "vote"  <pollId> <option> <voter>       OP_ENDIF OP_TRUE
//	OP_FALSE OP_IF "pollr" "close" <pollId>                        OP_ENDIF OP_TRUE
type Record struct {
	Kind     Kind
	PollID   string
	Question string
	Options  []string
	Option   string
	Voter    string
}

// NewPoll opens a poll under a fresh random identifier.
func NewPoll(question string, options ...string) *Record {
	return &Record{Kind: KindOpen, PollID: uuid.NewString(), Question: question, Options: options}
}

func NewVote(pollID, option, voter string) *Record {
	return &Record{Kind: KindVote, PollID: pollID, Option: option, Voter: voter}
}

func NewClose(pollID string) *Record {
	return &Record{Kind: KindClose, PollID: pollID}
}

func checkField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidRecord, name)
	}
	if len(value) > MaxFieldSize {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidRecord, name, MaxFieldSize)
	}
	return nil
}

// Validate checks the record carries what its kind requires.
func (r *Record) Validate() error {
	if err := checkField("poll id", r.PollID); err != nil {
		return err
	}
	switch r.Kind {
	case KindOpen:
		if err := checkField("question", r.Question); err != nil {
			return err
		}
		if len(r.Options) < MinOptions || len(r.Options) > MaxOptions {
			return fmt.Errorf("%w: a poll needs %d to %d options, got %d", ErrInvalidRecord, MinOptions, MaxOptions, len(r.Options))
		}
		for i, option := range r.Options {
			if err := checkField("option", option); err != nil {
				return err
			}
			if slices.Contains(r.Options[:i], option) {
				return fmt.Errorf("%w: duplicate option %q", ErrInvalidRecord, option)
			}
		}
	case KindVote:
		if err := checkField("option", r.Option); err != nil {
			return err
		}
		if err := checkField("voter", r.Voter); err != nil {
			return err
		}
	case KindClose:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	}
	return nil
}

// Script renders the record as a locking script.
func (r *Record) Script() (*script.Script, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	fields := [][]byte{[]byte(tag), []byte(r.Kind), []byte(r.PollID)}
	switch r.Kind {
	case KindOpen:
		fields = append(fields, []byte(r.Question))
		for _, option := range r.Options {
			fields = append(fields, []byte(option))
		}
	case KindVote:
		fields = append(fields, []byte(r.Option), []byte(r.Voter))
	}
	return envelope.Build(fields...)
}

// ParseRecord reads and validates a record from a locking script.
func ParseRecord(s *script.Script) (*Record, error) {
	fields, err := envelope.Parse(s, tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotPollr, err)
	}
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: missing kind or poll id", ErrInvalidRecord)
	}
	r := &Record{Kind: Kind(fields[0]), PollID: string(fields[1])}
	rest := fields[2:]
	switch r.Kind {
	case KindOpen:
		if len(rest) < 1 {
			return nil, fmt.Errorf("%w: missing question", ErrInvalidRecord)
		}
		r.Question = string(rest[0])
		for _, option := range rest[1:] {
			r.Options = append(r.Options, string(option))
		}
	case KindVote:
		if len(rest) != 2 {
			return nil, fmt.Errorf("%w: a vote has an option and a voter", ErrInvalidRecord)
		}
		r.Option, r.Voter = string(rest[0]), string(rest[1])
	case KindClose:
		if len(rest) != 0 {
			return nil, fmt.Errorf("%w: trailing fields in close", ErrInvalidRecord)
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
