package pollr

import (
	"context"
	"slices"
	"sync"
)

// MemoryIndex is an Index held in process memory.
type MemoryIndex struct {
	mu    sync.RWMutex
	polls map[string]*Poll
	order []string
	votes map[string][]*Vote
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		polls: make(map[string]*Poll),
		votes: make(map[string][]*Vote),
	}
}

func (m *MemoryIndex) InsertPoll(ctx context.Context, poll *Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.polls[poll.ID]; ok {
		return nil
	}
	stored := *poll
	stored.Options = slices.Clone(poll.Options)
	m.polls[poll.ID] = &stored
	m.order = append(m.order, poll.ID)
	return nil
}

func (m *MemoryIndex) ClosePoll(ctx context.Context, pollID, closeOutpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if poll, ok := m.polls[pollID]; ok && !poll.Closed {
		poll.Closed = true
		poll.CloseOutpoint = closeOutpoint
	}
	return nil
}

func (m *MemoryIndex) InsertVote(ctx context.Context, vote *Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.votes[vote.PollID] {
		if existing.Outpoint == vote.Outpoint {
			return nil
		}
	}
	stored := *vote
	m.votes[vote.PollID] = append(m.votes[vote.PollID], &stored)
	return nil
}

func (m *MemoryIndex) FindPoll(ctx context.Context, pollID string) (*Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	poll, ok := m.polls[pollID]
	if !ok {
		return nil, nil //nolint:nilnil // unknown poll
	}
	found := *poll
	found.Options = slices.Clone(poll.Options)
	return &found, nil
}

func (m *MemoryIndex) FindPolls(ctx context.Context, status PollStatus) ([]*Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	polls := make([]*Poll, 0, len(m.order))
	for _, id := range m.order {
		if poll := m.polls[id]; status.matches(poll) {
			found := *poll
			found.Options = slices.Clone(poll.Options)
			polls = append(polls, &found)
		}
	}
	return polls, nil
}

func (m *MemoryIndex) FindVotes(ctx context.Context, pollID string) ([]*Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	votes := make([]*Vote, 0, len(m.votes[pollID]))
	for _, vote := range m.votes[pollID] {
		found := *vote
		votes = append(votes, &found)
	}
	return votes, nil
}

func (m *MemoryIndex) HasVoted(ctx context.Context, pollID, voter string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.ContainsFunc(m.votes[pollID], func(v *Vote) bool { return v.Voter == voter }), nil
}

func (m *MemoryIndex) DeleteOutpoint(ctx context.Context, outpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, poll := range m.polls {
		switch outpoint {
		case poll.Outpoint:
			delete(m.polls, id)
			delete(m.votes, id)
			m.order = slices.DeleteFunc(m.order, func(o string) bool { return o == id })
		case poll.CloseOutpoint:
			poll.Closed = false
			poll.CloseOutpoint = ""
		}
	}
	for id, votes := range m.votes {
		m.votes[id] = slices.DeleteFunc(votes, func(v *Vote) bool { return v.Outpoint == outpoint })
	}
	return nil
}

var _ Index = (*MemoryIndex)(nil)
