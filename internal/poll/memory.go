package poll

import (
	"context"
	"sort"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a Store for single-process deployments and tests. Writes
// are dropped once ctx is done, so a call the Service gave up on leaves no trace.
type MemoryStore struct {
	mu    sync.RWMutex
	polls map[string]*Poll
	votes map[voteKey]*Vote
}

type voteKey struct {
	pollID string
	userID string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		polls: make(map[string]*Poll),
		votes: make(map[voteKey]*Vote),
	}
}

func (m *MemoryStore) InsertPoll(ctx context.Context, p *Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := m.polls[p.ID]; ok {
		return ErrAlreadyExists
	}
	m.polls[p.ID] = clonePoll(p)
	return nil
}

func (m *MemoryStore) GetPoll(_ context.Context, id string) (*Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.polls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePoll(p), nil
}

func (m *MemoryStore) UpdatePoll(ctx context.Context, p *Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, ok := m.polls[p.ID]
	if !ok || cur.OwnerID != p.OwnerID {
		return ErrNotFound
	}
	cur.Question = p.Question
	cur.Options = append([]string(nil), p.Options...)
	return nil
}

func (m *MemoryStore) DeletePoll(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, ok := m.polls[id]
	if !ok || cur.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.polls, id)
	for k := range m.votes {
		if k.pollID == id {
			delete(m.votes, k)
		}
	}
	return nil
}

func (m *MemoryStore) ListPolls(_ context.Context, ownerID string) ([]*Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Poll, 0, len(m.polls))
	for _, p := range m.polls {
		if ownerID != "" && p.OwnerID != ownerID {
			continue
		}
		out = append(out, clonePoll(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) HasVoted(_ context.Context, pollID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.votes[voteKey{pollID, userID}]
	return ok, nil
}

func (m *MemoryStore) InsertVote(ctx context.Context, v *Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := m.polls[v.PollID]; !ok {
		return ErrNotFound
	}
	k := voteKey{v.PollID, v.UserID}
	if _, ok := m.votes[k]; ok {
		return ErrAlreadyExists
	}
	cp := *v
	m.votes[k] = &cp
	return nil
}

func (m *MemoryStore) CountVotes(_ context.Context, pollID string) (map[int]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[int]int)
	for k, v := range m.votes {
		if k.pollID == pollID {
			counts[v.OptionIndex]++
		}
	}
	return counts, nil
}

func clonePoll(p *Poll) *Poll {
	cp := *p
	cp.Options = append([]string(nil), p.Options...)
	return &cp
}
