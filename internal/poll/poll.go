// Package poll holds the poll and vote domain: input sanitation, ownership
// checks and the one-vote-per-user protocol.
package poll

import (
	"context"
	"time"
)

const (
	MaxQuestionLength = 500
	MaxOptionLength   = 200
	MinOptions        = 2
)

// Poll is a question with an ordered list of answers, owned by its creator.
type Poll struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Question  string    `json:"question"`
	Options   []string  `json:"options"`
	CreatedAt time.Time `json:"created_at"`
}

// Vote records that UserID picked Options[OptionIndex] of PollID.
type Vote struct {
	ID          string    `json:"id"`
	PollID      string    `json:"poll_id"`
	UserID      string    `json:"user_id"`
	OptionIndex int       `json:"option_index"`
	CreatedAt   time.Time `json:"created_at"`
}

// Results is the tally of a poll; Counts is aligned with Poll.Options.
type Results struct {
	PollID string `json:"poll_id"`
	Counts []int  `json:"counts"`
	Total  int    `json:"total"`
}

// Store is the persistence boundary. Implementations return ErrNotFound for
// missing rows and ErrAlreadyExists when InsertVote hits the (poll, user)
// uniqueness constraint. They must honour ctx: the Service abandons a call at
// its deadline and reports a PersistenceError, so a write must not be applied
// after ctx is done.
type Store interface {
	InsertPoll(ctx context.Context, p *Poll) error
	GetPoll(ctx context.Context, id string) (*Poll, error)
	// UpdatePoll rewrites question and options of the poll matching p.ID and p.OwnerID.
	UpdatePoll(ctx context.Context, p *Poll) error
	// DeletePoll removes the poll owned by ownerID together with its votes.
	DeletePoll(ctx context.Context, id, ownerID string) error
	// ListPolls returns polls newest first; an empty ownerID lists every poll.
	ListPolls(ctx context.Context, ownerID string) ([]*Poll, error)
	HasVoted(ctx context.Context, pollID, userID string) (bool, error)
	// InsertVote inserts v unless a vote for (v.PollID, v.UserID) exists.
	InsertVote(ctx context.Context, v *Vote) error
	// CountVotes returns votes per option index.
	CountVotes(ctx context.Context, pollID string) (map[int]int, error)
}
