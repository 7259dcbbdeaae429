package poll

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"pollhub.org/internal/ids"
)

const defaultStoreTimeout = 5 * time.Second

// Service applies the poll rules on top of a Store. Every store call is bounded
// by the configured timeout.
type Service struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithStoreTimeout bounds each individual store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the time source used for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		timeout: defaultStoreTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePoll stores a new poll owned by userID.
func (s *Service) CreatePoll(ctx context.Context, userID, question string, options []string) (*Poll, error) {
	if isAnonymous(userID) {
		return nil, deny(ErrUnauthorized, "You must be logged in to create a poll.")
	}
	question, options, err := ValidatePollInput(question, options)
	if err != nil {
		return nil, err
	}
	p := &Poll{
		ID:        uuid.NewString(),
		OwnerID:   userID,
		Question:  question,
		Options:   options,
		CreatedAt: s.now().UTC(),
	}
	if err := s.call(ctx, "insert poll", func(ctx context.Context) error {
		return s.store.InsertPoll(ctx, p)
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePoll replaces question and options of a poll the caller owns.
// The input rules are the same as for CreatePoll.
func (s *Service) UpdatePoll(ctx context.Context, userID, pollID, question string, options []string) (*Poll, error) {
	if isAnonymous(userID) {
		return nil, deny(ErrUnauthorized, "You must be logged in to update a poll.")
	}
	existing, err := s.AuthorizeMutation(ctx, pollID, userID)
	if errors.Is(err, ErrForbidden) {
		return nil, deny(ErrForbidden, "You can only update your own polls.")
	}
	if err != nil {
		return nil, err
	}
	question, options, err = ValidatePollInput(question, options)
	if err != nil {
		return nil, err
	}
	updated := *existing
	updated.Question = question
	updated.Options = options
	err = s.call(ctx, "update poll", func(ctx context.Context) error {
		return s.store.UpdatePoll(ctx, &updated)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, deny(ErrNotFound, "Poll not found.")
	}
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeletePoll removes a poll the caller owns.
func (s *Service) DeletePoll(ctx context.Context, userID, pollID string) error {
	if isAnonymous(userID) {
		return deny(ErrUnauthorized, "You must be logged in to delete a poll.")
	}
	_, err := s.AuthorizeMutation(ctx, pollID, userID)
	if errors.Is(err, ErrForbidden) {
		return deny(ErrForbidden, "You can only delete your own polls.")
	}
	if err != nil {
		return err
	}
	err = s.call(ctx, "delete poll", func(ctx context.Context) error {
		return s.store.DeletePoll(ctx, pollID, userID)
	})
	if errors.Is(err, ErrNotFound) {
		return deny(ErrNotFound, "Poll not found.")
	}
	return err
}

// AuthorizeMutation returns the poll when callerID owns it. A missing poll is
// ErrNotFound, someone else's poll is ErrForbidden.
func (s *Service) AuthorizeMutation(ctx context.Context, pollID, callerID string) (*Poll, error) {
	p, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != callerID {
		return nil, deny(ErrForbidden, "You can only modify your own polls.")
	}
	return p, nil
}

// SubmitVote records userID's choice. Checks run in order: session, poll
// existence, option range, existing vote, then an insert-if-absent that is
// the final word on duplicates.
func (s *Service) SubmitVote(ctx context.Context, pollID, userID string, optionIndex int) (*Vote, error) {
	if isAnonymous(userID) {
		return nil, deny(ErrUnauthorized, "You must be logged in to vote.")
	}
	p, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if optionIndex < 0 || optionIndex >= len(p.Options) {
		return nil, &ValidationError{Reason: "Please select a valid option."}
	}

	var voted bool
	if err := s.call(ctx, "check vote", func(ctx context.Context) error {
		var err error
		voted, err = s.store.HasVoted(ctx, p.ID, userID)
		return err
	}); err != nil {
		return nil, err
	}
	if voted {
		return nil, duplicateVote()
	}

	now := s.now().UTC()
	v := &Vote{
		ID:          ids.NewAt(now),
		PollID:      p.ID,
		UserID:      userID,
		OptionIndex: optionIndex,
		CreatedAt:   now,
	}
	err = s.call(ctx, "insert vote", func(ctx context.Context) error {
		return s.store.InsertVote(ctx, v)
	})
	if errors.Is(err, ErrAlreadyExists) {
		return nil, duplicateVote()
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetPoll fetches a single poll.
func (s *Service) GetPoll(ctx context.Context, pollID string) (*Poll, error) {
	pollID = strings.TrimSpace(pollID)
	if pollID == "" {
		return nil, deny(ErrNotFound, "Poll not found.")
	}
	var p *Poll
	err := s.call(ctx, "get poll", func(ctx context.Context) error {
		var err error
		p, err = s.store.GetPoll(ctx, pollID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, deny(ErrNotFound, "Poll not found.")
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListUserPolls returns the caller's polls, newest first.
func (s *Service) ListUserPolls(ctx context.Context, userID string) ([]*Poll, error) {
	if isAnonymous(userID) {
		return nil, deny(ErrUnauthorized, "Not authenticated")
	}
	return s.list(ctx, userID)
}

// ListPolls returns every poll, newest first.
func (s *Service) ListPolls(ctx context.Context) ([]*Poll, error) {
	return s.list(ctx, "")
}

// Results tallies the votes of a poll per option.
func (s *Service) Results(ctx context.Context, pollID string) (*Results, error) {
	p, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	var counts map[int]int
	if err := s.call(ctx, "count votes", func(ctx context.Context) error {
		var err error
		counts, err = s.store.CountVotes(ctx, p.ID)
		return err
	}); err != nil {
		return nil, err
	}
	res := &Results{PollID: p.ID, Counts: make([]int, len(p.Options))}
	for idx, n := range counts {
		if idx < 0 || idx >= len(res.Counts) {
			continue
		}
		res.Counts[idx] = n
		res.Total += n
	}
	return res, nil
}

func (s *Service) list(ctx context.Context, ownerID string) ([]*Poll, error) {
	var polls []*Poll
	if err := s.call(ctx, "list polls", func(ctx context.Context) error {
		var err error
		polls, err = s.store.ListPolls(ctx, ownerID)
		return err
	}); err != nil {
		return nil, err
	}
	if polls == nil {
		polls = []*Poll{}
	}
	return polls, nil
}

// call runs fn with a bounded deadline. ErrNotFound and ErrAlreadyExists pass
// through untouched; every other failure, a hung store included, becomes a
// *PersistenceError.
func (s *Service) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyExists):
		return err
	default:
		return &PersistenceError{Op: op, Err: err}
	}
}

func duplicateVote() error {
	return deny(ErrDuplicateVote, "You have already voted on this poll.")
}

func isAnonymous(userID string) bool {
	return strings.TrimSpace(userID) == ""
}
