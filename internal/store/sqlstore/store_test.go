package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pollhub.org/internal/migrate"
	"pollhub.org/internal/poll"
)

func newSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	schema, err := migrate.Migrations("sqlite")
	require.NoError(t, err)
	require.NoError(t, migrate.NewManager(s.DB(), schema).Up(context.Background()))
	return s
}

func samplePoll(id, owner string, at time.Time) *poll.Poll {
	return &poll.Poll{
		ID:        id,
		OwnerID:   owner,
		Question:  "Best editor?",
		Options:   []string{"vim", "emacs", "nano"},
		CreatedAt: at,
	}
}

func TestSQLitePollLifecycle(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertPoll(ctx, samplePoll("p1", "alice", base)))
	require.NoError(t, s.InsertPoll(ctx, samplePoll("p2", "bob", base.Add(time.Minute))))

	got, err := s.GetPoll(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, []string{"vim", "emacs", "nano"}, got.Options)
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = s.GetPoll(ctx, "nope")
	assert.ErrorIs(t, err, poll.ErrNotFound)

	all, err := s.ListPolls(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "p2", all[0].ID, "newest first")

	mine, err := s.ListPolls(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "p1", mine[0].ID)

	upd := samplePoll("p1", "alice", base)
	upd.Question = "Best pager?"
	upd.Options = []string{"less", "more"}
	require.NoError(t, s.UpdatePoll(ctx, upd))
	got, err = s.GetPoll(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Best pager?", got.Question)
	assert.Equal(t, []string{"less", "more"}, got.Options)

	upd.OwnerID = "mallory"
	assert.ErrorIs(t, s.UpdatePoll(ctx, upd), poll.ErrNotFound)
	assert.ErrorIs(t, s.DeletePoll(ctx, "p1", "mallory"), poll.ErrNotFound)
}

func TestSQLiteVotes(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertPoll(ctx, samplePoll("p1", "alice", now)))

	voted, err := s.HasVoted(ctx, "p1", "bob")
	require.NoError(t, err)
	assert.False(t, voted)

	require.NoError(t, s.InsertVote(ctx, &poll.Vote{ID: "v1", PollID: "p1", UserID: "bob", OptionIndex: 1, CreatedAt: now}))
	require.NoError(t, s.InsertVote(ctx, &poll.Vote{ID: "v2", PollID: "p1", UserID: "carol", OptionIndex: 1, CreatedAt: now}))
	require.NoError(t, s.InsertVote(ctx, &poll.Vote{ID: "v3", PollID: "p1", UserID: "dave", OptionIndex: 0, CreatedAt: now}))

	err = s.InsertVote(ctx, &poll.Vote{ID: "v4", PollID: "p1", UserID: "bob", OptionIndex: 2, CreatedAt: now})
	assert.ErrorIs(t, err, poll.ErrAlreadyExists)

	voted, err = s.HasVoted(ctx, "p1", "bob")
	require.NoError(t, err)
	assert.True(t, voted)

	counts, err := s.CountVotes(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 1, 1: 2}, counts)

	require.NoError(t, s.DeletePoll(ctx, "p1", "alice"))
	counts, err = s.CountVotes(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, counts)
	voted, err = s.HasVoted(ctx, "p1", "bob")
	require.NoError(t, err)
	assert.False(t, voted)
}

func TestSQLiteServiceIntegration(t *testing.T) {
	svc := poll.NewService(newSQLite(t))
	ctx := context.Background()

	p, err := svc.CreatePoll(ctx, "alice", "Lunch?", []string{"pizza", "sushi"})
	require.NoError(t, err)

	_, err = svc.SubmitVote(ctx, p.ID, "bob", 1)
	require.NoError(t, err)
	_, err = svc.SubmitVote(ctx, p.ID, "bob", 0)
	assert.ErrorIs(t, err, poll.ErrDuplicateVote)

	res, err := svc.Results(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, res.Counts)
	assert.Equal(t, 1, res.Total)
}

func TestInsertVoteConflictMapsToAlreadyExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db)

	mock.ExpectExec(regexp.QuoteMeta(`on conflict (poll_id, user_id) do nothing`)).
		WithArgs("v1", "p1", "u1", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.InsertVote(context.Background(), &poll.Vote{ID: "v1", PollID: "p1", UserID: "u1"})
	assert.ErrorIs(t, err, poll.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePollRollsBackWhenNotOwned(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`delete from polls where id = $1 and owner_id = $2`)).
		WithArgs("p1", "bob").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, s.DeletePoll(context.Background(), "p1", "bob"), poll.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePollRemovesVotesInSameTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`delete from polls`)).
		WithArgs("p1", "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`delete from votes where poll_id = $1`)).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, s.DeletePoll(context.Background(), "p1", "alice"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPollPropagatesDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db)

	boom := errors.New("connection reset")
	mock.ExpectQuery(regexp.QuoteMeta(`from polls where id = $1`)).
		WithArgs("p1").
		WillReturnError(boom)

	_, err = s.GetPoll(context.Background(), "p1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, poll.ErrNotFound)

	mock.ExpectQuery(regexp.QuoteMeta(`from polls where id = $1`)).
		WithArgs("p2").
		WillReturnError(sql.ErrNoRows)
	_, err = s.GetPoll(context.Background(), "p2")
	assert.ErrorIs(t, err, poll.ErrNotFound)
}

func TestScanPollRejectsCorruptOptions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "owner_id", "question", "options", "created_at"}).
		AddRow("p1", "alice", "Q?", []byte("not json"), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(`from polls where id = $1`)).WithArgs("p1").WillReturnRows(rows)

	_, err = New(db).GetPoll(context.Background(), "p1")
	assert.ErrorContains(t, err, "decode options of poll p1")
}

func TestSQLiteDuplicatePollID(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertPoll(ctx, samplePoll("p1", "alice", now)))
	assert.ErrorIs(t, s.InsertPoll(ctx, samplePoll("p1", "bob", now)), poll.ErrAlreadyExists)
}

func TestUniqueViolationFromPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`insert into polls`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "polls_pkey"})

	err = New(db).InsertPoll(context.Background(), samplePoll("p1", "alice", time.Now()))
	assert.ErrorIs(t, err, poll.ErrAlreadyExists)
}
