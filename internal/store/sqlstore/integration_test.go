//go:build integration

package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"pollhub.org/internal/migrate"
	"pollhub.org/internal/poll"
)

func newPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("pollhub"),
		postgres.WithUsername("pollhub"),
		postgres.WithPassword("pollhub"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	schema, err := migrate.Migrations("pgx")
	require.NoError(t, err)
	require.NoError(t, migrate.NewManager(s.DB(), schema).Up(ctx))
	return s
}

func TestPostgresConcurrentVotesKeepOnePerUser(t *testing.T) {
	s := newPostgres(t)
	svc := poll.NewService(s)
	ctx := context.Background()

	p, err := svc.CreatePoll(ctx, "alice", "Ship it?", []string{"yes", "no"})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.SubmitVote(ctx, p.ID, "bob", i%2); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)

	res, err := svc.Results(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}

func TestPostgresDeleteCascades(t *testing.T) {
	s := newPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, s.InsertPoll(ctx, samplePoll("8f14e45f-ceea-4e7a-9f1b-1a2b3c4d5e6f", "alice", now)))
	require.NoError(t, s.InsertVote(ctx, &poll.Vote{ID: "v1", PollID: "8f14e45f-ceea-4e7a-9f1b-1a2b3c4d5e6f", UserID: "bob", CreatedAt: now}))

	got, err := s.GetPoll(ctx, "8f14e45f-ceea-4e7a-9f1b-1a2b3c4d5e6f")
	require.NoError(t, err)
	assert.Equal(t, []string{"vim", "emacs", "nano"}, got.Options)

	require.NoError(t, s.DeletePoll(ctx, "8f14e45f-ceea-4e7a-9f1b-1a2b3c4d5e6f", "alice"))
	counts, err := s.CountVotes(ctx, "8f14e45f-ceea-4e7a-9f1b-1a2b3c4d5e6f")
	require.NoError(t, err)
	assert.Empty(t, counts)
}
