// Package sqlstore persists polls and votes through database/sql. The same
// queries run on Postgres (pgx) and SQLite (modernc); both accept $n
// placeholders and ON CONFLICT DO NOTHING.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"pollhub.org/internal/poll"
)

var _ poll.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// Open connects with driver ("pgx" or "sqlite") and applies pool defaults.
func Open(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	switch driver {
	case "sqlite":
		// One writer; SQLite serializes writes anyway.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const pollColumns = `id, owner_id, question, options, created_at`

func (s *Store) InsertPoll(ctx context.Context, p *poll.Poll) error {
	opts, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`insert into polls(`+pollColumns+`) values ($1, $2, $3, $4, $5)`,
		p.ID, p.OwnerID, p.Question, string(opts), p.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return poll.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetPoll(ctx context.Context, id string) (*poll.Poll, error) {
	row := s.db.QueryRowContext(ctx, `select `+pollColumns+` from polls where id = $1`, id)
	p, err := scanPoll(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, poll.ErrNotFound
	}
	return p, err
}

func (s *Store) UpdatePoll(ctx context.Context, p *poll.Poll) error {
	opts, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`update polls set question = $1, options = $2 where id = $3 and owner_id = $4`,
		p.Question, string(opts), p.ID, p.OwnerID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeletePoll(ctx context.Context, id, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `delete from polls where id = $1 and owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from votes where poll_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListPolls(ctx context.Context, ownerID string) ([]*poll.Poll, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if ownerID == "" {
		rows, err = s.db.QueryContext(ctx,
			`select `+pollColumns+` from polls order by created_at desc, id desc`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`select `+pollColumns+` from polls where owner_id = $1 order by created_at desc, id desc`, ownerID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*poll.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) HasVoted(ctx context.Context, pollID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from votes where poll_id = $1 and user_id = $2`, pollID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertVote relies on the (poll_id, user_id) unique constraint; a conflicting
// row is reported as poll.ErrAlreadyExists.
func (s *Store) InsertVote(ctx context.Context, v *poll.Vote) error {
	res, err := s.db.ExecContext(ctx, `
		insert into votes(id, poll_id, user_id, option_index, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (poll_id, user_id) do nothing`,
		v.ID, v.PollID, v.UserID, v.OptionIndex, v.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return poll.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return poll.ErrAlreadyExists
	}
	return nil
}

func (s *Store) CountVotes(ctx context.Context, pollID string) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`select option_index, count(*) from votes where poll_id = $1 group by option_index`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[int]int)
	for rows.Next() {
		var idx, n int
		if err := rows.Scan(&idx, &n); err != nil {
			return nil, err
		}
		counts[idx] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPoll(row scanner) (*poll.Poll, error) {
	var (
		p    poll.Poll
		opts []byte
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Question, &opts, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(opts, &p.Options); err != nil {
		return nil, fmt.Errorf("decode options of poll %s: %w", p.ID, err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return poll.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
