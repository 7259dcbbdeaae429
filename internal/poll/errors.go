package poll

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized  = errors.New("poll: unauthorized")
	ErrForbidden     = errors.New("poll: forbidden")
	ErrNotFound      = errors.New("poll: not found")
	ErrDuplicateVote = errors.New("poll: duplicate vote")
	ErrInvalidInput  = errors.New("poll: invalid input")

	// ErrAlreadyExists is returned by a Store when a uniqueness constraint rejects an insert.
	ErrAlreadyExists = errors.New("poll: already exists")
)

// ValidationError is a user-correctable input problem. Reason is safe to show.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// PersistenceError wraps any store failure, timeouts included.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// denial pairs a sentinel with the message shown to the caller.
type denial struct {
	kind error
	msg  string
}

func deny(kind error, msg string) error { return &denial{kind: kind, msg: msg} }

func (d *denial) Error() string { return d.msg }

func (d *denial) Unwrap() error { return d.kind }
