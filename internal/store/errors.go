package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when no entry matches an id or reference.
	ErrNotFound = errors.New("entry not found")
	// ErrDuplicateEntry is returned when inserting an id that is already stored.
	ErrDuplicateEntry = errors.New("duplicate entry id")
	// ErrInvalidType is returned for a type outside task, thought, person, event.
	ErrInvalidType = errors.New("invalid entry type")
	// ErrAmbiguousRef is returned when an id prefix matches more than one entry.
	ErrAmbiguousRef = errors.New("ambiguous entry reference")
)

// ConstraintError wraps a database constraint violation. The enclosing
// transaction has been rolled back when it is returned.
type ConstraintError struct {
	Op  string
	Err error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: constraint violated: %v", e.Op, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// wrapErr maps sqlite constraint failures onto the store's error types.
func wrapErr(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return &ConstraintError{Op: op, Err: fmt.Errorf("%w: %v", ErrDuplicateEntry, err)}
		case sqlite3.ErrConstraintCheck:
			return &ConstraintError{Op: op, Err: fmt.Errorf("check failed: %w", err)}
		}
		return &ConstraintError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
