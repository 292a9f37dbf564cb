package repositories

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrStoreUnavailable indicates the database could not be reached or the statement failed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidFilter indicates a filter condition names a field or operator that is not allowed.
	ErrInvalidFilter = errors.New("invalid filter")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
