package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a write violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate")

// ErrConflict is returned when a conditional update found the record in an
// unexpected state.
var ErrConflict = errors.New("conflict")
