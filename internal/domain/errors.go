package domain

import "errors"

var (
	// ErrValidation marks caller input errors. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups that matched no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks writes that lost a guarded-update race.
	ErrConflict = errors.New("conflict")
)
