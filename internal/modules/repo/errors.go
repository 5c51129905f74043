package repo

import "errors"

var (
	// ErrNotFound is returned when a row does not exist or is not owned by
	// the requesting company.
	ErrNotFound = errors.New("repo: record not found")

	// ErrInvalidTransition is returned when a task status update would move
	// backwards out of a terminal state.
	ErrInvalidTransition = errors.New("repo: invalid task status transition")
)
