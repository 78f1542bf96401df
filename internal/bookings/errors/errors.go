package errors

import "errors"

var (
	ErrNotFound = errors.New("booking not found")

	ErrInvalidID = errors.New("invalid booking ID format")

	// ErrLockHeld means another allocation currently holds the slot's
	// advisory lock.
	ErrLockHeld = errors.New("slot lock held by another allocation")
)
