package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Disbursement records are never updated.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAllocationExceeded is returned when a reservation would push a phase
	// past its allocation cap.
	ErrAllocationExceeded = errors.New("phase allocation exceeded")

	// ErrInvalidTransition is returned when a reservation cannot move to the
	// requested status from its current one.
	ErrInvalidTransition = errors.New("invalid reservation transition")
)
