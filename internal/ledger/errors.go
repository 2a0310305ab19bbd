package ledger

import "errors"

var (
	// ErrInvalidAmount is returned when a caller supplies a negative
	// monetary value. Recovered locally by asking for corrected input.
	ErrInvalidAmount = errors.New("ledger: amount must be non-negative")

	// ErrNoPendingExtraction is returned when commit or edit is called
	// with nothing staged. No state change occurs.
	ErrNoPendingExtraction = errors.New("ledger: no pending extraction")
)
