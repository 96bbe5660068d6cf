package ledger

import "errors"

var (
	// ErrEntryRejected is returned by Open when the balance cannot cover the
	// stake or the open-position cap is reached. Callers skip the entry.
	ErrEntryRejected = errors.New("entry rejected")

	// ErrPositionNotFound is returned when closing or marking a position the
	// ledger does not hold.
	ErrPositionNotFound = errors.New("position not found")

	ErrInvalidPosition = errors.New("invalid position")
)
