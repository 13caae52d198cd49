// internal/ledger/errors.go
package ledger

import "errors"

var (
	// ErrDuplicateReference means the reference or the checkout id of the
	// draft already exists in the ledger.
	ErrDuplicateReference = errors.New("ledger: duplicate reference")

	// ErrNotFound means no transaction matched the lookup.
	ErrNotFound = errors.New("ledger: transaction not found")

	// ErrStaleTransition means the transaction's current status was not in
	// the allowed set for the requested transition. Callers handling
	// at-least-once callbacks treat this as a no-op.
	ErrStaleTransition = errors.New("ledger: stale transition")
)
