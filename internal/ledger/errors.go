package ledger

import "errors"

// Sentinel errors surfaced by the ledger. Callers match them with errors.Is.
var (
	// ErrInvalidIdentity means a raw discovery carried no usable identity.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrDuplicateKey means an insert collided with an existing unique_code
	// in any partition.
	ErrDuplicateKey = errors.New("duplicate unique_code")

	// ErrNotFound means the requested unique_code is absent from the store.
	ErrNotFound = errors.New("record not found")

	// ErrIllegalTransition means a state change is not in the transition table.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrImmutableField means an update tried to change a write-once field.
	ErrImmutableField = errors.New("immutable field changed")

	// ErrAttemptRegression means an update tried to decrease an attempt counter
	// outside the explicit reset operation.
	ErrAttemptRegression = errors.New("attempt counter decreased")
)
