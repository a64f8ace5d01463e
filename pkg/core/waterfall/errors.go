package waterfall

import "errors"

var (
	// ErrInvalidRequest indicates the caller supplied inputs that can never be
	// distributed (non-positive totals, broken ledger snapshots, bad hierarchy).
	ErrInvalidRequest = errors.New("invalid distribution request")

	// ErrConfiguration indicates a malformed waterfall structure.
	ErrConfiguration = errors.New("waterfall configuration error")

	// ErrInvariantViolation indicates a post-computation reconciliation failure.
	// It signals an evaluator bug and must not be retried.
	ErrInvariantViolation = errors.New("arithmetic invariant violation")
)
