package util

import "errors"

// Sentinel errors for the migration engine failure taxonomy.
// Engine code wraps these with %w so callers can classify failures
// with errors.Is regardless of the message text.
var (
	// ErrSourceMissing indicates the step's source path no longer exists
	ErrSourceMissing = errors.New("source missing")

	// ErrSourceChanged indicates the source content hash no longer matches
	// the hash captured at plan time
	ErrSourceChanged = errors.New("source changed since planning")

	// ErrInsufficientSpace indicates the destination cannot safely hold the
	// requested bytes
	ErrInsufficientSpace = errors.New("insufficient space")

	// ErrTransferFailed indicates the transfer adapter failed
	ErrTransferFailed = errors.New("transfer failed")

	// ErrDestinationMismatch indicates the destination hash does not match
	// the source hash after transfer
	ErrDestinationMismatch = errors.New("destination hash mismatch")

	// ErrDriveOffline indicates a required drive is not online
	ErrDriveOffline = errors.New("drive offline")

	// ErrIrreversible indicates a rollback was requested for an operation
	// whose effect cannot be reversed (deleted source bytes)
	ErrIrreversible = errors.New("operation is irreversible")

	// ErrInvalidPlan indicates a planning precondition was violated
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrFatal indicates a persistent-store failure; the run must halt
	ErrFatal = errors.New("fatal store error")
)

// IsRetryableStepError reports whether a step failure is eligible for the
// executor's retry policy. InsufficientSpace and InvalidPlan never are;
// transient transfer and verification failures may clear on a re-run.
func IsRetryableStepError(err error) bool {
	switch {
	case errors.Is(err, ErrSourceMissing),
		errors.Is(err, ErrSourceChanged),
		errors.Is(err, ErrDestinationMismatch),
		errors.Is(err, ErrTransferFailed):
		return true
	}
	return false
}
