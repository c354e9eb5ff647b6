package entity

import "errors"

// Error taxonomy shared across the pipeline. Services and workers decide
// retry behavior with errors.Is against these sentinels instead of matching
// on error strings.
var (
	// ErrValidation marks bad input: oversized/empty/unsupported files,
	// malformed templates, invalid reviewer decisions. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrTransient marks storage/OCR/LLM/network outages. Retried with
	// backoff up to the task's maximum attempts.
	ErrTransient = errors.New("transient infrastructure error")

	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrReviewerDecision marks an invalid decision submitted at the review
	// boundary. Rejected synchronously.
	ErrReviewerDecision = errors.New("invalid reviewer decision")
)
