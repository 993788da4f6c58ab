package domain

import "errors"

var (
	// ErrFetchTransient marks a retryable feed failure (network, timeout, non-2xx, bad payload).
	ErrFetchTransient = errors.New("feed fetch failed")
	// ErrFetchExhausted is returned once every retry attempt has failed.
	ErrFetchExhausted = errors.New("feed fetch retries exhausted")
	// ErrInvalidInput rejects a user request without touching any state.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersistence wraps alert or history store failures.
	ErrPersistence = errors.New("persistence error")
	// ErrNotFound is returned for unknown alert ids.
	ErrNotFound = errors.New("not found")
)
