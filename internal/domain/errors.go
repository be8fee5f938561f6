package domain

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied indicates the cascade resolution failed. It is
	// surfaced to callers with the same shape as ErrNotFound so denial
	// never leaks entity existence.
	ErrAccessDenied = errors.New("access denied")
	// ErrContentRejected indicates the safety gate classified the payload
	// as unsafe. Never retried automatically.
	ErrContentRejected = errors.New("content rejected")
	// ErrValidation indicates a malformed request. No job is created.
	ErrValidation = errors.New("invalid request")
	// ErrDispatchFailed indicates the executor rejected or timed out on
	// acceptance. Callers may retry with the same idempotency key.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrExecutorUnreachable indicates the executor exceeded the maximum
	// unavailability window during reconciliation.
	ErrExecutorUnreachable = errors.New("executor unreachable")
	// ErrDuplicateOperation indicates another non-terminal job already
	// holds the target entity.
	ErrDuplicateOperation = errors.New("duplicate operation")
)
