package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConstraintViolation indicates an upsert with missing or invalid
	// required fields. It is reported to ingestion, never on the query path.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrDimensionMismatch indicates a query vector whose length differs
	// from the store dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrRoutingFailure indicates the classifier itself failed. The router
	// recovers from it by broadcasting.
	ErrRoutingFailure = errors.New("routing failure")

	// ErrSearchTimeout indicates a domain search missed the deadline.
	ErrSearchTimeout = errors.New("search timeout")

	// ErrStoreUnavailable indicates a store connectivity failure.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidMatchCount indicates a match count below 1.
	ErrInvalidMatchCount = errors.New("match count must be >= 1")

	// ErrUnknownDomain indicates a domain id that is not configured.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrNotFound indicates a chunk key that does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrRetrievalFailed marks a retrieval that ended in the FAILED state.
	ErrRetrievalFailed = errors.New("retrieval failed")
)

// ConstraintError describes which field made an upsert invalid.
type ConstraintError struct {
	Field  string
	Reason string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violation: %s %s", e.Field, e.Reason)
}

func (e *ConstraintError) Unwrap() error {
	return ErrConstraintViolation
}

// DimensionError describes a query vector that does not fit a store.
type DimensionError struct {
	Domain   Domain
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch for %s: expected %d, got %d", e.Domain, e.Expected, e.Got)
}

func (e *DimensionError) Unwrap() error {
	return ErrDimensionMismatch
}
