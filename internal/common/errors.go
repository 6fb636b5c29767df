// Package common defines shared constants and sentinel errors used across
// client and server layers of wirechat. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Validation errors: the whole call is rejected.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrMalformedID     = errors.New("malformed id")

	// ErrOwnershipMismatch means a record exists but belongs to another
	// principal. During sync the offending change is skipped and the
	// batch continues.
	ErrOwnershipMismatch = errors.New("ownership mismatch")

	// ErrStreamFinished is returned by an append once the stream's
	// finished flag has flipped. It is the cancellation handshake between
	// the orchestrator and the stream buffer, not a failure.
	ErrStreamFinished = errors.New("stream finished")

	// ErrCursorRegression means a sync response carried a cursor older
	// than the one already persisted. The response must not be committed.
	ErrCursorRegression = errors.New("cursor regression")

	// Auth errors.
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserAlreadyExists  = errors.New("user already exists")
)
