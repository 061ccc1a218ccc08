// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/transport/session layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotLinked indicates an operation addressed a partner with no LinkRecord.
	ErrNotLinked = errors.New("not linked")

	// ErrInvalidEnvelope indicates a malformed or unroutable wire envelope.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrPayloadTooLarge indicates an envelope exceeding transport limits.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrClosed indicates use of a transport or engine after shutdown.
	ErrClosed = errors.New("closed")
)
