package order

import "errors"

var (
	// -- Authentication/Authorization --
	ErrUnauthorized = errors.New("unauthorized")

	// -- Resource State --
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidState      = errors.New("operation not allowed in current order state")
	ErrInvalidTransition = errors.New("invalid status transition")

	// -- Concurrency --
	ErrVersionConflict = errors.New("order was modified concurrently")
)
