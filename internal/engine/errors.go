package engine

import "errors"

// Error categories the transport layer maps onto status codes.
var (
	// ErrValidation marks a client-fault request that will never succeed
	// as given.
	ErrValidation = errors.New("invalid request")

	// ErrInsufficientData marks a structurally valid request the data
	// cannot answer, such as no date overlap or too few observations.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrUnavailable marks an upstream provider failure; the same
	// request may succeed later.
	ErrUnavailable = errors.New("data provider unavailable")
)
