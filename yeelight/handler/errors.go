package handler

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the engine. Front ends branch on these with
// errors.Is to decide whether a retry makes sense.
var (
	// ErrTimeout means no matching notification arrived before the deadline.
	ErrTimeout = errors.New("timed out waiting for lamp notification")

	// ErrConnectionLost means the BLE link dropped with requests outstanding.
	ErrConnectionLost = errors.New("lamp connection lost")

	// ErrBusy is returned by Session.Send when a request with the same
	// response opcode is already outstanding. The serialized path
	// (Session.Execute) never hits it.
	ErrBusy = errors.New("request already pending for this opcode")
)

// TransportError wraps a write or connect failure. Retryable by the caller
// with backoff, unlike a validation error.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
