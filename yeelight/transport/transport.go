// Package transport abstracts the BLE link to a lamp. The protocol engine
// only needs "write bytes", "subscribe to notifications" and lifecycle
// callbacks; GATT discovery and platform specifics stay behind Connect.
package transport

import (
	"context"
	"fmt"
)

// ConnectError reports a failure to establish the BLE link.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Transport establishes connections to lamps by MAC address.
type Transport interface {
	// Connect establishes the BLE link and resolves the lamp's control and
	// notify characteristics. It blocks until the link is up, the context is
	// done, or the attempt fails with a ConnectError.
	Connect(ctx context.Context, address string) (Conn, error)
}

// Conn is one established lamp connection.
type Conn interface {
	// Write sends a command packet to the control characteristic.
	Write(data []byte) error

	// Subscribe registers the notification callback. The callback may fire
	// at any time on the transport's delivery goroutine.
	Subscribe(fn func(data []byte)) error

	// OnDisconnect registers a callback invoked once if the link drops
	// unexpectedly. It is not invoked on Close.
	OnDisconnect(fn func(err error))

	// Close tears down the link.
	Close() error
}
