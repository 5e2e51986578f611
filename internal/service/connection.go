package service

import (
	"context"
	"fmt"
)

// Connection is a live duplex channel to one client. The transport owns it;
// the manager only tracks membership and asks it to send or close.
type Connection interface {
	ID() string
	// Send writes one frame. Implementations must honour ctx's deadline.
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// SendResult is the outcome of delivering one frame to one connection.
type SendResult struct {
	ConnID string
	Err    error
}

// OK reports whether the frame was delivered.
func (r SendResult) OK() bool { return r.Err == nil }

// TransportError is a send failure on a specific connection.
type TransportError struct {
	ConnID string
	Op     string // initial_state, broadcast, error_reply
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection %s: %s: %v", e.ConnID, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
