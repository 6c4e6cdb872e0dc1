package wire

import "fmt"

// ErrUnknownEvent is returned when decoding a message whose event is not
// part of the protocol.
type ErrUnknownEvent struct {
	Event Event
}

func (e *ErrUnknownEvent) Error() string {
	return fmt.Sprintf("wire: unknown event %q", e.Event)
}

// ErrMalformedOperation is returned when an operation array cannot be
// decoded.
type ErrMalformedOperation struct {
	Reason string
}

func (e *ErrMalformedOperation) Error() string {
	return "wire: malformed operation: " + e.Reason
}
