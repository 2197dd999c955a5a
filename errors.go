package vstream

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceNotFound is returned when a requested media resource cannot
	// be opened.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrCorruptStream is returned when a media container record is shorter
	// than its length prefix announces or the prefix is not a decimal number.
	ErrCorruptStream = errors.New("corrupt stream")

	// ErrMalformedPacket is returned when a datagram is too short to carry a
	// data-plane header.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrInvalidState is returned when a control verb is not allowed in the
	// current session state.
	ErrInvalidState = errors.New("invalid state")

	// ErrFrameTooLarge is returned when a frame does not fit the 5 digit
	// length prefix of the media container.
	ErrFrameTooLarge = errors.New("frame too large")
)

// ConnectionError wraps failures of the control connection. It aborts the
// session it occurred in.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("control connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
