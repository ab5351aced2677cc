package comm

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates no byte arrived within the per-character timeout.
	ErrTimeout = errors.New("timeout")
	// ErrJunkOverflow indicates no frame start was found within the junk budget.
	ErrJunkOverflow = errors.New("too many junk bytes")
	// ErrAddressMismatch indicates the frame belongs to another device.
	ErrAddressMismatch = errors.New("address mismatch")
	// ErrChecksum indicates the received LRC differs from the computed one.
	ErrChecksum = errors.New("checksum error")
	// ErrMalformedFrame indicates a frame that is too long or has bad fields.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnexpectedResponse indicates a response for another request.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrNotAcknowledged indicates a write was not answered with "ok".
	ErrNotAcknowledged = errors.New("write not acknowledged")
	// ErrReadbackMismatch indicates the value read after a write differs.
	ErrReadbackMismatch = errors.New("readback mismatch")
	// ErrInvalidRequest indicates a request which can't be encoded.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrClosed indicates the link is closed.
	ErrClosed = errors.New("link closed")
)

// AddressMismatchError reports the address found in a foreign frame.
type AddressMismatchError struct {
	Want Address
	Got  Address
}

// Error implements error.
func (e *AddressMismatchError) Error() string {
	return fmt.Sprintf("address mismatch: want %s, got %s", e.Want, e.Got)
}

// Is matches ErrAddressMismatch.
func (e *AddressMismatchError) Is(target error) bool {
	return target == ErrAddressMismatch
}

// ChecksumError reports both checksum characters.
type ChecksumError struct {
	Want byte
	Got  byte
}

// Error implements error.
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum error: computed %q, received %q", e.Want, e.Got)
}

// Is matches ErrChecksum.
func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksum
}

// ReadbackError reports a value that didn't stick after a write.
type ReadbackError struct {
	Command Command
	Want    uint32
	Got     uint32
}

// Error implements error.
func (e *ReadbackError) Error() string {
	return fmt.Sprintf("%s readback mismatch: wrote %d, read %d", e.Command, e.Want, e.Got)
}

// Is matches ErrReadbackMismatch.
func (e *ReadbackError) Is(target error) bool {
	return target == ErrReadbackMismatch
}
