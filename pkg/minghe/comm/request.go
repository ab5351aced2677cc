package comm

import (
	"fmt"
	"io"
	"strconv"
)

// Marker distinguishes a write (set) frame from a read (get) frame.
type Marker byte

// Markers.
const (
	MarkerRead  Marker = 'r'
	MarkerWrite Marker = 's'
)

// Frame delimiters.
const (
	FrameStart byte = ':'
	FrameEnd   byte = '\n'
)

// Request is an outgoing command.
type Request struct {
	Marker  Marker
	Command Command
	// Value is the unsigned decimal value of a write, empty for reads.
	Value string
}

// NewGetRequest creates a read request.
func NewGetRequest(cmd Command) *Request {
	return &Request{Marker: MarkerRead, Command: cmd}
}

// NewSetRequest creates a write request.
func NewSetRequest(cmd Command, value uint32) *Request {
	return &Request{
		Marker:  MarkerWrite,
		Command: cmd,
		Value:   strconv.FormatUint(uint64(value), 10),
	}
}

// IsWrite indicates a write request.
func (r *Request) IsWrite() bool {
	return r.Marker == MarkerWrite
}

// Validate checks the request can be put on the wire.
func (r *Request) Validate() error {
	if !r.Command.Valid() {
		return fmt.Errorf("%w: unknown command %s", ErrInvalidRequest, r.Command)
	}
	switch r.Marker {
	case MarkerRead:
		if r.Value != "" {
			return fmt.Errorf("%w: read request with value", ErrInvalidRequest)
		}
	case MarkerWrite:
		if r.Value == "" {
			return fmt.Errorf("%w: write request without value", ErrInvalidRequest)
		}
		for i := 0; i < len(r.Value); i++ {
			if !isDigit(r.Value[i]) {
				return fmt.Errorf("%w: value %q is not decimal", ErrInvalidRequest, r.Value)
			}
		}
		if len(r.Value) > 1 && r.Value[0] == '0' {
			return fmt.Errorf("%w: value %q has leading zeros", ErrInvalidRequest, r.Value)
		}
	default:
		return fmt.Errorf("%w: marker %q", ErrInvalidRequest, byte(r.Marker))
	}
	return nil
}

// AppendFrame appends the encoded frame for the device at addr.
func (r *Request) AppendFrame(b []byte, addr Address) []byte {
	var sum Checksum
	start := len(b)
	b = append(b, FrameStart)
	b = append(b, addr.String()...)
	b = append(b, byte(r.Marker), byte(r.Command))
	b = append(b, r.Value...)
	sum.Write(b[start:])
	return append(b, sum.Char(), FrameEnd)
}

// Bytes returns the encoded frame.
func (r *Request) Bytes(addr Address) []byte {
	return r.AppendFrame(make([]byte, 0, 8+len(r.Value)), addr)
}

// Encode validates the request and writes its frame in a single Write.
func (r *Request) Encode(w io.Writer, addr Address) (int, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	if !addr.Valid() {
		return 0, fmt.Errorf("%w: address %d", ErrInvalidRequest, uint8(addr))
	}
	frame := r.Bytes(addr)
	n, err := w.Write(frame)
	if err == nil && n < len(frame) {
		err = io.ErrShortWrite
	}
	return n, err
}

// String renders the request without the address.
func (r *Request) String() string {
	return string([]byte{byte(r.Marker), byte(r.Command)}) + r.Value
}
