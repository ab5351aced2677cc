package comm

import (
	"fmt"
	"strconv"
)

// Decoder limits.
const (
	DefaultJunkLimit    = 32
	DefaultPayloadLimit = 15
)

// Frame is a decoded response frame.
type Frame struct {
	Address Address
	// Payload holds everything between the address and the LRC.
	Payload []byte
}

// Marker returns the echoed marker byte.
func (f *Frame) Marker() Marker {
	if len(f.Payload) < 1 {
		return 0
	}
	return Marker(f.Payload[0])
}

// Command returns the echoed command byte.
func (f *Frame) Command() Command {
	if len(f.Payload) < 2 {
		return 0
	}
	return Command(f.Payload[1])
}

// Value returns the bytes after marker and command.
func (f *Frame) Value() []byte {
	if len(f.Payload) < 2 {
		return nil
	}
	return f.Payload[2:]
}

// IsAck indicates the payload is the literal write acknowledgement.
func (f *Frame) IsAck() bool {
	return string(f.Payload) == "ok"
}

// Uint parses the leading decimal digits of the value.
func (f *Frame) Uint() (uint32, error) {
	val := f.Value()
	n := 0
	for n < len(val) && isDigit(val[n]) {
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: no digits in %q", ErrMalformedFrame, f.Payload)
	}
	v, err := strconv.ParseUint(string(val[:n]), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return uint32(v), nil
}

// AppendFrame appends the wire form of the frame, terminated by CR LF.
func (f *Frame) AppendFrame(b []byte) []byte {
	var sum Checksum
	start := len(b)
	b = append(b, FrameStart)
	b = append(b, f.Address.String()...)
	b = append(b, f.Payload...)
	sum.Write(b[start:])
	return append(b, sum.Char(), '\r', FrameEnd)
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	return f.Address.String() + string(f.Payload)
}

// ParseState is the position of the decoder within a frame.
type ParseState int

// Decoder states.
const (
	// StateSeeking discards bytes until a frame start.
	StateSeeking ParseState = iota
	// StateAddress reads the two address digits.
	StateAddress
	// StatePayload collects the payload until the LRC.
	StatePayload
	// StateDone means a frame or an error was produced.
	StateDone
)

// String implements fmt.Stringer.
func (s ParseState) String() string {
	switch s {
	case StateSeeking:
		return "seeking"
	case StateAddress:
		return "address"
	case StatePayload:
		return "payload"
	case StateDone:
		return "done"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// ParseResult is the result after one parsing step.
// Both Frame and Err are nil while the frame is incomplete.
type ParseResult struct {
	State ParseState
	Frame *Frame
	Err   error
}

// Pending indicates more bytes are needed.
func (r ParseResult) Pending() bool {
	return r.Frame == nil && r.Err == nil
}

// Parser decodes one response frame a byte at a time.
// The zero value uses the default limits and accepts no address until
// Address is set.
type Parser struct {
	Address      Address
	JunkLimit    int
	PayloadLimit int

	state   ParseState
	sum     Checksum
	junk    int
	addr    [2]byte
	addrLen int
	payload []byte
}

// State gets the current state.
func (p *Parser) State() ParseState {
	return p.state
}

// Junk returns the number of junk bytes skipped for the current frame.
func (p *Parser) Junk() int {
	return p.junk
}

// Reset prepares the parser for a new frame.
func (p *Parser) Reset() {
	p.state = StateSeeking
	p.sum.Reset()
	p.junk, p.addrLen = 0, 0
	p.payload = nil
}

// Parse consumes one byte. After a frame or an error the next call starts
// a new frame search.
func (p *Parser) Parse(b byte) ParseResult {
	if p.state == StateDone {
		p.Reset()
	}
	switch p.state {
	case StateSeeking:
		if b != FrameStart {
			p.junk++
			if p.junk >= p.junkLimit() {
				return p.fail(fmt.Errorf("%w: %d bytes without frame start", ErrJunkOverflow, p.junk))
			}
			break
		}
		p.sum.Reset()
		p.sum.Add(b)
		p.state = StateAddress
	case StateAddress:
		p.sum.Add(b)
		p.addr[p.addrLen] = b
		if p.addrLen++; p.addrLen < len(p.addr) {
			break
		}
		if !isDigit(p.addr[0]) || !isDigit(p.addr[1]) {
			return p.fail(fmt.Errorf("%w: address %q", ErrMalformedFrame, p.addr[:]))
		}
		if addr := Address((p.addr[0]-'0')*10 + p.addr[1] - '0'); addr != p.Address {
			return p.fail(&AddressMismatchError{Want: p.Address, Got: addr})
		}
		p.payload = make([]byte, 0, p.payloadLimit())
		p.state = StatePayload
	case StatePayload:
		if isUpper(b) {
			if want := p.sum.Char(); b != want {
				return p.fail(&ChecksumError{Want: want, Got: b})
			}
			frame := &Frame{Address: p.Address, Payload: p.payload}
			p.payload, p.state = nil, StateDone
			return ParseResult{State: p.state, Frame: frame}
		}
		if len(p.payload) >= p.payloadLimit() {
			return p.fail(fmt.Errorf("%w: payload exceeds %d bytes", ErrMalformedFrame, p.payloadLimit()))
		}
		p.payload = append(p.payload, b)
		p.sum.Add(b)
	}
	return ParseResult{State: p.state}
}

// Timeout notifies the parser that the per-character timeout expired.
func (p *Parser) Timeout() ParseResult {
	state := p.state
	if state == StateDone {
		state = StateSeeking
	}
	return p.fail(fmt.Errorf("%w in %s state", ErrTimeout, state))
}

func (p *Parser) fail(err error) ParseResult {
	p.payload, p.state = nil, StateDone
	return ParseResult{State: p.state, Err: err}
}

func (p *Parser) junkLimit() int {
	if p.JunkLimit > 0 {
		return p.JunkLimit
	}
	return DefaultJunkLimit
}

func (p *Parser) payloadLimit() int {
	if p.PayloadLimit > 0 {
		return p.PayloadLimit
	}
	return DefaultPayloadLimit
}
