package comm

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Timing defaults.
const (
	// DefaultTimeout bounds the wait for each character of a response.
	DefaultTimeout = 500 * time.Millisecond
	// DefaultSettleDelay separates a completed read from the next write.
	// The converter corrupts a write issued too soon after a read.
	DefaultSettleDelay = 5 * time.Millisecond
)

// Observer is notified after each Get or Set.
type Observer interface {
	ObserveTransaction(req *Request, elapsed time.Duration, err error)
}

// ObserveFunc is func type of Observer.
type ObserveFunc func(*Request, time.Duration, error)

// ObserveTransaction implements Observer.
func (f ObserveFunc) ObserveTransaction(req *Request, elapsed time.Duration, err error) {
	f(req, elapsed, err)
}

// Client executes requests against one converter.
//
// Exactly one request is outstanding at a time. Transactions are
// serialized, so a Client may be shared, but nothing is retried: every
// error is returned to the caller.
type Client struct {
	// Timeout is the per-character timeout.
	Timeout time.Duration
	// SettleDelay is waited after each decoded frame.
	SettleDelay time.Duration
	// JunkLimit is the number of junk bytes tolerated before a frame start.
	JunkLimit int
	// PayloadLimit is the capacity of the payload buffer.
	PayloadLimit int
	Observer     Observer

	link   *Link
	parser Parser
	lock   sync.Mutex
}

// NewClient creates a Client talking to the converter at addr over rw.
func NewClient(rw io.ReadWriter, addr Address) (*Client, error) {
	if !addr.Valid() {
		return nil, fmt.Errorf("invalid address %d", uint8(addr))
	}
	c := &Client{
		Timeout:      DefaultTimeout,
		SettleDelay:  DefaultSettleDelay,
		JunkLimit:    DefaultJunkLimit,
		PayloadLimit: DefaultPayloadLimit,
		link:         NewLink(rw),
	}
	c.parser.Address = addr
	return c, nil
}

// Address gets the address the client talks to.
func (c *Client) Address() Address {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.parser.Address
}

// SetAddress changes the address the client talks to. It must follow a
// successful address change on the device, otherwise every response is
// rejected as a foreign frame.
func (c *Client) SetAddress(addr Address) error {
	if !addr.Valid() {
		return fmt.Errorf("invalid address %d", uint8(addr))
	}
	c.lock.Lock()
	c.parser.Address = addr
	c.lock.Unlock()
	return nil
}

// MaxFrameTime is the worst case blocking time of a failing decode,
// (junk + 2 + payload) per-character timeouts. Limits of 0 count as the
// defaults, as in Parser. A decode that succeeds with a full payload may
// wait once more, for the checksum byte.
func (c *Client) MaxFrameTime() time.Duration {
	p := Parser{JunkLimit: c.JunkLimit, PayloadLimit: c.PayloadLimit}
	return time.Duration(p.junkLimit()+2+p.payloadLimit()) * c.Timeout
}

// Get reads the value of a command.
// On any failure it returns 0 along with the error.
func (c *Client) Get(cmd Command) (val uint32, err error) {
	req := NewGetRequest(cmd)
	defer c.observe(req, time.Now(), &err)
	frame, err := c.Transact(req)
	if err != nil {
		return 0, err
	}
	if frame.Marker() != MarkerRead || frame.Command() != cmd {
		return 0, fmt.Errorf("%w: %q for get %s", ErrUnexpectedResponse, frame.Payload, cmd)
	}
	return frame.Uint()
}

// Set writes the value of a command and expects the "ok" acknowledgement.
// The value is not read back, see Converter for verified writes.
func (c *Client) Set(cmd Command, value uint32) (err error) {
	req := NewSetRequest(cmd, value)
	defer c.observe(req, time.Now(), &err)
	frame, err := c.Transact(req)
	if err != nil {
		return err
	}
	if !frame.IsAck() {
		return fmt.Errorf("%w: set %s %d answered %q", ErrNotAcknowledged, cmd, value, frame.Payload)
	}
	return nil
}

// Transact sends a request and decodes the response frame
// without interpreting its payload.
func (c *Client) Transact(req *Request) (*Frame, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if n := c.link.Discard(); n > 0 {
		glog.V(2).Infof("discarded %d stale bytes", n)
	}
	if _, err := req.Encode(c.link, c.parser.Address); err != nil {
		return nil, fmt.Errorf("send %s: %w", req, err)
	}
	glog.V(2).Infof("TX %s%s", c.parser.Address, req)
	frame, err := c.readFrame()
	if err != nil {
		glog.V(1).Infof("RX %s failed: %v", req, err)
		return nil, err
	}
	glog.V(2).Infof("RX %s", frame)
	return frame, nil
}

// Close stops reading the stream. The stream itself is left open.
func (c *Client) Close() error {
	return c.link.Close()
}

func (c *Client) readFrame() (*Frame, error) {
	c.parser.JunkLimit, c.parser.PayloadLimit = c.JunkLimit, c.PayloadLimit
	c.parser.Reset()
	for {
		var pr ParseResult
		b, err := c.link.ReadByte(c.Timeout)
		switch err {
		case nil:
			pr = c.parser.Parse(b)
		case ErrTimeout:
			pr = c.parser.Timeout()
		default:
			return nil, err
		}
		if pr.Err != nil {
			return nil, pr.Err
		}
		if pr.Frame != nil {
			c.swallowNewlines()
			return pr.Frame, nil
		}
	}
}

func (c *Client) swallowNewlines() {
	for {
		b, ok := c.link.Peek()
		if !ok || (b != '\r' && b != '\n') {
			break
		}
		c.link.Skip()
	}
	if c.SettleDelay > 0 {
		time.Sleep(c.SettleDelay)
	}
}

func (c *Client) observe(req *Request, start time.Time, errp *error) {
	if o := c.Observer; o != nil {
		o.ObserveTransaction(req, time.Since(start), *errp)
	}
}
