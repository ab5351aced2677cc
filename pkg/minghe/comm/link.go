package comm

import (
	"io"
	"os"
	"sync"
	"time"
)

// Link reads a byte stream with per-character timeouts.
//
// Transports don't offer a portable "read if available", so a background
// reader pumps the stream into a channel. The reader exits when the
// underlying stream returns an error, usually after it's closed by its
// owner, or after Close once a Read returns. Streams with a read timeout
// may return (0, nil) or a timeout error, both are retried.
// Link is not safe for concurrent reads.
type Link struct {
	rw     io.ReadWriter
	byteCh chan byte
	errCh  chan error
	stopCh chan struct{}
	stop   sync.Once

	held    byte
	hasHeld bool
	err     error
}

// NewLink creates a Link and starts reading rw.
func NewLink(rw io.ReadWriter) *Link {
	l := &Link{
		rw:     rw,
		byteCh: make(chan byte, 64),
		errCh:  make(chan error, 1),
		stopCh: make(chan struct{}),
	}
	go l.readLoop()
	return l
}

// Write implements io.Writer.
func (l *Link) Write(p []byte) (int, error) {
	return l.rw.Write(p)
}

// ReadByte waits up to timeout for the next byte.
// It returns ErrTimeout if nothing arrives in time.
func (l *Link) ReadByte(timeout time.Duration) (byte, error) {
	if b, ok := l.Peek(); ok {
		l.hasHeld = false
		return b, nil
	}
	if l.err != nil {
		return 0, l.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b := <-l.byteCh:
		return b, nil
	case err := <-l.errCh:
		l.err = err
		// bytes read before the error are still delivered.
		if b, ok := l.Peek(); ok {
			l.hasHeld = false
			return b, nil
		}
		return 0, err
	case <-timer.C:
		return 0, ErrTimeout
	case <-l.stopCh:
		return 0, ErrClosed
	}
}

// Peek returns the next byte only if it's already available.
// The byte is not consumed.
func (l *Link) Peek() (byte, bool) {
	if l.hasHeld {
		return l.held, true
	}
	select {
	case b := <-l.byteCh:
		l.held, l.hasHeld = b, true
		return b, true
	default:
		return 0, false
	}
}

// Skip consumes the byte returned by Peek.
func (l *Link) Skip() {
	l.hasHeld = false
}

// Discard drops all bytes already received and returns the count.
func (l *Link) Discard() (n int) {
	for {
		if _, ok := l.Peek(); !ok {
			return
		}
		l.Skip()
		n++
	}
}

// Close stops delivering bytes. It doesn't close the underlying stream.
func (l *Link) Close() error {
	l.stop.Do(func() { close(l.stopCh) })
	return nil
}

func (l *Link) readLoop() {
	buf := make([]byte, 64)
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}
		n, err := l.rw.Read(buf)
		for _, b := range buf[:n] {
			select {
			case l.byteCh <- b:
			case <-l.stopCh:
				return
			}
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			select {
			case l.errCh <- err:
			case <-l.stopCh:
			}
			return
		}
	}
}
