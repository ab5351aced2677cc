package comm

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testStream answers each written request using respond.
// Responses are written in order by a single writer.
type testStream struct {
	*io.PipeReader
	w       *io.PipeWriter
	respond func(req string) string
	respCh  chan string

	lock sync.Mutex
	sent []string
}

func newTestStream(respond func(string) string) *testStream {
	r, w := io.Pipe()
	s := &testStream{
		PipeReader: r,
		w:          w,
		respond:    respond,
		respCh:     make(chan string, 16),
	}
	go func() {
		for resp := range s.respCh {
			if _, err := io.WriteString(s.w, resp); err != nil {
				return
			}
		}
	}()
	return s
}

func (s *testStream) Write(p []byte) (int, error) {
	req := string(p)
	s.lock.Lock()
	s.sent = append(s.sent, req)
	s.lock.Unlock()
	if resp := s.respond(req); resp != "" {
		s.respCh <- resp
	}
	return len(p), nil
}

func (s *testStream) Sent() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *testStream) Close() error {
	close(s.respCh)
	return s.w.Close()
}

func answer(payload string) func(string) string {
	return func(string) string {
		return wire("01", payload) + "\r\n"
	}
}

func newTestClient(t *testing.T, respond func(string) string) (*Client, *testStream) {
	s := newTestStream(respond)
	c, err := NewClient(s, 1)
	require.NoError(t, err)
	c.Timeout = 50 * time.Millisecond
	c.SettleDelay = time.Millisecond
	t.Cleanup(func() {
		c.Close()
		s.Close()
	})
	return c, s
}

func TestClientGet(t *testing.T) {
	c, s := newTestClient(t, answer("rz6015"))
	v, err := c.Get(CmdMachineModel)
	require.NoError(t, err)
	require.Equal(t, uint32(6015), v)
	require.Equal(t, []string{":01rzB\n"}, s.Sent())
}

func TestClientGetUnexpected(t *testing.T) {
	c, _ := newTestClient(t, answer("ri100"))
	v, err := c.Get(CmdMaxVoltage)
	require.ErrorIs(t, err, ErrUnexpectedResponse)
	require.Zero(t, v)
}

func TestClientSet(t *testing.T) {
	c, s := newTestClient(t, answer("ok"))
	require.NoError(t, c.Set(CmdMaxVoltage, 1000))
	require.Equal(t, []string{":01su1000I\n"}, s.Sent())

	c, _ = newTestClient(t, answer("err"))
	require.ErrorIs(t, c.Set(CmdMaxVoltage, 1000), ErrNotAcknowledged)
}

func TestClientTimeout(t *testing.T) {
	c, _ := newTestClient(t, func(string) string { return "" })
	start := time.Now()
	v, err := c.Get(CmdVoltage)
	elapsed := time.Since(start)
	require.ErrorIs(t, err, ErrTimeout)
	require.Zero(t, v)
	require.True(t, elapsed >= c.Timeout, "returned after %s", elapsed)
	require.True(t, elapsed < c.Timeout+time.Second, "returned after %s", elapsed)
}

func TestClientTimeoutMidFrame(t *testing.T) {
	c, _ := newTestClient(t, func(string) string { return ":01rv12" })
	_, err := c.Get(CmdVoltage)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestClientJunk(t *testing.T) {
	c, _ := newTestClient(t, func(string) string {
		return strings.Repeat("~", 31) + wire("01", "rv1200") + "\r\n"
	})
	v, err := c.Get(CmdVoltage)
	require.NoError(t, err)
	require.Equal(t, uint32(1200), v)

	c, _ = newTestClient(t, func(string) string {
		return strings.Repeat("~", 32) + wire("01", "rv1200") + "\r\n"
	})
	_, err = c.Get(CmdVoltage)
	require.ErrorIs(t, err, ErrJunkOverflow)
}

func TestClientForeignFrameThenRecover(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, func(string) string {
		calls++
		if calls == 1 {
			return wire("02", "rv999") + "\r\n"
		}
		return wire("01", "rv1200") + "\r\n"
	})
	_, err := c.Get(CmdVoltage)
	require.ErrorIs(t, err, ErrAddressMismatch)
	v, err := c.Get(CmdVoltage)
	require.NoError(t, err)
	require.Equal(t, uint32(1200), v)
}

func TestClientChecksumError(t *testing.T) {
	c, _ := newTestClient(t, func(string) string { return ":01rz6015Y\r\n" })
	_, err := c.Get(CmdMachineModel)
	require.ErrorIs(t, err, ErrChecksum)
}

func TestClientSetAddress(t *testing.T) {
	var got []string
	c, _ := newTestClient(t, func(req string) string {
		got = append(got, req[:3])
		return wire(req[1:3], "rv1") + "\r\n"
	})
	require.Error(t, c.SetAddress(0))
	require.NoError(t, c.SetAddress(12))
	require.Equal(t, Address(12), c.Address())
	_, err := c.Get(CmdVoltage)
	require.NoError(t, err)
	require.Equal(t, []string{":12"}, got)
}

func TestClientObserver(t *testing.T) {
	c, _ := newTestClient(t, answer("rv1"))
	var (
		cmds     []Command
		observed []error
	)
	c.Observer = ObserveFunc(func(req *Request, elapsed time.Duration, err error) {
		cmds = append(cmds, req.Command)
		observed = append(observed, err)
	})
	_, err := c.Get(CmdVoltage)
	require.NoError(t, err)
	_, err = c.Get(CmdMaxVoltage)
	require.Error(t, err)
	require.Equal(t, []Command{CmdVoltage, CmdMaxVoltage}, cmds)
	require.Len(t, observed, 2)
	require.NoError(t, observed[0])
	require.ErrorIs(t, observed[1], ErrUnexpectedResponse)
}

func TestClientClosedStream(t *testing.T) {
	s := newTestStream(func(string) string { return "" })
	c, err := NewClient(s, 1)
	require.NoError(t, err)
	c.Timeout = time.Second
	s.Close()
	_, err = c.Get(CmdVoltage)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTimeout)
}

func TestNewClientInvalidAddress(t *testing.T) {
	_, err := NewClient(newTestStream(nil), 0)
	require.Error(t, err)
}

func TestClientMaxFrameTime(t *testing.T) {
	c, _ := newTestClient(t, answer("ok"))
	c.Timeout = 10 * time.Millisecond
	require.Equal(t, 490*time.Millisecond, c.MaxFrameTime())

	testCases := []struct {
		junk, payload int
		want          time.Duration
	}{
		{0, 0, 490 * time.Millisecond},
		{0, 8, 420 * time.Millisecond},
		{4, 0, 210 * time.Millisecond},
		{4, 8, 140 * time.Millisecond},
	}
	for _, tc := range testCases {
		c.JunkLimit, c.PayloadLimit = tc.junk, tc.payload
		require.Equal(t, tc.want, c.MaxFrameTime(), "junk %d payload %d", tc.junk, tc.payload)
	}
}
