package minghe

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/minghe.go/pkg/minghe/comm"
	"github.com/robotalks/minghe.go/pkg/minghe/sim"
)

func newTestConverter(t *testing.T) (*Converter, *sim.Device) {
	dev := sim.NewDevice(1, sim.DefaultModel)
	conv, err := New(dev, 1)
	require.NoError(t, err)
	conv.Client().Timeout = 50 * time.Millisecond
	conv.Client().SettleDelay = 0
	t.Cleanup(func() { conv.Close() })
	return conv, dev
}

func TestConverterTestConnection(t *testing.T) {
	conv, _ := newTestConverter(t)
	require.NoError(t, conv.TestConnection(6015))
	require.ErrorIs(t, conv.TestConnection(5020), ErrModelMismatch)
}

func TestConverterGetters(t *testing.T) {
	conv, dev := newTestConverter(t)
	dev.SetRegister(comm.CmdMaxVoltage, 1500)
	dev.SetRegister(comm.CmdShutdownTemperature, 70)

	v, err := conv.MaxVoltage()
	require.NoError(t, err)
	require.Equal(t, uint16(1500), v)
	v, err = conv.ShutdownTemperature()
	require.NoError(t, err)
	require.Equal(t, uint16(70), v)
	beeper, err := conv.BeeperEnabled()
	require.NoError(t, err)
	require.True(t, beeper)
	version, err := conv.CommunicationVersion()
	require.NoError(t, err)
	require.Equal(t, uint16(sim.DefaultVersion), version)
	lf, err := conv.LimitingFactor()
	require.NoError(t, err)
	require.Equal(t, LimitingOff, lf)
}

func TestConverterGetFailureReturnsZero(t *testing.T) {
	conv, dev := newTestConverter(t)
	dev.SetRegister(comm.CmdMaxVoltage, 1500)
	dev.Inject(sim.Fault{BadChecksum: true})
	v, err := conv.MaxVoltage()
	require.ErrorIs(t, err, comm.ErrChecksum)
	require.Zero(t, v)
}

func TestConverterVerifiedSet(t *testing.T) {
	testCases := []struct {
		name  string
		cmd   comm.Command
		drift int64
		set   func(*Converter) error
		err   error
	}{
		{"max voltage exact", comm.CmdMaxVoltage, 0,
			func(c *Converter) error { return c.SetMaxVoltage(1500) }, nil},
		{"max voltage off by one", comm.CmdMaxVoltage, -1,
			func(c *Converter) error { return c.SetMaxVoltage(1500) }, comm.ErrReadbackMismatch},
		{"charge within tolerance", comm.CmdMilliampHours, -1,
			func(c *Converter) error { return c.SetChargeMilliampHours(1500) }, nil},
		{"charge counting up", comm.CmdMilliampHours, 99,
			func(c *Converter) error { return c.SetChargeMilliampHours(1500) }, nil},
		{"charge out of tolerance", comm.CmdMilliampHours, 100,
			func(c *Converter) error { return c.SetChargeMilliampHours(1500) }, comm.ErrReadbackMismatch},
		{"on time within tolerance", comm.CmdRuntime, 1,
			func(c *Converter) error { return c.SetPowerOnTime(60) }, nil},
		{"on time out of tolerance", comm.CmdRuntime, 2,
			func(c *Converter) error { return c.SetPowerOnTime(60) }, comm.ErrReadbackMismatch},
		{"beeper", comm.CmdBeeperEnabled, 0,
			func(c *Converter) error { return c.SetBeeperEnabled(false) }, nil},
		{"fan temperature", comm.CmdFanTemperature, 0,
			func(c *Converter) error { return c.SetFanStartTemperature(45) }, nil},
		{"over limit", comm.CmdMaxCurrent, 0,
			func(c *Converter) error { return c.SetMaxCurrent(1600) }, comm.ErrNotAcknowledged},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conv, dev := newTestConverter(t)
			dev.Drift(tc.cmd, tc.drift)
			err := tc.set(conv)
			if tc.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestConverterReadbackError(t *testing.T) {
	conv, dev := newTestConverter(t)
	dev.Drift(comm.CmdMaxVoltage, -1)
	err := conv.SetMaxVoltage(1500)
	var rbErr *comm.ReadbackError
	require.ErrorAs(t, err, &rbErr)
	require.Equal(t, comm.CmdMaxVoltage, rbErr.Command)
	require.Equal(t, uint32(1500), rbErr.Want)
	require.Equal(t, uint32(1499), rbErr.Got)
}

func TestConverterSetFailsOnReadback(t *testing.T) {
	conv, dev := newTestConverter(t)
	dev.Inject(sim.Fault{}, sim.Fault{Silent: true})
	require.ErrorIs(t, conv.SetMaxVoltage(1200), comm.ErrTimeout)
}

func TestConverterConcurrentVerifiedSets(t *testing.T) {
	conv, _ := newTestConverter(t)
	errCh := make(chan error, 2)
	for _, value := range []uint16{1200, 3400} {
		go func(value uint16) {
			var err error
			for n := 0; n < 20 && err == nil; n++ {
				err = conv.SetMaxVoltage(value)
			}
			errCh <- err
		}(value)
	}
	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)
}

func TestConverterByName(t *testing.T) {
	conv, dev := newTestConverter(t)
	require.NoError(t, conv.Set("max-voltage", 1200))
	require.Equal(t, uint32(1200), dev.Register(comm.CmdMaxVoltage))
	v, err := conv.Get("u")
	require.NoError(t, err)
	require.Equal(t, uint32(1200), v)

	require.NoError(t, conv.Set("store", 2))

	_, err = conv.Get("nope")
	require.ErrorIs(t, err, ErrUnknownAttribute)
	_, err = conv.Get("store")
	require.ErrorIs(t, err, ErrNotReadable)
	require.ErrorIs(t, conv.Set("voltage", 1), ErrNotWritable)
	require.ErrorIs(t, conv.Set("address", 2), ErrNotWritable)
	require.ErrorIs(t, conv.Set("baud-index", 1), ErrNotWritable)
}

func TestConverterMemory(t *testing.T) {
	conv, dev := newTestConverter(t)
	require.NoError(t, conv.SetMaxVoltage(1200))
	require.NoError(t, conv.SetMaxCurrent(300))
	require.NoError(t, conv.StoreToMemory(1))
	require.NoError(t, conv.SetMaxVoltage(500))
	require.NoError(t, conv.LoadFromMemory(1))
	require.Equal(t, uint32(1200), dev.Register(comm.CmdMaxVoltage))
	require.Equal(t, uint32(300), dev.Register(comm.CmdMaxCurrent))
	require.ErrorIs(t, conv.LoadFromMemory(sim.MemorySlots), comm.ErrNotAcknowledged)
}

func TestConverterAddress(t *testing.T) {
	conv, dev := newTestConverter(t)
	require.Error(t, conv.SetAddress(0))

	require.NoError(t, conv.SetAddress(9))
	require.Equal(t, comm.Address(9), dev.Address())
	require.Equal(t, comm.Address(1), conv.Address())
	require.ErrorIs(t, conv.TestConnection(6015), comm.ErrTimeout)

	require.NoError(t, conv.ResetAddress(9))
	require.NoError(t, conv.TestConnection(6015))

	require.NoError(t, conv.ChangeAddress(42))
	require.Equal(t, comm.Address(42), dev.Address())
	require.NoError(t, conv.TestConnection(6015))
}

func TestConverterBaudRate(t *testing.T) {
	conv, _ := newTestConverter(t)
	require.Error(t, conv.SetBaudRate(8))
	require.Error(t, conv.ResetBaudRate(8))

	idx, err := BaudIndexOf(115200)
	require.NoError(t, err)
	// the acknowledgement is lost in the rate switch
	require.Error(t, conv.SetBaudRate(idx))
	require.NoError(t, conv.ResetBaudRate(idx))
	require.NoError(t, conv.TestConnection(6015))
}

type plainStream struct {
	io.Reader
	io.Writer
}

func (plainStream) Close() error { return nil }

func TestConverterBaudRateUnsupported(t *testing.T) {
	conv, err := New(plainStream{strings.NewReader(""), &bytes.Buffer{}}, 1)
	require.NoError(t, err)
	defer conv.Close()
	require.Error(t, conv.ResetBaudRate(1))
}

func TestBaudIndex(t *testing.T) {
	for n, rate := range []int{9600, 19200, 38400, 57600, 115200, 1200, 2400, 4800} {
		idx, err := BaudIndexOf(rate)
		require.NoError(t, err)
		require.Equal(t, BaudIndex(n), idx)
		require.Equal(t, rate, idx.BaudRate())
	}
	_, err := BaudIndexOf(300)
	require.Error(t, err)
	require.False(t, BaudIndex(8).Valid())
	require.Zero(t, BaudIndex(8).BaudRate())
}

func TestConverterStatus(t *testing.T) {
	conv, dev := newTestConverter(t)
	dev.SetRegister(comm.CmdMaxVoltage, 1200)
	dev.SetRegister(comm.CmdMaxCurrent, 200)
	dev.SetRegister(comm.CmdOutputState, 1)
	dev.SetLoad(150)

	s, err := conv.Status()
	require.NoError(t, err)
	require.Equal(t, uint16(1200), s.Voltage)
	require.Equal(t, uint16(150), s.Current)
	require.Equal(t, uint32(18), s.Watts)
	require.True(t, s.OutputEnabled)
	require.Equal(t, LimitingVoltage, s.Limiting)
	require.InDelta(t, 12.0, s.Volts(), 1e-9)
	require.Contains(t, s.String(), "12.00V 1.50A")

	dev.Inject(sim.Fault{Silent: true}, sim.Fault{}, sim.Fault{BadChecksum: true})
	s, err = conv.Status()
	require.Error(t, err)
	require.ErrorIs(t, err, comm.ErrTimeout)
	require.Zero(t, s.Voltage)
	require.Equal(t, uint16(150), s.Current)
	require.Zero(t, s.Watts)
}

func TestLimitingFactorString(t *testing.T) {
	require.Equal(t, "off", LimitingOff.String())
	require.Equal(t, "CV", LimitingVoltage.String())
	require.Equal(t, "CC", LimitingCurrent.String())
	require.Equal(t, "limiting(7)", LimitingFactor(7).String())
}
