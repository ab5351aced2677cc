package sim

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/minghe.go/pkg/minghe/comm"
)

func readResponse(t *testing.T, d *Device) string {
	buf := make([]byte, 64)
	n, err := d.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestDeviceWire(t *testing.T) {
	d := NewDevice(1, DefaultModel)
	defer d.Close()

	_, err := io.WriteString(d, ":01rzB\n")
	require.NoError(t, err)
	require.Equal(t, ":01rz6015X\r\n", readResponse(t, d))

	_, err = io.WriteString(d, ":01su1000I\n")
	require.NoError(t, err)
	require.Equal(t, string((&comm.Frame{Address: 1, Payload: []byte("ok")}).AppendFrame(nil)), readResponse(t, d))
	require.Equal(t, uint32(1000), d.Register(comm.CmdMaxVoltage))
	require.Equal(t, []string{":01rzB", ":01su1000I"}, d.Requests())
}

func TestDeviceIgnoresBadRequests(t *testing.T) {
	d := NewDevice(1, DefaultModel)
	defer d.Close()
	for _, req := range []string{
		":01rzC\n", // bad checksum
		":02rzC\n", // another device
		"noise\n",
		":01r\n",
	} {
		_, err := io.WriteString(d, req)
		require.NoError(t, err)
	}
	require.Empty(t, d.Requests())
}

func newTestClient(t *testing.T, d *Device) *comm.Client {
	c, err := comm.NewClient(d, d.Address())
	require.NoError(t, err)
	c.Timeout = 50 * time.Millisecond
	c.SettleDelay = 0
	t.Cleanup(func() {
		c.Close()
		d.Close()
	})
	return c
}

func TestDeviceRegisters(t *testing.T) {
	d := NewDevice(1, DefaultModel)
	c := newTestClient(t, d)

	v, err := c.Get(comm.CmdMachineModel)
	require.NoError(t, err)
	require.Equal(t, uint32(6015), v)

	require.NoError(t, c.Set(comm.CmdMaxVoltage, 6000))
	require.ErrorIs(t, c.Set(comm.CmdMaxVoltage, 6001), comm.ErrNotAcknowledged)
	require.NoError(t, c.Set(comm.CmdMaxCurrent, 200))
	require.ErrorIs(t, c.Set(comm.CmdMaxCurrent, 1501), comm.ErrNotAcknowledged)
	require.ErrorIs(t, c.Set(comm.CmdOutputState, 2), comm.ErrNotAcknowledged)

	_, err = c.Get(comm.CmdAddress)
	require.ErrorIs(t, err, comm.ErrUnexpectedResponse)
}

func TestDeviceLiveReadings(t *testing.T) {
	d := NewDevice(1, DefaultModel)
	c := newTestClient(t, d)
	d.SetRegister(comm.CmdMaxVoltage, 1200)
	d.SetRegister(comm.CmdMaxCurrent, 300)
	d.SetLoad(100)

	v, err := c.Get(comm.CmdVoltage)
	require.NoError(t, err)
	require.Zero(t, v)
	v, err = c.Get(comm.CmdLimitingFactor)
	require.NoError(t, err)
	require.Zero(t, v)

	require.NoError(t, c.Set(comm.CmdOutputState, 1))
	v, err = c.Get(comm.CmdVoltage)
	require.NoError(t, err)
	require.Equal(t, uint32(1200), v)
	v, err = c.Get(comm.CmdWatts)
	require.NoError(t, err)
	require.Equal(t, uint32(12), v)
	v, err = c.Get(comm.CmdLimitingFactor)
	require.NoError(t, err)
	require.Equal(t, uint32(1), v)

	d.SetLoad(500)
	v, err = c.Get(comm.CmdCurrent)
	require.NoError(t, err)
	require.Equal(t, uint32(300), v)
	v, err = c.Get(comm.CmdLimitingFactor)
	require.NoError(t, err)
	require.Equal(t, uint32(2), v)

	d.Advance(3600)
	require.Equal(t, uint32(3600), d.Register(comm.CmdRuntime))
	require.Equal(t, uint32(3000), d.Register(comm.CmdMilliampHours))
}

func TestDeviceMemory(t *testing.T) {
	d := NewDevice(1, DefaultModel)
	c := newTestClient(t, d)
	require.NoError(t, c.Set(comm.CmdMaxVoltage, 1234))
	require.NoError(t, c.Set(comm.CmdStoreToMemory, 3))
	require.NoError(t, c.Set(comm.CmdMaxVoltage, 500))
	require.NoError(t, c.Set(comm.CmdLoadFromMemory, 3))
	require.Equal(t, uint32(1234), d.Register(comm.CmdMaxVoltage))
	require.ErrorIs(t, c.Set(comm.CmdStoreToMemory, MemorySlots), comm.ErrNotAcknowledged)
}

func TestDeviceAddressChange(t *testing.T) {
	d := NewDevice(1, DefaultModel)
	c := newTestClient(t, d)
	require.NoError(t, c.Set(comm.CmdAddress, 7))
	require.Equal(t, comm.Address(7), d.Address())

	_, err := c.Get(comm.CmdMachineModel)
	require.ErrorIs(t, err, comm.ErrTimeout)
	require.NoError(t, c.SetAddress(7))
	_, err = c.Get(comm.CmdMachineModel)
	require.NoError(t, err)
}

func TestDeviceFaults(t *testing.T) {
	testCases := []struct {
		name  string
		fault Fault
		err   error
	}{
		{"junk", Fault{Junk: []byte("\x00\xff~")}, nil},
		{"bad checksum", Fault{BadChecksum: true}, comm.ErrChecksum},
		{"foreign address", Fault{Address: 2}, comm.ErrAddressMismatch},
		{"silent", Fault{Silent: true}, comm.ErrTimeout},
		{"payload", Fault{Payload: "ri1"}, comm.ErrUnexpectedResponse},
		{"raw", Fault{Raw: []byte(":01rz6015X\r\n")}, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDevice(1, DefaultModel)
			c := newTestClient(t, d)
			d.Inject(tc.fault)
			v, err := c.Get(comm.CmdMachineModel)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
			} else {
				require.NoError(t, err)
				require.Equal(t, uint32(6015), v)
			}
			// only one response is affected
			v, err = c.Get(comm.CmdMachineModel)
			require.NoError(t, err)
			require.Equal(t, uint32(6015), v)
		})
	}
}

func TestDeviceDrift(t *testing.T) {
	d := NewDevice(1, DefaultModel)
	c := newTestClient(t, d)
	d.Drift(comm.CmdMaxVoltage, -1)
	require.NoError(t, c.Set(comm.CmdMaxVoltage, 1500))
	require.Equal(t, uint32(1499), d.Register(comm.CmdMaxVoltage))
}

func TestDeviceBaudChange(t *testing.T) {
	d := NewDevice(1, DefaultModel)
	c := newTestClient(t, d)

	// the acknowledgement is sent at the new rate
	require.ErrorIs(t, c.Set(comm.CmdBaudRate, 4), comm.ErrTimeout)
	_, err := c.Get(comm.CmdMachineModel)
	require.ErrorIs(t, err, comm.ErrTimeout)

	require.NoError(t, d.SetBaudRate(115200))
	v, err := c.Get(comm.CmdMachineModel)
	require.NoError(t, err)
	require.Equal(t, uint32(6015), v)
}

func TestDeviceBaudChangeKeepsPendingOutput(t *testing.T) {
	d := NewDevice(1, DefaultModel)
	defer d.Close()

	_, err := io.WriteString(d, ":01rzB\n")
	require.NoError(t, err)
	req := comm.NewSetRequest(comm.CmdBaudRate, 4).Bytes(1)
	_, err = d.Write(req)
	require.NoError(t, err)

	ack := (&comm.Frame{Address: 1, Payload: []byte("ok")}).AppendFrame(nil)
	for i := range ack {
		ack[i] ^= 0x80
	}
	require.Equal(t, ":01rz6015X\r\n"+string(ack), readResponse(t, d))
}

func TestDeviceClose(t *testing.T) {
	d := NewDevice(1, DefaultModel)
	done := make(chan error, 1)
	go func() {
		_, err := d.Read(make([]byte, 8))
		done <- err
	}()
	require.NoError(t, d.Close())
	select {
	case err := <-done:
		require.Equal(t, io.EOF, err)
	case <-time.After(time.Second):
		t.Fatal("read not unblocked")
	}
	_, err := d.Write([]byte(":01rzB\n"))
	require.Error(t, err)
}
