// Package minghe drives MingHe DPS buck converters over their ASCII serial
// protocol.
//
// A Converter wraps a comm.Client with one getter and one setter per device
// attribute. Setters of readable attributes read the value back and fail
// with a comm.ReadbackError when the device didn't apply it.
package minghe

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/minghe.go/pkg/minghe/comm"
)

var (
	// ErrModelMismatch indicates the device reports another model.
	ErrModelMismatch = errors.New("model mismatch")
	// ErrNotReadable indicates a get on a write-only attribute.
	ErrNotReadable = errors.New("attribute not readable")
	// ErrNotWritable indicates a set on a read-only attribute.
	ErrNotWritable = errors.New("attribute not writable")
	// ErrUnknownAttribute indicates the name is not in the command table.
	ErrUnknownAttribute = errors.New("unknown attribute")
)

// Converter is a MingHe DPS converter on a byte stream.
// It may be shared: a write and its read-back are not interleaved with
// other writes.
type Converter struct {
	client *comm.Client
	stream io.ReadWriteCloser
	// held across a write and its read-back
	writeLock sync.Mutex
}

// New creates a Converter talking to the device at addr.
// The Converter takes ownership of stream.
func New(stream io.ReadWriteCloser, addr comm.Address) (*Converter, error) {
	client, err := comm.NewClient(stream, addr)
	if err != nil {
		return nil, err
	}
	return &Converter{client: client, stream: stream}, nil
}

// Client exposes the underlying command executor.
func (c *Converter) Client() *comm.Client {
	return c.client
}

// Address gets the address the converter is talked to at.
func (c *Converter) Address() comm.Address {
	return c.client.Address()
}

// Close stops the client and closes the stream.
func (c *Converter) Close() error {
	c.client.Close()
	return c.stream.Close()
}

// TestConnection reads the machine model and compares it with model.
func (c *Converter) TestConnection(model uint16) error {
	got, err := c.MachineModel()
	if err != nil {
		return err
	}
	if got != model {
		return fmt.Errorf("%w: want %d, got %d", ErrModelMismatch, model, got)
	}
	return nil
}

// Get reads an attribute by name or command letter.
func (c *Converter) Get(name string) (uint32, error) {
	info, ok := comm.LookupCommand(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
	}
	if !info.Readable() {
		return 0, fmt.Errorf("%w: %s", ErrNotReadable, info.Name)
	}
	return c.client.Get(info.Command)
}

// Set writes an attribute by name or command letter.
// Readable attributes are verified by reading them back. The address and
// baud-index attributes change how the device is reached and must be set
// with ChangeAddress or SetBaudRate.
func (c *Converter) Set(name string, value uint32) error {
	info, ok := comm.LookupCommand(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
	}
	switch {
	case !info.Writable(), info.Command == comm.CmdAddress, info.Command == comm.CmdBaudRate:
		return fmt.Errorf("%w: %s", ErrNotWritable, info.Name)
	case info.Readable():
		return c.setVerified(info.Command, value)
	}
	return c.write(info.Command, value)
}

func (c *Converter) getUint16(cmd comm.Command) (uint16, error) {
	v, err := c.client.Get(cmd)
	return uint16(v), err
}

func (c *Converter) getBool(cmd comm.Command) (bool, error) {
	v, err := c.client.Get(cmd)
	return v != 0, err
}

// write is an ack-only write.
func (c *Converter) write(cmd comm.Command, value uint32) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.client.Set(cmd, value)
}

func (c *Converter) setVerified(cmd comm.Command, value uint32) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.client.Set(cmd, value); err != nil {
		return err
	}
	got, err := c.client.Get(cmd)
	if err != nil {
		return fmt.Errorf("read back %s: %w", cmd, err)
	}
	if info, _ := cmd.Info(); !info.Within(value, got) {
		glog.Warningf("%s: wrote %d, read back %d", cmd, value, got)
		return &comm.ReadbackError{Command: cmd, Want: value, Got: got}
	}
	return nil
}

func boolValue(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// MachineModel reads the model number, e.g. 6015.
func (c *Converter) MachineModel() (uint16, error) {
	return c.getUint16(comm.CmdMachineModel)
}

// CommunicationVersion reads the protocol version.
func (c *Converter) CommunicationVersion() (uint16, error) {
	return c.getUint16(comm.CmdCommunicationVersion)
}

// MaxVoltage reads the voltage limit in 10mV.
func (c *Converter) MaxVoltage() (uint16, error) {
	return c.getUint16(comm.CmdMaxVoltage)
}

// SetMaxVoltage sets the voltage limit in 10mV.
func (c *Converter) SetMaxVoltage(centivolts uint16) error {
	return c.setVerified(comm.CmdMaxVoltage, uint32(centivolts))
}

// MaxCurrent reads the current limit in 10mA.
func (c *Converter) MaxCurrent() (uint16, error) {
	return c.getUint16(comm.CmdMaxCurrent)
}

// SetMaxCurrent sets the current limit in 10mA.
func (c *Converter) SetMaxCurrent(centiamps uint16) error {
	return c.setVerified(comm.CmdMaxCurrent, uint32(centiamps))
}

// Voltage reads the output voltage in 10mV.
func (c *Converter) Voltage() (uint16, error) {
	return c.getUint16(comm.CmdVoltage)
}

// Current reads the output current in 10mA.
func (c *Converter) Current() (uint16, error) {
	return c.getUint16(comm.CmdCurrent)
}

// OutputEnabled reads the output state.
func (c *Converter) OutputEnabled() (bool, error) {
	return c.getBool(comm.CmdOutputState)
}

// SetOutputEnabled turns the output on or off.
func (c *Converter) SetOutputEnabled(enabled bool) error {
	return c.setVerified(comm.CmdOutputState, boolValue(enabled))
}

// LimitingFactor reads what limits the output.
func (c *Converter) LimitingFactor() (LimitingFactor, error) {
	v, err := c.client.Get(comm.CmdLimitingFactor)
	return LimitingFactor(v), err
}

// Watts reads the output power.
func (c *Converter) Watts() (uint32, error) {
	return c.client.Get(comm.CmdWatts)
}

// ChargeMilliampHours reads the accumulated charge.
func (c *Converter) ChargeMilliampHours() (uint32, error) {
	return c.client.Get(comm.CmdMilliampHours)
}

// SetChargeMilliampHours presets the charge counter.
// The counter keeps running, so the read back may drift slightly.
func (c *Converter) SetChargeMilliampHours(mAh uint32) error {
	return c.setVerified(comm.CmdMilliampHours, mAh)
}

// PowerOnTime reads the output on time in seconds.
func (c *Converter) PowerOnTime() (uint32, error) {
	return c.client.Get(comm.CmdRuntime)
}

// SetPowerOnTime presets the on time counter.
func (c *Converter) SetPowerOnTime(seconds uint32) error {
	return c.setVerified(comm.CmdRuntime, seconds)
}

// Temperature reads the internal temperature in Celsius.
func (c *Converter) Temperature() (uint16, error) {
	return c.getUint16(comm.CmdTemperature)
}

// ShutdownTemperature reads the over-temperature threshold.
func (c *Converter) ShutdownTemperature() (uint16, error) {
	return c.getUint16(comm.CmdShutdownTemperature)
}

// SetShutdownTemperature sets the over-temperature threshold.
func (c *Converter) SetShutdownTemperature(celsius uint8) error {
	return c.setVerified(comm.CmdShutdownTemperature, uint32(celsius))
}

// FanStartTemperature reads the fan threshold.
func (c *Converter) FanStartTemperature() (uint16, error) {
	return c.getUint16(comm.CmdFanTemperature)
}

// SetFanStartTemperature sets the fan threshold.
func (c *Converter) SetFanStartTemperature(celsius uint8) error {
	return c.setVerified(comm.CmdFanTemperature, uint32(celsius))
}

// FastVoltageChangeEnabled reads the fast voltage change flag.
func (c *Converter) FastVoltageChangeEnabled() (bool, error) {
	return c.getBool(comm.CmdFastVoltageChange)
}

// SetFastVoltageChangeEnabled sets the fast voltage change flag.
func (c *Converter) SetFastVoltageChangeEnabled(enabled bool) error {
	return c.setVerified(comm.CmdFastVoltageChange, boolValue(enabled))
}

// BootOutputEnabled reads whether output is on at power up.
func (c *Converter) BootOutputEnabled() (bool, error) {
	return c.getBool(comm.CmdBootOutputEnabled)
}

// SetBootOutputEnabled sets whether output is on at power up.
func (c *Converter) SetBootOutputEnabled(enabled bool) error {
	return c.setVerified(comm.CmdBootOutputEnabled, boolValue(enabled))
}

// BeeperEnabled reads the beeper flag.
func (c *Converter) BeeperEnabled() (bool, error) {
	return c.getBool(comm.CmdBeeperEnabled)
}

// SetBeeperEnabled sets the beeper flag.
func (c *Converter) SetBeeperEnabled(enabled bool) error {
	return c.setVerified(comm.CmdBeeperEnabled, boolValue(enabled))
}

// StoreToMemory saves the current limits into a memory slot.
func (c *Converter) StoreToMemory(slot uint8) error {
	return c.write(comm.CmdStoreToMemory, uint32(slot))
}

// LoadFromMemory restores the limits from a memory slot.
func (c *Converter) LoadFromMemory(slot uint8) error {
	return c.write(comm.CmdLoadFromMemory, uint32(slot))
}

// SetAddress changes the address stored in the device.
// The device answers at the new address afterwards, so ResetAddress must
// be called right after a successful change.
func (c *Converter) SetAddress(addr comm.Address) error {
	if !addr.Valid() {
		return fmt.Errorf("%w: address %d", comm.ErrInvalidRequest, uint8(addr))
	}
	return c.write(comm.CmdAddress, uint32(addr))
}

// ResetAddress changes the address this side talks to.
func (c *Converter) ResetAddress(addr comm.Address) error {
	return c.client.SetAddress(addr)
}

// ChangeAddress moves the device to addr and follows it.
func (c *Converter) ChangeAddress(addr comm.Address) error {
	if !addr.Valid() {
		return fmt.Errorf("%w: address %d", comm.ErrInvalidRequest, uint8(addr))
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.client.Set(comm.CmdAddress, uint32(addr)); err != nil {
		return err
	}
	return c.client.SetAddress(addr)
}
