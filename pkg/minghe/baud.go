package minghe

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/robotalks/minghe.go/pkg/minghe/comm"
)

// BaudIndex is the device's code for a baud rate.
type BaudIndex uint8

// DefaultBaudRate is the factory baud rate.
const DefaultBaudRate = 9600

// Valid indicates the index is in the table.
func (i BaudIndex) Valid() bool {
	_, ok := comm.BaudRateOf(uint32(i))
	return ok
}

// BaudRate returns the rate of the index, or 0 if invalid.
func (i BaudIndex) BaudRate() int {
	rate, _ := comm.BaudRateOf(uint32(i))
	return rate
}

// BaudIndexOf finds the index of a rate.
func BaudIndexOf(rate int) (BaudIndex, error) {
	for n, r := range comm.BaudRates() {
		if r == rate {
			return BaudIndex(n), nil
		}
	}
	return 0, fmt.Errorf("unsupported baud rate %d", rate)
}

// BaudRateSetter is implemented by streams which can change the line rate.
type BaudRateSetter interface {
	SetBaudRate(rate int) error
}

// SetBaudRate asks the device to switch to another baud rate.
//
// The device switches rate while acknowledging, so the "ok" often arrives
// garbled and this may fail even when the device applied the change. The
// local rate is left untouched; follow with ResetBaudRate, then
// TestConnection to find out which rate the device ended up on.
func (c *Converter) SetBaudRate(index BaudIndex) error {
	if !index.Valid() {
		return fmt.Errorf("%w: baud index %d", comm.ErrInvalidRequest, index)
	}
	return c.write(comm.CmdBaudRate, uint32(index))
}

// ResetBaudRate changes the local line rate.
// The stream must implement BaudRateSetter.
func (c *Converter) ResetBaudRate(index BaudIndex) error {
	if !index.Valid() {
		return fmt.Errorf("invalid baud index %d", index)
	}
	setter, ok := c.stream.(BaudRateSetter)
	if !ok {
		return fmt.Errorf("stream %T doesn't support baud rate change", c.stream)
	}
	glog.Infof("switching to %d baud", index.BaudRate())
	return setter.SetBaudRate(index.BaudRate())
}
