package transport

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"
)

// ReadTimeout is how long a serial Read waits before returning nothing.
// It only bounds how quickly a reader notices it was stopped.
var ReadTimeout = 100 * time.Millisecond

// SerialPort is a local serial port which supports changing the baud rate
// while open.
type SerialPort struct {
	serial.Port
	name string
	mode serial.Mode
}

// OpenSerial opens a serial port at 8N1.
func OpenSerial(name string, baud int) (*SerialPort, error) {
	if name == "" {
		return nil, fmt.Errorf("serial port name is empty")
	}
	p := &SerialPort{
		name: name,
		mode: serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
	port, err := serial.Open(name, &p.mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err = port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	p.Port = port
	glog.V(1).Infof("opened %s at %d baud", name, baud)
	return p, nil
}

// Name returns the device path.
func (p *SerialPort) Name() string {
	return p.name
}

// BaudRate returns the current line rate.
func (p *SerialPort) BaudRate() int {
	return p.mode.BaudRate
}

// SetBaudRate changes the line rate.
func (p *SerialPort) SetBaudRate(rate int) error {
	mode := p.mode
	mode.BaudRate = rate
	if err := p.Port.SetMode(&mode); err != nil {
		return fmt.Errorf("%s: set %d baud: %w", p.name, rate, err)
	}
	p.mode = mode
	return nil
}

// String implements fmt.Stringer.
func (p *SerialPort) String() string {
	return fmt.Sprintf("%s@%d", p.name, p.mode.BaudRate)
}

// Ports lists the serial ports of the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
