// Package sim simulates a MingHe DPS converter behind a byte stream.
package sim

import (
	"bytes"
	"io"
	"strconv"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/minghe.go/pkg/minghe/comm"
)

// Defaults of a new Device.
const (
	DefaultModel   = 6015
	DefaultVersion = 22
	MemorySlots    = 10
)

// Fault alters the response to one request.
type Fault struct {
	// Junk is sent before the response.
	Junk []byte
	// BadChecksum corrupts the LRC of the response.
	BadChecksum bool
	// Address answers as another device when non-zero.
	Address comm.Address
	// Payload replaces the response payload.
	Payload string
	// Raw replaces the whole response.
	Raw []byte
	// Silent drops the response.
	Silent bool
}

// Device is a simulated converter. The host side writes requests to it
// and reads responses from it.
type Device struct {
	Model   uint16
	Version uint16

	lock     sync.Mutex
	cond     *sync.Cond
	addr     comm.Address
	regs     map[comm.Command]uint32
	memory   [MemorySlots][2]uint32
	load     uint32
	drift    map[comm.Command]int64
	faults   []Fault
	requests []string
	in       []byte
	out      bytes.Buffer
	hostBaud int
	closed   bool
}

// NewDevice creates a Device at addr. The model decides the limits,
// e.g. 6015 supports 60V and 15A.
func NewDevice(addr comm.Address, model uint16) *Device {
	d := &Device{
		Model:    model,
		Version:  DefaultVersion,
		addr:     addr,
		drift:    make(map[comm.Command]int64),
		hostBaud: comm.BaudRates()[0],
		regs: map[comm.Command]uint32{
			comm.CmdMaxVoltage:          500,
			comm.CmdMaxCurrent:          100,
			comm.CmdOutputState:         0,
			comm.CmdMilliampHours:       0,
			comm.CmdRuntime:             0,
			comm.CmdTemperature:         25,
			comm.CmdShutdownTemperature: 80,
			comm.CmdFanTemperature:      40,
			comm.CmdFastVoltageChange:   0,
			comm.CmdBootOutputEnabled:   0,
			comm.CmdBeeperEnabled:       1,
			comm.CmdBaudRate:            0,
		},
	}
	d.cond = sync.NewCond(&d.lock)
	return d
}

// MaxVoltageLimit is the highest accepted max-voltage in 10mV.
func (d *Device) MaxVoltageLimit() uint32 {
	return uint32(d.Model/100) * 100
}

// MaxCurrentLimit is the highest accepted max-current in 10mA.
func (d *Device) MaxCurrentLimit() uint32 {
	return uint32(d.Model%100) * 100
}

// Address gets the current address of the device.
func (d *Device) Address() comm.Address {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.addr
}

// Register reads a stored register.
func (d *Device) Register(cmd comm.Command) uint32 {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.regs[cmd]
}

// SetRegister overwrites a stored register.
func (d *Device) SetRegister(cmd comm.Command, value uint32) {
	d.lock.Lock()
	d.regs[cmd] = value
	d.lock.Unlock()
}

// SetLoad sets the current the load would draw, in 10mA.
func (d *Device) SetLoad(centiamps uint32) {
	d.lock.Lock()
	d.load = centiamps
	d.lock.Unlock()
}

// Drift offsets the value stored by every later write of cmd.
func (d *Device) Drift(cmd comm.Command, delta int64) {
	d.lock.Lock()
	d.drift[cmd] = delta
	d.lock.Unlock()
}

// Advance runs the counters for a number of seconds.
func (d *Device) Advance(seconds uint32) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.regs[comm.CmdOutputState] == 0 {
		return
	}
	d.regs[comm.CmdRuntime] += seconds
	d.regs[comm.CmdMilliampHours] += d.current() * 10 * seconds / 3600
}

// Inject queues faults, each applied to the response of one request.
func (d *Device) Inject(faults ...Fault) {
	d.lock.Lock()
	d.faults = append(d.faults, faults...)
	d.lock.Unlock()
}

// Requests returns the request frames received so far.
func (d *Device) Requests() []string {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]string(nil), d.requests...)
}

// SetBaudRate changes the host side line rate. Requests are only
// understood while it matches the rate selected in the device.
func (d *Device) SetBaudRate(rate int) error {
	d.lock.Lock()
	d.hostBaud = rate
	d.lock.Unlock()
	return nil
}

// Write implements io.Writer. Complete request lines are answered
// immediately.
func (d *Device) Write(p []byte) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	if !d.baudMatched() {
		// the device only sees noise
		return len(p), nil
	}
	d.in = append(d.in, p...)
	for {
		n := bytes.IndexByte(d.in, comm.FrameEnd)
		if n < 0 {
			break
		}
		line := bytes.TrimRight(d.in[:n], "\r")
		d.in = d.in[n+1:]
		if start := bytes.IndexByte(line, comm.FrameStart); start >= 0 {
			d.handle(line[start:])
		}
	}
	return len(p), nil
}

// Read implements io.Reader. It blocks until a response is available.
func (d *Device) Read(p []byte) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	for d.out.Len() == 0 && !d.closed {
		d.cond.Wait()
	}
	if d.out.Len() == 0 {
		return 0, io.EOF
	}
	return d.out.Read(p)
}

// Close implements io.Closer.
func (d *Device) Close() error {
	d.lock.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.lock.Unlock()
	return nil
}

func (d *Device) baudMatched() bool {
	rate, _ := comm.BaudRateOf(d.regs[comm.CmdBaudRate])
	return rate == d.hostBaud
}

func (d *Device) current() uint32 {
	if d.regs[comm.CmdOutputState] == 0 {
		return 0
	}
	if d.load > d.regs[comm.CmdMaxCurrent] {
		return d.regs[comm.CmdMaxCurrent]
	}
	return d.load
}

func (d *Device) live(cmd comm.Command) uint32 {
	switch cmd {
	case comm.CmdVoltage:
		if d.regs[comm.CmdOutputState] == 0 {
			return 0
		}
		return d.regs[comm.CmdMaxVoltage]
	case comm.CmdCurrent:
		return d.current()
	case comm.CmdWatts:
		return d.live(comm.CmdVoltage) * d.current() / 10000
	case comm.CmdLimitingFactor:
		switch {
		case d.regs[comm.CmdOutputState] == 0:
			return 0
		case d.load >= d.regs[comm.CmdMaxCurrent]:
			return 2
		default:
			return 1
		}
	case comm.CmdMachineModel:
		return uint32(d.Model)
	case comm.CmdCommunicationVersion:
		return uint32(d.Version)
	}
	return d.regs[cmd]
}

// handle answers one request line which starts with the frame start.
func (d *Device) handle(line []byte) {
	// : A A m c CHK
	if len(line) < 6 {
		return
	}
	body, chk := line[:len(line)-1], line[len(line)-1]
	if comm.ChecksumOf(body) != chk {
		glog.V(2).Infof("sim: checksum error in %q", line)
		return
	}
	addr, err := comm.ParseAddress(string(body[1:3]))
	if err != nil || addr != d.addr {
		return
	}
	d.requests = append(d.requests, string(line))
	marker, cmd, value := comm.Marker(body[3]), comm.Command(body[4]), body[5:]

	var payload string
	switch marker {
	case comm.MarkerRead:
		payload = d.read(cmd)
	case comm.MarkerWrite:
		payload = d.write(cmd, value)
	default:
		return
	}
	d.respond(payload)
	if marker == comm.MarkerWrite && cmd == comm.CmdAddress && payload == "ok" {
		v, _ := strconv.ParseUint(string(value), 10, 8)
		d.addr = comm.Address(v)
	}
}

func (d *Device) read(cmd comm.Command) string {
	info, ok := cmd.Info()
	if !ok || !info.Readable() {
		return "err"
	}
	return string(comm.MarkerRead) + string(rune(cmd)) + strconv.FormatUint(uint64(d.live(cmd)), 10)
}

func (d *Device) write(cmd comm.Command, value []byte) string {
	info, ok := cmd.Info()
	if !ok || !info.Writable() {
		return "err"
	}
	v, err := strconv.ParseUint(string(value), 10, 32)
	if err != nil {
		return "err"
	}
	val := uint32(v)
	switch cmd {
	case comm.CmdMaxVoltage:
		if val > d.MaxVoltageLimit() {
			return "err"
		}
	case comm.CmdMaxCurrent:
		if val > d.MaxCurrentLimit() {
			return "err"
		}
	case comm.CmdOutputState, comm.CmdFastVoltageChange, comm.CmdBootOutputEnabled, comm.CmdBeeperEnabled:
		if val > 1 {
			return "err"
		}
	case comm.CmdShutdownTemperature, comm.CmdFanTemperature:
		if val > 150 {
			return "err"
		}
	case comm.CmdBaudRate:
		if _, ok := comm.BaudRateOf(val); !ok {
			return "err"
		}
	case comm.CmdAddress:
		if !comm.Address(val).Valid() {
			return "err"
		}
		return "ok"
	case comm.CmdStoreToMemory:
		if val >= MemorySlots {
			return "err"
		}
		d.memory[val] = [2]uint32{d.regs[comm.CmdMaxVoltage], d.regs[comm.CmdMaxCurrent]}
		return "ok"
	case comm.CmdLoadFromMemory:
		if val >= MemorySlots {
			return "err"
		}
		d.regs[comm.CmdMaxVoltage], d.regs[comm.CmdMaxCurrent] = d.memory[val][0], d.memory[val][1]
		return "ok"
	}
	if delta := d.drift[cmd]; delta != 0 {
		if drifted := int64(val) + delta; drifted >= 0 {
			val = uint32(drifted)
		}
	}
	d.regs[cmd] = val
	return "ok"
}

func (d *Device) respond(payload string) {
	var fault Fault
	if len(d.faults) > 0 {
		fault, d.faults = d.faults[0], d.faults[1:]
	}
	if fault.Silent {
		return
	}
	resp := append([]byte(nil), fault.Junk...)
	switch {
	case fault.Raw != nil:
		resp = append(resp, fault.Raw...)
	default:
		if fault.Payload != "" {
			payload = fault.Payload
		}
		frame := &comm.Frame{Address: d.addr, Payload: []byte(payload)}
		if fault.Address != 0 {
			frame.Address = fault.Address
		}
		b := frame.AppendFrame(nil)
		if fault.BadChecksum {
			// the LRC precedes CR LF
			b[len(b)-3] = 'A' + (b[len(b)-3]-'A'+1)%26
		}
		resp = append(resp, b...)
	}
	if !d.baudMatched() {
		// the acknowledgement of a baud change leaves at the new rate
		for i := range resp {
			resp[i] ^= 0x80
		}
	}
	d.out.Write(resp)
	d.cond.Broadcast()
}
