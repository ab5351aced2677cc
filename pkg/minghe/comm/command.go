package comm

import (
	"fmt"
	"strconv"
)

// Address identifies a converter on the bus, valid in [1, 99].
type Address uint8

// Address range.
const (
	MinAddress Address = 1
	MaxAddress Address = 99
)

// Valid indicates the address can be put on the wire.
func (a Address) Valid() bool {
	return a >= MinAddress && a <= MaxAddress
}

// String renders the address as two digits.
func (a Address) String() string {
	return fmt.Sprintf("%02d", uint8(a))
}

// ParseAddress parses a decimal address.
func ParseAddress(s string) (Address, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %v", s, err)
	}
	if a := Address(n); a.Valid() {
		return a, nil
	}
	return 0, fmt.Errorf("address %d out of range [%d, %d]", n, MinAddress, MaxAddress)
}

// Command is the single-letter code of a device attribute.
type Command byte

// Commands understood by the converter.
const (
	CmdMaxVoltage           Command = 'u'
	CmdMaxCurrent           Command = 'i'
	CmdVoltage              Command = 'v'
	CmdCurrent              Command = 'j'
	CmdOutputState          Command = 'o'
	CmdLimitingFactor       Command = 'c'
	CmdWatts                Command = 'w'
	CmdMilliampHours        Command = 'a'
	CmdRuntime              Command = 't'
	CmdTemperature          Command = 'p'
	CmdShutdownTemperature  Command = 'e'
	CmdFanTemperature       Command = 'f'
	CmdFastVoltageChange    Command = 'g'
	CmdBootOutputEnabled    Command = 's'
	CmdBeeperEnabled        Command = 'x'
	CmdMachineModel         Command = 'z'
	CmdCommunicationVersion Command = 'r'
	CmdBaudRate             Command = 'b'
	CmdAddress              Command = 'd'
	CmdStoreToMemory        Command = 'm'
	CmdLoadFromMemory       Command = 'n'
)

// Access describes what can be done with a command.
type Access int

// Access flags.
const (
	Readable Access = 1 << iota
	Writable
)

// CommandInfo describes a command.
type CommandInfo struct {
	Command     Command `json:"-"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Unit        string  `json:"unit,omitempty"`
	// Scale is the raw value of one Unit, e.g. 100 for centivolts.
	Scale  uint32 `json:"scale,omitempty"`
	Access Access `json:"-"`
	// Tolerance is the accepted read-back drift after a write.
	Tolerance uint32 `json:"tolerance,omitempty"`
}

// Readable indicates the command supports get.
func (i CommandInfo) Readable() bool { return i.Access&Readable != 0 }

// Writable indicates the command supports set.
func (i CommandInfo) Writable() bool { return i.Access&Writable != 0 }

// Within checks a read-back value against the written one.
func (i CommandInfo) Within(want, got uint32) bool {
	if got == want {
		return true
	}
	diff := got - want
	if got < want {
		diff = want - got
	}
	return diff < i.Tolerance
}

var commandTable = [...]CommandInfo{
	{CmdMaxVoltage, "max-voltage", "Output voltage limit", "V", 100, Readable | Writable, 0},
	{CmdMaxCurrent, "max-current", "Output current limit", "A", 100, Readable | Writable, 0},
	{CmdVoltage, "voltage", "Live output voltage", "V", 100, Readable, 0},
	{CmdCurrent, "current", "Live output current", "A", 100, Readable, 0},
	{CmdOutputState, "output", "Output enabled", "", 0, Readable | Writable, 0},
	{CmdLimitingFactor, "limiting-factor", "0 off, 1 voltage, 2 current", "", 0, Readable, 0},
	{CmdWatts, "watts", "Live output power", "W", 0, Readable, 0},
	{CmdMilliampHours, "charge", "Cumulative charge", "mAh", 0, Readable | Writable, 100},
	{CmdRuntime, "on-time", "Cumulative output on time", "s", 0, Readable | Writable, 2},
	{CmdTemperature, "temperature", "Internal temperature", "C", 0, Readable, 0},
	{CmdShutdownTemperature, "shutdown-temperature", "Over-temperature shutdown threshold", "C", 0, Readable | Writable, 0},
	{CmdFanTemperature, "fan-temperature", "Fan start temperature", "C", 0, Readable | Writable, 0},
	{CmdFastVoltageChange, "fast-voltage-change", "Fast voltage change enabled", "", 0, Readable | Writable, 0},
	{CmdBootOutputEnabled, "boot-output", "Output enabled at power up", "", 0, Readable | Writable, 0},
	{CmdBeeperEnabled, "beeper", "Beeper enabled", "", 0, Readable | Writable, 0},
	{CmdMachineModel, "model", "Machine model, e.g. 6015", "", 0, Readable, 0},
	{CmdCommunicationVersion, "version", "Communication protocol version", "", 0, Readable, 0},
	{CmdBaudRate, "baud-index", "Baud rate index", "", 0, Writable, 0},
	{CmdAddress, "address", "Bus address", "", 0, Writable, 0},
	{CmdStoreToMemory, "store", "Store limits to memory slot", "", 0, Writable, 0},
	{CmdLoadFromMemory, "load", "Load limits from memory slot", "", 0, Writable, 0},
}

// Commands returns the command table.
func Commands() []CommandInfo {
	return commandTable[:]
}

// LookupCommand finds a command by name or by its letter.
func LookupCommand(name string) (CommandInfo, bool) {
	for _, info := range commandTable {
		if info.Name == name || (len(name) == 1 && byte(info.Command) == name[0]) {
			return info, true
		}
	}
	return CommandInfo{}, false
}

// Info returns the table entry of the command.
func (c Command) Info() (CommandInfo, bool) {
	for _, info := range commandTable {
		if info.Command == c {
			return info, true
		}
	}
	return CommandInfo{}, false
}

// Valid indicates the command is in the table.
func (c Command) Valid() bool {
	_, ok := c.Info()
	return ok
}

// String returns the command name, or the letter when unknown.
func (c Command) String() string {
	if info, ok := c.Info(); ok {
		return info.Name
	}
	return strconv.QuoteRune(rune(c))
}

var baudRates = [...]int{9600, 19200, 38400, 57600, 115200, 1200, 2400, 4800}

// BaudRates lists the rates selectable with CmdBaudRate, in index order.
func BaudRates() []int {
	return append([]int(nil), baudRates[:]...)
}

// BaudRateOf returns the rate of a baud index.
func BaudRateOf(index uint32) (int, bool) {
	if index >= uint32(len(baudRates)) {
		return 0, false
	}
	return baudRates[index], true
}
