// Package converter adds the converter commands to the shell.
package converter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/minghe.go/pkg/cli/sh"
	"github.com/robotalks/minghe.go/pkg/minghe"
	"github.com/robotalks/minghe.go/pkg/minghe/comm"
)

// Identity is the result of ping.
type Identity struct {
	Model   uint16 `json:"model"`
	Version uint16 `json:"version"`
}

// String implements fmt.Stringer.
func (i Identity) String() string {
	return fmt.Sprintf("DPS%d protocol v%d", i.Model, i.Version)
}

// Attribute is the result of get and set.
type Attribute struct {
	Name  string `json:"name"`
	Value uint32 `json:"value"`
}

// String implements fmt.Stringer.
func (a Attribute) String() string {
	return fmt.Sprintf("%s = %d", a.Name, a.Value)
}

// StatusResult is the result of status, which may be partial.
type StatusResult struct {
	*minghe.Status
	Error string `json:"error,omitempty"`
}

// String implements fmt.Stringer.
func (r StatusResult) String() string {
	if r.Error != "" {
		return r.Status.String() + "\n" + r.Error
	}
	return r.Status.String()
}

// CommandTable is the result of commands.
type CommandTable []comm.CommandInfo

// String implements fmt.Stringer.
func (t CommandTable) String() string {
	var b strings.Builder
	for _, info := range t {
		var access string
		if info.Readable() {
			access += "r"
		}
		if info.Writable() {
			access += "w"
		}
		fmt.Fprintf(&b, "%c %-22s %-2s %-4s %s\n", info.Command, info.Name, access, info.Unit, info.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func parseUint(name, s string, bits int) (uint64, error) {
	val, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("Invalid %s: %v", name, err)
	}
	return val, nil
}

func ping(s *sh.Shell, args []string) (interface{}, error) {
	if len(args) > 0 {
		model, err := parseUint("MODEL", args[0], 16)
		if err != nil {
			return nil, err
		}
		if err = s.Conv.TestConnection(uint16(model)); err != nil {
			return nil, err
		}
	}
	var (
		id  Identity
		err error
	)
	if id.Model, err = s.Conv.MachineModel(); err != nil {
		return nil, err
	}
	if id.Version, err = s.Conv.CommunicationVersion(); err != nil {
		return nil, err
	}
	return id, nil
}

func get(s *sh.Shell, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("NAME required")
	}
	val, err := s.Conv.Get(args[0])
	if err != nil {
		return nil, err
	}
	return Attribute{Name: args[0], Value: val}, nil
}

func set(s *sh.Shell, args []string) (interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("NAME VALUE required")
	}
	val, err := parseUint("VALUE", args[1], 32)
	if err != nil {
		return nil, err
	}
	if err = s.Conv.Set(args[0], uint32(val)); err != nil {
		return nil, err
	}
	return Attribute{Name: args[0], Value: uint32(val)}, nil
}

func status(s *sh.Shell, args []string) (interface{}, error) {
	st, err := s.Conv.Status()
	res := StatusResult{Status: st}
	if err != nil {
		res.Error = err.Error()
	}
	return res, nil
}

func memory(store bool) sh.Func {
	return func(s *sh.Shell, args []string) (interface{}, error) {
		if len(args) < 1 {
			return nil, fmt.Errorf("SLOT required")
		}
		slot, err := parseUint("SLOT", args[0], 8)
		if err != nil {
			return nil, err
		}
		if store {
			return nil, s.Conv.StoreToMemory(uint8(slot))
		}
		return nil, s.Conv.LoadFromMemory(uint8(slot))
	}
}

func address(s *sh.Shell, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("ADDR required")
	}
	addr, err := comm.ParseAddress(args[0])
	if err != nil {
		return nil, err
	}
	if err = s.Conv.ChangeAddress(addr); err != nil {
		return nil, err
	}
	s.Refresh()
	return nil, nil
}

// baud changes the local rate. With -device, the device is told to switch
// first, and a garbled acknowledgement is tolerated as long as the device
// answers at the new rate.
func baud(s *sh.Shell, args []string) (interface{}, error) {
	var device bool
	var rest []string
	for _, arg := range args {
		if arg == "-device" {
			device = true
		} else {
			rest = append(rest, arg)
		}
	}
	if len(rest) < 1 {
		return nil, fmt.Errorf("INDEX required")
	}
	n, err := parseUint("INDEX", rest[0], 8)
	if err != nil {
		return nil, err
	}
	index := minghe.BaudIndex(n)
	if !index.Valid() {
		return nil, fmt.Errorf("Invalid INDEX: %d not in %v", n, comm.BaudRates())
	}
	var setErr error
	if device {
		setErr = s.Conv.SetBaudRate(index)
	}
	if err = s.Conv.ResetBaudRate(index); err != nil {
		return nil, err
	}
	if device {
		if _, err = s.Conv.MachineModel(); err != nil {
			if setErr != nil {
				return nil, setErr
			}
			return nil, err
		}
	}
	return nil, nil
}

func profileApply(s *sh.Shell, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("FILE required")
	}
	p, err := minghe.LoadProfile(args[0])
	if err != nil {
		return nil, err
	}
	return nil, s.Conv.ApplyProfile(p)
}

func profileSave(s *sh.Shell, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("FILE required")
	}
	p, err := s.Conv.CaptureProfile()
	if err != nil {
		return nil, err
	}
	return nil, p.Save(args[0])
}

func commands(s *sh.Shell, args []string) (interface{}, error) {
	return CommandTable(comm.Commands()), nil
}

var (
	// PingCmd reads the model, optionally checks it.
	PingCmd = ishell.Cmd{
		Name:    "ping",
		Aliases: []string{"p"},
		Help:    "[MODEL]",
		Func:    sh.Exec(sh.MustBeConnected(ping)),
	}

	// GetCmd reads an attribute.
	GetCmd = ishell.Cmd{
		Name:    "get",
		Aliases: []string{"g"},
		Help:    "NAME",
		Func:    sh.Exec(sh.MustBeConnected(get)),
	}

	// SetCmd writes an attribute.
	SetCmd = ishell.Cmd{
		Name:    "set",
		Aliases: []string{"s"},
		Help:    "NAME VALUE",
		Func:    sh.Exec(sh.MustBeConnected(set)),
	}

	// StatusCmd reads all live values.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "",
		Func:    sh.Exec(sh.MustBeConnected(status)),
	}

	// StoreCmd saves the limits to a memory slot.
	StoreCmd = ishell.Cmd{
		Name: "store",
		Help: "SLOT",
		Func: sh.Exec(sh.MustBeConnected(memory(true))),
	}

	// LoadCmd restores the limits from a memory slot.
	LoadCmd = ishell.Cmd{
		Name: "load",
		Help: "SLOT",
		Func: sh.Exec(sh.MustBeConnected(memory(false))),
	}

	// AddressCmd moves the device to another address.
	AddressCmd = ishell.Cmd{
		Name: "address",
		Help: "ADDR",
		Func: sh.Exec(sh.MustBeConnected(address)),
	}

	// BaudCmd changes the baud rate.
	BaudCmd = ishell.Cmd{
		Name: "baud",
		Help: "INDEX [-device]",
		Func: sh.Exec(sh.MustBeConnected(baud)),
	}

	// ProfileCmd groups the profile commands.
	ProfileCmd = ishell.Cmd{
		Name: "profile",
		Help: "apply|save FILE",
	}

	// ProfileApplyCmd applies a profile file.
	ProfileApplyCmd = ishell.Cmd{
		Name: "apply",
		Help: "FILE",
		Func: sh.Exec(sh.MustBeConnected(profileApply)),
	}

	// ProfileSaveCmd saves the settings into a profile file.
	ProfileSaveCmd = ishell.Cmd{
		Name: "save",
		Help: "FILE",
		Func: sh.Exec(sh.MustBeConnected(profileSave)),
	}

	// CommandsCmd lists the command table.
	CommandsCmd = ishell.Cmd{
		Name: "commands",
		Help: "",
		Func: sh.Exec(commands),
	}
)

func init() {
	ProfileCmd.AddCmd(&ProfileApplyCmd)
	ProfileCmd.AddCmd(&ProfileSaveCmd)
	sh.AddCmds(
		&PingCmd,
		&GetCmd,
		&SetCmd,
		&StatusCmd,
		&StoreCmd,
		&LoadCmd,
		&AddressCmd,
		&BaudCmd,
		&ProfileCmd,
		&CommandsCmd,
	)
}
