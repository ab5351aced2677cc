package sh

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/minghe.go/pkg/minghe"
	"github.com/robotalks/minghe.go/pkg/minghe/comm"
	"github.com/robotalks/minghe.go/pkg/transport"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell  *ishell.Shell
	Config *minghe.Config
	// Conv is the connected converter, nil when not connected.
	Conv *minghe.Converter
	Port string
}

// Func is the body of a command. A nil result prints OK.
type Func func(s *Shell, args []string) (interface{}, error)

// OK is printed for commands without a result.
type OK struct{}

// String implements fmt.Stringer.
func (OK) String() string { return "OK" }

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&PortsCmd,
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *minghe.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// Exec wraps a Func as a command func and prints its result.
func Exec(fn Func) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		s := ShellFrom(c)
		res, err := fn(s, c.Args)
		if err != nil {
			c.Err(err)
			return
		}
		out, err := s.Format(res)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(out)
	}
}

// MustBeConnected wraps Func requires a connection.
func MustBeConnected(fn Func) Func {
	return func(s *Shell, args []string) (interface{}, error) {
		if s.Conv == nil {
			return nil, fmt.Errorf("not connected")
		}
		return fn(s, args)
	}
}

// Format renders a command result.
func (s *Shell) Format(res interface{}) (string, error) {
	if res == nil {
		res = OK{}
	}
	if s.OutputJSON {
		if _, ok := res.(OK); ok {
			return `{"ok":true}`, nil
		}
		out, err := json.Marshal(res)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	return fmt.Sprint(res), nil
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

func (s *Shell) setPrompt() {
	if s.Shell == nil {
		return
	}
	if s.Conv == nil {
		s.Shell.SetPrompt(unconnectedPrompt)
		return
	}
	s.Shell.SetPrompt(fmt.Sprintf("%s@%s > ", s.Conv.Address(), s.Port))
}

// Connect opens the converter at port and address.
func (s *Shell) Connect(port string, addr comm.Address) error {
	conf := *s.Config
	conf.Port, conf.Address = port, uint(addr)
	conv, err := conf.Open()
	if err != nil {
		return err
	}
	s.Disconnect()
	s.Conv, s.Port = conv, port
	s.setPrompt()
	return nil
}

// Disconnect closes the current converter.
func (s *Shell) Disconnect() {
	if s.Conv != nil {
		s.Conv.Close()
		s.Conv = nil
		s.Port = ""
		s.setPrompt()
	}
}

// Refresh updates the prompt after the address changed.
func (s *Shell) Refresh() {
	s.setPrompt()
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.Config.Port != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Port)
		}
		if err := s.Connect(s.Config.Port, comm.Address(s.Config.Address)); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.Port, err)
		}
	}
	defer s.Disconnect()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

func listPorts(s *Shell, args []string) (interface{}, error) {
	ports, err := transport.Ports()
	if err != nil {
		return nil, err
	}
	if ports == nil {
		ports = []string{}
	}
	return Ports(ports), nil
}

// Ports is the result of PortsCmd.
type Ports []string

// String implements fmt.Stringer.
func (p Ports) String() string {
	if len(p) == 0 {
		return "No serial ports found"
	}
	return strings.Join(p, "\n")
}

func connect(s *Shell, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("PORT required")
	}
	addr := comm.Address(s.Config.Address)
	if len(args) > 1 {
		var err error
		if addr, err = comm.ParseAddress(args[1]); err != nil {
			return nil, err
		}
	}
	return nil, s.Connect(args[0], addr)
}

var (
	// PortsCmd lists serial ports.
	PortsCmd = ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func:    Exec(listPorts),
	}

	// ConnectCmd connects a converter.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "PORT [ADDR]",
		Func:    Exec(connect),
	}

	// DisconnectCmd disconnects current converter.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: Exec(func(s *Shell, args []string) (interface{}, error) {
			s.Disconnect()
			return nil, nil
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(minghe.Default()).WithAutoConnect(true).Run(flag.Args()...)
}
