package minghe

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/robotalks/minghe.go/pkg/minghe/comm"
	"github.com/robotalks/minghe.go/pkg/transport"
)

// Config defines how to reach a converter.
type Config struct {
	// Port is a serial device path or a transport URL,
	// e.g. /dev/ttyUSB0, tcp://host:4001, sim://01?model=6015.
	Port    string
	Baud    int
	Address uint
	Timeout time.Duration
	// Model is checked with TestConnection after opening, 0 to skip.
	Model uint
}

var defaultConfig = Config{
	Baud:    DefaultBaudRate,
	Address: uint(comm.MinAddress),
	Timeout: comm.DefaultTimeout,
}

func init() {
	if val := os.Getenv("MINGHE_PORT"); val != "" {
		defaultConfig.Port = val
	}
	if val, err := strconv.Atoi(os.Getenv("MINGHE_BAUD")); err == nil {
		defaultConfig.Baud = val
	}
	if val, err := strconv.ParseUint(os.Getenv("MINGHE_ADDRESS"), 10, 8); err == nil {
		defaultConfig.Address = uint(val)
	}
	if val, err := time.ParseDuration(os.Getenv("MINGHE_TIMEOUT")); err == nil {
		defaultConfig.Timeout = val
	}
	if val, err := strconv.ParseUint(os.Getenv("MINGHE_MODEL"), 10, 16); err == nil {
		defaultConfig.Model = uint(val)
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Port, "port", defaultConfig.Port, "Serial port or transport URL of the converter.")
	flag.IntVar(&defaultConfig.Baud, "baud", defaultConfig.Baud, "Baud rate.")
	flag.UintVar(&defaultConfig.Address, "addr", defaultConfig.Address, "Converter address, 1-99.")
	flag.DurationVar(&defaultConfig.Timeout, "timeout", defaultConfig.Timeout, "Per-character response timeout.")
	flag.UintVar(&defaultConfig.Model, "model", defaultConfig.Model, "Expected machine model, 0 to skip the check.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must be specified")
	}
	if _, err := BaudIndexOf(c.Baud); err != nil {
		return err
	}
	if c.Address > 255 || !comm.Address(c.Address).Valid() {
		return fmt.Errorf("address %d out of range [%d, %d]", c.Address, comm.MinAddress, comm.MaxAddress)
	}
	if c.Model > 0xffff {
		return fmt.Errorf("invalid model %d", c.Model)
	}
	return nil
}

// Open opens the port and connects to the converter.
func (c *Config) Open() (*Converter, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	stream, err := transport.Open(c.Port, c.Baud)
	if err != nil {
		return nil, err
	}
	conv, err := New(stream, comm.Address(c.Address))
	if err != nil {
		stream.Close()
		return nil, err
	}
	if c.Timeout > 0 {
		conv.Client().Timeout = c.Timeout
	}
	if c.Model != 0 {
		if err = conv.TestConnection(uint16(c.Model)); err != nil {
			conv.Close()
			return nil, fmt.Errorf("%s: %w", c.Port, err)
		}
	}
	return conv, nil
}

// MustOpen opens the converter or fails.
func (c *Config) MustOpen() *Converter {
	conv, err := c.Open()
	if err != nil {
		log.Fatalln(err)
	}
	return conv
}
