package minghe

import (
	"fmt"
	"strconv"

	"github.com/robotalks/minghe.go/pkg/framework"
)

// LimitingFactor tells what currently limits the output.
type LimitingFactor uint8

// Limiting factors.
const (
	LimitingOff LimitingFactor = iota
	LimitingVoltage
	LimitingCurrent
)

// String implements fmt.Stringer.
func (f LimitingFactor) String() string {
	switch f {
	case LimitingOff:
		return "off"
	case LimitingVoltage:
		return "CV"
	case LimitingCurrent:
		return "CC"
	}
	return "limiting(" + strconv.Itoa(int(f)) + ")"
}

// Status is a snapshot of the live readings and limits.
// Raw units: 10mV for voltages, 10mA for currents.
type Status struct {
	Voltage       uint16         `json:"voltage"`
	Current       uint16         `json:"current"`
	Watts         uint32         `json:"watts"`
	OutputEnabled bool           `json:"output"`
	Limiting      LimitingFactor `json:"limiting"`
	Temperature   uint16         `json:"temperature"`
	Charge        uint32         `json:"charge"`
	OnTime        uint32         `json:"on_time"`
	MaxVoltage    uint16         `json:"max_voltage"`
	MaxCurrent    uint16         `json:"max_current"`
}

// Volts returns the output voltage in V.
func (s *Status) Volts() float64 {
	return float64(s.Voltage) / 100
}

// Amps returns the output current in A.
func (s *Status) Amps() float64 {
	return float64(s.Current) / 100
}

// String implements fmt.Stringer.
func (s *Status) String() string {
	out := "off"
	if s.OutputEnabled {
		out = "on"
	}
	return fmt.Sprintf("%.2fV %.2fA %dW output %s %s, limits %.2fV %.2fA, %dC, %dmAh, %ds",
		s.Volts(), s.Amps(), s.Watts, out, s.Limiting,
		float64(s.MaxVoltage)/100, float64(s.MaxCurrent)/100,
		s.Temperature, s.Charge, s.OnTime)
}

// Status reads all live readings. Every reading is attempted, and the
// failures are aggregated. Fields which failed are left zero.
func (c *Converter) Status() (*Status, error) {
	var (
		s    Status
		errs framework.AggregatedError
		err  error
	)
	s.Voltage, err = c.Voltage()
	errs.Add(err)
	s.Current, err = c.Current()
	errs.Add(err)
	s.Watts, err = c.Watts()
	errs.Add(err)
	s.OutputEnabled, err = c.OutputEnabled()
	errs.Add(err)
	s.Limiting, err = c.LimitingFactor()
	errs.Add(err)
	s.Temperature, err = c.Temperature()
	errs.Add(err)
	s.Charge, err = c.ChargeMilliampHours()
	errs.Add(err)
	s.OnTime, err = c.PowerOnTime()
	errs.Add(err)
	s.MaxVoltage, err = c.MaxVoltage()
	errs.Add(err)
	s.MaxCurrent, err = c.MaxCurrent()
	errs.Add(err)
	return &s, errs.Aggregate()
}
