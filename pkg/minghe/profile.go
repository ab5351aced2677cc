package minghe

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/robotalks/minghe.go/pkg/framework"
)

// Profile is a set of device settings. Nil fields are left as they are.
type Profile struct {
	MaxVoltage          *uint16 `yaml:"max_voltage,omitempty" json:"max_voltage,omitempty"`
	MaxCurrent          *uint16 `yaml:"max_current,omitempty" json:"max_current,omitempty"`
	ShutdownTemperature *uint8  `yaml:"shutdown_temperature,omitempty" json:"shutdown_temperature,omitempty"`
	FanStartTemperature *uint8  `yaml:"fan_start_temperature,omitempty" json:"fan_start_temperature,omitempty"`
	FastVoltageChange   *bool   `yaml:"fast_voltage_change,omitempty" json:"fast_voltage_change,omitempty"`
	BootOutput          *bool   `yaml:"boot_output,omitempty" json:"boot_output,omitempty"`
	Beeper              *bool   `yaml:"beeper,omitempty" json:"beeper,omitempty"`
	// StoreSlot saves the limits into a memory slot once applied.
	StoreSlot *uint8 `yaml:"store_slot,omitempty" json:"store_slot,omitempty"`
	// Output is applied last, after the limits are in place.
	Output *bool `yaml:"output,omitempty" json:"output,omitempty"`
}

// ParseProfile decodes a YAML profile. Unknown keys are rejected.
func ParseProfile(r io.Reader) (*Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return &p, nil
}

// LoadProfile reads a YAML profile file.
func LoadProfile(fn string) (*Profile, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseProfile(f)
}

// Encode writes the profile as YAML.
func (p *Profile) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}

// Save writes the profile to a file.
func (p *Profile) Save(fn string) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	if err = p.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ApplyProfile writes the settings of p in a fixed order and stops at the
// first failure, which leaves the remaining settings untouched.
func (c *Converter) ApplyProfile(p *Profile) error {
	steps := []struct {
		name  string
		apply func() error
	}{
		{"output", func() error {
			// limits are changed with the output off
			if p.Output != nil && !*p.Output {
				return c.SetOutputEnabled(false)
			}
			return nil
		}},
		{"max-voltage", func() error {
			if p.MaxVoltage == nil {
				return nil
			}
			return c.SetMaxVoltage(*p.MaxVoltage)
		}},
		{"max-current", func() error {
			if p.MaxCurrent == nil {
				return nil
			}
			return c.SetMaxCurrent(*p.MaxCurrent)
		}},
		{"shutdown-temperature", func() error {
			if p.ShutdownTemperature == nil {
				return nil
			}
			return c.SetShutdownTemperature(*p.ShutdownTemperature)
		}},
		{"fan-temperature", func() error {
			if p.FanStartTemperature == nil {
				return nil
			}
			return c.SetFanStartTemperature(*p.FanStartTemperature)
		}},
		{"fast-voltage-change", func() error {
			if p.FastVoltageChange == nil {
				return nil
			}
			return c.SetFastVoltageChangeEnabled(*p.FastVoltageChange)
		}},
		{"boot-output", func() error {
			if p.BootOutput == nil {
				return nil
			}
			return c.SetBootOutputEnabled(*p.BootOutput)
		}},
		{"beeper", func() error {
			if p.Beeper == nil {
				return nil
			}
			return c.SetBeeperEnabled(*p.Beeper)
		}},
		{"store", func() error {
			if p.StoreSlot == nil {
				return nil
			}
			return c.StoreToMemory(*p.StoreSlot)
		}},
		{"output", func() error {
			if p.Output != nil && *p.Output {
				return c.SetOutputEnabled(true)
			}
			return nil
		}},
	}
	for _, step := range steps {
		if err := step.apply(); err != nil {
			return fmt.Errorf("apply %s: %w", step.name, err)
		}
	}
	return nil
}

// CaptureProfile reads the current settings into a profile.
// Settings which can't be read are left nil and reported in the error.
func (c *Converter) CaptureProfile() (*Profile, error) {
	var (
		p    Profile
		errs framework.AggregatedError
	)
	if v, err := c.MaxVoltage(); err == nil {
		p.MaxVoltage = &v
	} else {
		errs.Add(err)
	}
	if v, err := c.MaxCurrent(); err == nil {
		p.MaxCurrent = &v
	} else {
		errs.Add(err)
	}
	if v, err := c.ShutdownTemperature(); err == nil {
		t := uint8(v)
		p.ShutdownTemperature = &t
	} else {
		errs.Add(err)
	}
	if v, err := c.FanStartTemperature(); err == nil {
		t := uint8(v)
		p.FanStartTemperature = &t
	} else {
		errs.Add(err)
	}
	for _, flag := range []struct {
		get func() (bool, error)
		dst **bool
	}{
		{c.FastVoltageChangeEnabled, &p.FastVoltageChange},
		{c.BootOutputEnabled, &p.BootOutput},
		{c.BeeperEnabled, &p.Beeper},
	} {
		if v, err := flag.get(); err == nil {
			*flag.dst = &v
		} else {
			errs.Add(err)
		}
	}
	return &p, errs.Aggregate()
}
