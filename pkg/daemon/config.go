package daemon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/spf13/viper"

	"github.com/robotalks/minghe.go/pkg/minghe"
)

// DeviceConfig is how the converter is reached.
type DeviceConfig struct {
	Port    string        `mapstructure:"port"`
	Baud    int           `mapstructure:"baud"`
	Address uint          `mapstructure:"address"`
	Timeout time.Duration `mapstructure:"timeout"`
	Model   uint          `mapstructure:"model"`
}

// PollConfig controls status polling.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// HTTPConfig is the API server.
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	// CommandTimeout bounds waiting for the loop to run a request.
	CommandTimeout time.Duration `mapstructure:"commandTimeout"`
}

// MQTTConfig is the telemetry broker, disabled if URL is empty.
type MQTTConfig struct {
	URL string `mapstructure:"url"`
}

// RecorderConfig is the sample database, disabled if DSN is empty.
type RecorderConfig struct {
	DSN       string        `mapstructure:"dsn"`
	Retention time.Duration `mapstructure:"retention"`
}

// LimitsConfig throttles writes to the device.
type LimitsConfig struct {
	WritesPerSecond float64 `mapstructure:"writesPerSecond"`
	Burst           int     `mapstructure:"burst"`
}

// Config is the dpsd configuration.
type Config struct {
	// ID names the device in telemetry, defaults to an ID derived from
	// the machine ID and the address.
	ID       string         `mapstructure:"id"`
	Device   DeviceConfig   `mapstructure:"device"`
	Poll     PollConfig     `mapstructure:"poll"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

// LoadConfig reads the config file at path, or DPSD_CONFIG if path is
// empty. Every key can be overridden by DPSD_<SECTION>_<KEY>, e.g.
// DPSD_DEVICE_PORT.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DPSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("dpsd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/dpsd")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &conf, nil
}

func setDefaults(v *viper.Viper) {
	def := minghe.NewConfig()
	v.SetDefault("id", "")
	v.SetDefault("device.port", def.Port)
	v.SetDefault("device.baud", def.Baud)
	v.SetDefault("device.address", def.Address)
	v.SetDefault("device.timeout", def.Timeout)
	v.SetDefault("device.model", def.Model)

	v.SetDefault("poll.interval", "1s")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")
	v.SetDefault("http.commandTimeout", "10s")

	v.SetDefault("mqtt.url", "")

	v.SetDefault("recorder.dsn", "")
	v.SetDefault("recorder.retention", "168h")

	v.SetDefault("limits.writesPerSecond", 2)
	v.SetDefault("limits.burst", 4)
}

// Converter returns the config to open the converter.
func (c *Config) Converter() *minghe.Config {
	return &minghe.Config{
		Port:    c.Device.Port,
		Baud:    c.Device.Baud,
		Address: c.Device.Address,
		Timeout: c.Device.Timeout,
		Model:   c.Device.Model,
	}
}

// DeviceID returns the configured ID or derives one.
func (c *Config) DeviceID() string {
	if c.ID != "" {
		return c.ID
	}
	id, err := machineid.ProtectedID("dpsd")
	if err != nil || len(id) < 12 {
		id = "local"
	} else {
		id = id[:12]
	}
	return fmt.Sprintf("dps-%s-%02d", id, c.Device.Address)
}

// Validate checks the config.
func (c *Config) Validate() error {
	if err := c.Converter().Validate(); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Limits.WritesPerSecond <= 0 || c.Limits.Burst <= 0 {
		return fmt.Errorf("write limits must be positive")
	}
	return nil
}
