package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"i4.energy/across/polectl/dispatch"
	"i4.energy/across/polectl/mirror"
	"i4.energy/across/polectl/modem"
	"i4.energy/across/polectl/pole/modbusio"
	"i4.energy/across/polectl/pole/periphio"
)

// Pole hardware backends.
const (
	BackendSim    = "sim"
	BackendPeriph = "periph"
	BackendModbus = "modbus"
)

// Outbound channels.
const (
	ReportHTTP = "http"
	ReportSMS  = "sms"
)

// ModemConfig tunes the modem session.
type ModemConfig struct {
	// PowerKey is the gpioreg name of the PWRKEY line; empty if the modem
	// is powered externally.
	PowerKey   string       `yaml:"power_key"`
	BufferSize int          `yaml:"buffer_size"`
	Verify     bool         `yaml:"verify"`
	Retries    int          `yaml:"retries"`
	Timing     modem.Timing `yaml:"timing"`
}

// PushConfig is the HTTP-over-modem target.
type PushConfig struct {
	APN     string `yaml:"apn"`
	BaseURL string `yaml:"base_url"`
}

type SMSConfig struct {
	Number   string `yaml:"number"`
	Register int    `yaml:"register"`
}

// TokenRange bounds the valid control bytes. Empty derives it from the
// token map.
type TokenRange struct {
	Lo string `yaml:"lo"`
	Hi string `yaml:"hi"`
}

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the maintenance server listens on; empty
	// disables it
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyS0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`

	// Backend selects the pole hardware: sim, periph or modbus
	Backend string            `yaml:"backend"`
	Periph  periphio.Config   `yaml:"periph"`
	Modbus  modbusio.Config   `yaml:"modbus"`
	Modem   ModemConfig       `yaml:"modem"`
	Report  string            `yaml:"report"`
	Push    PushConfig        `yaml:"push"`
	SMS     SMSConfig         `yaml:"sms"`
	Framing dispatch.Framing  `yaml:"framing"`
	Window  dispatch.Window   `yaml:"window"`
	Tokens  map[string]string `yaml:"tokens"`
	Range   TokenRange        `yaml:"token_range"`

	Endpoints dispatch.Endpoints    `yaml:"endpoints"`
	Runner    dispatch.RunnerConfig `yaml:"runner"`
	MQTT      mirror.Options        `yaml:"mqtt"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
// and validates the result
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "127.0.0.1:8080"
		c.SerialPort = "/dev/ttyS0"
		c.BaudRate = modem.DefaultBaudRate
		c.LogLevel = "info"
		c.Backend = BackendSim
		c.Periph = periphio.DefaultConfig()
		c.Modbus = modbusio.DefaultConfig()
		c.Modem = ModemConfig{Retries: 2, Timing: modem.DefaultTiming()}
		c.Report = ReportSMS
		c.SMS = SMSConfig{Number: modem.DefaultSMSNumber, Register: modem.DefaultRegister}
		c.Framing = dispatch.FramingURC
		c.Window = dispatch.DefaultWindow()
		c.Endpoints = dispatch.DefaultEndpoints()
		c.Runner = dispatch.DefaultRunnerConfig()
		c.MQTT = mirror.Options{ClientID: "polectl", Prefix: "polectl"}
		return nil
	}
}

// WithFile overlays the YAML file at path. An empty path is a no-op.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr, ok := os.LookupEnv("BIND_ADDRESS"); ok {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if backend := os.Getenv("BACKEND"); backend != "" {
			c.Backend = backend
		}

		if report := os.Getenv("REPORT"); report != "" {
			c.Report = report
		}

		if broker := os.Getenv("MQTT_BROKER"); broker != "" {
			c.MQTT.Broker = broker
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags that were set
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "backend":
				c.Backend = f.Value.String()
			case "report":
				c.Report = f.Value.String()
			case "power-key":
				c.Modem.PowerKey = f.Value.String()
			case "mqtt-broker":
				c.MQTT.Broker = f.Value.String()
			}
		})
		return nil
	}
}

// Validate checks the values no later stage can recover from.
func (c *Config) Validate() error {
	var errs []error
	if c.SerialPort == "" {
		errs = append(errs, errors.New("serial port is required"))
	}
	if c.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid baud rate %d", c.BaudRate))
	}
	switch c.Backend {
	case BackendSim, BackendPeriph, BackendModbus:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	switch c.Report {
	case ReportHTTP:
		if c.Push.BaseURL == "" {
			errs = append(errs, errors.New("push.base_url is required for http reporting"))
		}
	case ReportSMS:
	default:
		errs = append(errs, fmt.Errorf("unknown report channel %q", c.Report))
	}
	switch c.Framing {
	case dispatch.FramingURC:
	case dispatch.FramingWindow:
		if c.Window.Lo >= c.Window.Hi {
			errs = append(errs, fmt.Errorf("window %d..%d is empty", c.Window.Lo, c.Window.Hi))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown framing %q", c.Framing))
	}
	if _, err := c.Table(); err != nil {
		errs = append(errs, fmt.Errorf("tokens: %w", err))
	}
	if c.Backend == BackendModbus && c.Modbus.Address == "" {
		errs = append(errs, errors.New("modbus.address is required for the modbus backend"))
	}
	return errors.Join(errs...)
}

// Table returns the configured token table, or the default one when no
// tokens are configured.
func (c *Config) Table() (dispatch.Table, error) {
	if len(c.Tokens) == 0 {
		return dispatch.DefaultTable(), nil
	}
	return dispatch.ParseTable(c.Tokens, c.Range.Lo, c.Range.Hi)
}
