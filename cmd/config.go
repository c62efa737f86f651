package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"i4.energy/across/atgw/transport"
)

// Config holds the application configuration
type Config struct {
	// SerialPort is the path to the host serial line (e.g. "/dev/ttyS1")
	SerialPort string
	// BaudRate is the baud rate of the serial line (e.g. 115200)
	BaudRate int
	// WebSocketURL reaches the serial line through a WebSocket bridge
	// instead. It takes precedence over SerialPort when set.
	WebSocketURL string
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// Echo is the echo mode of the AT interface after start
	Echo bool
	// Debug writes interpreter traces to the serial line
	Debug bool
	// DataDir receives uploaded files and staged firmware
	DataDir string
	// ClientSSLDir holds keys and certificates named by CIPSSL and HTTPSSL
	ClientSSLDir string
	// DialTimeout bounds outgoing CIPSTART connects
	DialTimeout time.Duration
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.SerialPort = "/dev/ttyS1"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.Echo = true
		c.DataDir = "/var/lib/atgw"
		c.DialTimeout = 30 * time.Second
		return nil
	}
}

// WithConfigFile loads configuration from a YAML, TOML or JSON file. An
// empty path leaves the config untouched.
func WithConfigFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}

		if v.IsSet("serial-port") {
			c.SerialPort = v.GetString("serial-port")
		}
		if v.IsSet("baud-rate") {
			c.BaudRate = v.GetInt("baud-rate")
		}
		if v.IsSet("websocket-url") {
			c.WebSocketURL = v.GetString("websocket-url")
		}
		if v.IsSet("log-level") {
			c.LogLevel = v.GetString("log-level")
		}
		if v.IsSet("echo") {
			c.Echo = v.GetBool("echo")
		}
		if v.IsSet("debug") {
			c.Debug = v.GetBool("debug")
		}
		if v.IsSet("data-dir") {
			c.DataDir = v.GetString("data-dir")
		}
		if v.IsSet("client-ssl-dir") {
			c.ClientSSLDir = v.GetString("client-ssl-dir")
		}
		if v.IsSet("dial-timeout") {
			c.DialTimeout = v.GetDuration("dial-timeout")
		}

		return nil
	}
}

// WithEnv loads configuration from ATGW_* environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if serial := os.Getenv("ATGW_SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("ATGW_BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if url := os.Getenv("ATGW_WEBSOCKET_URL"); url != "" {
			c.WebSocketURL = url
		}

		if level := os.Getenv("ATGW_LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if echo := os.Getenv("ATGW_ECHO"); echo != "" {
			if e, err := strconv.ParseBool(echo); err == nil {
				c.Echo = e
			}
		}

		if debug := os.Getenv("ATGW_DEBUG"); debug != "" {
			if d, err := strconv.ParseBool(debug); err == nil {
				c.Debug = d
			}
		}

		if dir := os.Getenv("ATGW_DATA_DIR"); dir != "" {
			c.DataDir = dir
		}

		if dir := os.Getenv("ATGW_CLIENT_SSL_DIR"); dir != "" {
			c.ClientSSLDir = dir
		}

		if timeout := os.Getenv("ATGW_DIAL_TIMEOUT"); timeout != "" {
			if d, err := time.ParseDuration(timeout); err == nil {
				c.DialTimeout = d
			}
		}

		return nil
	}
}

// WithFlags loads configuration from the command-line flags that were set
func WithFlags(fSet *pflag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *pflag.Flag) {
			switch f.Name {
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, e := strconv.Atoi(f.Value.String()); e == nil {
					c.BaudRate = b
				}
			case "websocket-url":
				c.WebSocketURL = f.Value.String()
			case "log-level":
				c.LogLevel = f.Value.String()
			case "echo":
				c.Echo = f.Value.String() == "true"
			case "debug":
				c.Debug = f.Value.String() == "true"
			case "data-dir":
				c.DataDir = f.Value.String()
			case "client-ssl-dir":
				c.ClientSSLDir = f.Value.String()
			case "dial-timeout":
				if d, e := time.ParseDuration(f.Value.String()); e == nil {
					c.DialTimeout = d
				} else {
					err = fmt.Errorf("invalid --dial-timeout: %w", e)
				}
			}
		})
		return err
	}
}

// Dialer returns the transport dialer selected by the configuration.
func (c *Config) Dialer() (transport.Dialer, error) {
	switch {
	case c.WebSocketURL != "":
		return transport.WebSocketDialer{URL: c.WebSocketURL}, nil
	case c.SerialPort != "":
		return transport.SerialDialer{PortName: c.SerialPort, BaudRate: c.BaudRate}, nil
	default:
		return nil, errNoLine
	}
}
