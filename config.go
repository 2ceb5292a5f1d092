package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the ESP32's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is negotiated with the firmware after every reset (e.g. 921600)
	BaudRate int `yaml:"baud_rate"`
	// FlowControl is one of "none", "rts", "cts" or "rtscts"
	FlowControl string `yaml:"flow_control"`
	// HardReset drives EN and IO0 through RTS and DTR
	HardReset bool `yaml:"hard_reset"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// BLE enables the BLE sub-engine in server role
	BLE bool `yaml:"ble"`
	// RecvWindow bounds how long POST /tcp collects the reply
	RecvWindow time.Duration `yaml:"recv_window"`
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
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.FlowControl = "none"
		c.LogLevel = "info"
		c.RecvWindow = 2 * time.Second
		return nil
	}
}

// WithFile overlays the YAML file at path. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
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

		if fc := os.Getenv("FLOW_CONTROL"); fc != "" {
			c.FlowControl = fc
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		return nil
	}
}

// WithFlags loads the global command-line flags that were set
func WithFlags(ctx *cli.Context) ConfigOption {
	return func(c *Config) error {
		if ctx.GlobalIsSet("bind-address") {
			c.BindAddress = ctx.GlobalString("bind-address")
		}
		if ctx.GlobalIsSet("serial-port") {
			c.SerialPort = ctx.GlobalString("serial-port")
		}
		if ctx.GlobalIsSet("baud-rate") {
			c.BaudRate = ctx.GlobalInt("baud-rate")
		}
		if ctx.GlobalIsSet("flow-control") {
			c.FlowControl = ctx.GlobalString("flow-control")
		}
		if ctx.GlobalIsSet("hard-reset") {
			c.HardReset = ctx.GlobalBool("hard-reset")
		}
		if ctx.GlobalIsSet("log-level") {
			c.LogLevel = ctx.GlobalString("log-level")
		}
		if ctx.GlobalIsSet("ble") {
			c.BLE = ctx.GlobalBool("ble")
		}
		return nil
	}
}
