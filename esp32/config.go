package esp32

import (
	"fmt"
	"time"
)

// DefaultBaudRate is the rate the AT firmware boots with.
const DefaultBaudRate = 115200

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	if c.WifiMode < ModeStation || c.WifiMode > ModeStationSoftAP {
		return fmt.Errorf("%w: %d", ErrInvalidMode, c.WifiMode)
	}
	if c.BLERole != BLERoleClient && c.BLERole != BLERoleServer {
		return fmt.Errorf("%w: %d", ErrInvalidRole, c.BLERole)
	}
	if c.FlowControl < FlowNone || c.FlowControl > FlowRTSCTS {
		return fmt.Errorf("invalid flow control: %d", c.FlowControl)
	}
	return nil
}

type Config struct {
	Dialer Dialer
	// BaudRate is switched to with AT+UART_CUR after every reset.
	BaudRate    int
	FlowControl FlowControl
	// HardReset pulses the EN and IO0 lines when the transport implements
	// ResetController.
	HardReset bool
	WifiMode  WifiMode
	EnableBLE bool
	BLERole   BLERole

	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	RecvTimeout    time.Duration
	MiscTimeout    time.Duration
	OpenTimeout    time.Duration
	ScanTimeout    time.Duration

	// Debug traces every command and response line at debug level.
	Debug  bool
	Logger Logger
}

func (c *Config) setDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.WifiMode == 0 {
		c.WifiMode = ModeStation
	}
	if c.BLERole == 0 {
		c.BLERole = BLERoleServer
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 2 * time.Second
	}
	if c.RecvTimeout == 0 {
		c.RecvTimeout = 2 * time.Second
	}
	if c.MiscTimeout == 0 {
		c.MiscTimeout = 2 * time.Second
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 500 * time.Millisecond
	}
	if c.ScanTimeout == 0 {
		c.ScanTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = buildDefaultLogger(c.Debug)
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithBaudRate(baud int) *ConfigBuilder {
	b.config.BaudRate = baud
	return b
}

func (b *ConfigBuilder) WithFlowControl(fc FlowControl) *ConfigBuilder {
	b.config.FlowControl = fc
	return b
}

func (b *ConfigBuilder) WithHardReset(enabled bool) *ConfigBuilder {
	b.config.HardReset = enabled
	return b
}

func (b *ConfigBuilder) WithWifiMode(mode WifiMode) *ConfigBuilder {
	b.config.WifiMode = mode
	return b
}

// WithBLE enables the BLE sub-engine in the given role.
func (b *ConfigBuilder) WithBLE(role BLERole) *ConfigBuilder {
	b.config.EnableBLE = true
	b.config.BLERole = role
	return b
}

func (b *ConfigBuilder) WithConnectTimeout(d time.Duration) *ConfigBuilder {
	b.config.ConnectTimeout = d
	return b
}

func (b *ConfigBuilder) WithSendTimeout(d time.Duration) *ConfigBuilder {
	b.config.SendTimeout = d
	return b
}

func (b *ConfigBuilder) WithRecvTimeout(d time.Duration) *ConfigBuilder {
	b.config.RecvTimeout = d
	return b
}

func (b *ConfigBuilder) WithMiscTimeout(d time.Duration) *ConfigBuilder {
	b.config.MiscTimeout = d
	return b
}

func (b *ConfigBuilder) WithOpenTimeout(d time.Duration) *ConfigBuilder {
	b.config.OpenTimeout = d
	return b
}

func (b *ConfigBuilder) WithScanTimeout(d time.Duration) *ConfigBuilder {
	b.config.ScanTimeout = d
	return b
}

func (b *ConfigBuilder) WithDebug(debug bool) *ConfigBuilder {
	b.config.Debug = debug
	return b
}

func (b *ConfigBuilder) WithLogger(l Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

// Build applies defaults and validates the configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
