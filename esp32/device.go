package esp32

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blang/semver"

	"i4.energy/across/espat/at"
)

// SocketCount is the number of links the AT firmware multiplexes.
const SocketCount = 5

// allSockets selects every socket in packetQueue.clear.
const allSockets = -1

// Device is an ESP32 running the Espressif AT firmware, reached over a single
// serial channel. It multiplexes that channel into up to SocketCount TCP, UDP
// or SSL sockets, a Wi-Fi station/soft-AP session and, when enabled, a BLE
// GATT session.
//
// All methods are safe for concurrent use. A single lock serializes every
// command/response exchange with the firmware, so a slow operation on one
// socket delays the others.
//
// The firmware is brought up lazily: the first operation that needs it
// resets the chip, negotiates the UART settings and configures Wi-Fi.
type Device struct {
	// mu guards the channel and every field below it
	mu sync.Mutex
	// config contains the device configuration settings
	config Config
	log    Logger
	// transport is the byte stream the channel runs on
	transport Transport
	// pins drives EN and IO0 for a hardware reset, nil when unavailable
	pins ResetController
	ch   *at.Channel
	// closed indicates if the device has been shut down
	closed bool

	// Initialization stages
	commonReady bool
	wifiReady   bool
	atVersion   semver.Version
	versionInfo []string
	wifiMode    WifiMode

	// Socket state
	sockets      [SocketCount]slot
	packets      packetQueue
	accepts      []int
	serverActive bool

	// wifiStatus is written by the WIFI handler under mu and read lock-free
	wifiStatus   atomic.Int32
	wifiStatusCb func(WifiStatus)

	ble *BLE
}

// New creates a Device with the given configuration. It establishes the
// transport connection and starts listening for notifications, but does not
// talk to the firmware until the first operation needs it.
func New(ctx context.Context, config Config) (*Device, error) {
	if config.Dialer == nil {
		return nil, ErrNoDialer
	}
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	d := &Device{
		config:    config,
		log:       config.Logger,
		transport: transport,
		wifiMode:  config.WifiMode,
	}
	if config.HardReset {
		if pins, ok := transport.(ResetController); ok {
			d.pins = pins
		} else {
			d.log.Warnf("transport %T cannot drive the reset lines, falling back to AT+RST", transport)
		}
	}
	if config.EnableBLE {
		d.ble = newBLE(d, config.BLERole)
	}

	opts := []at.ChannelOption{at.WithReadableHook(d.event)}
	if config.Debug {
		opts = append(opts, at.WithTracer(d.log))
	}
	d.ch = at.NewChannel(transport, opts...)
	d.ch.SetTimeout(config.MiscTimeout)

	d.registerSocketHandlers()
	d.ch.OOB(at.OobWifi, d.handleWifiStatus)
	if d.ble != nil {
		d.ble.registerHandlers()
	}

	return d, nil
}

// Close shuts down the device and releases the transport. After Close every
// operation returns ErrAlreadyClosed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrAlreadyClosed
	}
	d.closed = true
	d.ch.Close()

	if err := d.transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

// BLE returns the BLE sub-engine, or nil when the device was configured
// without BLE.
func (d *Device) BLE() *BLE {
	return d.ble
}

// Readable reports whether the firmware sent bytes that were not consumed
// yet.
func (d *Device) Readable() bool {
	if err := d.lock(); err != nil {
		return false
	}
	defer d.mu.Unlock()
	return d.ch.Readable()
}

// lock acquires the device lock unless the device is closed.
func (d *Device) lock() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrAlreadyClosed
	}
	return nil
}

// command sends a command and waits for its OK within timeout. The channel
// timeout is restored afterwards.
func (d *Device) command(timeout time.Duration, format string, args ...any) error {
	d.ch.SetTimeout(timeout)
	defer d.ch.SetTimeout(d.config.MiscTimeout)

	if err := d.ch.Send(format, args...); err != nil {
		return err
	}
	return d.ch.Recv(at.OK)
}

// query sends cmd, captures the response line matching pattern into args and
// waits for the final OK.
func (d *Device) query(cmd, pattern string, args ...any) error {
	d.ch.SetTimeout(d.config.MiscTimeout)
	if err := d.ch.Send("%s", cmd); err != nil {
		return err
	}
	if err := d.ch.Recv(pattern, args...); err != nil {
		return err
	}
	return d.ch.Recv(at.OK)
}

// lines sends cmd and collects the response lines up to the final OK. The
// command echo is dropped.
func (d *Device) lines(timeout time.Duration, cmd string) ([]string, error) {
	d.ch.SetTimeout(timeout)
	defer d.ch.SetTimeout(d.config.MiscTimeout)

	if err := d.ch.Send("%s", cmd); err != nil {
		return nil, err
	}
	var out []string
	for {
		var line string
		if err := d.ch.Recv(at.Line, &line); err != nil {
			return out, err
		}
		switch line {
		case at.OK:
			return out, nil
		case cmd:
			continue
		}
		out = append(out, line)
	}
}
