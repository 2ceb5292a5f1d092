package esp32

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blang/semver"

	"i4.energy/across/espat/at"
)

const (
	resetAttempts = 2
	enablePulse   = 10 * time.Millisecond
	// bannerWait is how long a chip without reset lines gets to print its
	// boot banner.
	bannerWait = 100 * time.Millisecond
)

// ensureCommon brings the firmware up once: hardware reset when possible,
// AT+RST, UART negotiation and the firmware version.
func (d *Device) ensureCommon() error {
	if d.commonReady {
		return nil
	}

	// 1. Power-up handshake
	if d.pins != nil {
		if err := d.hardReset(); err != nil {
			return fmt.Errorf("hardware reset: %w", err)
		}
	} else {
		d.ch.SetTimeout(bannerWait)
		// A chip that booted long ago prints nothing, which is fine.
		_ = d.ch.Recv(at.Ready)
		d.ch.SetTimeout(d.config.MiscTimeout)
	}

	// 2. Software reset and UART settings
	if err := d.reset(); err != nil {
		return err
	}

	// 3. Firmware version
	if err := d.readVersion(); err != nil {
		return fmt.Errorf("read firmware version: %w", err)
	}

	d.commonReady = true
	return nil
}

// hardReset pulses EN with IO0 held high so the chip boots the AT firmware
// from flash, then waits for the ready banner.
func (d *Device) hardReset() error {
	if err := d.pins.SetBoot(true); err != nil {
		return err
	}
	if err := d.pins.SetEnable(false); err != nil {
		return err
	}
	time.Sleep(enablePulse)
	if err := d.pins.SetEnable(true); err != nil {
		return err
	}
	if err := d.ch.Recv(at.Ready); err != nil {
		d.log.Warnf("no ready banner after hardware reset: %v", err)
	}
	return nil
}

// reset issues AT+RST, retrying once. After a reset the firmware is back at
// the default baud rate without flow control, so the transport follows it
// there before the configured UART settings are negotiated again. Queued
// packets belong to links that no longer exist and are dropped.
func (d *Device) reset() error {
	for attempt := 1; attempt <= resetAttempts; attempt++ {
		if err := d.command(d.config.MiscTimeout, at.CmdReset); err != nil {
			d.log.Warnf("reset attempt %d failed: %v", attempt, err)
			continue
		}
		d.wifiReady = false

		if err := d.applyUART(DefaultBaudRate, FlowNone); err != nil {
			return err
		}
		if err := d.ch.Recv(at.Ready); err != nil {
			d.log.Warnf("no ready banner after reset: %v", err)
		}
		d.packets.clear(allSockets)

		if err := d.command(d.config.MiscTimeout, at.CmdUartCur, d.config.BaudRate, int(d.config.FlowControl)); err != nil {
			d.log.Warnf("firmware kept %d baud: %v", DefaultBaudRate, err)
			return nil
		}
		return d.applyUART(d.config.BaudRate, d.config.FlowControl)
	}
	return ErrResetFailed
}

func (d *Device) applyUART(baud int, fc FlowControl) error {
	if err := d.transport.SetBaudRate(baud); err != nil {
		return fmt.Errorf("set baud rate: %w", err)
	}
	if err := d.transport.SetFlowControl(fc); err != nil {
		return fmt.Errorf("set flow control: %w", err)
	}
	return nil
}

// readVersion caches the AT+GMR output and the AT firmware version in it.
func (d *Device) readVersion() error {
	lines, err := d.lines(d.config.MiscTimeout, at.CmdVersion)
	if err != nil {
		return err
	}
	d.versionInfo = lines

	for _, line := range lines {
		var raw string
		if !at.Match(at.VersionLine, line, &raw) {
			continue
		}
		v, err := parseATVersion(raw)
		if err != nil {
			return err
		}
		d.atVersion = v
		d.log.Debugf("AT firmware %s", v)
		return nil
	}
	d.log.Warnf("AT+GMR reported no AT version")
	return nil
}

// parseATVersion turns the four component AT version ("2.1.0.0") into a
// semantic version of its first three components.
func parseATVersion(raw string) (semver.Version, error) {
	parts := strings.SplitN(raw, ".", 4)
	nums := make([]string, 3)
	for i := range nums {
		nums[i] = "0"
		if i < len(parts) {
			n, err := strconv.Atoi(parts[i])
			if err != nil {
				return semver.Version{}, fmt.Errorf("parse AT version %q: %w", raw, err)
			}
			nums[i] = strconv.Itoa(n)
		}
	}
	return semver.Make(strings.Join(nums, "."))
}

// ensureWifi runs the one-time Wi-Fi setup: mode, multiplexed links, no
// auto-connect and no stale association.
func (d *Device) ensureWifi() error {
	if err := d.ensureCommon(); err != nil {
		return err
	}
	if d.wifiReady {
		return nil
	}
	if err := d.setupWifi(true); err != nil {
		return err
	}
	d.wifiReady = true
	return nil
}

func (d *Device) setupWifi(full bool) error {
	if err := d.command(d.config.MiscTimeout, at.CmdWifiMode, int(d.wifiMode)); err != nil {
		return fmt.Errorf("set wifi mode: %w", err)
	}
	if err := d.command(d.config.MiscTimeout, at.CmdMultiConn); err != nil {
		return fmt.Errorf("enable multiple connections: %w", err)
	}
	if !full {
		return nil
	}
	if err := d.command(d.config.MiscTimeout, at.CmdAutoConnOff); err != nil {
		return fmt.Errorf("disable auto connect: %w", err)
	}
	if err := d.command(d.config.MiscTimeout, at.CmdQuitAP); err != nil {
		return fmt.Errorf("leave access point: %w", err)
	}
	return nil
}

// Restart resets the firmware and configures it again. A device that was
// never brought up gets the full bring-up instead. Links do not survive a
// restart.
func (d *Device) Restart() error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	return d.restartLocked()
}

func (d *Device) restartLocked() error {
	if !d.commonReady {
		return d.ensureWifi()
	}

	if err := d.reset(); err != nil {
		return err
	}
	d.resetSockets()
	if err := d.setupWifi(false); err != nil {
		return err
	}
	d.wifiReady = true

	if d.ble != nil && d.ble.ready {
		d.ble.ready = false
		if err := d.ble.ensure(); err != nil {
			return fmt.Errorf("restore BLE: %w", err)
		}
	}
	return nil
}

// SetMode selects station, soft-AP or both. Changing the mode restarts the
// firmware.
func (d *Device) SetMode(mode WifiMode) error {
	if mode < ModeStation || mode > ModeStationSoftAP {
		return fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if d.wifiMode == mode {
		return nil
	}
	d.wifiMode = mode
	return d.restartLocked()
}

// Mode returns the configured Wi-Fi mode.
func (d *Device) Mode() WifiMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wifiMode
}

// VersionInfo returns the AT+GMR output lines.
func (d *Device) VersionInfo() ([]string, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	if err := d.ensureCommon(); err != nil {
		return nil, err
	}
	return append([]string(nil), d.versionInfo...), nil
}

// FirmwareVersion returns the AT firmware version, bringing the firmware up
// if needed.
func (d *Device) FirmwareVersion() (semver.Version, error) {
	if err := d.lock(); err != nil {
		return semver.Version{}, err
	}
	defer d.mu.Unlock()

	if err := d.ensureCommon(); err != nil {
		return semver.Version{}, err
	}
	return d.atVersion, nil
}
