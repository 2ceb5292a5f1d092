package esp32

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"i4.energy/across/espat/at"
)

// WifiMode is the AT+CWMODE argument.
type WifiMode int

const (
	ModeStation       WifiMode = 1
	ModeSoftAP        WifiMode = 2
	ModeStationSoftAP WifiMode = 3
)

// WifiStatus is the station state as reported by the firmware's WIFI
// notifications.
type WifiStatus int32

const (
	StatusDisconnected WifiStatus = iota
	StatusConnected
	StatusGotIP
)

func (s WifiStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusGotIP:
		return "got ip"
	}
	return fmt.Sprintf("WifiStatus(%d)", int32(s))
}

// Security is the encryption of an access point, in AT+CWLAP <ecn> order.
type Security int

const (
	SecurityOpen Security = iota
	SecurityWEP
	SecurityWPA
	SecurityWPA2
	SecurityWPAWPA2
	SecurityUnknown
)

func (s Security) String() string {
	switch s {
	case SecurityOpen:
		return "open"
	case SecurityWEP:
		return "wep"
	case SecurityWPA:
		return "wpa"
	case SecurityWPA2:
		return "wpa2"
	case SecurityWPAWPA2:
		return "wpa/wpa2"
	}
	return "unknown"
}

// AccessPoint is one AT+CWLAP entry.
type AccessPoint struct {
	SSID     string
	BSSID    net.HardwareAddr
	RSSI     int
	Channel  int
	Security Security
}

// scanSettle is the time the firmware needs after its Wi-Fi setup before a
// scan returns results.
const scanSettle = 1500 * time.Millisecond

var atEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `,`, `\,`)

// handleWifiStatus parses the token after "WIFI ". Unknown tokens are
// ignored.
func (d *Device) handleWifiStatus() {
	var token string
	if err := d.ch.Recv(at.Line, &token); err != nil {
		return
	}

	var status WifiStatus
	switch token {
	case at.WifiConnected:
		status = StatusConnected
	case at.WifiGotIP:
		status = StatusGotIP
	case at.WifiDisconnected:
		status = StatusDisconnected
	default:
		return
	}

	d.wifiStatus.Store(int32(status))
	if d.wifiStatusCb != nil {
		d.wifiStatusCb(status)
	}
}

// OnWifiStatus registers cb for station state changes. cb runs while the
// device lock is held and must not call back into the Device.
func (d *Device) OnWifiStatus(cb func(WifiStatus)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wifiStatusCb = cb
}

// WifiStatus returns the last station state the firmware reported.
func (d *Device) WifiStatus() WifiStatus {
	return WifiStatus(d.wifiStatus.Load())
}

// Connect joins the access point ssid.
func (d *Device) Connect(ssid, passphrase string) error {
	d.wifiStatus.Store(int32(StatusDisconnected))

	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if err := d.ensureWifi(); err != nil {
		return err
	}
	if err := d.command(d.config.ConnectTimeout, at.CmdJoinAP, atEscaper.Replace(ssid), atEscaper.Replace(passphrase)); err != nil {
		return fmt.Errorf("join %q: %w", ssid, err)
	}
	return nil
}

// Disconnect leaves the current access point.
func (d *Device) Disconnect() error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if err := d.ensureWifi(); err != nil {
		return err
	}
	return d.command(d.config.MiscTimeout, at.CmdQuitAP)
}

// lookup sends cmd and matches pattern against every response line. It
// reports whether a line matched.
func (d *Device) lookup(cmd, pattern string, args ...any) (bool, error) {
	if err := d.ensureWifi(); err != nil {
		return false, err
	}
	lines, err := d.lines(d.config.MiscTimeout, cmd)
	if err != nil {
		return false, err
	}
	for _, line := range lines {
		if at.Match(pattern, line, args...) {
			return true, nil
		}
	}
	return false, nil
}

func (d *Device) lookupString(cmd, pattern string) (string, error) {
	if err := d.lock(); err != nil {
		return "", err
	}
	defer d.mu.Unlock()

	var s string
	if _, err := d.lookup(cmd, pattern, &s); err != nil {
		return "", err
	}
	return s, nil
}

// SSID returns the access point the station is joined to, or "" when it
// is not joined.
func (d *Device) SSID() (string, error) {
	return d.lookupString(at.CmdQueryAP, at.RespJoinedSSID)
}

// RSSI returns the signal strength of the joined access point in dBm. It is
// 0 when the station is not joined.
func (d *Device) RSSI() (int, error) {
	if err := d.lock(); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	var ssid, bssid string
	ok, err := d.lookup(at.CmdQueryAP, at.RespJoinedAP, &ssid, &bssid)
	if err != nil || !ok {
		return 0, err
	}

	var rssi int
	cmd := fmt.Sprintf(at.CmdListOneAP, atEscaper.Replace(ssid), bssid)
	lines, err := d.lines(d.config.ScanTimeout, cmd)
	if err != nil {
		return 0, err
	}
	for _, line := range lines {
		if at.Match(at.RespListAPRSSI, line, nil, nil, &rssi) {
			return rssi, nil
		}
	}
	return 0, nil
}

// Scan lists the access points in range. A positive limit caps the number
// of entries returned.
func (d *Device) Scan(limit int) ([]AccessPoint, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	fresh := !d.wifiReady
	if err := d.ensureWifi(); err != nil {
		return nil, err
	}
	if fresh {
		time.Sleep(scanSettle)
	}

	lines, err := d.lines(d.config.ScanTimeout, at.CmdListAP)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var aps []AccessPoint
	for _, line := range lines {
		ap, ok := parseAccessPoint(line)
		if !ok {
			continue
		}
		aps = append(aps, ap)
		if limit > 0 && len(aps) >= limit {
			break
		}
	}
	return aps, nil
}

func parseAccessPoint(line string) (AccessPoint, bool) {
	var (
		ap          AccessPoint
		ecn         int
		bssid       string
		rssi, chann int
	)
	if !at.Match(at.RespListAP, line, &ecn, &ap.SSID, &rssi, &bssid, &chann) {
		return AccessPoint{}, false
	}
	mac, err := net.ParseMAC(bssid)
	if err != nil {
		return AccessPoint{}, false
	}
	ap.BSSID = mac
	ap.RSSI = rssi
	ap.Channel = chann
	ap.Security = SecurityUnknown
	if ecn >= 0 && ecn < int(SecurityUnknown) {
		ap.Security = Security(ecn)
	}
	return ap, true
}

// ConfigSoftAP configures the soft-AP. ecn uses the Security values; WEP is
// not accepted by the firmware.
func (d *Device) ConfigSoftAP(ssid, passphrase string, channel int, ecn Security) error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if err := d.ensureWifi(); err != nil {
		return err
	}
	if err := d.command(d.config.MiscTimeout, at.CmdSoftAP, atEscaper.Replace(ssid), atEscaper.Replace(passphrase), channel, int(ecn)); err != nil {
		return fmt.Errorf("configure soft-AP: %w", err)
	}
	return nil
}

// DHCP enables or disables the DHCP client (mode 1), server (mode 0) or both
// (mode 2).
func (d *Device) DHCP(enabled bool, mode int) error {
	if mode < 0 || mode > 2 {
		return fmt.Errorf("invalid DHCP mode %d", mode)
	}
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if err := d.ensureWifi(); err != nil {
		return err
	}
	on := 0
	if enabled {
		on = 1
	}
	return d.command(d.config.MiscTimeout, at.CmdDHCP, on, mode)
}

var errNoAddress = errors.New("IP address is required")

// SetNetwork assigns a static station address. netmask and gateway are only
// sent when both are given.
func (d *Device) SetNetwork(ip, netmask, gateway string) error {
	return d.setNetwork(at.CmdStationIP, at.CmdStationIPFull, ip, netmask, gateway)
}

// SetNetworkAP assigns the soft-AP address.
func (d *Device) SetNetworkAP(ip, netmask, gateway string) error {
	return d.setNetwork(at.CmdSoftAPIP, at.CmdSoftAPIPFull, ip, netmask, gateway)
}

func (d *Device) setNetwork(short, full, ip, netmask, gateway string) error {
	if ip == "" {
		return errNoAddress
	}
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if err := d.ensureWifi(); err != nil {
		return err
	}
	if netmask != "" && gateway != "" {
		return d.command(d.config.MiscTimeout, full, ip, gateway, netmask)
	}
	return d.command(d.config.MiscTimeout, short, ip)
}

func (d *Device) lookupIP(cmd, pattern string) (net.IP, error) {
	s, err := d.lookupString(cmd, pattern)
	if err != nil || s == "" {
		return nil, err
	}
	return net.ParseIP(s), nil
}

func (d *Device) lookupMAC(pattern string) (net.HardwareAddr, error) {
	s, err := d.lookupString(at.CmdLocalAddr, pattern)
	if err != nil || s == "" {
		return nil, err
	}
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("parse MAC address: %w", err)
	}
	return mac, nil
}

func toMask(ip net.IP) net.IPMask {
	if v4 := ip.To4(); v4 != nil {
		return net.IPMask(v4)
	}
	return nil
}

// IPAddress returns the station address, nil when there is none.
func (d *Device) IPAddress() (net.IP, error) {
	return d.lookupIP(at.CmdLocalAddr, at.RespStationIP)
}

// IPAddressAP returns the soft-AP address.
func (d *Device) IPAddressAP() (net.IP, error) {
	return d.lookupIP(at.CmdLocalAddr, at.RespSoftAPIP)
}

func (d *Device) MACAddress() (net.HardwareAddr, error) {
	return d.lookupMAC(at.RespStationMAC)
}

func (d *Device) MACAddressAP() (net.HardwareAddr, error) {
	return d.lookupMAC(at.RespSoftAPMAC)
}

func (d *Device) Gateway() (net.IP, error) {
	return d.lookupIP(at.CmdStationQuery, at.RespStaGateway)
}

func (d *Device) GatewayAP() (net.IP, error) {
	return d.lookupIP(at.CmdSoftAPQuery, at.RespAPGateway)
}

func (d *Device) Netmask() (net.IPMask, error) {
	ip, err := d.lookupIP(at.CmdStationQuery, at.RespStaNetmask)
	return toMask(ip), err
}

func (d *Device) NetmaskAP() (net.IPMask, error) {
	ip, err := d.lookupIP(at.CmdSoftAPQuery, at.RespAPNetmask)
	return toMask(ip), err
}

// IsConnected reports whether the station holds an address.
func (d *Device) IsConnected() bool {
	ip, err := d.IPAddress()
	return err == nil && ip != nil && !ip.IsUnspecified()
}
