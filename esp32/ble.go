package esp32

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/blang/semver"

	"i4.energy/across/espat/at"
)

// minBLEVersion is the first AT firmware with the BLE command set spoken
// here.
var minBLEVersion = semver.MustParse("1.2.0")

// maxAdvPayload is the size limit of advertising and scan response data.
const maxAdvPayload = 31

// BLE is the BLE sub-engine of a Device. It shares the device lock and
// channel; its methods bring the firmware up and run AT+BLEINIT on first
// use.
type BLE struct {
	d     *Device
	role  BLERole
	ready bool

	services boundedBuffer[Service]
	chars    boundedBuffer[Characteristic]
	descs    boundedBuffer[Descriptor]

	// Event callbacks, guarded by the device lock
	onConnect    func(conn int, addr net.HardwareAddr)
	onDisconnect func(conn int)
	onWrite      func(Packet)
	onScan       func(ScanResult)

	sigio    atomic.Pointer[func()]
	notified atomic.Bool
}

func newBLE(d *Device, role BLERole) *BLE {
	return &BLE{d: d, role: role}
}

func (b *BLE) registerHandlers() {
	ch := b.d.ch
	ch.OOB(at.OobBLEConnect, b.handleConnect)
	ch.OOB(at.OobBLEDisconnect, b.handleDisconnect)
	ch.OOB(at.OobBLEWrite, b.handleWrite)
	ch.OOB(at.OobBLEScan, b.handleScan)
	ch.OOB(at.OobBLEPrimSrv, b.handlePrimaryService)
	ch.OOB(at.OobBLEChar, b.handleCharacteristic)
}

// ensure gates the firmware version and initializes BLE in the current
// role. The caller holds the device lock.
func (b *BLE) ensure() error {
	d := b.d
	if err := d.ensureCommon(); err != nil {
		return err
	}
	if b.ready {
		return nil
	}

	if d.atVersion.LT(minBLEVersion) {
		d.log.Fatalf("AT firmware %s predates BLE support, %s or later is required", d.atVersion, minBLEVersion)
		return fmt.Errorf("%w: %s", ErrFirmwareTooOld, d.atVersion)
	}
	if err := d.command(d.config.MiscTimeout, at.CmdBLEInit, int(b.role)); err != nil {
		return fmt.Errorf("init BLE as %s: %w", b.role, err)
	}
	b.ready = true
	return nil
}

// do runs fn under the device lock with BLE initialized.
func (b *BLE) do(fn func() error) error {
	if b == nil {
		return ErrBLEDisabled
	}
	if err := b.d.lock(); err != nil {
		return err
	}
	defer b.d.mu.Unlock()

	if err := b.ensure(); err != nil {
		return err
	}
	return fn()
}

func (b *BLE) command(format string, args ...any) error {
	return b.d.command(b.d.config.MiscTimeout, format, args...)
}

// sendRaw issues a command announcing len(data) bytes, writes them after the
// prompt and waits for OK.
func (b *BLE) sendRaw(data []byte, format string, args ...any) error {
	ch := b.d.ch
	ch.SetTimeout(b.d.config.SendTimeout)
	defer ch.SetTimeout(b.d.config.MiscTimeout)

	if err := ch.Send(format, args...); err != nil {
		return err
	}
	if err := ch.Recv(at.Prompt); err != nil {
		return err
	}
	if _, err := ch.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return ch.Recv(at.OK)
}

// SetRole selects client or server. Changing the role of an initialized
// session restarts the firmware and initializes BLE again.
func (b *BLE) SetRole(role BLERole) error {
	if role != BLERoleClient && role != BLERoleServer {
		return fmt.Errorf("%w: %d", ErrInvalidRole, role)
	}
	if b == nil {
		return ErrBLEDisabled
	}
	if err := b.d.lock(); err != nil {
		return err
	}
	defer b.d.mu.Unlock()

	if b.role == role {
		return nil
	}
	b.role = role
	if !b.ready {
		return nil
	}
	return b.d.restartLocked()
}

// Role queries the role the firmware runs in.
func (b *BLE) Role() (BLERole, error) {
	var role int
	err := b.do(func() error {
		return b.d.query(at.CmdBLEInitQuery, at.RespBLEInit, &role)
	})
	return BLERole(role), err
}

func (b *BLE) SetDeviceName(name string) error {
	return b.do(func() error {
		return b.command(at.CmdBLEName, atEscaper.Replace(name))
	})
}

func (b *BLE) DeviceName() (string, error) {
	var name string
	err := b.do(func() error {
		return b.d.query(at.CmdBLENameQuery, at.RespBLEName, &name)
	})
	return name, err
}

// StartServices creates and starts the GATT services of the firmware's
// service table.
func (b *BLE) StartServices() error {
	return b.do(func() error {
		if err := b.command(at.CmdBLEServiceCreate); err != nil {
			return fmt.Errorf("create services: %w", err)
		}
		if err := b.command(at.CmdBLEServiceStart); err != nil {
			return fmt.Errorf("start services: %w", err)
		}
		return nil
	})
}

func checkAdvPayload(data []byte) error {
	if len(data) > maxAdvPayload {
		return fmt.Errorf("advertising payload of %d bytes exceeds %d", len(data), maxAdvPayload)
	}
	return nil
}

func (b *BLE) SetScanResponse(data []byte) error {
	if err := checkAdvPayload(data); err != nil {
		return err
	}
	return b.do(func() error {
		return b.command(at.CmdBLEScanRsp, hex.EncodeToString(data))
	})
}

func (b *BLE) SetAdvertisingData(data []byte) error {
	if err := checkAdvPayload(data); err != nil {
		return err
	}
	return b.do(func() error {
		return b.command(at.CmdBLEAdvData, hex.EncodeToString(data))
	})
}

func (b *BLE) StartAdvertising() error {
	return b.do(func() error { return b.command(at.CmdBLEAdvStart) })
}

func (b *BLE) StopAdvertising() error {
	return b.do(func() error { return b.command(at.CmdBLEAdvStop) })
}

func (b *BLE) SetAdvertisingParams(p AdvertisingParams) error {
	return b.do(func() error {
		if p.PeerAddr != nil {
			return b.command(at.CmdBLEAdvParamPeer, p.IntervalMin, p.IntervalMax, int(p.Type), int(p.OwnAddrType),
				p.ChannelMap, p.FilterPolicy, int(p.PeerAddrType), p.PeerAddr.String())
		}
		return b.command(at.CmdBLEAdvParam, p.IntervalMin, p.IntervalMax, int(p.Type), int(p.OwnAddrType),
			p.ChannelMap, p.FilterPolicy)
	})
}

// SetAddr selects the public address, or the given static random address.
func (b *BLE) SetAddr(typ AddrType, random net.HardwareAddr) error {
	if typ == AddrRandom && len(random) != 6 {
		return fmt.Errorf("random address %q is not 6 bytes", random)
	}
	return b.do(func() error {
		if typ == AddrRandom {
			return b.command(at.CmdBLEAddrRandom, random.String())
		}
		return b.command(at.CmdBLEAddrPublic)
	})
}

// Addr returns the device's BLE address.
func (b *BLE) Addr() (net.HardwareAddr, error) {
	var raw string
	if err := b.do(func() error {
		return b.d.query(at.CmdBLEAddrQuery, at.RespBLEAddr, &raw)
	}); err != nil {
		return nil, err
	}
	return net.ParseMAC(strings.Trim(raw, `"`))
}

// SetCharacteristic sets the value of a local characteristic.
func (b *BLE) SetCharacteristic(srv, char int, data []byte) error {
	return b.do(func() error {
		return b.sendRaw(data, at.CmdBLESetAttr, srv, char, len(data))
	})
}

// NotifyCharacteristic sends a notification of a local characteristic to
// the connected client.
func (b *BLE) NotifyCharacteristic(srv, char int, data []byte) error {
	return b.do(func() error {
		return b.sendRaw(data, at.CmdBLENotify, 0, srv, char, len(data))
	})
}

// StartScan starts scanning. Results arrive through OnScan. A positive
// interval stops the scan after that many seconds.
func (b *BLE) StartScan(interval time.Duration) error {
	return b.do(func() error {
		if secs := int(interval / time.Second); secs > 0 {
			return b.command(at.CmdBLEScanFor, secs)
		}
		return b.command(at.CmdBLEScanStart)
	})
}

func (b *BLE) StopScan() error {
	return b.do(func() error { return b.command(at.CmdBLEScanStop) })
}

// Connect connects to a peripheral as connection conn.
func (b *BLE) Connect(conn int, addr net.HardwareAddr) error {
	return b.do(func() error {
		return b.d.command(b.d.config.ConnectTimeout, at.CmdBLEConnect, conn, addr.String())
	})
}

func (b *BLE) Disconnect(conn int) error {
	return b.do(func() error { return b.command(at.CmdBLEDisconnect, conn) })
}

// OnConnect registers cb for +BLECONN. Like every BLE event callback it
// runs under the device lock and must not call back into the Device.
func (b *BLE) OnConnect(cb func(conn int, addr net.HardwareAddr)) {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()
	b.onConnect = cb
}

func (b *BLE) OnDisconnect(cb func(conn int)) {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()
	b.onDisconnect = cb
}

// OnWrite registers cb for writes of a connected client.
func (b *BLE) OnWrite(cb func(Packet)) {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()
	b.onWrite = cb
}

func (b *BLE) OnScan(cb func(ScanResult)) {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()
	b.onScan = cb
}

// AttachSigio registers cb to be called from the transport reader when
// bytes arrive, once per edge. The edge is cleared by ProcessOOB, which the
// application is expected to call in response.
func (b *BLE) AttachSigio(cb func()) {
	if cb == nil {
		b.sigio.Store(nil)
	} else {
		b.sigio.Store(&cb)
	}
	b.notified.Store(false)
}

func (b *BLE) event() {
	if cb := b.sigio.Load(); cb != nil && b.notified.CompareAndSwap(false, true) {
		(*cb)()
	}
}

// ProcessOOB parses pending notifications, delivering BLE events to their
// callbacks. It handles a single notification unless all is set.
func (b *BLE) ProcessOOB(timeout time.Duration, all bool) error {
	if b == nil {
		return ErrBLEDisabled
	}
	if err := b.d.lock(); err != nil {
		return err
	}
	defer b.d.mu.Unlock()

	b.notified.Store(false)
	ch := b.d.ch
	ch.SetTimeout(timeout)
	defer ch.SetTimeout(b.d.config.MiscTimeout)

	if all {
		for ch.ProcessOOB() {
		}
	} else {
		ch.ProcessOOB()
	}
	return nil
}

// restOfLine reads the notification text after its prefix.
func (b *BLE) restOfLine() (string, bool) {
	var rest string
	if err := b.d.ch.Recv(at.Line, &rest); err != nil {
		b.d.log.Warnf("truncated BLE notification: %v", err)
		return "", false
	}
	return rest, true
}

func (b *BLE) handleConnect() {
	rest, ok := b.restOfLine()
	if !ok {
		return
	}
	var (
		conn int
		raw  string
	)
	if !at.Match(`%d,"%s"`, rest, &conn, &raw) {
		return
	}
	addr, err := net.ParseMAC(raw)
	if err != nil {
		return
	}
	if b.onConnect != nil {
		b.onConnect(conn, addr)
	}
}

func (b *BLE) handleDisconnect() {
	rest, ok := b.restOfLine()
	if !ok {
		return
	}
	var conn int
	if !at.Match("%d", rest, &conn) {
		return
	}
	if b.onDisconnect != nil {
		b.onDisconnect(conn)
	}
}

// handleWrite reads "<conn>,<srv>,<char>,[<desc>],<len>,<value>" where
// value is len raw bytes.
func (b *BLE) handleWrite() {
	ch := b.d.ch
	var (
		pkt  Packet
		desc string
		n    int
	)
	if err := ch.Recv("%d,%d,%d,%s,%d,", &pkt.Conn, &pkt.Service, &pkt.Char, &desc, &n); err != nil {
		b.d.log.Warnf("malformed +WRITE header: %v", err)
		return
	}
	if n < 0 || n > maxPacketSize {
		return
	}
	pkt.Desc = -1
	if desc != "" {
		at.Match("%d", desc, &pkt.Desc)
	}

	prev := ch.Timeout()
	ch.SetTimeout(packetTimeout)
	defer ch.SetTimeout(prev)

	pkt.Data = make([]byte, n)
	if err := ch.Read(pkt.Data); err != nil {
		b.d.log.Warnf("dropping %d byte BLE write: %v", n, err)
		return
	}
	if b.onWrite != nil {
		b.onWrite(pkt)
	}
}

// handleScan parses "<addr>",<rssi>,<adv>,<scan rsp>,<addr type>.
func (b *BLE) handleScan() {
	rest, ok := b.restOfLine()
	if !ok {
		return
	}
	var (
		raw, adv, rsp string
		res           ScanResult
		typ           int
	)
	if !at.Match(`"%s",%d,%s,%s,%d`, rest, &raw, &res.RSSI, &adv, &rsp, &typ) {
		return
	}
	addr, err := net.ParseMAC(raw)
	if err != nil {
		return
	}
	res.Addr = addr
	res.AddrType = AddrType(typ)
	if res.AdvData, err = hex.DecodeString(adv); err != nil {
		return
	}
	if res.ScanRspData, err = hex.DecodeString(rsp); err != nil {
		return
	}
	if b.onScan != nil {
		b.onScan(res)
	}
}
