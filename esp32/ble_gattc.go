package esp32

import (
	"fmt"

	"i4.energy/across/espat/at"
)

func (b *BLE) handlePrimaryService() {
	rest, ok := b.restOfLine()
	if !ok {
		return
	}
	var (
		conn int
		srv  Service
	)
	if !at.Match("%d,%d,%s,%d", rest, &conn, &srv.Index, &srv.UUID, &srv.Type) {
		return
	}
	b.services.add(srv)
}

// handleCharacteristic collects both the "char" and the "desc" lines of
// AT+BLEGATTCCHAR.
func (b *BLE) handleCharacteristic() {
	rest, ok := b.restOfLine()
	if !ok {
		return
	}
	var conn int

	var c Characteristic
	if at.Match(`"char",%d,%d,%d,%s,%x`, rest, &conn, &c.Service, &c.Index, &c.UUID, &c.Properties) {
		b.chars.add(c)
		return
	}
	var desc Descriptor
	if at.Match(`"desc",%d,%d,%d,%d,%s`, rest, &conn, &desc.Service, &desc.Char, &desc.Index, &desc.UUID) {
		b.descs.add(desc)
	}
}

// DiscoverServices lists the primary services of the peripheral on
// connection conn. A positive limit caps the services returned.
func (b *BLE) DiscoverServices(conn, limit int) (ServiceDiscovery, error) {
	var res ServiceDiscovery
	err := b.do(func() error {
		b.services.reset()
		if err := b.d.command(b.d.config.ScanTimeout, at.CmdBLEPrimSrv, conn); err != nil {
			return fmt.Errorf("discover services on connection %d: %w", conn, err)
		}
		res.Services, res.Truncated = b.services.copyOut(limit)
		return nil
	})
	return res, err
}

// DiscoverCharacteristics lists the characteristics of service srv and
// their descriptors. Positive limits cap the entries returned.
func (b *BLE) DiscoverCharacteristics(conn, srv, maxChars, maxDescs int) (CharacteristicDiscovery, error) {
	var res CharacteristicDiscovery
	err := b.do(func() error {
		b.chars.reset()
		b.descs.reset()
		if err := b.d.command(b.d.config.ScanTimeout, at.CmdBLEChars, conn, srv); err != nil {
			return fmt.Errorf("discover characteristics of service %d: %w", srv, err)
		}
		var charsCut, descsCut bool
		res.Characteristics, charsCut = b.chars.copyOut(maxChars)
		res.Descriptors, descsCut = b.descs.copyOut(maxDescs)
		res.Truncated = charsCut || descsCut
		return nil
	})
	return res, err
}

// ReadCharacteristic reads a remote characteristic into p. The value is
// truncated to len(p); the rest is discarded.
func (b *BLE) ReadCharacteristic(conn, srv, char int, p []byte) (int, error) {
	var n int
	err := b.do(func() error {
		var err error
		n, err = b.read(p, at.CmdBLEReadChar, conn, srv, char)
		return err
	})
	return n, err
}

// ReadDescriptor reads a remote descriptor into p like ReadCharacteristic.
func (b *BLE) ReadDescriptor(conn, srv, char, desc int, p []byte) (int, error) {
	var n int
	err := b.do(func() error {
		var err error
		n, err = b.read(p, at.CmdBLEReadDesc, conn, srv, char, desc)
		return err
	})
	return n, err
}

func (b *BLE) read(p []byte, format string, args ...any) (int, error) {
	ch := b.d.ch
	ch.SetTimeout(b.d.config.RecvTimeout)
	defer ch.SetTimeout(b.d.config.MiscTimeout)

	if err := ch.Send(format, args...); err != nil {
		return 0, err
	}
	var conn, size int
	if err := ch.Recv(at.RespBLERead, &conn, &size); err != nil {
		return 0, err
	}
	if size < 0 || size > maxPacketSize {
		return 0, fmt.Errorf("read of %d bytes: %w", size, at.ErrCommandFailed)
	}
	value := make([]byte, size)
	if err := ch.Read(value); err != nil {
		return 0, fmt.Errorf("read value: %w", err)
	}
	n := copy(p, value)
	if err := ch.Recv(at.OK); err != nil {
		return n, err
	}
	return n, nil
}

// WriteCharacteristic writes data to a remote characteristic.
func (b *BLE) WriteCharacteristic(conn, srv, char int, data []byte) error {
	return b.do(func() error {
		return b.sendRaw(data, at.CmdBLEWriteChar, conn, srv, char, len(data))
	})
}

func (b *BLE) WriteDescriptor(conn, srv, char, desc int, data []byte) error {
	return b.do(func() error {
		return b.sendRaw(data, at.CmdBLEWriteDesc, conn, srv, char, desc, len(data))
	})
}
