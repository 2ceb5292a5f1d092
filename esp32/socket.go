package esp32

import (
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"i4.energy/across/espat/at"
)

// Protocol is the transport protocol of a socket as AT+CIPSTART spells it.
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
	SSL Protocol = "SSL"
)

const (
	sendAttempts  = 2
	closeAttempts = 2
	// closeWaitPolls bounds how often CloseSocket looks for a close already
	// reported by the firmware before it sends AT+CIPCLOSE.
	closeWaitPolls    = 2
	closeWaitInterval = 50 * time.Millisecond
	closeTimeout      = 500 * time.Millisecond
	// packetTimeout bounds the read of a single +IPD payload.
	packetTimeout = 500 * time.Millisecond
	maxPacketSize = 64 * 1024
	discardChunk  = 1024

	chunkSizeFlowControl = 2048
	chunkSize            = 1024
)

// slot is one entry of the connection table.
//
// A slot moves Free -> Allocated -> Open -> Closing -> Free. allocated is
// set by FreeID for client sockets; open and closing follow the firmware's
// CONNECT and CLOSED notifications and are never both set.
type slot struct {
	allocated bool
	open      bool
	closing   bool

	// notified is the edge of the Attach callback. The dispatcher sets it
	// when it fires the callback and every socket operation clears it.
	notified atomic.Bool
	callback atomic.Pointer[func()]
}

func checkID(id int) error {
	if id < 0 || id >= SocketCount {
		return fmt.Errorf("%w: %d", ErrInvalidSocket, id)
	}
	return nil
}

func (d *Device) registerSocketHandlers() {
	for id := range SocketCount {
		d.ch.OOB(at.FormatLinkEvent(id, at.OobConnect), func() { d.socketEvent(id, true) })
		d.ch.OOB(at.FormatLinkEvent(id, at.OobClosed), func() { d.socketEvent(id, false) })
	}
	d.ch.OOB(at.OobData, d.handlePacket)
}

// socketEvent applies a CONNECT or CLOSED notification to the table.
// Connections initiated by a remote peer while the server is active are
// queued for Accept; client sockets were allocated by FreeID and are not.
func (d *Device) socketEvent(id int, connect bool) {
	s := &d.sockets[id]
	s.notified.Store(false)

	if connect {
		s.open = true
		s.closing = false
		if d.serverActive && !s.allocated {
			d.accepts = append(d.accepts, id)
		}
		return
	}

	s.open = false
	s.closing = true
	d.accepts = slices.DeleteFunc(d.accepts, func(v int) bool { return v == id })
}

// handlePacket reads the rest of a "+IPD,<id>,<len>:<data>" frame into the
// packet queue. A frame that stalls is dropped, and so is the payload of a
// frame longer than maxPacketSize.
func (d *Device) handlePacket() {
	prev := d.ch.Timeout()
	d.ch.SetTimeout(packetTimeout)
	defer d.ch.SetTimeout(prev)

	var id, n int
	if err := d.ch.Recv(at.DataHeader, &id, &n); err != nil {
		d.log.Warnf("malformed +IPD header: %v", err)
		return
	}
	if n < 0 {
		d.log.Warnf("dropping +IPD frame with length %d", n)
		return
	}
	if n > maxPacketSize {
		d.log.Warnf("dropping +IPD frame with length %d", n)
		d.discard(n)
		return
	}

	data := make([]byte, n)
	if err := d.ch.Read(data); err != nil {
		d.log.Warnf("dropping %d byte frame for socket %d: %v", n, id, err)
		return
	}
	if checkID(id) != nil {
		d.log.Warnf("dropping frame for unknown socket %d", id)
		return
	}
	d.packets.push(id, data)
}

// discard skips n raw bytes in discardChunk pieces.
func (d *Device) discard(n int) {
	buf := make([]byte, discardChunk)
	for n > 0 {
		k := min(n, len(buf))
		if err := d.ch.Read(buf[:k]); err != nil {
			d.log.Warnf("%d bytes left of a dropped frame: %v", n, err)
			return
		}
		n -= k
	}
}

// FreeID reserves the first socket that is neither allocated nor open.
func (d *Device) FreeID() (int, error) {
	if err := d.lock(); err != nil {
		return -1, err
	}
	defer d.mu.Unlock()

	for id := range d.sockets {
		s := &d.sockets[id]
		if !s.allocated && !s.open {
			s.allocated = true
			return id, nil
		}
	}
	return -1, ErrNoFreeSocket
}

// Open connects socket id to addr:port. opt is the keep-alive time for TCP,
// the local port for UDP, and omitted when zero.
func (d *Device) Open(proto Protocol, id int, addr string, port int, opt int) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	s := &d.sockets[id]
	s.notified.Store(false)

	if err := d.ensureWifi(); err != nil {
		return err
	}

	var err error
	if opt != 0 {
		err = d.command(d.config.OpenTimeout, at.CmdStartOpt, id, proto, addr, port, opt)
	} else {
		err = d.command(d.config.OpenTimeout, at.CmdStart, id, proto, addr, port)
	}
	d.packets.clear(id)
	if err != nil {
		return fmt.Errorf("open socket %d: %w", id, err)
	}

	s.open = true
	s.closing = false
	return nil
}

func (d *Device) chunkSize() int {
	if d.config.FlowControl != FlowNone {
		return chunkSizeFlowControl
	}
	return chunkSize
}

// Send writes data to socket id in firmware sized chunks. A chunk is tried
// twice before Send gives up; a socket found closed ends it right away.
func (d *Device) Send(id int, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	s := &d.sockets[id]
	s.notified.Store(false)

	failures := 0
	for off := 0; off < len(data); {
		if !s.open || s.closing {
			return fmt.Errorf("send on socket %d: %w", id, ErrSocketClosed)
		}
		if err := d.ensureWifi(); err != nil {
			return err
		}

		n := min(len(data)-off, d.chunkSize())
		if err := d.sendChunk(id, data[off:off+n]); err != nil {
			failures++
			if failures >= sendAttempts {
				return fmt.Errorf("send %d bytes on socket %d: %w", n, id, err)
			}
			d.log.Debugf("retrying chunk on socket %d: %v", id, err)
			continue
		}
		failures = 0
		off += n
	}
	return nil
}

func (d *Device) sendChunk(id int, p []byte) error {
	d.ch.SetTimeout(d.config.SendTimeout)
	defer d.ch.SetTimeout(d.config.MiscTimeout)

	if err := d.ch.Send(at.CmdSend, id, len(p)); err != nil {
		return err
	}
	if err := d.ch.Recv(at.Prompt); err != nil {
		return err
	}
	if _, err := d.ch.Write(p); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return d.ch.Recv(at.SendOK)
}

// Recv moves up to len(p) queued bytes of socket id into p. Frames that
// already arrived on the serial line are parsed first, waiting at most
// timeout for a frame in progress.
//
// It returns n > 0 with a nil error when data was copied, ErrWouldBlock
// when the socket is open but idle and ErrSocketClosed once the socket is
// closed and drained.
func (d *Device) Recv(id int, p []byte, timeout time.Duration) (int, error) {
	if err := checkID(id); err != nil {
		return 0, err
	}
	if err := d.lock(); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	s := &d.sockets[id]
	s.notified.Store(false)

	d.ch.SetTimeout(timeout)
	if d.config.FlowControl == FlowRTS || d.config.FlowControl == FlowRTSCTS {
		// The firmware holds further frames back until this one is read.
		d.ch.ProcessOOB()
	} else {
		for d.ch.ProcessOOB() {
		}
	}
	d.ch.SetTimeout(d.config.MiscTimeout)

	if n := d.packets.take(id, p); n > 0 {
		return n, nil
	}
	if !s.open || s.closing {
		return 0, ErrSocketClosed
	}
	return 0, ErrWouldBlock
}

// CloseSocket closes socket id and returns it to the free pool.
//
// With waitClose set it first gives a close already under way in the
// firmware a chance to be reported, in which case no AT+CIPCLOSE is sent.
// The socket is free when CloseSocket returns, whether or not the firmware
// acknowledged the close.
func (d *Device) CloseSocket(id int, waitClose bool) error {
	if err := checkID(id); err != nil {
		return err
	}

	if waitClose {
		for range closeWaitPolls {
			if err := d.lock(); err != nil {
				return err
			}
			if s := &d.sockets[id]; !s.open || s.closing {
				d.freeSlot(id)
				d.mu.Unlock()
				return nil
			}
			d.ch.SetTimeout(closeTimeout)
			d.ch.ProcessOOB()
			d.ch.SetTimeout(d.config.MiscTimeout)
			d.mu.Unlock()
			time.Sleep(closeWaitInterval)
		}
	}

	var lastErr error
	for range closeAttempts {
		if err := d.lock(); err != nil {
			return err
		}
		if !d.sockets[id].open {
			d.freeSlot(id)
			d.mu.Unlock()
			return nil
		}
		err := d.ensureWifi()
		if err == nil {
			err = d.command(closeTimeout, at.CmdClose, id)
		}
		if err == nil {
			d.freeSlot(id)
			d.mu.Unlock()
			return nil
		}
		lastErr = err
		d.mu.Unlock()
	}

	if err := d.lock(); err != nil {
		return err
	}
	d.freeSlot(id)
	d.mu.Unlock()
	return fmt.Errorf("close socket %d: %w", id, lastErr)
}

func (d *Device) freeSlot(id int) {
	s := &d.sockets[id]
	s.allocated = false
	s.open = false
	s.closing = false
	d.packets.clear(id)
}

// resetSockets marks every link closed after the firmware was reset.
func (d *Device) resetSockets() {
	for id := range d.sockets {
		if s := &d.sockets[id]; s.open {
			s.open = false
			s.closing = true
		}
	}
	d.accepts = nil
	d.serverActive = false
}

// Attach registers cb to be called when new data or a state change may be
// pending for socket id. cb fires once per edge: after it ran it fires
// again only once Recv, Send, Open or Accept touched the socket. It is
// invoked from the transport reader and must not block or call back into
// the Device. A nil cb detaches.
func (d *Device) Attach(id int, cb func()) error {
	if err := checkID(id); err != nil {
		return err
	}
	s := &d.sockets[id]
	if cb == nil {
		s.callback.Store(nil)
	} else {
		s.callback.Store(&cb)
	}
	s.notified.Store(false)
	return nil
}
